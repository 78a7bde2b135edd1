package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"opsdesk/internal/admin"
	"opsdesk/internal/auth"
	"opsdesk/internal/bus"
	"opsdesk/internal/classify"
	"opsdesk/internal/config"
	"opsdesk/internal/domain"
	"opsdesk/internal/gateway"
	"opsdesk/internal/media"
	"opsdesk/internal/metrics"
	"opsdesk/internal/pipeline"
	"opsdesk/internal/registry"
	"opsdesk/internal/sheets"

	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook server and message pipeline",
		Long:  "Starts the enabled gateways, the classification pipeline, and the admin API. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := buildLogger(cfg.General)
	if err != nil {
		return err
	}
	logger = log

	if !cfg.Gateways.Meta.Enabled && !cfg.Gateways.WPP.Enabled {
		return fmt.Errorf("no gateway enabled; enable gateways.meta or gateways.wpp in %s", cfgPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messageBus := bus.New(100, logger)

	store, err := registry.NewStore(cfg.Registry.DBPath, cfg.Registry.Overrides, logger)
	if err != nil {
		return fmt.Errorf("client registry: %w", err)
	}
	defer store.Close()

	classifierTokens, err := auth.ServiceAccountTokenSource(ctx, cfg.Classifier.ServiceAccountFile, auth.ScopeCloudPlatform)
	if err != nil {
		return fmt.Errorf("classifier credentials: %w", err)
	}
	classifier := classify.NewGemini(classify.GeminiConfig{
		ProjectID:   cfg.Classifier.ProjectID,
		Location:    cfg.Classifier.Location,
		Model:       cfg.Classifier.Model,
		TokenSource: classifierTokens,
		Timeout:     time.Duration(cfg.Classifier.TimeoutSeconds) * time.Second,
		Logger:      logger,
	})

	// A misconfigured ledger degrades replies rather than blocking startup:
	// Append reports the failure and the reply carries the save warning.
	spreadsheetID := cfg.Sheets.SpreadsheetID
	sheetsTokens, err := auth.ServiceAccountTokenSource(ctx, cfg.Sheets.ServiceAccountFile, auth.ScopeSpreadsheets)
	if err != nil {
		logger.Warn("sheets credentials unavailable, rows will not be saved", "err", err)
		spreadsheetID = ""
	}
	ledger := sheets.NewLedger(sheets.LedgerConfig{
		SpreadsheetID: spreadsheetID,
		SheetName:     cfg.Sheets.SheetName,
		TokenSource:   sheetsTokens,
		Timeout:       time.Duration(cfg.Sheets.TimeoutSeconds) * time.Second,
		Logger:        logger,
	})

	processor := pipeline.NewProcessor(pipeline.ProcessorConfig{
		Authorizer: store,
		Fetcher:    media.NewFetcher(logger),
		Classifier: classifier,
		Ledger:     ledger,
		Auditor:    store,
		Logger:     logger,
	})

	mux := http.NewServeMux()
	repliers := make(map[domain.GatewayKind]domain.Replier)

	if cfg.Gateways.Meta.Enabled {
		meta := gateway.NewMeta(gateway.MetaGatewayConfig{
			Config: cfg.Gateways.Meta,
			Bus:    messageBus,
			Logger: logger,
		})
		meta.Mount(mux)
		repliers[domain.GatewayMeta] = meta
		logger.Info("meta gateway enabled", "path", cfg.Gateways.Meta.WebhookPath)
	}
	if cfg.Gateways.WPP.Enabled {
		wpp := gateway.NewWPP(gateway.WPPGatewayConfig{
			Config: cfg.Gateways.WPP,
			Bus:    messageBus,
			Logger: logger,
		})
		wpp.Mount(mux)
		repliers[domain.GatewayWPP] = wpp
		logger.Info("wpp gateway enabled", "path", cfg.Gateways.WPP.WebhookPath, "bridge", cfg.Gateways.WPP.BaseURL)
	}

	if cfg.Metrics.Enabled {
		endpoint := cfg.Metrics.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		mux.HandleFunc("GET "+endpoint, metrics.Collector.Handler())
		logger.Info("metrics endpoint enabled", "path", endpoint)
	}

	if cfg.Server.AdminEnabled {
		adminAPI := admin.New(admin.APIConfig{
			Store:    store,
			Repliers: repliers,
			Logger:   logger,
		})
		adminAPI.Mount(mux)
		logger.Info("admin API enabled")
	}

	runner := pipeline.NewRunner(pipeline.RunnerConfig{
		Bus:         messageBus,
		Processor:   processor,
		Repliers:    repliers,
		Concurrency: cfg.General.MaxConcurrentMessages,
		Logger:      logger,
	})
	go runner.Run(ctx)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server started", "addr", addr, "version", version)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", "err", err)
	}
	messageBus.Close()
	logger.Info("shutdown complete")
	return nil
}
