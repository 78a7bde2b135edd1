package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"opsdesk/internal/config"
	"opsdesk/internal/registry"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "opsdesk",
		Short: "opsdesk: WhatsApp client message triage service",
		Long:  "opsdesk receives WhatsApp business messages, classifies them with Gemini, and logs tasks to Google Sheets.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.opsdesk/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(clientsCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config directory with defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			fmt.Println("Edit the config to set classifier.projectId, sheets.spreadsheetId and enable a gateway, then run 'opsdesk serve'.")
			return nil
		},
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// buildLogger constructs the service logger from the general config. When a
// log file is configured, output goes to both stderr and the file.
func buildLogger(general config.GeneralConfig) (*slog.Logger, error) {
	var level slog.Level
	switch general.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	if general.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(general.LogFile), 0o755); err != nil {
			return nil, fmt.Errorf("cannot create log directory: %w", err)
		}
		f, err := os.OpenFile(general.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("cannot open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, f)
	}

	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})), nil
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false, "err", err)
				return nil
			}
			logger.Info("config", "path", cfgPath, "loaded", true)
			logger.Info("gateway", "name", "meta", "enabled", cfg.Gateways.Meta.Enabled)
			logger.Info("gateway", "name", "wpp", "enabled", cfg.Gateways.WPP.Enabled, "bridge", cfg.Gateways.WPP.BaseURL)
			logger.Info("classifier", "project", cfg.Classifier.ProjectID, "model", cfg.Classifier.Model, "location", cfg.Classifier.Location)
			logger.Info("sheets", "spreadsheet", cfg.Sheets.SpreadsheetID != "", "sheet", cfg.Sheets.SheetName)

			store, err := registry.NewStore(cfg.Registry.DBPath, cfg.Registry.Overrides, logger)
			if err != nil {
				logger.Warn("registry", "err", err)
				return nil
			}
			defer store.Close()
			clients, err := store.List(context.Background())
			if err != nil {
				return err
			}
			logger.Info("registry", "clients", len(clients), "overrides", len(cfg.Registry.Overrides))
			return nil
		},
	}
}

func clientsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clients",
		Short: "Manage the authorized client registry",
	}

	openStore := func() (*registry.Store, error) {
		cfg, err := config.Load(resolveConfigPath())
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		return registry.NewStore(cfg.Registry.DBPath, cfg.Registry.Overrides, logger)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List authorized clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			clients, err := store.List(context.Background())
			if err != nil {
				return err
			}
			if len(clients) == 0 {
				fmt.Println("No clients registered.")
				return nil
			}
			for _, c := range clients {
				label := c.Label
				if label == "" {
					label = "-"
				}
				fmt.Printf("%-20s %-30s %s\n", c.Number, label, c.CreatedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add [number] [label]",
		Short: "Add an authorized client number",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			label := ""
			if len(args) == 2 {
				label = args[1]
			}
			if err := store.Add(context.Background(), args[0], label); err != nil {
				return err
			}
			logger.Info("client added", "number", args[0], "label", label)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove [number]",
		Short: "Remove a client number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Remove(context.Background(), args[0]); err != nil {
				return err
			}
			logger.Info("client removed", "number", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "import [file]",
		Short: "Import clients from a YAML seed file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			n, err := store.Import(context.Background(), args[0])
			if err != nil {
				return err
			}
			logger.Info("clients imported", "file", args[0], "count", n)
			return nil
		},
	})

	return cmd
}
