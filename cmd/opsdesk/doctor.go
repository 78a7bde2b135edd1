package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"opsdesk/internal/config"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the installation",
		Long: `Verifies that the configuration, registry database, credentials and
gateway endpoints are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("opsdesk doctor v%s\n\n", version)

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'opsdesk init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				fmt.Printf("\n%d passed, %d failed\n", passed, 1)
				return nil
			}
			printPass("Config validation", "valid")
			passed++

			// 3. Registry database writable
			if err := checkDatabase(cfg.Registry.DBPath); err != nil {
				printFail("Registry database", err.Error())
				failed++
			} else {
				printPass("Registry database", cfg.Registry.DBPath)
				passed++
			}

			// 4. Service account files readable
			for name, path := range map[string]string{
				"Classifier credentials": cfg.Classifier.ServiceAccountFile,
				"Sheets credentials":     cfg.Sheets.ServiceAccountFile,
			} {
				if path == "" {
					printWarn(name, "not configured")
					warned++
					continue
				}
				if _, err := os.Stat(path); err != nil {
					printFail(name, fmt.Sprintf("not found: %s", path))
					failed++
				} else {
					printPass(name, path)
					passed++
				}
			}

			// 5. Spreadsheet configured
			if cfg.Sheets.SpreadsheetID == "" {
				printWarn("Spreadsheet", "no spreadsheetId; classified rows will not be saved")
				warned++
			} else {
				printPass("Spreadsheet", cfg.Sheets.SpreadsheetID)
				passed++
			}

			// 6. Gateways
			if !cfg.Gateways.Meta.Enabled && !cfg.Gateways.WPP.Enabled {
				printFail("Gateways", "no gateway enabled")
				failed++
			}
			if cfg.Gateways.WPP.Enabled {
				if err := checkBridge(cfg.Gateways.WPP.BaseURL); err != nil {
					printWarn("WPP bridge", fmt.Sprintf("%s unreachable: %v", cfg.Gateways.WPP.BaseURL, err))
					warned++
				} else {
					printPass("WPP bridge", cfg.Gateways.WPP.BaseURL)
					passed++
				}
			}
			if cfg.Gateways.Meta.Enabled {
				printPass("Meta gateway", "configured")
				passed++
			}

			// 7. Server port available
			if err := checkPort(cfg.Server.Port); err != nil {
				printWarn("Server port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
				warned++
			} else {
				printPass("Server port", fmt.Sprintf(":%d available", cfg.Server.Port))
				passed++
			}

			// 8. Log file writable
			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			fmt.Printf("\nResults: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func checkBridge(baseURL string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(baseURL + "/status")
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-24s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-24s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-24s %s\n", check, detail)
}
