package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for opsdesk.
type Config struct {
	General    GeneralConfig    `json:"general"`
	Server     ServerConfig     `json:"server"`
	Gateways   GatewaysConfig   `json:"gateways"`
	Classifier ClassifierConfig `json:"classifier"`
	Sheets     SheetsConfig     `json:"sheets"`
	Registry   RegistryConfig   `json:"registry"`
	Metrics    MetricsConfig    `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel              string `json:"logLevel"`
	LogFile               string `json:"logFile,omitempty"` // optional log file path
	MaxConcurrentMessages int    `json:"maxConcurrentMessages"`
}

type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	AdminEnabled bool   `json:"adminEnabled"`
}

type GatewaysConfig struct {
	Meta MetaConfig `json:"meta"`
	WPP  WPPConfig  `json:"wpp"`
}

// MetaConfig configures the Meta WhatsApp Business Cloud API gateway.
type MetaConfig struct {
	Enabled       bool     `json:"enabled"`
	AccessToken   string   `json:"accessToken,omitempty"`
	PhoneNumberID string   `json:"phoneNumberId,omitempty"`
	AppSecret     string   `json:"appSecret,omitempty"`
	VerifyTokens  []string `json:"verifyTokens,omitempty"` // webhook verification allow-list
	WebhookPath   string   `json:"webhookPath,omitempty"`
}

// WPPConfig configures the WPPConnect bridge gateway.
type WPPConfig struct {
	Enabled     bool   `json:"enabled"`
	BaseURL     string `json:"baseUrl,omitempty"`
	Session     string `json:"session,omitempty"`
	WebhookPath string `json:"webhookPath,omitempty"`
}

// ClassifierConfig configures the Vertex AI Gemini classifier.
type ClassifierConfig struct {
	ProjectID          string `json:"projectId"`
	Location           string `json:"location"`
	Model              string `json:"model"`
	ServiceAccountFile string `json:"serviceAccountFile"`
	TimeoutSeconds     int    `json:"timeoutSeconds"`
}

// SheetsConfig configures the Google Sheets task ledger.
type SheetsConfig struct {
	SpreadsheetID      string `json:"spreadsheetId"`
	SheetName          string `json:"sheetName"`
	ServiceAccountFile string `json:"serviceAccountFile"`
	TimeoutSeconds     int    `json:"timeoutSeconds"`
}

// RegistryConfig configures the client registry.
type RegistryConfig struct {
	DBPath string `json:"dbPath"`
	// Overrides are extra allow-list entries matched by substring
	// containment; they cover group IDs and other non-phone identifiers.
	Overrides []string `json:"overrides,omitempty"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.opsdesk).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".opsdesk"
	}
	return filepath.Join(home, ".opsdesk")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Registry.DBPath = ExpandPath(cfg.Registry.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Classifier.ServiceAccountFile = ExpandPath(cfg.Classifier.ServiceAccountFile)
	cfg.Sheets.ServiceAccountFile = ExpandPath(cfg.Sheets.ServiceAccountFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.General.MaxConcurrentMessages < 1 || cfg.General.MaxConcurrentMessages > 100 {
		errs = append(errs, "general.maxConcurrentMessages must be between 1 and 100")
	}
	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}

	if cfg.Gateways.Meta.Enabled {
		if cfg.Gateways.Meta.AccessToken == "" {
			errs = append(errs, "gateways.meta: accessToken is required when enabled")
		}
		if cfg.Gateways.Meta.PhoneNumberID == "" {
			errs = append(errs, "gateways.meta: phoneNumberId is required when enabled")
		}
		if len(cfg.Gateways.Meta.VerifyTokens) == 0 {
			errs = append(errs, "gateways.meta: at least one verifyToken is required when enabled")
		}
	}
	if cfg.Gateways.WPP.Enabled && cfg.Gateways.WPP.BaseURL == "" {
		errs = append(errs, "gateways.wpp: baseUrl is required when enabled")
	}

	if cfg.Classifier.ProjectID == "" {
		errs = append(errs, "classifier.projectId is required")
	}
	if cfg.Classifier.Location == "" {
		errs = append(errs, "classifier.location is required")
	}
	if cfg.Classifier.Model == "" {
		errs = append(errs, "classifier.model is required")
	}
	if cfg.Classifier.TimeoutSeconds < 1 {
		errs = append(errs, "classifier.timeoutSeconds must be >= 1")
	}

	if cfg.Sheets.TimeoutSeconds < 1 {
		errs = append(errs, "sheets.timeoutSeconds must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
