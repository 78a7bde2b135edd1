package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:              "info",
			MaxConcurrentMessages: 5,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8082,
			AdminEnabled: true,
		},
		Gateways: GatewaysConfig{
			Meta: MetaConfig{
				Enabled:     false,
				AccessToken: "${META_API_TOKEN}",
				WebhookPath: "/webhook/meta",
			},
			WPP: WPPConfig{
				Enabled:     false,
				BaseURL:     "http://localhost:3000",
				Session:     "default",
				WebhookPath: "/webhook/wpp",
			},
		},
		Classifier: ClassifierConfig{
			Location:           "us-central1",
			Model:              "gemini-2.0-flash-001",
			ServiceAccountFile: "~/.opsdesk/service-account.json",
			TimeoutSeconds:     60,
		},
		Sheets: SheetsConfig{
			SheetName:          "Sheet1",
			ServiceAccountFile: "~/.opsdesk/service-account.json",
			TimeoutSeconds:     30,
		},
		Registry: RegistryConfig{
			DBPath: "~/.opsdesk/registry.db",
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}
