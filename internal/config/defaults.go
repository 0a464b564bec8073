package config

// Defaults returns a config with sensible defaults. Load overlays the
// config file on top of this, so the file only needs to specify what
// differs.
func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:        "info",
			ConversationID:  "main",
			DefaultProvider: "gemini",
		},
		Store: StoreConfig{
			DBPath: "~/.missionctl/missionctl.db",
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				Enabled: false,
			},
			Web: WebConfig{
				Enabled: true,
				Host:    "127.0.0.1",
				Port:    8321,
			},
		},
		Providers: map[string]ProviderConfig{
			"gemini": {
				Enabled: true,
				APIKey:  "${GEMINI_API_KEY}",
				Model:   "gemini-1.5-flash",
			},
			"openai": {
				Enabled: false,
				APIKey:  "${OPENAI_API_KEY}",
				Model:   "gpt-4o-mini",
			},
		},
		Router: RouterConfig{},
		Worker: WorkerConfig{
			MaxAttempts:     3,
			ClaimTTLSeconds: 120,
			ReconcileCron:   "*/5 * * * *",
			RequeueFailed:   false,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}
