package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			DataDir:  "~/.relaybot",
			LogLevel: "info",
		},
		Mail: MailConfig{
			Enabled:        true,
			TimeoutSeconds: 15,
			Fallback:       true,
			SimulateSend:   true,
		},
		Telegram: TelegramConfig{
			Enabled:   false,
			ParseMode: "Markdown",
			Fallback:  true,
		},
		Generation: GenerationConfig{
			Enabled:        true,
			APIBase:        "http://localhost:11434",
			Model:          "llama3.1:8b",
			TimeoutSeconds: 120,
			MaxHistory:     20,
		},
		Workflows: WorkflowsConfig{
			Enabled:             true,
			DBPath:              "~/.relaybot/workflows.db",
			PollIntervalSeconds: 300,
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Host:     "127.0.0.1",
			Port:     9091,
			Endpoint: "/metrics",
		},
		CLI: CLIConfig{
			Enabled: true,
		},
	}
}
