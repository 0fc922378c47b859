package config

func Defaults() *Config {
	return &Config{
		App: AppConfig{
			Env:      EnvDevelopment,
			LogLevel: "info",
			Port:     3000,
		},
		Slack: SlackConfig{
			SlashCommand:    "/garvis",
			ChannelKeywords: []string{"garvis", "ai"},
		},
		Telegram: TelegramConfig{
			ParseMode: "Markdown",
		},
		Agents: AgentsConfig{
			TimeoutMs:           30000,
			MaxConcurrentAgents: 10,
			MaxConcurrentMsgs:   10,
			RatePerMinute:       30,
			RateBurst:           5,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
