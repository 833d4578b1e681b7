package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
			DataDir:  "~/.frontdesk",
		},
		Bot: BotConfig{
			Enabled:             true,
			ActiveStartHour:     21,
			ActiveEndHour:       9,
			Timezone:            "Europe/Helsinki",
			HumanTimeoutMinutes: 0,
			ConfidenceThreshold: 0.85,
			EscalateAfter:       2,
			RoutingPolicy:       "decider-first",
			ReplyDedupSeconds:   600,
			BurstWindowMs:       0,
			DefaultLanguage:     "en",
		},
		Dedup: DedupConfig{
			Backend:              "memory",
			TTLMinutes:           60,
			PruneIntervalSeconds: 60,
			KeyPrefix:            "frontdesk:dedup:",
		},
		FAQ: FAQConfig{
			Path:          "~/.frontdesk/faq.yaml",
			MinConfidence: 0.30,
			TopK:          5,
		},
		Decider: DeciderConfig{
			Enabled:        true,
			TopK:           5,
			MinConfidence:  0.6,
			MaxFAQIDs:      3,
			MinQuoteLength: 12,
			TimeoutMs:      8000,
			MaxTokens:      500,
		},
		Completion: CompletionConfig{
			Provider:           "openai",
			PrimaryModel:       "gpt-4o-mini",
			TimeoutMs:          8000,
			Retries:            1,
			RateLimitPerMinute: 120,
			Temperature:        0.3,
			MaxTokens:          300,
		},
		IntentRouter: IntentRouterConfig{
			Enabled:       false,
			PrimaryModel:  "gpt-5-mini",
			FallbackModel: "gpt-5-nano",
			TimeoutMs:     1800,
		},
		Rewrite: RewriteConfig{
			Enabled:   true,
			TimeoutMs: 5000,
		},
		Store: StoreConfig{
			Backend: "memory",
			DBPath:  "~/.frontdesk/frontdesk.db",
		},
		Channels: ChannelsConfig{
			WhatsApp: WhatsAppConfig{
				APIVersion:  "v21.0",
				WebhookPath: "/webhook",
			},
			Webhook: WebhookConfig{
				Path: "/inbound",
			},
			WebChat: WebChatConfig{
				Path: "/chat",
			},
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 3000,
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}
