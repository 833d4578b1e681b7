package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the root configuration for frontdesk.
type Config struct {
	General      GeneralConfig      `json:"general"`
	Bot          BotConfig          `json:"bot"`
	Dedup        DedupConfig        `json:"dedup"`
	FAQ          FAQConfig          `json:"faq"`
	Decider      DeciderConfig      `json:"decider"`
	Completion   CompletionConfig   `json:"completion"`
	IntentRouter IntentRouterConfig `json:"intentRouter"`
	Rewrite      RewriteConfig      `json:"rewrite"`
	Store        StoreConfig        `json:"store"`
	Channels     ChannelsConfig     `json:"channels"`
	Server       ServerConfig       `json:"server"`
	Metrics      MetricsConfig      `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile,omitempty"`
	DataDir  string `json:"dataDir"`
}

// BotConfig drives the conversation pipeline.
type BotConfig struct {
	Enabled             bool    `json:"enabled"`
	ActiveStartHour     int     `json:"activeStartHour"` // start == end means always active
	ActiveEndHour       int     `json:"activeEndHour"`
	Timezone            string  `json:"timezone"`
	HumanTimeoutMinutes int     `json:"humanTimeoutMinutes"` // 0 = never reclaim
	ConfidenceThreshold float64 `json:"confidenceThreshold"`
	EscalateAfter       int     `json:"escalateAfter"`
	RoutingPolicy       string  `json:"routingPolicy"` // "decider-first" | "direct-first"
	ReplyDedupSeconds   int     `json:"replyDedupSeconds"`
	BurstWindowMs       int     `json:"burstWindowMs"` // 0 = no coalescing
	DefaultLanguage     string  `json:"defaultLanguage"`
}

type DedupConfig struct {
	Backend              string `json:"backend"` // "memory" | "redis"
	TTLMinutes           int    `json:"ttlMinutes"`
	PruneIntervalSeconds int    `json:"pruneIntervalSeconds"`
	RedisURL             string `json:"redisUrl,omitempty"`
	KeyPrefix            string `json:"keyPrefix,omitempty"`
}

type FAQConfig struct {
	Path          string  `json:"path"`
	MinConfidence float64 `json:"minConfidence"` // floor below which the word-overlap scorer takes over
	TopK          int     `json:"topK"`
}

type DeciderConfig struct {
	Enabled        bool     `json:"enabled"`
	TopK           int      `json:"topK"`
	MinConfidence  float64  `json:"minConfidence"`
	MaxFAQIDs      int      `json:"maxFaqIds"`
	MinQuoteLength int      `json:"minQuoteLength"`
	TimeoutMs      int      `json:"timeoutMs"`
	Model          string   `json:"model,omitempty"`
	MaxTokens      int      `json:"maxTokens"`
	PreferTerms    []string `json:"preferTerms,omitempty"` // overrides the built-in combine-sources lexicon
}

// CompletionConfig configures the external completion service.
type CompletionConfig struct {
	Provider           string  `json:"provider"` // "openai" | "none"
	APIKey             string  `json:"apiKey,omitempty"`
	APIBase            string  `json:"apiBase,omitempty"`
	PrimaryModel       string  `json:"primaryModel"`
	FallbackModel      string  `json:"fallbackModel,omitempty"`
	TimeoutMs          int     `json:"timeoutMs"`
	Retries            int     `json:"retries"`
	RateLimitPerMinute int     `json:"rateLimitPerMinute"`
	Temperature        float64 `json:"temperature"`
	MaxTokens          int     `json:"maxTokens"`
}

type IntentRouterConfig struct {
	Enabled       bool   `json:"enabled"`
	PrimaryModel  string `json:"primaryModel"`
	FallbackModel string `json:"fallbackModel,omitempty"`
	TimeoutMs     int    `json:"timeoutMs"`
}

type RewriteConfig struct {
	Enabled   bool   `json:"enabled"`
	Model     string `json:"model,omitempty"`
	TimeoutMs int    `json:"timeoutMs"`
}

type StoreConfig struct {
	Backend string `json:"backend"` // "memory" | "sqlite"
	DBPath  string `json:"dbPath"`
}

type ChannelsConfig struct {
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Telegram TelegramConfig `json:"telegram"`
	Webhook  WebhookConfig  `json:"webhook"`
	Discord  DiscordConfig  `json:"discord"`
	Slack    SlackConfig    `json:"slack"`
	WebChat  WebChatConfig  `json:"webchat"`
}

type WhatsAppConfig struct {
	Enabled       bool   `json:"enabled"`
	AppSecret     string `json:"appSecret,omitempty"`
	AccessToken   string `json:"accessToken,omitempty"`
	VerifyToken   string `json:"verifyToken,omitempty"`
	PhoneNumberID string `json:"phoneNumberId,omitempty"`
	APIVersion    string `json:"apiVersion"`
	WebhookPath   string `json:"webhookPath"`
	DryRun        bool   `json:"dryRun,omitempty"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
}

// WebhookConfig is a generic JSON inbound endpoint for integrations and
// scripted testing.
type WebhookConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
	Secret  string `json:"secret,omitempty"`
}

type DiscordConfig struct {
	Enabled      bool     `json:"enabled"`
	Token        string   `json:"token,omitempty"`
	GuildID      string   `json:"guildId,omitempty"`
	AgentUserIDs []string `json:"agentUserIds,omitempty"`
}

// SlackConfig uses Socket Mode, so both a bot token and an app-level token
// are needed.
type SlackConfig struct {
	Enabled      bool     `json:"enabled"`
	BotToken     string   `json:"botToken,omitempty"`
	AppToken     string   `json:"appToken,omitempty"`
	AgentUserIDs []string `json:"agentUserIds,omitempty"`
}

// WebChatConfig is the website chat widget endpoint.
type WebChatConfig struct {
	Enabled        bool     `json:"enabled"`
	Path           string   `json:"path"`
	AllowedOrigins []string `json:"allowedOrigins,omitempty"`
}

type ServerConfig struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	AgentAPIKey string `json:"agentApiKey,omitempty"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.frontdesk).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".frontdesk"
	}
	return filepath.Join(home, ".frontdesk")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a JSON config file, layering it over Defaults. A .env file in
// the working directory is loaded first so ${VAR} references can use it.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("cannot load .env: %w", err)
	}

	path = ExpandPath(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	cfg.resolvePaths()

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func (c *Config) resolvePaths() {
	c.General.DataDir = ExpandPath(c.General.DataDir)
	c.General.LogFile = ExpandPath(c.General.LogFile)
	c.FAQ.Path = ExpandPath(c.FAQ.Path)
	c.Store.DBPath = ExpandPath(c.Store.DBPath)
}

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset
// variable without a default is left untouched.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values and reports every violation.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	b := cfg.Bot
	if b.ActiveStartHour < 0 || b.ActiveStartHour > 23 {
		errs = append(errs, "bot.activeStartHour must be between 0 and 23")
	}
	if b.ActiveEndHour < 0 || b.ActiveEndHour > 23 {
		errs = append(errs, "bot.activeEndHour must be between 0 and 23")
	}
	if b.HumanTimeoutMinutes < 0 {
		errs = append(errs, "bot.humanTimeoutMinutes must be >= 0")
	}
	if b.ConfidenceThreshold < 0 || b.ConfidenceThreshold > 1 {
		errs = append(errs, "bot.confidenceThreshold must be between 0 and 1")
	}
	if b.EscalateAfter < 1 {
		errs = append(errs, "bot.escalateAfter must be >= 1")
	}
	switch b.RoutingPolicy {
	case "decider-first", "direct-first":
	default:
		errs = append(errs, "bot.routingPolicy must be one of: decider-first, direct-first")
	}
	if b.ReplyDedupSeconds < 0 {
		errs = append(errs, "bot.replyDedupSeconds must be >= 0")
	}
	if b.BurstWindowMs < 0 || b.BurstWindowMs > 10000 {
		errs = append(errs, "bot.burstWindowMs must be between 0 and 10000")
	}
	switch b.DefaultLanguage {
	case "en", "fi":
	default:
		errs = append(errs, "bot.defaultLanguage must be one of: en, fi")
	}

	switch cfg.Dedup.Backend {
	case "memory":
	case "redis":
		if cfg.Dedup.RedisURL == "" {
			errs = append(errs, "dedup.redisUrl is required for the redis backend")
		}
	default:
		errs = append(errs, "dedup.backend must be one of: memory, redis")
	}
	if cfg.Dedup.TTLMinutes < 1 {
		errs = append(errs, "dedup.ttlMinutes must be >= 1")
	}
	if cfg.Dedup.PruneIntervalSeconds < 1 {
		errs = append(errs, "dedup.pruneIntervalSeconds must be >= 1")
	}

	if cfg.FAQ.MinConfidence < 0 || cfg.FAQ.MinConfidence > 1 {
		errs = append(errs, "faq.minConfidence must be between 0 and 1")
	}
	if cfg.FAQ.TopK < 1 || cfg.FAQ.TopK > 25 {
		errs = append(errs, "faq.topK must be between 1 and 25")
	}

	d := cfg.Decider
	if d.TopK < 1 || d.TopK > 25 {
		errs = append(errs, "decider.topK must be between 1 and 25")
	}
	if d.MinConfidence < 0 || d.MinConfidence > 1 {
		errs = append(errs, "decider.minConfidence must be between 0 and 1")
	}
	if d.MaxFAQIDs < 1 || d.MaxFAQIDs > 5 {
		errs = append(errs, "decider.maxFaqIds must be between 1 and 5")
	}
	if d.MinQuoteLength < 1 {
		errs = append(errs, "decider.minQuoteLength must be >= 1")
	}
	if d.TimeoutMs < 100 {
		errs = append(errs, "decider.timeoutMs must be >= 100")
	}

	c := cfg.Completion
	switch c.Provider {
	case "openai", "none":
	default:
		errs = append(errs, "completion.provider must be one of: openai, none")
	}
	if c.Provider == "openai" && c.PrimaryModel == "" {
		errs = append(errs, "completion.primaryModel is required")
	}
	if c.TimeoutMs < 100 {
		errs = append(errs, "completion.timeoutMs must be >= 100")
	}
	if c.Retries < 0 || c.Retries > 5 {
		errs = append(errs, "completion.retries must be between 0 and 5")
	}
	if c.RateLimitPerMinute < 0 {
		errs = append(errs, "completion.rateLimitPerMinute must be >= 0")
	}

	if cfg.IntentRouter.Enabled && cfg.IntentRouter.PrimaryModel == "" {
		errs = append(errs, "intentRouter.primaryModel is required when enabled")
	}

	switch cfg.Store.Backend {
	case "memory":
	case "sqlite":
		if cfg.Store.DBPath == "" {
			errs = append(errs, "store.dbPath is required for the sqlite backend")
		}
	default:
		errs = append(errs, "store.backend must be one of: memory, sqlite")
	}

	if wa := cfg.Channels.WhatsApp; wa.Enabled && !wa.DryRun {
		if wa.AccessToken == "" || wa.PhoneNumberID == "" {
			errs = append(errs, "channels.whatsapp: accessToken and phoneNumberId are required unless dryRun is set")
		}
	}
	if tg := cfg.Channels.Telegram; tg.Enabled && tg.Token == "" {
		errs = append(errs, "channels.telegram.token is required when enabled")
	}
	if dc := cfg.Channels.Discord; dc.Enabled && dc.Token == "" {
		errs = append(errs, "channels.discord.token is required when enabled")
	}
	if sl := cfg.Channels.Slack; sl.Enabled && (sl.BotToken == "" || !strings.HasPrefix(sl.AppToken, "xapp-")) {
		errs = append(errs, "channels.slack: botToken and an xapp- appToken are required when enabled")
	}
	if wc := cfg.Channels.WebChat; wc.Enabled && !strings.HasPrefix(wc.Path, "/") {
		errs = append(errs, "channels.webchat.path must start with /")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
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
