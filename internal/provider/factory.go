package provider

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"frontdesk/internal/config"
	"frontdesk/internal/domain"
)

// Completers holds the completion chains used by the bot pipeline. A nil
// field means the corresponding feature runs without a model.
type Completers struct {
	Decider domain.Completer
	Rewrite domain.Completer
	Intent  domain.Completer
}

// Constructor builds a base completer for a model.
type Constructor func(cfg config.CompletionConfig, model string, logger *slog.Logger) domain.Completer

var constructors = map[string]Constructor{
	"openai": func(cfg config.CompletionConfig, model string, logger *slog.Logger) domain.Completer {
		temp := cfg.Temperature
		return NewOpenAI(OpenAIConfig{
			APIKey:      apiKey(cfg),
			APIBase:     cfg.APIBase,
			Model:       model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: &temp,
			HTTPClient:  SharedHTTPClient(time.Duration(cfg.TimeoutMs) * time.Millisecond * 2),
			Logger:      logger,
		})
	},
}

// Register adds or replaces a provider constructor.
func Register(name string, ctor Constructor) {
	constructors[name] = ctor
}

// NewCompleters builds the decider, rewrite and intent chains from config.
// Provider "none" or a missing API key yields an empty set.
func NewCompleters(cfg *config.Config, logger *slog.Logger) (*Completers, error) {
	cc := cfg.Completion
	if cc.Provider == "" || cc.Provider == "none" {
		return &Completers{}, nil
	}
	ctor, ok := constructors[cc.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown completion provider %q", cc.Provider)
	}
	if cc.Provider == "openai" && apiKey(cc) == "" {
		logger.Warn("completion provider has no API key, model features disabled", "provider", cc.Provider)
		return &Completers{}, nil
	}

	chain := func(timeoutMs int, models ...string) domain.Completer {
		var members []domain.Completer
		seen := map[string]bool{}
		for _, m := range models {
			if m == "" || seen[m] {
				continue
			}
			seen[m] = true
			members = append(members, ctor(cc, m, logger))
		}
		if len(members) == 0 {
			return nil
		}
		if timeoutMs <= 0 {
			timeoutMs = cc.TimeoutMs
		}
		return NewLimited(NewFailover(FailoverConfig{
			Completers: members,
			Timeout:    time.Duration(timeoutMs) * time.Millisecond,
			Retries:    cc.Retries,
			Logger:     logger,
		}), cc.RateLimitPerMinute)
	}

	out := &Completers{}
	if cfg.Decider.Enabled {
		out.Decider = chain(cfg.Decider.TimeoutMs, firstNonEmpty(cfg.Decider.Model, cc.PrimaryModel), cc.FallbackModel)
	}
	if cfg.Rewrite.Enabled {
		out.Rewrite = chain(cfg.Rewrite.TimeoutMs, firstNonEmpty(cfg.Rewrite.Model, cc.PrimaryModel), cc.FallbackModel)
	}
	if cfg.IntentRouter.Enabled {
		out.Intent = chain(cfg.IntentRouter.TimeoutMs, cfg.IntentRouter.PrimaryModel, cfg.IntentRouter.FallbackModel)
	}
	return out, nil
}

func apiKey(cc config.CompletionConfig) string {
	if cc.APIKey != "" {
		return cc.APIKey
	}
	return os.Getenv("OPENAI_API_KEY")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
