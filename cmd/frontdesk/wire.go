package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"frontdesk/internal/bot"
	"frontdesk/internal/bus"
	"frontdesk/internal/config"
	"frontdesk/internal/conversation"
	"frontdesk/internal/decider"
	"frontdesk/internal/dedupe"
	"frontdesk/internal/domain"
	"frontdesk/internal/faq"
	"frontdesk/internal/intent"
	"frontdesk/internal/memory"
	"frontdesk/internal/metrics"
	"frontdesk/internal/provider"
	"frontdesk/internal/queue"
	"frontdesk/internal/reply"
)

// app is everything a command needs to run the pipeline.
type app struct {
	cfg       *config.Config
	engine    *bot.Engine
	store     domain.ConversationStore
	matcher   *faq.Matcher
	events    *bus.EventBus
	collector *metrics.Collector
	closers   []func() error
}

// newLogger builds the process logger from config. A log file, when set,
// receives the same records as stderr.
func newLogger(g config.GeneralConfig) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(g.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	var w io.Writer = os.Stderr
	var closer io.Closer
	if g.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(g.LogFile), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(g.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, f)
		closer = f
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), closer, nil
}

func loadMatcher(cfg *config.Config) (*faq.Matcher, error) {
	items, err := faq.LoadFile(cfg.FAQ.Path)
	if err != nil {
		return nil, fmt.Errorf("faq corpus: %w", err)
	}
	return faq.NewMatcher(faq.MatcherConfig{Items: items, Floor: cfg.FAQ.MinConfidence, Logger: logger}), nil
}

func openStore(cfg config.StoreConfig) (domain.ConversationStore, error) {
	if cfg.Backend == "sqlite" {
		s, err := memory.NewSQLiteStore(cfg.DBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: %w", err)
		}
		return s, nil
	}
	return memory.NewVolatileStore(), nil
}

func openDedup(ctx context.Context, cfg config.DedupConfig) (domain.DedupIndex, func() error, error) {
	ttl := time.Duration(cfg.TTLMinutes) * time.Minute
	if cfg.Backend == "redis" {
		idx, err := dedupe.NewRedisIndex(ctx, dedupe.RedisConfig{URL: cfg.RedisURL, KeyPrefix: cfg.KeyPrefix, TTL: ttl})
		if err != nil {
			return nil, nil, fmt.Errorf("redis dedup: %w", err)
		}
		return idx, idx.Close, nil
	}
	return dedupe.NewIndex(dedupe.IndexConfig{
		TTL:           ttl,
		PruneInterval: time.Duration(cfg.PruneIntervalSeconds) * time.Second,
	}), nil, nil
}

// newApp wires store, dedup, corpus, completion chains and the engine.
// transports are tried by conversation channel; the first is the default.
func newApp(ctx context.Context, cfg *config.Config, transports ...domain.Transport) (*app, error) {
	a := &app{cfg: cfg, events: bus.NewEventBus(logger)}
	fail := func(err error) (*app, error) {
		_ = a.Close()
		return nil, err
	}

	var err error
	if a.matcher, err = loadMatcher(cfg); err != nil {
		return fail(err)
	}
	if a.store, err = openStore(cfg.Store); err != nil {
		return fail(err)
	}
	a.closers = append(a.closers, a.store.Close)

	dedup, closeDedup, err := openDedup(ctx, cfg.Dedup)
	if err != nil {
		return fail(err)
	}
	if closeDedup != nil {
		a.closers = append(a.closers, closeDedup)
	}

	completers, err := provider.NewCompleters(cfg, logger)
	if err != nil {
		return fail(err)
	}

	hours, err := bot.NewActiveHours(cfg.Bot.ActiveStartHour, cfg.Bot.ActiveEndHour, cfg.Bot.Timezone)
	if err != nil {
		return fail(err)
	}

	machine := conversation.NewMachine(conversation.MachineConfig{
		HumanTimeout:  time.Duration(cfg.Bot.HumanTimeoutMinutes) * time.Minute,
		EscalateAfter: cfg.Bot.EscalateAfter,
		Logger:        logger,
	})

	var router *intent.Router
	if cfg.IntentRouter.Enabled {
		router = intent.NewRouter(intent.RouterConfig{Completer: completers.Intent, Logger: logger})
	}

	serializer := queue.NewSerializer(logger)
	a.collector = metrics.NewCollector("frontdesk")
	metrics.NewPipeline(a.collector, a.events)
	a.collector.GaugeFunc("active_conversation_keys", "Conversation keys with queued work",
		func() int64 { return int64(serializer.Active()) })

	a.engine, err = bot.New(bot.EngineConfig{
		Store:      a.store,
		Dedup:      dedup,
		Transports: transports,
		Matcher:    a.matcher,
		Decider: decider.New(decider.Config{
			Completer:      completers.Decider,
			MinConfidence:  cfg.Decider.MinConfidence,
			MaxFAQIDs:      cfg.Decider.MaxFAQIDs,
			MinQuoteLength: cfg.Decider.MinQuoteLength,
			MaxTokens:      cfg.Decider.MaxTokens,
			PreferTerms:    cfg.Decider.PreferTerms,
			Logger:         logger,
		}),
		Composer: reply.NewComposer(reply.ComposerConfig{
			Rewriter:    completers.Rewrite,
			MaxTokens:   cfg.Completion.MaxTokens,
			DedupWindow: time.Duration(cfg.Bot.ReplyDedupSeconds) * time.Second,
			Now:         machine.Now,
			Logger:      logger,
		}),
		Intent:          router,
		Machine:         machine,
		Hours:           hours,
		Serializer:      serializer,
		Events:          a.events,
		Policy:          bot.RoutingPolicy(cfg.Bot.RoutingPolicy),
		Threshold:       cfg.Bot.ConfidenceThreshold,
		TopK:            cfg.Decider.TopK,
		DeciderTimeout:  time.Duration(cfg.Decider.TimeoutMs) * time.Millisecond,
		RewriteTimeout:  time.Duration(cfg.Rewrite.TimeoutMs) * time.Millisecond,
		IntentTimeout:   time.Duration(cfg.IntentRouter.TimeoutMs) * time.Millisecond,
		BurstWindow:     time.Duration(cfg.Bot.BurstWindowMs) * time.Millisecond,
		DefaultLanguage: cfg.Bot.DefaultLanguage,
		Logger:          logger,
	})
	if err != nil {
		return fail(err)
	}

	logger.Info("pipeline ready",
		"faq_entries", a.matcher.Len(),
		"store", cfg.Store.Backend,
		"dedup", cfg.Dedup.Backend,
		"decider", completers.Decider != nil,
		"rewrite", completers.Rewrite != nil,
		"intent_router", router != nil,
		"hours", hours.String(),
	)
	return a, nil
}

// Close drains the engine, then releases stores in reverse order.
func (a *app) Close() error {
	var errs []error
	if a.engine != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		errs = append(errs, a.engine.Close(ctx))
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}
