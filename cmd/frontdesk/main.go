package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"frontdesk/internal/channel"
	"frontdesk/internal/config"
	"frontdesk/internal/domain"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

//go:embed sample_faq.yaml
var sampleFAQ []byte

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "frontdesk",
		Short: "frontdesk: FAQ-grounded customer chat router",
		Long: "frontdesk answers customer chat messages from a curated FAQ, asks for clarification " +
			"when unsure and hands conversations to a human when needed.",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.frontdesk/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(askCmd())
	root.AddCommand(faqCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(serviceCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig reads the config file and replaces the bootstrap logger with
// one built from general.logLevel and general.logFile.
func loadConfig() (*config.Config, func(), error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, nil, err
	}
	l, closer, err := newLogger(cfg.General)
	if err != nil {
		return nil, nil, err
	}
	logger = l
	done := func() {
		if closer != nil {
			_ = closer.Close()
		}
	}
	return cfg, done, nil
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config and a sample FAQ corpus",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}

			faqPath := config.ExpandPath(cfg.FAQ.Path)
			if _, err := os.Stat(faqPath); errors.Is(err, fs.ErrNotExist) {
				if err := os.MkdirAll(config.ExpandPath(cfg.General.DataDir), 0o755); err != nil {
					return err
				}
				if err := os.WriteFile(faqPath, sampleFAQ, 0o644); err != nil {
					return fmt.Errorf("write sample faq: %w", err)
				}
				logger.Info("sample faq written", "path", faqPath)
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and all enabled channels",
		Long: "Starts the WhatsApp webhook, the Telegram, Discord and Slack bots, the web chat " +
			"widget endpoint, the generic inbound webhook, the agent API and the metrics endpoint " +
			"as configured. Press Ctrl+C to stop.",
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, done, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	defer done()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var transports []domain.Transport
	var wa *channel.WhatsApp
	if cfg.Channels.WhatsApp.Enabled {
		wa = channel.NewWhatsApp(channel.WhatsAppChannelConfig{Config: cfg.Channels.WhatsApp, Logger: logger})
		transports = append(transports, wa)
	}
	var tg *channel.Telegram
	if cfg.Channels.Telegram.Enabled {
		tg = channel.NewTelegram(channel.TelegramConfig{Token: cfg.Channels.Telegram.Token, Logger: logger})
		transports = append(transports, tg)
	}
	var dc *channel.Discord
	if c := cfg.Channels.Discord; c.Enabled {
		dc = channel.NewDiscord(channel.DiscordConfig{Token: c.Token, GuildID: c.GuildID, AgentUserIDs: c.AgentUserIDs, Logger: logger})
		transports = append(transports, dc)
	}
	var sl *channel.Slack
	if c := cfg.Channels.Slack; c.Enabled {
		sl = channel.NewSlack(channel.SlackConfig{BotToken: c.BotToken, AppToken: c.AppToken, AgentUserIDs: c.AgentUserIDs, Logger: logger})
		transports = append(transports, sl)
	}
	var wc *channel.WebChat
	if c := cfg.Channels.WebChat; c.Enabled {
		wc = channel.NewWebChat(channel.WebChatConfig{Path: c.Path, AllowedOrigins: c.AllowedOrigins, Logger: logger})
		transports = append(transports, wc)
	}
	// replies to webhook conversations are only logged
	transports = append(transports, channel.NewLogTransport("webhook", logger))

	a, err := newApp(ctx, cfg, transports...)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("shutdown incomplete", "err", err)
		}
	}()

	srv := channel.NewServer(channel.ServerConfig{Host: cfg.Server.Host, Port: cfg.Server.Port, Logger: logger})

	if wa != nil {
		if err := wa.Start(ctx, a.engine); err != nil {
			return fmt.Errorf("whatsapp channel: %w", err)
		}
		defer wa.Stop()
		srv.Handle(wa.Path(), wa.Handler())
		logger.Info("whatsapp channel enabled", "path", wa.Path(), "dry_run", wa.DryRun())
	}

	if cfg.Server.AgentAPIKey == "" {
		logger.Warn("agent API has no key configured, requests are not authenticated")
	}
	srv.Handle("/agent/", channel.NewAgentAPI(channel.AgentAPIConfig{
		Desk:   a.engine,
		APIKey: cfg.Server.AgentAPIKey,
		Logger: logger,
	}).Handler())

	if cfg.Channels.Webhook.Enabled {
		wh := channel.NewWebhook(channel.WebhookConfig{
			Path:   cfg.Channels.Webhook.Path,
			Secret: cfg.Channels.Webhook.Secret,
			Inbox:  a.engine,
			Logger: logger,
		})
		srv.Handle(wh.Path(), wh)
		logger.Info("inbound webhook enabled", "path", wh.Path())
	}

	if wc != nil {
		if err := wc.Start(ctx, a.engine); err != nil {
			return fmt.Errorf("webchat channel: %w", err)
		}
		defer wc.Stop()
		srv.Handle(wc.Path(), wc)
		logger.Info("webchat channel enabled", "path", wc.Path())
	}

	if cfg.Metrics.Enabled {
		srv.Handle(cfg.Metrics.Endpoint, a.collector.Handler())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	if tg != nil {
		g.Go(func() error { return tg.Start(gctx, a.engine) })
	}
	if dc != nil {
		g.Go(func() error { return dc.Start(gctx, a.engine) })
	}
	if sl != nil {
		g.Go(func() error { return sl.Start(gctx, a.engine) })
	}

	logger.Info("frontdesk started", "version", version, "addr", srv.Addr())
	err = g.Wait()
	logger.Info("shutting down")
	return err
}

func askCmd() *cobra.Command {
	var anyHour bool
	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Chat with the bot in the terminal",
		Long:  "Runs a local conversation through the full pipeline. Replies print in color; \"/agent <text>\" speaks as the operator.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, done, err := loadConfig()
			if err != nil {
				logger.Warn("config not found, using defaults", "path", resolveConfigPath(), "err", err)
				cfg, done = config.Defaults(), func() {}
				cfg.FAQ.Path = config.ExpandPath(cfg.FAQ.Path)
			}
			defer done()
			if anyHour {
				cfg.Bot.ActiveStartHour, cfg.Bot.ActiveEndHour = 0, 0
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			console := channel.NewConsole(channel.ConsoleConfig{Logger: logger})
			a, err := newApp(ctx, cfg, console)
			if err != nil {
				return err
			}
			defer a.Close()
			return console.Start(ctx, a.engine)
		},
	}
	cmd.Flags().BoolVar(&anyHour, "any-hour", false, "ignore the configured active hours")
	return cmd
}

func faqCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "faq",
		Short: "Inspect the FAQ corpus",
	}

	var top int
	match := &cobra.Command{
		Use:   "match [question]",
		Short: "Show the best match and ranked candidates for a question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, done, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			defer done()
			m, err := loadMatcher(cfg)
			if err != nil {
				return err
			}

			out := struct {
				Query      string             `json:"query"`
				Best       any                `json:"best"`
				Confident  bool               `json:"confident"`
				Candidates []domain.Candidate `json:"candidates"`
			}{Query: args[0], Candidates: m.TopCandidates(args[0], top)}
			if best, ok := m.BestMatch(args[0]); ok {
				out.Best = map[string]any{
					"id":         best.Candidate.ID,
					"confidence": best.Confidence,
					"source":     best.Source,
				}
				out.Confident = best.Confidence >= cfg.Bot.ConfidenceThreshold
			}
			data, _ := json.MarshalIndent(out, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	}
	match.Flags().IntVarP(&top, "top", "k", 5, "number of candidates to list")
	cmd.AddCommand(match)
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. bot.confidenceThreshold)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. bot.humanTimeoutMinutes 30)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
