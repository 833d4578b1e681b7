package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"frontdesk/internal/bot"
	"frontdesk/internal/config"
	"frontdesk/internal/dedupe"
	"frontdesk/internal/domain"
	"frontdesk/internal/faq"
	"frontdesk/internal/provider"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your frontdesk installation",
		Long: `Verifies that the configuration, FAQ corpus, conversation store, dedup
backend and completion service are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("frontdesk doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed, failed, warned := 0, 0, 0
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			// 1. Config file exists and validates
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'frontdesk init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				fmt.Printf("\n%d passed, 1 failed\n", passed)
				return err
			}
			printPass("Config validation", "valid")
			passed++

			// 2. FAQ corpus
			if items, err := faq.LoadFile(cfg.FAQ.Path); err != nil {
				printFail("FAQ corpus", err.Error())
				failed++
			} else if len(items) == 0 {
				printWarn("FAQ corpus", "empty, every question will be escalated")
				warned++
			} else {
				printPass("FAQ corpus", fmt.Sprintf("%d entries in %s", len(items), cfg.FAQ.Path))
				passed++
			}

			// 3. Active hours
			if hours, err := bot.NewActiveHours(cfg.Bot.ActiveStartHour, cfg.Bot.ActiveEndHour, cfg.Bot.Timezone); err != nil {
				printFail("Active hours", err.Error())
				failed++
			} else {
				state := "inactive now"
				if hours.Active(time.Now()) {
					state = "active now"
				}
				printPass("Active hours", hours.String()+", "+state)
				passed++
			}

			// 4. Conversation store
			if cfg.Store.Backend == "sqlite" {
				if err := checkDatabase(cfg.Store.DBPath); err != nil {
					printFail("Database", err.Error())
					failed++
				} else {
					printPass("Database", cfg.Store.DBPath)
					passed++
				}
			} else {
				printWarn("Store", "memory backend, conversations are lost on restart")
				warned++
			}

			// 5. Dedup backend
			if cfg.Dedup.Backend == "redis" {
				rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
				idx, err := dedupe.NewRedisIndex(rctx, dedupe.RedisConfig{URL: cfg.Dedup.RedisURL, KeyPrefix: cfg.Dedup.KeyPrefix})
				cancel()
				if err != nil {
					printFail("Dedup (redis)", err.Error())
					failed++
				} else {
					idx.Close()
					printPass("Dedup (redis)", "reachable")
					passed++
				}
			} else {
				printPass("Dedup", "in-process")
				passed++
			}

			// 6. Completion service
			completers, err := provider.NewCompleters(cfg, logger)
			switch {
			case err != nil:
				printFail("Completion", err.Error())
				failed++
			case completers.Decider == nil && completers.Rewrite == nil && completers.Intent == nil:
				printWarn("Completion", "disabled, low-confidence questions go straight to clarify/handoff")
				warned++
			default:
				for name, c := range map[string]domain.Completer{
					"decider": completers.Decider,
					"rewrite": completers.Rewrite,
					"intent":  completers.Intent,
				} {
					if c == nil {
						continue
					}
					hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
					err := c.Healthy(hctx)
					cancel()
					if err != nil {
						printFail("Completion: "+name, err.Error())
						failed++
					} else {
						printPass("Completion: "+name, c.Name())
						passed++
					}
				}
			}

			// 7. Channels and port
			if enabled := enabledChannels(cfg.Channels); len(enabled) == 0 {
				printWarn("Channels", "none enabled, serve will only expose the agent API")
				warned++
			} else {
				printPass("Channels", strings.Join(enabled, ", "))
				passed++
			}
			if cfg.Server.AgentAPIKey == "" {
				printWarn("Agent API", "no key configured, requests are not authenticated")
				warned++
			}
			if err := checkPort(cfg.Server.Host, cfg.Server.Port); err != nil {
				printWarn("Server port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
				warned++
			} else {
				printPass("Server port", fmt.Sprintf(":%d available", cfg.Server.Port))
				passed++
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running frontdesk.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned == 0 {
				fmt.Printf("\nAll checks passed! frontdesk is ready to run.\n")
			}
			return nil
		},
	}
}

func enabledChannels(c config.ChannelsConfig) []string {
	var out []string
	for _, ch := range []struct {
		name string
		on   bool
	}{
		{"whatsapp", c.WhatsApp.Enabled},
		{"telegram", c.Telegram.Enabled},
		{"discord", c.Discord.Enabled},
		{"slack", c.Slack.Enabled},
		{"webchat", c.WebChat.Enabled},
		{"webhook", c.Webhook.Enabled},
	} {
		if ch.on {
			out = append(out, ch.name)
		}
	}
	return out
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	_, _ = db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")
	return nil
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return err
	}
	return ln.Close()
}

var (
	passLabel = color.New(color.FgGreen, color.Bold).Sprint("[PASS]")
	failLabel = color.New(color.FgRed, color.Bold).Sprint("[FAIL]")
	warnLabel = color.New(color.FgYellow, color.Bold).Sprint("[WARN]")
)

func printPass(check, detail string) {
	fmt.Printf("  %s %-22s %s\n", passLabel, check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  %s %-22s %s\n", failLabel, check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  %s %-22s %s\n", warnLabel, check, detail)
}
