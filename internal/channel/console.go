package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"frontdesk/internal/domain"

	"github.com/fatih/color"
)

// Console implements domain.Channel for a local terminal conversation.
// Each line typed becomes a customer message; lines prefixed with
// "/agent " are recorded as operator messages.
type Console struct {
	address string
	logger  *slog.Logger
	in      io.Reader
	out     io.Writer
	seq     atomic.Int64

	botColor   *color.Color
	agentColor *color.Color
	hintColor  *color.Color
}

type ConsoleConfig struct {
	Address string // conversation address, default "console"
	Logger  *slog.Logger
	In      io.Reader
	Out     io.Writer
}

func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Address == "" {
		cfg.Address = "console"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Console{
		address:    cfg.Address,
		logger:     cfg.Logger,
		in:         cfg.In,
		out:        cfg.Out,
		botColor:   color.New(color.FgCyan, color.Bold),
		agentColor: color.New(color.FgYellow),
		hintColor:  color.New(color.Faint),
	}
}

func (c *Console) Name() string { return "console" }

// Start reads lines until EOF, "/quit" or ctx cancellation. Each line is
// delivered synchronously so replies print before the next prompt.
func (c *Console) Start(ctx context.Context, inbox domain.Inbox) error {
	c.hintColor.Fprintln(c.out, "Type a message and press Enter. \"/agent <text>\" speaks as the operator, /quit exits.")
	c.prompt()

	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			c.prompt()
			continue
		case line == "/quit" || line == "/exit" || line == "/q":
			c.logger.Info("user requested quit")
			return nil
		}

		msg := domain.InboundMessage{
			Channel:    "console",
			Address:    c.address,
			ExternalID: "console-" + strconv.FormatInt(c.seq.Add(1), 10),
			Text:       line,
			Type:       "text",
			Role:       domain.RoleCustomer,
			Timestamp:  time.Now(),
		}
		if rest, ok := strings.CutPrefix(line, "/agent "); ok {
			msg.Text = strings.TrimSpace(rest)
			msg.Role = domain.RoleAgent
			c.agentColor.Fprintf(c.out, "agent> %s\n", msg.Text)
		}
		if err := inbox.Deliver(ctx, msg); err != nil {
			c.logger.Error("console deliver failed", "err", err)
		}
		c.prompt()
	}
	return scanner.Err()
}

func (c *Console) prompt() {
	_, _ = fmt.Fprint(c.out, "you> ")
}

// Stop is a no-op; the console exits when Start returns.
func (c *Console) Stop() error { return nil }

func (c *Console) Send(_ context.Context, _ string, text string) error {
	_, err := c.botColor.Fprintf(c.out, "\rbot> %s\n", text)
	return err
}
