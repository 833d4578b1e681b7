package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"frontdesk/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// telegramSender is the slice of *tgbotapi.BotAPI used for outbound text.
type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram implements domain.Channel for a Telegram bot using long polling.
type Telegram struct {
	token  string
	bot    *tgbotapi.BotAPI
	sender telegramSender
	inbox  domain.Inbox
	logger *slog.Logger
}

type TelegramConfig struct {
	Token  string
	Logger *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{token: cfg.Token, logger: cfg.Logger}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and polls for updates until ctx is cancelled.
func (t *Telegram) Start(ctx context.Context, inbox domain.Inbox) error {
	t.inbox = inbox

	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.sender = bot
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if msg, ok := t.toInbound(update); ok {
				if err := inbox.Deliver(ctx, msg); err != nil {
					t.logger.Error("telegram deliver failed", "external_id", msg.ExternalID, "err", err)
				}
			}
		}
	}
}

// Stop is a no-op: polling ends when Start's context is cancelled, and
// StopReceivingUpdates panics if called twice.
func (t *Telegram) Stop() error { return nil }

// toInbound converts an update into an inbound message. Commands and
// updates without a message are skipped.
func (t *Telegram) toInbound(update tgbotapi.Update) (domain.InboundMessage, bool) {
	m := update.Message
	if m == nil || m.Chat == nil {
		return domain.InboundMessage{}, false
	}
	if m.IsCommand() {
		t.logger.Debug("telegram command ignored", "command", m.Command())
		return domain.InboundMessage{}, false
	}

	chatID := strconv.FormatInt(m.Chat.ID, 10)
	msg := domain.InboundMessage{
		Channel:    "telegram",
		Address:    chatID,
		ExternalID: "tg:" + chatID + ":" + strconv.Itoa(m.MessageID),
		Text:       strings.TrimSpace(m.Text),
		Type:       "text",
		Role:       domain.RoleCustomer,
		Timestamp:  time.Unix(int64(m.Date), 0),
	}
	switch {
	case m.Photo != nil:
		msg.Type = "image"
	case m.Voice != nil:
		msg.Type = "audio"
	case m.Document != nil:
		msg.Type = "document"
	case m.Location != nil:
		msg.Type = "location"
	case m.Sticker != nil:
		msg.Type = "sticker"
	}
	if msg.Type != "text" {
		msg.Text = ""
	} else if msg.Text == "" {
		return domain.InboundMessage{}, false
	}
	return msg, true
}

func (t *Telegram) Send(ctx context.Context, chatID string, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}
	if t.sender == nil {
		return fmt.Errorf("%w: telegram bot not connected", domain.ErrSendFailed)
	}
	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		if err := t.sendChunk(ctx, id, chunk); err != nil {
			return err
		}
	}
	return nil
}

// sendChunk sends one chunk as plain text, backing off on rate limits and
// transient errors.
func (t *Telegram) sendChunk(ctx context.Context, chatID int64, text string) error {
	var lastErr error
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		_, err := t.sender.Send(tgbotapi.NewMessage(chatID, text))
		if err == nil {
			return nil
		}
		lastErr = err

		backoff := time.Duration(attempt+1) * time.Second
		if errStr := err.Error(); strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			backoff = time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off", "retry_after", backoff, "attempt", attempt+1)
		} else {
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
		}
		if attempt == telegramMaxSendRetries {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", domain.ErrSendFailed, ctx.Err())
		case <-time.After(backoff):
		}
	}
	t.logger.Error("telegram send failed after retries", "err", lastErr, "attempts", telegramMaxSendRetries+1)
	return fmt.Errorf("%w: %w", domain.ErrSendFailed, lastErr)
}
