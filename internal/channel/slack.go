package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"frontdesk/internal/domain"
)

const slackMaxMsgLen = 4000

type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Slack carries customer conversations over Socket Mode, for example from
// Slack Connect support channels. Messages from the listed agent users are
// recorded as AGENT messages.
type Slack struct {
	botToken string
	appToken string
	agents   []string
	poster   slackPoster
	botUID   string
	logger   *slog.Logger
}

type SlackConfig struct {
	BotToken     string
	AppToken     string
	AgentUserIDs []string
	Logger       *slog.Logger
}

func NewSlack(cfg SlackConfig) *Slack {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Slack{
		botToken: cfg.BotToken,
		appToken: cfg.AppToken,
		agents:   cfg.AgentUserIDs,
		logger:   cfg.Logger,
	}
}

func (s *Slack) Name() string { return "slack" }

// Start connects via Socket Mode and delivers message events until ctx is
// cancelled.
func (s *Slack) Start(ctx context.Context, inbox domain.Inbox) error {
	api := slack.New(s.botToken, slack.OptionAppLevelToken(s.appToken))

	auth, err := api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.botUID = auth.UserID
	s.poster = api
	s.logger.Info("slack bot connected", "user", auth.User, "user_id", auth.UserID)

	socket := socketmode.New(api)
	go func() {
		for evt := range socket.Events {
			if evt.Request != nil {
				socket.Ack(*evt.Request)
			}
			if evt.Type != socketmode.EventTypeEventsAPI {
				continue
			}
			event, ok := evt.Data.(slackevents.EventsAPIEvent)
			if !ok || event.Type != slackevents.CallbackEvent {
				continue
			}
			ev, ok := event.InnerEvent.Data.(*slackevents.MessageEvent)
			if !ok {
				continue
			}
			msg, ok := s.toInbound(ev)
			if !ok {
				continue
			}
			if err := inbox.Deliver(ctx, msg); err != nil {
				s.logger.Error("slack deliver failed", "external_id", msg.ExternalID, "err", err)
			}
		}
	}()

	err = socket.RunContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("slack socket mode: %w", err)
	}
	s.logger.Info("slack bot disconnecting")
	return nil
}

func (s *Slack) Stop() error { return nil }

// toInbound skips the bot's own posts, edits and other subtypes except
// file shares.
func (s *Slack) toInbound(ev *slackevents.MessageEvent) (domain.InboundMessage, bool) {
	if ev == nil || ev.User == "" || ev.User == s.botUID || ev.BotID != "" {
		return domain.InboundMessage{}, false
	}
	if ev.SubType != "" && ev.SubType != "file_share" {
		return domain.InboundMessage{}, false
	}

	msg := domain.InboundMessage{
		Channel:    "slack",
		Address:    ev.Channel,
		ExternalID: "sl:" + ev.Channel + ":" + ev.TimeStamp,
		Text:       strings.TrimSpace(ev.Text),
		Type:       "text",
		Role:       domain.RoleCustomer,
		Timestamp:  slackTime(ev.TimeStamp),
	}
	if msg.Text == "" && ev.Message != nil && len(ev.Message.Files) > 0 {
		msg.Type = attachmentType(ev.Message.Files[0].Mimetype)
	}
	if msg.Text == "" && msg.Type == "text" {
		return domain.InboundMessage{}, false
	}
	if slices.Contains(s.agents, ev.User) {
		msg.Role = domain.RoleAgent
	}
	return msg, true
}

// slackTime parses "1700000000.123456" message timestamps.
func slackTime(ts string) time.Time {
	sec, _, _ := strings.Cut(ts, ".")
	n, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Now()
	}
	return time.Unix(n, 0)
}

// Send posts text to a Slack channel id in 4000-character chunks.
func (s *Slack) Send(ctx context.Context, address, text string) error {
	if s.poster == nil {
		return fmt.Errorf("%w: slack not connected", domain.ErrSendFailed)
	}
	for _, chunk := range splitMessage(text, slackMaxMsgLen) {
		if _, _, err := s.poster.PostMessageContext(ctx, address, slack.MsgOptionText(chunk, false)); err != nil {
			return fmt.Errorf("%w: slack: %w", domain.ErrSendFailed, err)
		}
	}
	return nil
}
