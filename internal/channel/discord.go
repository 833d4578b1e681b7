package channel

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/bwmarrin/discordgo"

	"frontdesk/internal/domain"
)

const discordMaxMsgLen = 2000

type discordSender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord carries customer conversations from Discord DMs or one guild.
// Messages from the listed agent users are recorded as AGENT messages.
type Discord struct {
	token   string
	guildID string
	agents  []string
	session *discordgo.Session
	sender  discordSender
	logger  *slog.Logger
}

type DiscordConfig struct {
	Token        string
	GuildID      string   // empty: every guild and DM
	AgentUserIDs []string // staff whose messages hand the conversation to a human
	Logger       *slog.Logger
}

func NewDiscord(cfg DiscordConfig) *Discord {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Discord{
		token:   cfg.Token,
		guildID: cfg.GuildID,
		agents:  cfg.AgentUserIDs,
		logger:  cfg.Logger,
	}
}

func (d *Discord) Name() string { return "discord" }

// Start connects the gateway session and delivers messages until ctx is
// cancelled.
func (d *Discord) Start(ctx context.Context, inbox domain.Inbox) error {
	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		msg, ok := d.toInbound(m, s.State.User.ID)
		if !ok {
			return
		}
		if err := inbox.Deliver(ctx, msg); err != nil {
			d.logger.Error("discord deliver failed", "external_id", msg.ExternalID, "err", err)
		}
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	d.session = session
	d.sender = session
	d.logger.Info("discord bot connected", "user", session.State.User.Username)

	<-ctx.Done()
	d.logger.Info("discord bot disconnecting")
	return session.Close()
}

func (d *Discord) Stop() error { return nil }

// toInbound skips the bot's own messages, other bots and foreign guilds.
func (d *Discord) toInbound(m *discordgo.MessageCreate, selfID string) (domain.InboundMessage, bool) {
	if m == nil || m.Message == nil || m.Author == nil {
		return domain.InboundMessage{}, false
	}
	if m.Author.ID == selfID || m.Author.Bot {
		return domain.InboundMessage{}, false
	}
	if d.guildID != "" && m.GuildID != "" && m.GuildID != d.guildID {
		return domain.InboundMessage{}, false
	}

	msg := domain.InboundMessage{
		Channel:    "discord",
		Address:    m.ChannelID,
		ExternalID: "dc:" + m.ID,
		Text:       strings.TrimSpace(m.Content),
		Type:       "text",
		Role:       domain.RoleCustomer,
		Timestamp:  m.Timestamp,
	}
	if msg.Text == "" && len(m.Attachments) > 0 {
		msg.Type = attachmentType(m.Attachments[0].ContentType)
	}
	if msg.Text == "" && msg.Type == "text" {
		return domain.InboundMessage{}, false
	}
	if slices.Contains(d.agents, m.Author.ID) {
		msg.Role = domain.RoleAgent
	}
	return msg, true
}

func attachmentType(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return "image"
	case strings.HasPrefix(contentType, "audio/"):
		return "audio"
	case strings.HasPrefix(contentType, "video/"):
		return "video"
	default:
		return "document"
	}
}

// Send posts text to a Discord channel id in 2000-character chunks.
func (d *Discord) Send(ctx context.Context, address, text string) error {
	if d.sender == nil {
		return fmt.Errorf("%w: discord not connected", domain.ErrSendFailed)
	}
	for _, chunk := range splitMessage(text, discordMaxMsgLen) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrSendFailed, err)
		}
		if _, err := d.sender.ChannelMessageSend(address, chunk, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("%w: discord: %w", domain.ErrSendFailed, err)
		}
	}
	return nil
}
