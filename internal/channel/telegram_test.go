package channel

import (
	"context"
	"errors"
	"testing"

	"frontdesk/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTelegramSender struct {
	errs []error
	sent []string
}

func (f *fakeTelegramSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, m.Text)
	}
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return tgbotapi.Message{}, err
	}
	return tgbotapi.Message{}, nil
}

func TestTelegram_ToInbound(t *testing.T) {
	tg := NewTelegram(TelegramConfig{Logger: testLogger()})

	msg, ok := tg.toInbound(tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 7,
		Chat:      &tgbotapi.Chat{ID: 42},
		Text:      "  Is pickup included?  ",
		Date:      1700000000,
	}})
	require.True(t, ok)
	assert.Equal(t, "42", msg.Address)
	assert.Equal(t, "tg:42:7", msg.ExternalID)
	assert.Equal(t, "Is pickup included?", msg.Text)
	assert.Equal(t, domain.RoleCustomer, msg.Role)

	photo, ok := tg.toInbound(tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 8,
		Chat:      &tgbotapi.Chat{ID: 42},
		Photo:     []tgbotapi.PhotoSize{{FileID: "f"}},
	}})
	require.True(t, ok)
	assert.Equal(t, "image", photo.Type)

	_, ok = tg.toInbound(tgbotapi.Update{})
	assert.False(t, ok)
}

func TestTelegram_SendChunksAndFails(t *testing.T) {
	tg := NewTelegram(TelegramConfig{Logger: testLogger()})
	fake := &fakeTelegramSender{}
	tg.sender = fake

	require.NoError(t, tg.Send(context.Background(), "42", "hello"))
	assert.Equal(t, []string{"hello"}, fake.sent)

	assert.Error(t, tg.Send(context.Background(), "not-a-number", "x"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fake.errs = []error{errors.New("boom")}
	err := tg.Send(ctx, "42", "again")
	assert.ErrorIs(t, err, domain.ErrSendFailed)
}

func TestTelegram_SendWithoutConnection(t *testing.T) {
	tg := NewTelegram(TelegramConfig{Logger: testLogger()})
	assert.ErrorIs(t, tg.Send(context.Background(), "1", "x"), domain.ErrSendFailed)
}
