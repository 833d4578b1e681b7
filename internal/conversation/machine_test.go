package conversation

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frontdesk/internal/domain"
	"frontdesk/internal/heuristics"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newMachine(timeout time.Duration) (*Machine, *clock) {
	clk := &clock{t: time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)}
	m := NewMachine(MachineConfig{
		HumanTimeout:  timeout,
		EscalateAfter: 2,
		Now:           clk.Now,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return m, clk
}

func autoConv() *domain.Conversation {
	return &domain.Conversation{ID: "c1", Key: "358401234567", Status: domain.StatusAuto}
}

func TestRecordUncertain_EscalatesOnSecond(t *testing.T) {
	m, clk := newMachine(0)
	c := autoConv()

	assert.Equal(t, OutcomeClarify, m.RecordUncertain(c))
	assert.Equal(t, domain.StatusAuto, c.Status)
	assert.Equal(t, 1, c.UncertainCount)

	assert.Equal(t, OutcomeEscalate, m.RecordUncertain(c))
	assert.Equal(t, domain.StatusHuman, c.Status)
	assert.Equal(t, 0, c.UncertainCount)
	require.NotNil(t, c.LastAgentActivityAt)
	assert.Equal(t, clk.t, *c.LastAgentActivityAt)
}

func TestRecordSuccess_ResetsCounter(t *testing.T) {
	m, _ := newMachine(0)
	c := autoConv()

	m.RecordUncertain(c)
	m.RecordSuccess(c)
	assert.Equal(t, OutcomeClarify, m.RecordUncertain(c))
	assert.Equal(t, domain.StatusAuto, c.Status)
}

func TestReclaim_ZeroTimeoutNever(t *testing.T) {
	m, clk := newMachine(0)
	c := autoConv()
	m.EnterHuman(c, ReasonManual)

	clk.Advance(1000 * time.Hour)
	assert.False(t, m.Reclaim(c))
	assert.Equal(t, domain.StatusHuman, c.Status)
}

func TestReclaim_Boundary(t *testing.T) {
	m, clk := newMachine(30 * time.Minute)
	c := autoConv()
	m.EnterHuman(c, ReasonAgentMessage)

	clk.Advance(30*time.Minute - time.Second)
	assert.False(t, m.Reclaim(c), "before timeout")
	assert.Equal(t, domain.StatusHuman, c.Status)

	clk.Advance(time.Second)
	assert.True(t, m.Reclaim(c), "exactly at timeout")
	assert.Equal(t, domain.StatusAuto, c.Status)
	assert.False(t, c.HandoffConfirmPending)
}

func TestReclaim_NoActivityStartsWindow(t *testing.T) {
	m, clk := newMachine(10 * time.Minute)
	c := autoConv()
	c.Status = domain.StatusHuman

	assert.False(t, m.Reclaim(c))
	require.NotNil(t, c.LastAgentActivityAt)
	assert.Equal(t, clk.t, *c.LastAgentActivityAt)

	clk.Advance(10 * time.Minute)
	assert.True(t, m.Reclaim(c))
}

func TestReclaim_IgnoresAuto(t *testing.T) {
	m, _ := newMachine(time.Minute)
	c := autoConv()
	assert.False(t, m.Reclaim(c))
	assert.Nil(t, c.LastAgentActivityAt)
}

func TestEnterHuman_RefreshesWindow(t *testing.T) {
	m, clk := newMachine(10 * time.Minute)
	c := autoConv()

	assert.True(t, m.EnterHuman(c, ReasonOffHours))
	clk.Advance(8 * time.Minute)
	assert.False(t, m.EnterHuman(c, ReasonAgentMessage))

	clk.Advance(5 * time.Minute)
	assert.False(t, m.Reclaim(c), "window restarted by second activity")
}

func TestHandoffConfirmation(t *testing.T) {
	m, _ := newMachine(0)

	t.Run("yes hands off", func(t *testing.T) {
		c := autoConv()
		require.True(t, m.RequestHandoffConfirm(c))
		assert.Equal(t, ConfirmHandoff, m.ResolveConfirm(c, heuristics.ConfirmYes))
		assert.Equal(t, domain.StatusHuman, c.Status)
		assert.False(t, c.HandoffConfirmPending)
	})

	t.Run("no clears and resets", func(t *testing.T) {
		c := autoConv()
		c.UncertainCount = 1
		m.RequestHandoffConfirm(c)
		assert.Equal(t, ConfirmDeclined, m.ResolveConfirm(c, heuristics.ConfirmNo))
		assert.Equal(t, domain.StatusAuto, c.Status)
		assert.False(t, c.HandoffConfirmPending)
		assert.Equal(t, 0, c.UncertainCount)
	})

	t.Run("unclear re-asks", func(t *testing.T) {
		c := autoConv()
		m.RequestHandoffConfirm(c)
		assert.Equal(t, ConfirmReask, m.ResolveConfirm(c, heuristics.ConfirmUnclear))
		assert.True(t, c.HandoffConfirmPending)
		assert.Equal(t, domain.StatusAuto, c.Status)
	})

	t.Run("human cannot request", func(t *testing.T) {
		c := autoConv()
		c.Status = domain.StatusHuman
		assert.False(t, m.RequestHandoffConfirm(c))
		assert.False(t, c.HandoffConfirmPending)
	})
}

func TestNoteUserText(t *testing.T) {
	m, _ := newMachine(0)
	c := autoConv()

	m.NoteUserText(c, "is pickup included?", true)
	m.NoteUserText(c, "we are 4 people", false)
	assert.Equal(t, "we are 4 people", c.LastMeaningfulUserText)
	assert.Equal(t, "is pickup included?", c.LastUserQuestionText)
}

func TestKeyFor(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"+358 40-123 4567", "358401234567"},
		{"whatsapp:+358401234567", "358401234567"},
		{"  Alice@Example.com ", "alice@example.com"},
		{"tg:1234", "tg:1234"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KeyFor(tt.in), tt.in)
	}
}
