package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frontdesk/internal/bus"
	"frontdesk/internal/conversation"
	"frontdesk/internal/decider"
	"frontdesk/internal/dedupe"
	"frontdesk/internal/domain"
	"frontdesk/internal/faq"
	"frontdesk/internal/memory"
	"frontdesk/internal/reply"
)

const (
	customer      = "+358 40 123 4567"
	durationQ     = "How long does the aurora tour last?"
	durationA     = "The Aurora Hunting tour lasts about 4 hours, including transport to the viewing spots."
	unanswerableQ = "Can I pay with bitcoin?"
)

type sent struct {
	address string
	text    string
}

type fakeTransport struct {
	mu       sync.Mutex
	sent     []sent
	err      error
	delay    time.Duration
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Send(_ context.Context, address, text string) error {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxSeen.Load()
		if n <= cur || f.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sent{address: address, text: text})
	return nil
}

func (f *fakeTransport) all() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

func (f *fakeTransport) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type fakeCompleter struct {
	content string
	calls   atomic.Int32
}

func (f *fakeCompleter) Name() string                  { return "fake" }
func (f *fakeCompleter) Healthy(context.Context) error { return nil }
func (f *fakeCompleter) Complete(context.Context, domain.CompletionRequest) (*domain.CompletionResponse, error) {
	f.calls.Add(1)
	return &domain.CompletionResponse{Content: f.content, Model: "fake-model"}, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	engine    *Engine
	store     domain.ConversationStore
	transport *fakeTransport
	clock     *clock
	events    *bus.EventBus
}

type option func(*EngineConfig, *conversation.MachineConfig)

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()
	items, err := faq.LoadFile("../faq/testdata/faq.yaml")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := &clock{now: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
	h := &harness{
		store:     memory.NewVolatileStore(),
		transport: &fakeTransport{},
		clock:     clk,
		events:    bus.NewEventBus(logger),
	}

	mcfg := conversation.MachineConfig{EscalateAfter: 2, Now: clk.Now, Logger: logger}
	cfg := EngineConfig{
		Store:      h.store,
		Dedup:      dedupe.NewIndex(dedupe.IndexConfig{TTL: time.Hour, Now: clk.Now}),
		Transports: []domain.Transport{h.transport},
		Matcher:    faq.NewMatcher(faq.MatcherConfig{Items: items}),
		Hours:      Always,
		Events:     h.events,
		Logger:     logger,
	}
	for _, o := range opts {
		o(&cfg, &mcfg)
	}
	h.store = cfg.Store
	cfg.Machine = conversation.NewMachine(mcfg)

	h.engine, err = New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.engine.Close(context.Background()) })
	return h
}

func withDecider(c domain.Completer) option {
	return func(cfg *EngineConfig, _ *conversation.MachineConfig) {
		cfg.Decider = decider.New(decider.Config{
			Completer:      c,
			MinConfidence:  0.6,
			MaxFAQIDs:      2,
			MinQuoteLength: 12,
			Logger:         cfg.Logger,
		})
	}
}

func withSQLiteStore(t *testing.T) option {
	return func(cfg *EngineConfig, _ *conversation.MachineConfig) {
		s, err := memory.NewSQLiteStore(filepath.Join(t.TempDir(), "frontdesk.db"), cfg.Logger)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		cfg.Store = s
	}
}

func withHumanTimeout(d time.Duration) option {
	return func(_ *EngineConfig, m *conversation.MachineConfig) { m.HumanTimeout = d }
}

var seq atomic.Int64

func (h *harness) say(t *testing.T, text string) {
	t.Helper()
	id := fmt.Sprintf("wamid.%d", seq.Add(1))
	require.NoError(t, h.engine.HandleInboundMessage(context.Background(), customer, id, text))
}

func (h *harness) conv(t *testing.T) *domain.Conversation {
	t.Helper()
	c, err := h.store.FindOrCreate(context.Background(), conversation.KeyFor(customer))
	require.NoError(t, err)
	return c
}

func (h *harness) messages(t *testing.T, role domain.Role) []string {
	t.Helper()
	msgs, err := h.store.Messages(context.Background(), h.conv(t).ID, 0)
	require.NoError(t, err)
	var out []string
	for _, m := range msgs {
		if m.Role == role {
			out = append(out, m.Text)
		}
	}
	return out
}

func (h *harness) countEvents(typ string) int {
	return len(h.events.Replay(typ, time.Time{}))
}

func TestEngine_DirectFAQAnswer(t *testing.T) {
	h := newHarness(t)

	h.say(t, durationQ)

	out := h.transport.all()
	require.Len(t, out, 1)
	assert.Equal(t, customer, out[0].address)
	assert.Equal(t, durationA, out[0].text)

	c := h.conv(t)
	assert.Equal(t, domain.StatusAuto, c.Status)
	assert.Zero(t, c.UncertainCount)
	assert.Equal(t, reply.Fingerprint(durationA), c.LastReplyFingerprint)
	assert.Equal(t, []string{durationQ}, h.messages(t, domain.RoleCustomer))
	assert.Equal(t, []string{durationA}, h.messages(t, domain.RoleBot))
}

func TestEngine_DeciderAnswerIsSent(t *testing.T) {
	fc := &fakeCompleter{content: `{"type":"ANSWER","confidence":0.9,"faqIdsUsed":["pickup"],
		"text":"Yes, pickup from city centre hotels is included.",
		"support":[{"faqId":"pickup","quote":"Pickup is included from all hotels"}]}`}
	h := newHarness(t, withDecider(fc), func(cfg *EngineConfig, _ *conversation.MachineConfig) {
		cfg.Threshold = 0.99
	})

	h.say(t, "Is hotel pickup included?")

	require.EqualValues(t, 1, fc.calls.Load())
	out := h.transport.all()
	require.Len(t, out, 1)
	assert.Equal(t, "Yes, pickup from city centre hotels is included.", out[0].text)
	assert.Zero(t, h.conv(t).UncertainCount)
}

func TestEngine_DeciderQuoteNotFoundFailsClosed(t *testing.T) {
	fc := &fakeCompleter{content: `{"type":"ANSWER","confidence":0.95,"faqIdsUsed":["pickup"],
		"text":"Pickup is free from anywhere in Lapland.",
		"support":[{"faqId":"pickup","quote":"Pickup is free from anywhere in Lapland"}]}`}
	h := newHarness(t, withDecider(fc), func(cfg *EngineConfig, _ *conversation.MachineConfig) {
		cfg.Threshold = 0.99
	})

	h.say(t, "Is hotel pickup included?")

	out := h.transport.all()
	require.Len(t, out, 1)
	assert.NotContains(t, out[0].text, "Lapland")
	c := h.conv(t)
	assert.Equal(t, domain.StatusAuto, c.Status)
	assert.Equal(t, 1, c.UncertainCount)

	decisions := h.events.Replay(bus.EventDecision, time.Time{})
	require.Len(t, decisions, 1)
	assert.Equal(t, string(decider.RejectQuoteMissing), decisions[0].Str("reason"))
}

func TestEngine_AcknowledgementIsSilentButRecorded(t *testing.T) {
	h := newHarness(t)
	h.say(t, durationQ)
	before := *h.conv(t)

	h.say(t, "ok thanks")

	assert.Len(t, h.transport.all(), 1)
	assert.Equal(t, []string{durationQ, "ok thanks"}, h.messages(t, domain.RoleCustomer))
	after := h.conv(t)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.LastUserQuestionText, after.LastUserQuestionText)
	assert.Equal(t, before.LastReplyFingerprint, after.LastReplyFingerprint)
}

func TestEngine_ClarifiersDoNotGrowStoredQuestion(t *testing.T) {
	h := newHarness(t)
	h.say(t, durationQ)

	h.say(t, "small group?")
	assert.Equal(t, durationQ, h.conv(t).LastUserQuestionText)

	h.say(t, "meeting point?")
	assert.Equal(t, durationQ, h.conv(t).LastUserQuestionText)
	assert.Equal(t, []string{durationQ, "small group?", "meeting point?"}, h.messages(t, domain.RoleCustomer))
}

func TestEngine_TwoUncertainTurnsHandOffOnce(t *testing.T) {
	h := newHarness(t)

	h.say(t, unanswerableQ)
	c := h.conv(t)
	assert.Equal(t, domain.StatusAuto, c.Status)
	assert.Equal(t, 1, c.UncertainCount)

	h.say(t, "Can I pay with dogecoin then?")
	c = h.conv(t)
	assert.Equal(t, domain.StatusHuman, c.Status)
	assert.Zero(t, c.UncertainCount)
	require.NotNil(t, c.LastAgentActivityAt)

	h.say(t, "Hello? Anyone there?")

	out := h.transport.all()
	require.Len(t, out, 2)
	assert.Equal(t, reply.Template(reply.KindClarify, "en", ""), out[0].text)
	assert.Equal(t, reply.Template(reply.KindHandoff, "en", ""), out[1].text)
	assert.Equal(t, 1, h.countEvents(bus.EventHandoff))
}

func TestEngine_ReclaimAfterTimeout(t *testing.T) {
	h := newHarness(t, withHumanTimeout(30*time.Minute))
	require.NoError(t, h.engine.Deliver(context.Background(), domain.InboundMessage{
		Address: customer, ExternalID: "echo-1", Text: "Hi, Anna here from the office", Type: "text", Role: domain.RoleAgent,
	}))
	require.Equal(t, domain.StatusHuman, h.conv(t).Status)

	h.clock.Advance(29*time.Minute + 59*time.Second)
	h.say(t, durationQ)
	assert.Empty(t, h.transport.all())
	assert.Equal(t, domain.StatusHuman, h.conv(t).Status)

	h.clock.Advance(time.Second)
	h.say(t, durationQ)
	out := h.transport.all()
	require.Len(t, out, 1)
	assert.Equal(t, durationA, out[0].text)
	assert.Equal(t, domain.StatusAuto, h.conv(t).Status)
	assert.Equal(t, 1, h.countEvents(bus.EventReclaimed))
}

func TestEngine_ZeroTimeoutNeverReclaims(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.engine.Deliver(context.Background(), domain.InboundMessage{
		Address: customer, ExternalID: "echo-1", Text: "On it", Type: "text", Role: domain.RoleAgent,
	}))

	h.clock.Advance(72 * time.Hour)
	h.say(t, durationQ)

	assert.Empty(t, h.transport.all())
	assert.Equal(t, domain.StatusHuman, h.conv(t).Status)
}

func TestEngine_DuplicateExternalIDIsIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.engine.HandleInboundMessage(ctx, customer, "wamid.same", durationQ))
	require.NoError(t, h.engine.HandleInboundMessage(ctx, customer, "wamid.same", durationQ))

	assert.Len(t, h.transport.all(), 1)
	assert.Len(t, h.messages(t, domain.RoleCustomer), 1)
	assert.Equal(t, 1, h.countEvents(bus.EventMessageDuplicate))
}

func TestEngine_SameKeyNeverOverlaps(t *testing.T) {
	h := newHarness(t)
	h.transport.delay = 5 * time.Millisecond

	questions := []string{durationQ, "How much does the aurora tour cost?", unanswerableQ}
	var wg sync.WaitGroup
	for i := range 12 {
		wg.Go(func() {
			err := h.engine.HandleInboundMessage(context.Background(), customer,
				fmt.Sprintf("burst-%d", i), questions[i%len(questions)])
			assert.NoError(t, err)
		})
	}
	wg.Wait()

	assert.EqualValues(t, 1, h.transport.maxSeen.Load())
	assert.Len(t, h.messages(t, domain.RoleCustomer), 12)
	assert.Zero(t, h.engine.ActiveTasks())
}

func TestEngine_AgentEchoSilencesBot(t *testing.T) {
	h := newHarness(t)
	h.say(t, durationQ)

	require.NoError(t, h.engine.Deliver(context.Background(), domain.InboundMessage{
		Address: customer, ExternalID: "echo-1", Type: "image", Role: domain.RoleAgent,
	}))
	h.say(t, "How much does the aurora tour cost?")

	assert.Len(t, h.transport.all(), 1)
	assert.Equal(t, domain.StatusHuman, h.conv(t).Status)
	assert.Equal(t, []string{"[image message from business app]"}, h.messages(t, domain.RoleAgent))
	assert.Equal(t, 1, h.countEvents(bus.EventAgentMessage))
}

func TestEngine_HumanRequestConfirmation(t *testing.T) {
	tests := []struct {
		name    string
		answer  string
		status  domain.Status
		pending bool
		reply   reply.Kind
	}{
		{"yes hands off", "yes", domain.StatusHuman, false, reply.KindConfirmYes},
		{"no stays auto", "no", domain.StatusAuto, false, reply.KindConfirmDecline},
		{"unclear asks again", "maybe later", domain.StatusAuto, true, reply.KindConfirmReask},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)

			h.say(t, "Can I talk to a real person?")
			require.True(t, h.conv(t).HandoffConfirmPending)
			assert.Equal(t, domain.StatusAuto, h.conv(t).Status)

			h.say(t, tt.answer)
			c := h.conv(t)
			assert.Equal(t, tt.status, c.Status)
			assert.Equal(t, tt.pending, c.HandoffConfirmPending)

			out := h.transport.all()
			require.Len(t, out, 2)
			assert.Equal(t, reply.Template(reply.KindConfirmAsk, "en", ""), out[0].text)
			assert.Equal(t, reply.Template(tt.reply, "en", ""), out[1].text)
		})
	}
}

func TestEngine_OffHoursHandsToHumanSilently(t *testing.T) {
	hours, err := NewActiveHours(9, 21, "UTC")
	require.NoError(t, err)
	h := newHarness(t, func(cfg *EngineConfig, _ *conversation.MachineConfig) { cfg.Hours = hours })
	h.clock.Advance(11 * time.Hour) // 23:00 UTC

	h.say(t, durationQ)

	assert.Empty(t, h.transport.all())
	c := h.conv(t)
	assert.Equal(t, domain.StatusHuman, c.Status)
	require.NotNil(t, c.LastAgentActivityAt)
	assert.Equal(t, h.clock.Now(), *c.LastAgentActivityAt)
}

func TestEngine_DuplicateReplySuppressedWithinWindow(t *testing.T) {
	h := newHarness(t)

	h.say(t, durationQ)
	h.clock.Advance(5 * time.Minute)
	h.say(t, durationQ)
	assert.Len(t, h.transport.all(), 1)
	assert.Len(t, h.messages(t, domain.RoleBot), 1)
	assert.Equal(t, 1, h.countEvents(bus.EventReplySuppressed))

	h.clock.Advance(6 * time.Minute)
	h.say(t, durationQ)
	assert.Len(t, h.transport.all(), 2)
}

func TestEngine_SendFailureKeepsStatus(t *testing.T) {
	h := newHarness(t)
	h.transport.setErr(errors.New("graph api 500"))

	h.say(t, durationQ)

	c := h.conv(t)
	assert.Equal(t, domain.StatusAuto, c.Status)
	assert.Empty(t, c.LastReplyFingerprint)
	assert.Equal(t, []string{durationA}, h.messages(t, domain.RoleBot))
	assert.Equal(t, 1, h.countEvents(bus.EventSendFailed))

	h.transport.setErr(nil)
	h.say(t, durationQ)
	assert.Len(t, h.transport.all(), 1)
}

func TestEngine_EmptyKeyRejected(t *testing.T) {
	h := newHarness(t)

	err := h.engine.HandleInboundMessage(context.Background(), "   ", "wamid.x", durationQ)
	assert.ErrorIs(t, err, ErrNoConversationKey)
	assert.Empty(t, h.transport.all())
}

func TestEngine_NonTextRecordedAsPlaceholder(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.engine.Deliver(context.Background(), domain.InboundMessage{
		Address: customer, ExternalID: "img-1", Type: "image", Role: domain.RoleCustomer,
	}))

	assert.Empty(t, h.transport.all())
	assert.Equal(t, []string{"[image message]"}, h.messages(t, domain.RoleCustomer))
}

func TestEngine_BurstIsMergedIntoOneTurn(t *testing.T) {
	h := newHarness(t, func(cfg *EngineConfig, _ *conversation.MachineConfig) {
		cfg.BurstWindow = 30 * time.Millisecond
	})

	h.say(t, "hi")
	h.say(t, durationQ)

	require.Eventually(t, func() bool { return len(h.transport.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, durationA, h.transport.all()[0].text)
	assert.Len(t, h.messages(t, domain.RoleCustomer), 2)
}

func TestEngine_AgentReplyAndStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.say(t, durationQ)
	id := h.conv(t).ID

	msg, err := h.engine.AgentReply(ctx, id, "Hi! I'll check the pickup for you.")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAgent, msg.Role)

	out := h.transport.all()
	require.Len(t, out, 2)
	assert.Equal(t, conversation.KeyFor(customer), out[1].address)
	assert.Equal(t, domain.StatusHuman, h.conv(t).Status)

	conv, err := h.engine.SetStatus(ctx, id, domain.StatusAuto)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAuto, conv.Status)

	_, err = h.engine.SetStatus(ctx, id, domain.Status("BOGUS"))
	assert.Error(t, err)

	h.transport.setErr(errors.New("down"))
	_, err = h.engine.AgentReply(ctx, id, "Are you there?")
	assert.ErrorIs(t, err, domain.ErrSendFailed)

	_, err = h.engine.Conversation(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(EngineConfig{})
	assert.Error(t, err)

	h := newHarness(t)
	_, err = New(EngineConfig{
		Store:      h.store,
		Dedup:      dedupe.NewIndex(dedupe.IndexConfig{}),
		Matcher:    h.engine.matcher,
		Transports: []domain.Transport{h.transport},
		Policy:     "random",
	})
	assert.Error(t, err)
}

func TestEngine_CallerTimeoutStillRecordsQueuedMessage(t *testing.T) {
	h := newHarness(t, withSQLiteStore(t))
	h.transport.delay = 300 * time.Millisecond
	const pickupQ = "Is hotel pickup included?"

	first := make(chan error, 1)
	go func() { first <- h.engine.HandleInboundMessage(context.Background(), customer, "m1", durationQ) }()
	require.Eventually(t, func() bool { return h.transport.inFlight.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := h.engine.HandleInboundMessage(ctx, customer, "m2", pickupQ)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, <-first)
	require.Eventually(t, func() bool { return h.engine.ActiveTasks() == 0 }, 3*time.Second, 10*time.Millisecond)

	// the transport redelivers after the timed-out attempt
	require.NoError(t, h.engine.HandleInboundMessage(context.Background(), customer, "m2", pickupQ))

	assert.Equal(t, []string{durationQ, pickupQ}, h.messages(t, domain.RoleCustomer))
	assert.Len(t, h.messages(t, domain.RoleBot), 2)
	assert.Equal(t, 1, h.countEvents(bus.EventMessageDuplicate))
}
