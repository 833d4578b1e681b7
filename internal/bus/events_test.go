package bus

import (
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEBLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestEventBus_EmitAndReceive(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var received atomic.Int32
	var got Event
	eb.On(EventHandoff, func(e Event) {
		received.Add(1)
		got = e
	})

	eb.Emit(Event{Type: EventHandoff, Conversation: "c1", Fields: map[string]any{"reason": "uncertain"}})

	require.EqualValues(t, 1, received.Load())
	assert.Equal(t, "c1", got.Conversation)
	assert.Equal(t, "uncertain", got.Str("reason"))
}

func TestEventBus_WildcardHandler(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var count atomic.Int32
	eb.On("*", func(Event) { count.Add(1) })

	eb.Emit(Event{Type: EventReplySent})
	eb.Emit(Event{Type: EventSilent})

	assert.EqualValues(t, 2, count.Load())
}

func TestEventBus_Off(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var first, second atomic.Int32
	id := eb.On("test.event", func(Event) { first.Add(1) })
	eb.On("test.event", func(Event) { second.Add(1) })

	eb.Emit(Event{Type: "test.event"})
	eb.Off("test.event", id)
	eb.Emit(Event{Type: "test.event"})

	assert.EqualValues(t, 1, first.Load(), "unsubscribed handler")
	assert.EqualValues(t, 2, second.Load(), "remaining handler")
}

func TestEventBus_Replay(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	eb.Emit(Event{Type: "a"})
	eb.Emit(Event{Type: "b"})
	eb.Emit(Event{Type: "a"})

	assert.Len(t, eb.Replay("a", time.Time{}), 2)
	assert.Len(t, eb.Replay("*", time.Time{}), 3)
}

func TestEventBus_ReplaySince(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	eb.Emit(Event{Type: "old", Timestamp: time.Now().Add(-time.Hour)})
	threshold := time.Now()
	eb.Emit(Event{Type: "new"})

	events := eb.Replay("*", threshold)
	require.Len(t, events, 1)
	assert.Equal(t, "new", events[0].Type)
}

func TestEventBus_HistoryLimit(t *testing.T) {
	eb := NewEventBus(testEBLogger())
	eb.maxHistory = 5

	for range 10 {
		eb.Emit(Event{Type: "test"})
	}

	assert.Equal(t, 5, eb.HistoryLen())
}

func TestEventBus_PanicRecovery(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var after atomic.Int32
	eb.On("panic", func(Event) { panic("test panic") })
	eb.On("panic", func(Event) { after.Add(1) })

	assert.NotPanics(t, func() { eb.Emit(Event{Type: "panic"}) })
	assert.EqualValues(t, 1, after.Load(), "handler after a panicking one should run")
}

func TestEventBus_NilIsNoop(t *testing.T) {
	var eb *EventBus
	assert.NotPanics(t, func() { eb.Emit(Event{Type: "x"}) })
}

func TestEvent_Float(t *testing.T) {
	e := Event{Fields: map[string]any{"a": 1.5, "b": 2, "c": int64(3), "d": "x"}}
	assert.InDelta(t, 1.5, e.Float("a"), 1e-9)
	assert.InDelta(t, 2.0, e.Float("b"), 1e-9)
	assert.InDelta(t, 3.0, e.Float("c"), 1e-9)
	assert.Zero(t, e.Float("d"))
}
