// Package bus carries in-process pipeline events and coalesces inbound
// message bursts.
package bus

import (
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// Event is a pipeline occurrence published for observers such as metrics.
type Event struct {
	Type         string         // e.g. "message.received", "conversation.handoff"
	Conversation string         // conversation id, if any
	Fields       map[string]any // event-specific data
	Timestamp    time.Time
}

// Str returns a string field or "".
func (e Event) Str(key string) string {
	s, _ := e.Fields[key].(string)
	return s
}

// Float returns a numeric field as float64.
func (e Event) Float(key string) float64 {
	switch v := e.Fields[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

type EventHandler func(Event)

// EventBus is a topic-based publish/subscribe bus with wildcard
// subscriptions and a bounded history for replay.
type EventBus struct {
	handlers   map[string][]namedHandler
	mu         sync.RWMutex
	logger     *slog.Logger
	history    []Event
	maxHistory int
	seq        int
}

type namedHandler struct {
	ID      string
	Handler EventHandler
}

func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		handlers:   make(map[string][]namedHandler),
		logger:     logger,
		maxHistory: 1000,
	}
}

// On registers a handler for the given event type; "*" receives all
// events. It returns the handler ID for Off.
func (eb *EventBus) On(eventType string, handler EventHandler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.seq++
	id := eventType + "-" + strconv.Itoa(eb.seq)
	eb.handlers[eventType] = append(eb.handlers[eventType], namedHandler{ID: id, Handler: handler})
	return id
}

func (eb *EventBus) Off(eventType, handlerID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	handlers := eb.handlers[eventType]
	for i, h := range handlers {
		if h.ID == handlerID {
			eb.handlers[eventType] = append(handlers[:i:i], handlers[i+1:]...)
			return
		}
	}
}

// Emit calls every matching handler synchronously, in registration order.
// A panicking handler is logged and skipped.
func (eb *EventBus) Emit(event Event) {
	if eb == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.Lock()
	if len(eb.history) >= eb.maxHistory {
		eb.history = eb.history[1:]
	}
	eb.history = append(eb.history, event)
	var handlers []namedHandler
	handlers = append(handlers, eb.handlers[event.Type]...)
	handlers = append(handlers, eb.handlers["*"]...)
	eb.mu.Unlock()

	for _, h := range handlers {
		func(nh namedHandler) {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "event", event.Type, "handler", nh.ID, "panic", r)
				}
			}()
			nh.Handler(event)
		}(h)
	}
}

// Replay returns historical events of eventType ("*" for all) at or after since.
func (eb *EventBus) Replay(eventType string, since time.Time) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	var result []Event
	for _, e := range eb.history {
		if e.Timestamp.Before(since) {
			continue
		}
		if eventType == "*" || e.Type == eventType {
			result = append(result, e)
		}
	}
	return result
}

func (eb *EventBus) HistoryLen() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.history)
}

// Pipeline event types.
const (
	EventMessageReceived  = "message.received"
	EventMessageDuplicate = "message.duplicate"
	EventAgentMessage     = "message.agent"
	EventReplySent        = "reply.sent"
	EventReplySuppressed  = "reply.suppressed"
	EventSendFailed       = "send.failed"
	EventSilent           = "reply.silent"
	EventHandoff          = "conversation.handoff"
	EventReclaimed        = "conversation.reclaimed"
	EventDecision         = "decider.decision"
	EventCompletion       = "completion.done"
)
