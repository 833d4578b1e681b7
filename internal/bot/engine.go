// Package bot runs the reply pipeline for inbound customer messages: dedup,
// per-conversation serialization, ownership gating, heuristics, FAQ
// matching, the grounded decider and reply composition.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"frontdesk/internal/bus"
	"frontdesk/internal/conversation"
	"frontdesk/internal/decider"
	"frontdesk/internal/domain"
	"frontdesk/internal/faq"
	"frontdesk/internal/heuristics"
	"frontdesk/internal/intent"
	"frontdesk/internal/queue"
	"frontdesk/internal/reply"
)

// ErrNoConversationKey is returned for inbound events whose address does
// not yield a conversation key. Such events are dropped.
var ErrNoConversationKey = errors.New("missing conversation key")

// RoutingPolicy decides between the decider and a confident direct FAQ
// match when the question asks to combine sources.
type RoutingPolicy string

const (
	// PolicyDeciderFirst sends combine-sources questions to the decider even
	// at high FAQ confidence; a decider CLARIFY then falls back to the
	// direct FAQ answer.
	PolicyDeciderFirst RoutingPolicy = "decider-first"
	// PolicyDirectFirst always answers a confident FAQ match directly.
	PolicyDirectFirst RoutingPolicy = "direct-first"
)

const (
	defaultThreshold      = 0.85
	defaultTopK           = 5
	defaultDeciderTimeout = 15 * time.Second
	defaultRewriteTimeout = 8 * time.Second
	defaultIntentTimeout  = 4 * time.Second
	defaultSendTimeout    = 20 * time.Second
	defaultTaskTimeout    = 2 * time.Minute
)

// EngineConfig holds all dependencies and tuning parameters for the engine.
type EngineConfig struct {
	Store      domain.ConversationStore
	Dedup      domain.DedupIndex
	Transports []domain.Transport // picked by conversation channel; the first is the default
	Matcher    *faq.Matcher
	Decider    *decider.Decider      // nil: low-confidence questions go straight to the uncertain path
	Composer   *reply.Composer       // nil: verbatim FAQ answers
	Intent     *intent.Router        // nil: unclassified messages go to FAQ matching
	Classifier *heuristics.Classifier
	Machine    *conversation.Machine
	Hours      ActiveHours
	Serializer *queue.Serializer // nil: a private one is created
	Events     *bus.EventBus     // optional

	Policy          RoutingPolicy
	Threshold       float64 // FAQ confidence needed for a direct answer
	TopK            int     // candidates offered to the decider
	DeciderTimeout  time.Duration
	RewriteTimeout  time.Duration
	IntentTimeout   time.Duration
	SendTimeout     time.Duration
	TaskTimeout     time.Duration // bound on one queued turn, independent of the caller
	BurstWindow     time.Duration // 0 disables burst coalescing
	DefaultLanguage string

	Logger *slog.Logger
}

// Engine is the conversation router. All mutations of one conversation
// happen inside that conversation's serializer slot.
type Engine struct {
	store      domain.ConversationStore
	decisions  domain.DecisionLog
	dedup      domain.DedupIndex
	transports map[string]domain.Transport
	fallback   domain.Transport
	matcher    *faq.Matcher
	decider    *decider.Decider
	composer   *reply.Composer
	intent     *intent.Router
	classifier *heuristics.Classifier
	machine    *conversation.Machine
	hours      ActiveHours
	serializer *queue.Serializer
	events     *bus.EventBus
	coalescer  *bus.Coalescer

	policy         RoutingPolicy
	threshold      float64
	topK           int
	deciderTimeout time.Duration
	rewriteTimeout time.Duration
	intentTimeout  time.Duration
	sendTimeout    time.Duration
	taskTimeout    time.Duration
	defaultLang    string

	// burst address per key, for replies after a coalesced flush
	addresses sync.Map

	logger *slog.Logger
}

// New creates an Engine. Store, Dedup, Matcher and at least one transport
// are required.
func New(cfg EngineConfig) (*Engine, error) {
	if cfg.Store == nil || cfg.Dedup == nil || cfg.Matcher == nil {
		return nil, errors.New("bot: store, dedup and matcher are required")
	}
	if len(cfg.Transports) == 0 {
		return nil, errors.New("bot: at least one transport is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Classifier == nil {
		cfg.Classifier = heuristics.Default
	}
	if cfg.Machine == nil {
		cfg.Machine = conversation.NewMachine(conversation.MachineConfig{Logger: cfg.Logger})
	}
	if cfg.Composer == nil {
		cfg.Composer = reply.NewComposer(reply.ComposerConfig{Now: cfg.Machine.Now, Logger: cfg.Logger})
	}
	if cfg.Decider == nil {
		cfg.Decider = decider.New(decider.Config{Logger: cfg.Logger})
	}
	if cfg.Serializer == nil {
		cfg.Serializer = queue.NewSerializer(cfg.Logger)
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyDeciderFirst
	}
	if cfg.Policy != PolicyDeciderFirst && cfg.Policy != PolicyDirectFirst {
		return nil, fmt.Errorf("bot: unknown routing policy %q", cfg.Policy)
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaultThreshold
	}
	if cfg.TopK <= 0 {
		cfg.TopK = defaultTopK
	}
	if cfg.DeciderTimeout <= 0 {
		cfg.DeciderTimeout = defaultDeciderTimeout
	}
	if cfg.RewriteTimeout <= 0 {
		cfg.RewriteTimeout = defaultRewriteTimeout
	}
	if cfg.IntentTimeout <= 0 {
		cfg.IntentTimeout = defaultIntentTimeout
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = defaultTaskTimeout
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = "en"
	}

	e := &Engine{
		store:          cfg.Store,
		dedup:          cfg.Dedup,
		transports:     make(map[string]domain.Transport, len(cfg.Transports)),
		fallback:       cfg.Transports[0],
		matcher:        cfg.Matcher,
		decider:        cfg.Decider,
		composer:       cfg.Composer,
		intent:         cfg.Intent,
		classifier:     cfg.Classifier,
		machine:        cfg.Machine,
		hours:          cfg.Hours,
		serializer:     cfg.Serializer,
		events:         cfg.Events,
		policy:         cfg.Policy,
		threshold:      cfg.Threshold,
		topK:           cfg.TopK,
		deciderTimeout: cfg.DeciderTimeout,
		rewriteTimeout: cfg.RewriteTimeout,
		intentTimeout:  cfg.IntentTimeout,
		sendTimeout:    cfg.SendTimeout,
		taskTimeout:    cfg.TaskTimeout,
		defaultLang:    cfg.DefaultLanguage,
		logger:         cfg.Logger,
	}
	for _, t := range cfg.Transports {
		e.transports[t.Name()] = t
	}
	if dl, ok := cfg.Store.(domain.DecisionLog); ok {
		e.decisions = dl
	}
	if cfg.BurstWindow > 0 {
		e.coalescer = bus.NewCoalescer(bus.CoalescerConfig{
			Window: cfg.BurstWindow,
			Flush:  e.flushBurst,
			Logger: cfg.Logger,
		})
	}
	return e, nil
}

// HandleInboundMessage is the single customer entry point: dedup by
// externalID, then the full pipeline inside the conversation's serializer
// slot. It blocks until the pipeline has run. The returned error is for
// caller-side logging only; no partial state is left behind.
func (e *Engine) HandleInboundMessage(ctx context.Context, conversationKey, externalID, text string) error {
	return e.Deliver(ctx, domain.InboundMessage{
		Address:    conversationKey,
		ExternalID: externalID,
		Text:       text,
		Type:       "text",
		Role:       domain.RoleCustomer,
		Timestamp:  time.Now(),
	})
}

// Deliver implements domain.Inbox for channels. Customer messages run the
// pipeline; AGENT messages record a human takeover.
func (e *Engine) Deliver(ctx context.Context, msg domain.InboundMessage) error {
	key := conversation.KeyFor(msg.Address)
	if key == "" {
		e.logger.Debug("inbound dropped without conversation key", "channel", msg.Channel, "external_id", msg.ExternalID)
		return ErrNoConversationKey
	}

	if msg.ExternalID != "" {
		dup, err := e.dedup.CheckAndRecord(ctx, msg.ExternalID)
		if err != nil {
			// an unavailable index must not lose messages
			e.logger.Warn("dedup check failed, processing anyway", "external_id", msg.ExternalID, "err", err)
		} else if dup {
			e.logger.Debug("duplicate delivery ignored", "key", key, "external_id", msg.ExternalID)
			e.emit(bus.EventMessageDuplicate, "", map[string]any{"external_id": msg.ExternalID, "key": key})
			return nil
		}
	}

	if msg.Role == domain.RoleAgent {
		return e.do(ctx, key, func(ctx context.Context) error {
			return e.recordAgentMessage(ctx, key, msg)
		})
	}
	return e.do(ctx, key, func(ctx context.Context) error {
		return e.processCustomer(ctx, key, msg)
	})
}

// do runs task in key's serializer slot. Once queued, a task always runs
// to completion under its own deadline: the external id is already
// recorded, so a caller that gives up must not leave the message
// unprocessed. The caller still gets its context error back.
func (e *Engine) do(ctx context.Context, key string, task queue.Task) error {
	return e.serializer.Do(ctx, key, func(qctx context.Context) error {
		tctx, cancel := context.WithTimeout(context.WithoutCancel(qctx), e.taskTimeout)
		defer cancel()
		return task(tctx)
	})
}

// processCustomer records the message and runs the pipeline on it, or
// buffers it when burst coalescing is on. Non-text messages are recorded
// as placeholders only.
func (e *Engine) processCustomer(ctx context.Context, key string, msg domain.InboundMessage) error {
	conv, err := e.store.FindOrCreate(ctx, key)
	if err != nil {
		return fmt.Errorf("find conversation: %w", err)
	}
	if conv.Channel == "" && msg.Channel != "" {
		conv.Channel = msg.Channel
	}

	text := strings.TrimSpace(msg.Text)
	if !msg.IsText() {
		text = fmt.Sprintf("[%s message]", msg.Type)
	}
	if _, err := e.store.Append(ctx, conv.ID, domain.RoleCustomer, text, msg.ExternalID); err != nil {
		return fmt.Errorf("record customer message: %w", err)
	}
	e.emit(bus.EventMessageReceived, conv.ID, map[string]any{"external_id": msg.ExternalID, "channel": msg.Channel})

	if !msg.IsText() || text == "" {
		return e.save(ctx, conv)
	}

	address := msg.Address
	if address == "" {
		address = key
	}
	if e.coalescer != nil {
		if err := e.save(ctx, conv); err != nil {
			return err
		}
		e.addresses.Store(key, address)
		e.coalescer.Add(key, text)
		return nil
	}
	return e.runPipeline(ctx, conv, address, text)
}

// flushBurst runs the pipeline on a merged burst inside the key's slot.
func (e *Engine) flushBurst(key string, parts []string) {
	merged := MergeBurst(parts, e.classifier)
	if merged == "" {
		return
	}
	address := key
	if v, ok := e.addresses.Load(key); ok {
		address = v.(string)
	}
	ch := e.serializer.Enqueue(context.Background(), key, func(ctx context.Context) error {
		conv, err := e.store.FindOrCreate(ctx, key)
		if err != nil {
			return fmt.Errorf("find conversation: %w", err)
		}
		return e.runPipeline(ctx, conv, address, merged)
	})
	go func() {
		if err := <-ch; err != nil && !errors.Is(err, queue.ErrClosed) {
			e.logger.Error("burst pipeline failed", "key", key, "err", err)
		}
	}()
}

// recordAgentMessage stores an operator message, which hands the
// conversation to a human.
func (e *Engine) recordAgentMessage(ctx context.Context, key string, msg domain.InboundMessage) error {
	conv, err := e.store.FindOrCreate(ctx, key)
	if err != nil {
		return fmt.Errorf("find conversation: %w", err)
	}
	was := conv.Status

	text := strings.TrimSpace(msg.Text)
	if !msg.IsText() || text == "" {
		text = fmt.Sprintf("[%s message from business app]", msg.Type)
	}
	if _, err := e.store.Append(ctx, conv.ID, domain.RoleAgent, text, msg.ExternalID); err != nil {
		return fmt.Errorf("record agent message: %w", err)
	}
	if conv, err = e.store.Get(ctx, conv.ID); err != nil {
		return fmt.Errorf("reload conversation: %w", err)
	}
	if conv.Channel == "" && msg.Channel != "" {
		conv.Channel = msg.Channel
	}
	e.machine.EnterHuman(conv, conversation.ReasonAgentMessage)
	e.emit(bus.EventAgentMessage, conv.ID, map[string]any{"external_id": msg.ExternalID})
	if was != domain.StatusHuman {
		e.emit(bus.EventHandoff, conv.ID, map[string]any{"reason": string(conversation.ReasonAgentMessage)})
	}
	return e.save(ctx, conv)
}

// Close flushes buffered bursts and waits for queued tasks.
func (e *Engine) Close(ctx context.Context) error {
	if e.coalescer != nil {
		e.coalescer.Close()
	}
	return e.serializer.Close(ctx)
}

// ActiveTasks reports the number of conversation keys with queued work.
func (e *Engine) ActiveTasks() int { return e.serializer.Active() }

func (e *Engine) save(ctx context.Context, conv *domain.Conversation) error {
	if err := e.store.Save(ctx, conv); err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

func (e *Engine) transportFor(channel string) domain.Transport {
	if t, ok := e.transports[channel]; ok {
		return t
	}
	return e.fallback
}

func (e *Engine) emit(typ, convID string, fields map[string]any) {
	e.events.Emit(bus.Event{Type: typ, Conversation: convID, Fields: fields})
}
