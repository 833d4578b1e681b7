package bus

import (
	"log/slog"
	"sync"
	"time"
)

// FlushFunc receives the buffered parts for a key in arrival order.
type FlushFunc func(key string, parts []string)

// Coalescer buffers texts per key and flushes them together once no new
// text has arrived for the window.
type Coalescer struct {
	window time.Duration
	flush  FlushFunc
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*burst
	closed  bool
}

type burst struct {
	parts []string
	timer *time.Timer
}

type CoalescerConfig struct {
	Window time.Duration
	Flush  FlushFunc
	Logger *slog.Logger
}

func NewCoalescer(cfg CoalescerConfig) *Coalescer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Coalescer{
		window:  cfg.Window,
		flush:   cfg.Flush,
		logger:  cfg.Logger,
		pending: make(map[string]*burst),
	}
}

// Add buffers text for key and restarts the key's window. After Close the
// text is flushed immediately on its own.
func (c *Coalescer) Add(key, text string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.flush(key, []string{text})
		return
	}
	b, ok := c.pending[key]
	if !ok {
		b = &burst{}
		c.pending[key] = b
	}
	b.parts = append(b.parts, text)
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(c.window, func() { c.fire(key, b) })
	c.mu.Unlock()
}

func (c *Coalescer) fire(key string, b *burst) {
	c.mu.Lock()
	if c.pending[key] != b {
		// already flushed by Close
		c.mu.Unlock()
		return
	}
	delete(c.pending, key)
	parts := b.parts
	c.mu.Unlock()

	c.logger.Debug("burst flushed", "key", key, "parts", len(parts))
	c.flush(key, parts)
}

// Pending returns the number of keys with buffered text.
func (c *Coalescer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close flushes every pending burst now and disables buffering.
func (c *Coalescer) Close() {
	c.mu.Lock()
	c.closed = true
	pending := c.pending
	c.pending = make(map[string]*burst)
	c.mu.Unlock()

	for key, b := range pending {
		b.timer.Stop()
		c.flush(key, b.parts)
	}
}
