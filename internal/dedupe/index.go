// Package dedupe filters re-delivered inbound events by external message id.
package dedupe

import (
	"container/list"
	"context"
	"sync"
	"time"
)

const (
	DefaultTTL           = 60 * time.Minute
	DefaultPruneInterval = 60 * time.Second
)

type entry struct {
	seenAt  time.Time
	element *list.Element
}

// IndexConfig configures a memory Index.
type IndexConfig struct {
	TTL           time.Duration
	PruneInterval time.Duration
	MaxSize       int              // 0 = unbounded
	Now           func() time.Time // test clock
}

// Index is an in-process TTL set of external ids. Expired entries are
// pruned lazily, at most once per PruneInterval, on the next access.
// An id re-delivered after its TTL is treated as new.
type Index struct {
	mu        sync.Mutex
	seen      map[string]*entry
	order     *list.List // oldest first
	ttl       time.Duration
	interval  time.Duration
	maxSize   int
	now       func() time.Time
	lastPrune time.Time
}

func NewIndex(cfg IndexConfig) *Index {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = DefaultPruneInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Index{
		seen:      make(map[string]*entry),
		order:     list.New(),
		ttl:       cfg.TTL,
		interval:  cfg.PruneInterval,
		maxSize:   cfg.MaxSize,
		now:       cfg.Now,
		lastPrune: cfg.Now(),
	}
}

// Seen reports whether id was recorded within the TTL.
func (x *Index) Seen(_ context.Context, id string) (bool, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	now := x.now()
	x.maybePruneLocked(now)
	return x.liveLocked(id, now), nil
}

// Record marks id as processed now.
func (x *Index) Record(_ context.Context, id string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	now := x.now()
	x.maybePruneLocked(now)
	x.recordLocked(id, now)
	return nil
}

// CheckAndRecord records id and reports whether it was already live.
// A live id keeps its original timestamp.
func (x *Index) CheckAndRecord(_ context.Context, id string) (bool, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	now := x.now()
	x.maybePruneLocked(now)
	if x.liveLocked(id, now) {
		return true, nil
	}
	x.recordLocked(id, now)
	return false, nil
}

// Len returns the number of retained ids, expired or not.
func (x *Index) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.seen)
}

func (x *Index) liveLocked(id string, now time.Time) bool {
	e, ok := x.seen[id]
	return ok && now.Sub(e.seenAt) < x.ttl
}

func (x *Index) recordLocked(id string, now time.Time) {
	if e, ok := x.seen[id]; ok {
		e.seenAt = now
		x.order.MoveToBack(e.element)
		return
	}
	if x.maxSize > 0 && len(x.seen) >= x.maxSize {
		x.evictOldestLocked()
	}
	x.seen[id] = &entry{seenAt: now, element: x.order.PushBack(id)}
}

func (x *Index) maybePruneLocked(now time.Time) {
	if now.Sub(x.lastPrune) < x.interval {
		return
	}
	x.lastPrune = now
	for front := x.order.Front(); front != nil; front = x.order.Front() {
		id, _ := front.Value.(string)
		if now.Sub(x.seen[id].seenAt) < x.ttl {
			return
		}
		x.order.Remove(front)
		delete(x.seen, id)
	}
}

func (x *Index) evictOldestLocked() {
	front := x.order.Front()
	if front == nil {
		return
	}
	id, _ := front.Value.(string)
	x.order.Remove(front)
	delete(x.seen, id)
}
