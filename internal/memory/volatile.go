// Package memory holds the conversation stores: a volatile in-process
// store and a SQLite store. Both enforce the takeover rule at the storage
// boundary: appending an AGENT message flips the conversation to HUMAN.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"frontdesk/internal/domain"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
	maxMessages     = 500
)

// VolatileStore keeps everything in memory. Returned values are copies.
type VolatileStore struct {
	mu       sync.RWMutex
	byID     map[string]*domain.Conversation
	byKey    map[string]string
	messages map[string][]domain.Message
	seq      int64
	now      func() time.Time
}

func NewVolatileStore() *VolatileStore {
	return &VolatileStore{
		byID:     make(map[string]*domain.Conversation),
		byKey:    make(map[string]string),
		messages: make(map[string][]domain.Message),
		now:      time.Now,
	}
}

func (s *VolatileStore) FindOrCreate(_ context.Context, key string) (*domain.Conversation, error) {
	if key == "" {
		return nil, errors.New("empty conversation key")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byKey[key]; ok {
		return clone(s.byID[id]), nil
	}
	now := s.now()
	c := &domain.Conversation{
		ID:        uuid.NewString(),
		Key:       key,
		Status:    domain.StatusAuto,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.byID[c.ID] = c
	s.byKey[key] = c.ID
	return clone(c), nil
}

func (s *VolatileStore) Get(_ context.Context, id string) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(c), nil
}

func (s *VolatileStore) Append(_ context.Context, conversationID string, role domain.Role, text, externalID string) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[conversationID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	now := s.now()
	if role == domain.RoleAgent {
		c.TakeOver(now)
	}
	c.UpdatedAt = now
	c.LastMessageAt = &now

	s.seq++
	m := domain.Message{
		ID:             strconv.FormatInt(s.seq, 10),
		ConversationID: conversationID,
		Role:           role,
		Text:           text,
		ExternalID:     externalID,
		CreatedAt:      now,
	}
	s.messages[conversationID] = append(s.messages[conversationID], m)
	return &m, nil
}

func (s *VolatileStore) SetStatus(_ context.Context, id string, status domain.Status) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := s.now()
	if status == domain.StatusHuman {
		c.TakeOver(now)
	} else {
		c.Status = status
		c.UncertainCount = 0
		c.HandoffConfirmPending = false
	}
	c.UpdatedAt = now
	return nil
}

// Save replaces the stored conversation's mutable fields. Key, creation
// time and last message time stay owned by the store.
func (s *VolatileStore) Save(_ context.Context, conv *domain.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[conv.ID]
	if !ok {
		return domain.ErrNotFound
	}
	next := clone(conv)
	next.Key, next.CreatedAt, next.LastMessageAt = c.Key, c.CreatedAt, c.LastMessageAt
	next.UpdatedAt = s.now()
	conv.UpdatedAt = next.UpdatedAt
	s.byID[conv.ID] = next
	return nil
}

func (s *VolatileStore) List(_ context.Context, f domain.ConversationFilter) ([]domain.Conversation, error) {
	limit, offset := clampPage(f)
	s.mu.RLock()
	all := make([]domain.Conversation, 0, len(s.byID))
	for _, c := range s.byID {
		if f.Status == "" || c.Status == f.Status {
			all = append(all, *clone(c))
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(all, func(a, b domain.Conversation) int {
		if c := activity(b).Compare(activity(a)); c != 0 {
			return c
		}
		return compareStrings(a.ID, b.ID)
	})
	if offset >= len(all) {
		return nil, nil
	}
	return all[offset:min(len(all), offset+limit)], nil
}

func (s *VolatileStore) Messages(_ context.Context, conversationID string, limit int) ([]domain.Message, error) {
	if limit <= 0 || limit > maxMessages {
		limit = maxMessages
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[conversationID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return slices.Clone(msgs), nil
}

func (s *VolatileStore) Close() error { return nil }

func clone(c *domain.Conversation) *domain.Conversation {
	cp := *c
	cp.LastAgentActivityAt = copyTime(c.LastAgentActivityAt)
	cp.LastReplyAt = copyTime(c.LastReplyAt)
	cp.LastMessageAt = copyTime(c.LastMessageAt)
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func activity(c domain.Conversation) time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func clampPage(f domain.ConversationFilter) (limit, offset int) {
	limit = f.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	limit = min(limit, maxPageSize)
	return limit, max(0, f.Offset)
}
