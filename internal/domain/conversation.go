package domain

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a conversation id is unknown.
var ErrNotFound = errors.New("conversation not found")

// Status is the ownership mode of a conversation.
type Status string

const (
	StatusAuto  Status = "AUTO"  // bot may reply
	StatusHuman Status = "HUMAN" // bot stays silent
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusAuto || s == StatusHuman
}

// Role identifies who authored a message.
type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleAgent    Role = "AGENT"
	RoleBot      Role = "BOT"
)

// Conversation is the per-customer record owned by the state machine.
// Empty strings stand in for "no value" on the rolling text fields.
type Conversation struct {
	ID                     string     `json:"id"`
	Key                    string     `json:"key"`
	Channel                string     `json:"channel,omitempty"`
	Status                 Status     `json:"status"`
	HandoffConfirmPending  bool       `json:"handoffConfirmPending"`
	UncertainCount         int        `json:"uncertainCount"`
	LastAgentActivityAt    *time.Time `json:"lastAgentActivityAt,omitempty"`
	LastMeaningfulUserText string     `json:"lastMeaningfulUserText,omitempty"`
	LastUserQuestionText   string     `json:"lastUserQuestionText,omitempty"`
	LastReplyFingerprint   string     `json:"lastReplyFingerprint,omitempty"`
	LastReplyAt            *time.Time `json:"lastReplyAt,omitempty"`
	FirstName              string     `json:"firstName,omitempty"`
	Language               string     `json:"language,omitempty"`
	CreatedAt              time.Time  `json:"createdAt"`
	UpdatedAt              time.Time  `json:"updatedAt"`
	LastMessageAt          *time.Time `json:"lastMessageAt,omitempty"`
}

// Message is one append-only entry in a conversation log.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Role           Role      `json:"role"`
	Text           string    `json:"text"`
	ExternalID     string    `json:"externalId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ConversationFilter narrows List results.
type ConversationFilter struct {
	Status Status // empty matches all
	Limit  int
	Offset int
}

// ConversationStore persists conversations and their messages.
// Appending an AGENT message must itself flip the conversation to HUMAN,
// refresh LastAgentActivityAt and clear UncertainCount and HandoffConfirmPending.
type ConversationStore interface {
	FindOrCreate(ctx context.Context, key string) (*Conversation, error)
	Get(ctx context.Context, id string) (*Conversation, error)
	Append(ctx context.Context, conversationID string, role Role, text, externalID string) (*Message, error)
	SetStatus(ctx context.Context, id string, status Status) error
	Save(ctx context.Context, conv *Conversation) error
	List(ctx context.Context, filter ConversationFilter) ([]Conversation, error)
	Messages(ctx context.Context, conversationID string, limit int) ([]Message, error)
	Close() error
}

// TakeOver hands c to a human at the given instant: status HUMAN, the
// reclaim window restarted, counters and the pending confirmation cleared.
func (c *Conversation) TakeOver(at time.Time) {
	t := at
	c.Status = StatusHuman
	c.LastAgentActivityAt = &t
	c.UncertainCount = 0
	c.HandoffConfirmPending = false
}

// DecisionLogEntry records how the pipeline answered one customer message.
type DecisionLogEntry struct {
	ConversationID string
	Path           string // "faq", "decider" or "heuristic"
	Outcome        string // reply kind or "silent"
	Reason         string
	FAQIDs         []string
	Confidence     float64
	Model          string
	LatencyMs      int64
	CreatedAt      time.Time
}

// DecisionLog is implemented by stores that keep an audit trail of
// pipeline decisions.
type DecisionLog interface {
	LogDecision(ctx context.Context, entry DecisionLogEntry) error
}
