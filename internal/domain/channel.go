package domain

import (
	"context"
	"errors"
	"time"
)

// ErrSendFailed marks a transport rejection of an outbound message.
var ErrSendFailed = errors.New("send failed")

// Transport delivers outbound text to an external address.
// A nil error means the provider accepted the message, not that it was read.
type Transport interface {
	Name() string
	Send(ctx context.Context, address, text string) error
}

// InboundMessage is a transport-neutral inbound event.
type InboundMessage struct {
	Channel    string
	Address    string // raw external address (phone number, chat id)
	ExternalID string
	Text       string
	Type       string // "text" or the transport's non-text type name
	Role       Role   // CUSTOMER, or AGENT for echoes of operator replies
	Timestamp  time.Time
}

// IsText reports whether the message carries text the pipeline can read.
func (m InboundMessage) IsText() bool {
	return m.Type == "" || m.Type == "text"
}

// Inbox accepts inbound events from a channel.
type Inbox interface {
	Deliver(ctx context.Context, msg InboundMessage) error
}

// Channel is a long-running inbound source that can also send.
type Channel interface {
	Transport
	Start(ctx context.Context, inbox Inbox) error
	Stop() error
}
