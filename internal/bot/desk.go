package bot

import (
	"context"
	"errors"
	"fmt"

	"frontdesk/internal/bus"
	"frontdesk/internal/conversation"
	"frontdesk/internal/domain"
)

// The operator console. Writes go through the conversation's serializer
// slot like customer messages.

func (e *Engine) Conversations(ctx context.Context, filter domain.ConversationFilter) ([]domain.Conversation, error) {
	return e.store.List(ctx, filter)
}

func (e *Engine) Conversation(ctx context.Context, id string) (*domain.Conversation, error) {
	return e.store.Get(ctx, id)
}

func (e *Engine) Messages(ctx context.Context, id string, limit int) ([]domain.Message, error) {
	if _, err := e.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return e.store.Messages(ctx, id, limit)
}

// AgentReply records an operator reply, which hands the conversation to a
// human, and sends it to the customer. A transport rejection is returned
// wrapped in domain.ErrSendFailed together with the stored message.
func (e *Engine) AgentReply(ctx context.Context, id, text string) (*domain.Message, error) {
	conv, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var msg *domain.Message
	err = e.do(ctx, conv.Key, func(ctx context.Context) error {
		prev, err := e.store.Get(ctx, id)
		if err != nil {
			return err
		}
		m, err := e.store.Append(ctx, id, domain.RoleAgent, text, "")
		if err != nil {
			return fmt.Errorf("record agent reply: %w", err)
		}
		msg = m
		cur, err := e.store.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("reload conversation: %w", err)
		}
		e.machine.EnterHuman(cur, conversation.ReasonAgentMessage)
		if err := e.save(ctx, cur); err != nil {
			return err
		}
		e.emit(bus.EventAgentMessage, id, map[string]any{"source": "agent_api"})
		if prev.Status != domain.StatusHuman {
			e.emit(bus.EventHandoff, id, map[string]any{"reason": string(conversation.ReasonAgentMessage)})
		}

		transport := e.transportFor(cur.Channel)
		sctx, cancel := context.WithTimeout(ctx, e.sendTimeout)
		defer cancel()
		if err := transport.Send(sctx, cur.Key, text); err != nil {
			e.emit(bus.EventSendFailed, id, map[string]any{"kind": "agent", "transport": transport.Name()})
			if errors.Is(err, domain.ErrSendFailed) {
				return err
			}
			return fmt.Errorf("%w: %w", domain.ErrSendFailed, err)
		}
		return nil
	})
	return msg, err
}

// SetStatus changes ownership by hand. HUMAN restarts the reclaim window;
// AUTO clears the counters and any pending confirmation.
func (e *Engine) SetStatus(ctx context.Context, id string, status domain.Status) (*domain.Conversation, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid status %q", status)
	}
	conv, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var out *domain.Conversation
	err = e.do(ctx, conv.Key, func(ctx context.Context) error {
		cur, err := e.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if status == domain.StatusHuman {
			if e.machine.EnterHuman(cur, conversation.ReasonManual) {
				e.emit(bus.EventHandoff, id, map[string]any{"reason": string(conversation.ReasonManual)})
			}
		} else {
			cur.Status = domain.StatusAuto
			cur.UncertainCount = 0
			cur.HandoffConfirmPending = false
		}
		if err := e.save(ctx, cur); err != nil {
			return err
		}
		out = cur
		return nil
	})
	return out, err
}
