// Package conversation owns the AUTO/HUMAN ownership rules of a
// conversation: reclaim timing, confirmation of handoff requests and
// escalation after repeated uncertain answers.
//
// The machine mutates a *domain.Conversation in place and never persists
// it. Callers must hold the conversation's serializer slot for the whole
// read-modify-save cycle.
package conversation

import (
	"log/slog"
	"time"

	"frontdesk/internal/domain"
	"frontdesk/internal/heuristics"
)

const DefaultEscalateAfter = 2

// Reason tags the path that moved a conversation to HUMAN.
type Reason string

const (
	ReasonAgentMessage Reason = "agent_message"
	ReasonUncertain    Reason = "uncertain"
	ReasonOffHours     Reason = "off_hours"
	ReasonRequested    Reason = "requested"
	ReasonManual       Reason = "manual"
)

// Outcome is the consequence of an uncertain answer.
type Outcome int

const (
	OutcomeClarify  Outcome = iota // ask a clarifying question, stay AUTO
	OutcomeEscalate                // handoff notice, now HUMAN
)

// ConfirmOutcome is the result of answering a pending handoff confirmation.
type ConfirmOutcome int

const (
	ConfirmReask    ConfirmOutcome = iota // ambiguous answer, ask again
	ConfirmHandoff                        // yes: now HUMAN
	ConfirmDeclined                       // no: flag cleared, stays AUTO
)

type MachineConfig struct {
	HumanTimeout  time.Duration // 0 = never reclaim
	EscalateAfter int
	Now           func() time.Time
	Logger        *slog.Logger
}

// Machine applies ownership transitions.
type Machine struct {
	timeout       time.Duration
	escalateAfter int
	now           func() time.Time
	logger        *slog.Logger
}

func NewMachine(cfg MachineConfig) *Machine {
	if cfg.EscalateAfter < 1 {
		cfg.EscalateAfter = DefaultEscalateAfter
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Machine{
		timeout:       cfg.HumanTimeout,
		escalateAfter: cfg.EscalateAfter,
		now:           cfg.Now,
		logger:        cfg.Logger,
	}
}

func (m *Machine) Now() time.Time { return m.now() }

// Reclaim returns a HUMAN conversation to AUTO once the timeout has elapsed
// since the last agent activity. With no recorded activity the window
// starts now and the conversation stays HUMAN. It reports whether the
// status changed; AUTO conversations are left alone.
func (m *Machine) Reclaim(c *domain.Conversation) bool {
	if c.Status != domain.StatusHuman || m.timeout <= 0 {
		return false
	}
	now := m.now()
	if c.LastAgentActivityAt == nil {
		c.LastAgentActivityAt = &now
		return false
	}
	if now.Before(c.LastAgentActivityAt.Add(m.timeout)) {
		return false
	}
	c.Status = domain.StatusAuto
	c.UncertainCount = 0
	c.HandoffConfirmPending = false
	m.logger.Info("conversation reclaimed",
		"conversation", c.ID,
		"idle", now.Sub(*c.LastAgentActivityAt).Round(time.Second).String())
	return true
}

// EnterHuman moves c to HUMAN and restarts the reclaim window. Calling it
// on an already HUMAN conversation only refreshes the window. It reports
// whether the status changed.
func (m *Machine) EnterHuman(c *domain.Conversation, reason Reason) bool {
	was := c.Status
	c.TakeOver(m.now())
	if was != domain.StatusHuman {
		m.logger.Info("conversation handed to human", "conversation", c.ID, "reason", string(reason))
		return true
	}
	return false
}

// RecordUncertain counts a could-not-answer outcome and escalates once the
// count reaches the configured limit.
func (m *Machine) RecordUncertain(c *domain.Conversation) Outcome {
	c.UncertainCount++
	if c.UncertainCount >= m.escalateAfter {
		m.EnterHuman(c, ReasonUncertain)
		return OutcomeEscalate
	}
	return OutcomeClarify
}

// RecordSuccess resets the uncertainty counter after an automated answer.
func (m *Machine) RecordSuccess(c *domain.Conversation) {
	c.UncertainCount = 0
}

// RequestHandoffConfirm marks an explicit human request awaiting yes/no.
// Only AUTO conversations can ask.
func (m *Machine) RequestHandoffConfirm(c *domain.Conversation) bool {
	if c.Status != domain.StatusAuto {
		return false
	}
	c.HandoffConfirmPending = true
	return true
}

// ResolveConfirm applies the customer's answer to a pending confirmation.
func (m *Machine) ResolveConfirm(c *domain.Conversation, answer heuristics.Confirmation) ConfirmOutcome {
	switch answer {
	case heuristics.ConfirmYes:
		m.EnterHuman(c, ReasonRequested)
		return ConfirmHandoff
	case heuristics.ConfirmNo:
		c.HandoffConfirmPending = false
		c.UncertainCount = 0
		return ConfirmDeclined
	default:
		return ConfirmReask
	}
}

// NoteUserText keeps the rolling context used to merge short clarifiers.
func (m *Machine) NoteUserText(c *domain.Conversation, text string, question bool) {
	c.LastMeaningfulUserText = text
	if question {
		c.LastUserQuestionText = text
	}
}

// NoteReply records the fingerprint of a reply that was handed to the
// transport.
func (m *Machine) NoteReply(c *domain.Conversation, fingerprint string) {
	now := m.now()
	c.LastReplyFingerprint = fingerprint
	c.LastReplyAt = &now
}
