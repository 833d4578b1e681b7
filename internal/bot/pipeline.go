package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"frontdesk/internal/bus"
	"frontdesk/internal/conversation"
	"frontdesk/internal/decider"
	"frontdesk/internal/domain"
	"frontdesk/internal/heuristics"
	"frontdesk/internal/intent"
	"frontdesk/internal/reply"
)

// Decision log paths.
const (
	pathHeuristic = "heuristic"
	pathFAQ       = "faq"
	pathDecider   = "decider"
)

// turn is one pipeline run for one customer text.
type turn struct {
	conv    *domain.Conversation
	before  domain.Conversation // restored when the reply is suppressed
	address string
	text    string
	lang    string
}

// runPipeline applies the ownership gates, then the heuristics in priority
// order, then FAQ matching and the decider. The conversation is saved on
// every path.
func (e *Engine) runPipeline(ctx context.Context, conv *domain.Conversation, address, text string) error {
	if e.machine.Reclaim(conv) {
		e.emit(bus.EventReclaimed, conv.ID, nil)
	}
	if conv.Status == domain.StatusHuman {
		e.logger.Info("conversation owned by human, bot silent", "conversation", conv.ID)
		e.emit(bus.EventSilent, conv.ID, map[string]any{"reason": "human"})
		return e.save(ctx, conv)
	}
	if !e.hours.Active(e.machine.Now()) {
		e.machine.EnterHuman(conv, conversation.ReasonOffHours)
		e.logger.Info("outside active hours, handed to human", "conversation", conv.ID, "hours", e.hours.String())
		e.emit(bus.EventHandoff, conv.ID, map[string]any{"reason": string(conversation.ReasonOffHours)})
		return e.save(ctx, conv)
	}

	t := &turn{conv: conv, before: *conv, address: address, text: text, lang: e.language(conv, text)}
	conv.Language = t.lang

	kind := e.classifier.Classify(text)
	switch {
	case kind == heuristics.KindAckOnly:
		// no reply and no state change
		e.logger.Info("acknowledgement suppressed", "conversation", conv.ID)
		e.emit(bus.EventSilent, conv.ID, map[string]any{"reason": "ack"})
		*conv = t.before
		return e.save(ctx, conv)

	case conv.HandoffConfirmPending:
		return e.resolveConfirmation(ctx, t)

	case kind == heuristics.KindHumanRequest:
		e.machine.RequestHandoffConfirm(conv)
		return e.replyTemplate(ctx, t, reply.KindConfirmAsk, "human_request")

	case kind == heuristics.KindGreeting:
		if name := heuristics.ExtractFirstName(text); name != "" {
			conv.FirstName = name
		}
		return e.replyTemplate(ctx, t, reply.KindGreeting, "greeting")

	case kind == heuristics.KindContact:
		e.machine.NoteUserText(conv, text, false)
		return e.replyTemplate(ctx, t, reply.KindContactAck, "contact")

	case kind == heuristics.KindClarifier:
		// Only the fragment is merged; the stored question stays the original.
		if prev := conv.LastUserQuestionText; prev != "" {
			e.logger.Info("short clarifier merged with previous question", "conversation", conv.ID)
			return e.answer(ctx, t, prev+" "+text, prev)
		}
		return e.answer(ctx, t, text, text)

	case kind == heuristics.KindStatement:
		return e.acknowledgeStatement(ctx, t, heuristics.ExtractFirstName(text))

	case kind == heuristics.KindQuestion:
		return e.answer(ctx, t, text, text)
	}

	// Unclassified text: ask the delegated classifier when configured.
	if e.intent == nil {
		return e.answer(ctx, t, text, text)
	}
	ictx, cancel := context.WithTimeout(ctx, e.intentTimeout)
	res := e.intent.Route(ictx, text, intent.Context{
		LastQuestion:   conv.LastUserQuestionText,
		PrevMeaningful: conv.LastMeaningfulUserText,
	})
	cancel()
	e.logger.Info("intent routed", "conversation", conv.ID, "intent", string(res.Intent),
		"confidence", res.Confidence, "source", string(res.Source), "model", res.Model)

	switch res.Intent {
	case intent.Question:
		if res.ExtractedName != "" {
			conv.FirstName = res.ExtractedName
		}
		return e.answer(ctx, t, text, text)
	case intent.Statement:
		return e.acknowledgeStatement(ctx, t, res.ExtractedName)
	case intent.ContactInfo:
		e.machine.NoteUserText(conv, text, false)
		return e.replyTemplate(ctx, t, reply.KindContactAck, "contact")
	default:
		e.emit(bus.EventSilent, conv.ID, map[string]any{"reason": "intent_" + strings.ToLower(string(res.Intent))})
		if res.Intent == intent.AckOnly {
			*conv = t.before
		} else {
			e.machine.NoteUserText(conv, text, false)
		}
		e.logDecision(ctx, t, pathHeuristic, "silent", "intent_"+strings.ToLower(string(res.Intent)), nil, res.Confidence, res.Model, 0)
		return e.save(ctx, conv)
	}
}

func (e *Engine) resolveConfirmation(ctx context.Context, t *turn) error {
	answer := e.classifier.ParseConfirmation(t.text)
	switch e.machine.ResolveConfirm(t.conv, answer) {
	case conversation.ConfirmHandoff:
		e.emit(bus.EventHandoff, t.conv.ID, map[string]any{"reason": string(conversation.ReasonRequested)})
		return e.replyTemplate(ctx, t, reply.KindConfirmYes, "handoff_confirmed")
	case conversation.ConfirmDeclined:
		return e.replyTemplate(ctx, t, reply.KindConfirmDecline, "handoff_declined")
	default:
		return e.replyTemplate(ctx, t, reply.KindConfirmReask, "confirmation_unclear")
	}
}

func (e *Engine) acknowledgeStatement(ctx context.Context, t *turn, name string) error {
	if name != "" {
		t.conv.FirstName = name
	}
	e.machine.NoteUserText(t.conv, t.text, false)
	return e.replyTemplate(ctx, t, reply.KindStatementAck, "statement")
}

// answer runs FAQ matching and, when needed, the grounded decider for
// query, recording asked as the customer's question. Any could-not-answer
// outcome goes to the uncertain path.
func (e *Engine) answer(ctx context.Context, t *turn, query, asked string) error {
	conv := t.conv
	e.machine.NoteUserText(conv, asked, true)

	match, ok := e.matcher.BestMatch(query)
	confident := ok && match.Confidence >= e.threshold
	e.logger.Info("faq match", "conversation", conv.ID, "faq_id", match.Candidate.ID,
		"confidence", match.Confidence, "source", string(match.Source), "confident", confident)

	useDecider := e.decider.Enabled() &&
		(!confident || (e.policy == PolicyDeciderFirst && e.decider.PrefersDecider(query)))

	if useDecider {
		dctx, cancel := context.WithTimeout(ctx, e.deciderTimeout)
		res := e.decider.Decide(dctx, decider.Input{
			Question:   query,
			Candidates: e.matcher.TopCandidates(query, e.topK),
			Language:   t.lang,
		})
		cancel()
		e.emit(bus.EventDecision, conv.ID, map[string]any{
			"reason": string(res.Reason), "type": string(res.Decision.Type), "model": res.Model,
		})
		if res.Model != "" || res.LatencyMs > 0 {
			e.emit(bus.EventCompletion, conv.ID, map[string]any{"latency_ms": res.LatencyMs, "model": res.Model})
		}

		if res.Decision.IsAnswer() {
			e.logDecision(ctx, t, pathDecider, string(reply.KindDecider), "", res.Decision.FAQIDsUsed,
				res.Decision.Confidence, res.Model, res.LatencyMs)
			return e.replyAnswer(ctx, t, reply.KindDecider, res.Decision.Text)
		}
		reason := string(res.Reason)
		if reason == "" {
			reason = "clarify"
		}
		if !confident {
			e.logDecision(ctx, t, pathDecider, string(reply.KindClarify), reason, nil,
				res.Decision.Confidence, res.Model, res.LatencyMs)
			return e.uncertain(ctx, t, res.Decision.Text)
		}
		e.logger.Info("decider did not answer, falling back to direct faq", "conversation", conv.ID, "reason", reason)
	}

	if !confident {
		e.logDecision(ctx, t, pathFAQ, string(reply.KindClarify), "low_confidence",
			idsOf(ok, match.Candidate.ID), match.Confidence, "", 0)
		return e.uncertain(ctx, t, "")
	}

	rctx, cancel := context.WithTimeout(ctx, e.rewriteTimeout)
	fa := e.composer.FromFAQ(rctx, query, match.Candidate.Answer, t.lang)
	cancel()
	if !fa.Covered {
		e.logger.Info("faq rewrite reported no valid answer", "conversation", conv.ID, "faq_id", match.Candidate.ID)
		e.logDecision(ctx, t, pathFAQ, string(reply.KindClarify), "no_valid_answer",
			[]string{match.Candidate.ID}, match.Confidence, "", 0)
		return e.uncertain(ctx, t, "")
	}
	e.logDecision(ctx, t, pathFAQ, string(reply.KindFAQ), "", []string{match.Candidate.ID}, match.Confidence, "", 0)
	return e.replyAnswer(ctx, t, reply.KindFAQ, fa.Text)
}

// uncertain counts a could-not-answer outcome: a clarifying question the
// first time, a single handoff notice once the limit is reached.
func (e *Engine) uncertain(ctx context.Context, t *turn, clarify string) error {
	if e.machine.RecordUncertain(t.conv) == conversation.OutcomeEscalate {
		e.emit(bus.EventHandoff, t.conv.ID, map[string]any{"reason": string(conversation.ReasonUncertain)})
		return e.send(ctx, t, reply.KindHandoff, reply.Template(reply.KindHandoff, t.lang, ""))
	}
	if clarify == "" {
		clarify = reply.Template(reply.KindClarify, t.lang, "")
	}
	return e.send(ctx, t, reply.KindClarify, clarify)
}

// replyAnswer sends an automated answer and resets the uncertainty count.
func (e *Engine) replyAnswer(ctx context.Context, t *turn, kind reply.Kind, text string) error {
	e.machine.RecordSuccess(t.conv)
	return e.send(ctx, t, kind, text)
}

func (e *Engine) replyTemplate(ctx context.Context, t *turn, kind reply.Kind, reason string) error {
	e.logDecision(ctx, t, pathHeuristic, string(kind), reason, nil, 0, "", 0)
	return e.send(ctx, t, kind, reply.Template(kind, t.lang, t.conv.FirstName))
}

// send delivers text unless it repeats the last reply within the dedup
// window, in which case the turn's state changes are discarded. A transport
// failure is logged and the reply is still recorded; it never changes the
// conversation's status.
func (e *Engine) send(ctx context.Context, t *turn, kind reply.Kind, text string) error {
	conv := t.conv
	fp := reply.Fingerprint(text)
	if e.composer.IsDuplicate(conv, fp) {
		e.logger.Info("duplicate reply suppressed", "conversation", conv.ID, "kind", string(kind))
		e.emit(bus.EventReplySuppressed, conv.ID, map[string]any{"kind": string(kind)})
		*conv = t.before
		return e.save(ctx, conv)
	}

	transport := e.transportFor(conv.Channel)
	sctx, cancel := context.WithTimeout(ctx, e.sendTimeout)
	sendErr := transport.Send(sctx, t.address, text)
	cancel()

	if sendErr != nil {
		e.logger.Error("reply send failed", "conversation", conv.ID, "transport", transport.Name(),
			"kind", string(kind), "err", sendErr)
		e.emit(bus.EventSendFailed, conv.ID, map[string]any{"kind": string(kind), "transport": transport.Name()})
	} else {
		e.machine.NoteReply(conv, fp)
		e.emit(bus.EventReplySent, conv.ID, map[string]any{"kind": string(kind)})
	}

	if _, err := e.store.Append(ctx, conv.ID, domain.RoleBot, text, ""); err != nil {
		return errors.Join(fmt.Errorf("record bot message: %w", err), e.save(ctx, conv))
	}
	return e.save(ctx, conv)
}

// language keeps a Finnish conversation Finnish when a short message
// carries no language signal of its own.
func (e *Engine) language(conv *domain.Conversation, text string) string {
	lang := e.classifier.DetectLanguage(text)
	if lang == "en" && conv.Language != "" && conv.Language != "en" && len(strings.Fields(text)) <= 3 {
		return conv.Language
	}
	if lang == "en" && conv.Language == "" && e.defaultLang != "en" && len(strings.Fields(text)) <= 3 {
		return e.defaultLang
	}
	return lang
}

func (e *Engine) logDecision(ctx context.Context, t *turn, path, outcome, reason string, ids []string,
	confidence float64, model string, latency int64) {
	if e.decisions == nil {
		return
	}
	err := e.decisions.LogDecision(ctx, domain.DecisionLogEntry{
		ConversationID: t.conv.ID,
		Path:           path,
		Outcome:        outcome,
		Reason:         reason,
		FAQIDs:         ids,
		Confidence:     confidence,
		Model:          model,
		LatencyMs:      latency,
		CreatedAt:      time.Now(),
	})
	if err != nil {
		e.logger.Warn("decision log write failed", "conversation", t.conv.ID, "err", err)
	}
}

func idsOf(ok bool, id string) []string {
	if !ok || id == "" {
		return nil
	}
	return []string{id}
}
