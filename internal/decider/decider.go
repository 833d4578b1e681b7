// Package decider asks the completion service for a structured
// answer-or-clarify decision over a bounded set of FAQ candidates and
// accepts an answer only when every cited FAQ id is backed by a verbatim
// quote of that FAQ's answer. Any failure degrades to CLARIFY.
package decider

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"frontdesk/internal/domain"
	"frontdesk/internal/heuristics"
)

const (
	DefaultMinConfidence  = 0.6
	DefaultMaxFAQIDs      = 3
	DefaultMinQuoteLength = 12
	DefaultMaxTokens      = 500
)

// RejectReason explains why a decision was downgraded to the fail-closed
// CLARIFY. The empty reason means the decision was accepted as returned.
type RejectReason string

const (
	Accepted           RejectReason = ""
	RejectNoCompleter  RejectReason = "no_completer"
	RejectNoCandidates RejectReason = "no_candidates"
	RejectService      RejectReason = "service_error"
	RejectMalformed    RejectReason = "malformed_output"
	RejectUnknownType  RejectReason = "unknown_type"
	RejectLowConf      RejectReason = "low_confidence"
	RejectNoIDs        RejectReason = "no_ids"
	RejectTooManyIDs   RejectReason = "too_many_ids"
	RejectUnknownID    RejectReason = "id_not_offered"
	RejectUnsupported  RejectReason = "missing_support"
	RejectShortQuote   RejectReason = "quote_too_short"
	RejectQuoteMissing RejectReason = "quote_not_in_answer"
	RejectEmptyText    RejectReason = "empty_text"
	RejectClarifyIDs   RejectReason = "clarify_with_ids"
)

// Input is one decision request.
type Input struct {
	Question   string
	Candidates []domain.Candidate
	Language   string // "en" or "fi"; selects the fail-closed text
}

// Result is always usable: Decision is either a validated ANSWER, a
// validated CLARIFY, or the fail-closed CLARIFY with Reason set.
type Result struct {
	Decision  domain.Decision
	Reason    RejectReason
	Detail    string
	Model     string
	LatencyMs int64
}

// Rejected reports whether validation replaced the service's decision.
func (r Result) Rejected() bool { return r.Reason != Accepted }

type Config struct {
	Completer      domain.Completer // nil: every call fails closed
	MinConfidence  float64
	MaxFAQIDs      int
	MinQuoteLength int
	MaxTokens      int
	PreferTerms    []string // overrides DefaultPreferTerms
	Logger         *slog.Logger
}

// Decider is safe for concurrent use.
type Decider struct {
	completer      domain.Completer
	minConfidence  float64
	maxIDs         int
	minQuoteLength int
	maxTokens      int
	preferTerms    []string
	logger         *slog.Logger
}

func New(cfg Config) *Decider {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = DefaultMinConfidence
	}
	if cfg.MaxFAQIDs <= 0 {
		cfg.MaxFAQIDs = DefaultMaxFAQIDs
	}
	if cfg.MinQuoteLength <= 0 {
		cfg.MinQuoteLength = DefaultMinQuoteLength
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if len(cfg.PreferTerms) == 0 {
		cfg.PreferTerms = DefaultPreferTerms
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	terms := make([]string, 0, len(cfg.PreferTerms))
	for _, t := range cfg.PreferTerms {
		if n := heuristics.Normalize(t); n != "" {
			terms = append(terms, n)
		}
	}
	return &Decider{
		completer:      cfg.Completer,
		minConfidence:  cfg.MinConfidence,
		maxIDs:         cfg.MaxFAQIDs,
		minQuoteLength: cfg.MinQuoteLength,
		maxTokens:      cfg.MaxTokens,
		preferTerms:    terms,
		logger:         cfg.Logger,
	}
}

// Enabled reports whether a completion service is configured.
func (d *Decider) Enabled() bool { return d.completer != nil }

// DefaultPreferTerms mark questions that usually need more than one FAQ
// entry, such as price together with what is included.
var DefaultPreferTerms = []string{
	"included", "include", "includes", "what's included", "difference",
	"compare", "both", "recommend", "which tour", "and what",
	"sisältää", "sisältyy", "mitä se sisältää", "ero", "suosittele", "ja mitä",
}

// PrefersDecider reports whether query asks for something that should be
// composed from several sources even when a single FAQ matches well.
func (d *Decider) PrefersDecider(query string) bool {
	return heuristics.ContainsAnyPhrase(heuristics.Normalize(query), d.preferTerms)
}

// Decide never returns an error; every failure yields the fail-closed
// CLARIFY for in.Language.
func (d *Decider) Decide(ctx context.Context, in Input) Result {
	if d.completer == nil {
		return d.reject(in, RejectNoCompleter, "", "", 0)
	}
	if len(in.Candidates) == 0 {
		return d.reject(in, RejectNoCandidates, "", "", 0)
	}

	start := time.Now()
	resp, err := d.completer.Complete(ctx, domain.CompletionRequest{
		SystemPrompt: systemPrompt(in.Language),
		UserPrompt:   userPrompt(in.Question, in.Candidates),
		SchemaName:   "grounded_decision",
		Schema:       decisionSchema,
		MaxTokens:    d.maxTokens,
	})
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return d.reject(in, RejectService, err.Error(), "", latency)
	}

	raw, err := decode(resp.Content)
	if err != nil {
		return d.reject(in, RejectMalformed, err.Error(), resp.Model, latency)
	}

	decision, reason, detail := d.validate(raw, in.Candidates)
	if reason != Accepted {
		return d.reject(in, reason, detail, resp.Model, latency)
	}
	if decision.Type == domain.DecisionClarify && decision.Text == "" {
		decision.Text = failClosed(in.Language).Text
	}

	d.logger.Info("decider accepted",
		"type", string(decision.Type),
		"confidence", decision.Confidence,
		"faq_ids", strings.Join(decision.FAQIDsUsed, ","),
		"model", resp.Model,
		"duration_ms", latency,
	)
	return Result{Decision: decision, Model: resp.Model, LatencyMs: latency}
}

func (d *Decider) reject(in Input, reason RejectReason, detail, model string, latency int64) Result {
	d.logger.Info("decider rejected", "reason", string(reason), "detail", detail, "model", model)
	return Result{
		Decision:  failClosed(in.Language),
		Reason:    reason,
		Detail:    detail,
		Model:     model,
		LatencyMs: latency,
	}
}

// validate enforces the grounding contract on a decoded decision.
func (d *Decider) validate(w wireDecision, offered []domain.Candidate) (domain.Decision, RejectReason, string) {
	text := StripMeta(w.Text)

	switch domain.DecisionType(w.Type) {
	case domain.DecisionClarify:
		if len(w.FAQIDsUsed) > 0 || len(w.Support) > 0 {
			return domain.Decision{}, RejectClarifyIDs, ""
		}
		return domain.Decision{
			Type:       domain.DecisionClarify,
			Confidence: clamp01(w.Confidence),
			Text:       text,
		}, Accepted, ""
	case domain.DecisionAnswer:
	default:
		return domain.Decision{}, RejectUnknownType, w.Type
	}

	if w.Confidence < d.minConfidence {
		return domain.Decision{}, RejectLowConf, formatFloat(w.Confidence)
	}

	ids := dedupeIDs(w.FAQIDsUsed)
	if len(ids) == 0 {
		return domain.Decision{}, RejectNoIDs, ""
	}
	if len(ids) > d.maxIDs {
		return domain.Decision{}, RejectTooManyIDs, strings.Join(ids, ",")
	}

	answers := make(map[string]string, len(offered))
	for _, c := range offered {
		answers[c.ID] = heuristics.Normalize(c.Answer)
	}
	for _, id := range ids {
		if _, ok := answers[id]; !ok {
			return domain.Decision{}, RejectUnknownID, id
		}
	}

	var support []domain.Support
	for _, id := range ids {
		grounded := false
		var lastReason RejectReason = RejectUnsupported
		for _, s := range w.Support {
			if strings.TrimSpace(s.FAQID) != id {
				continue
			}
			q := heuristics.Normalize(s.Quote)
			if len([]rune(q)) < d.minQuoteLength {
				lastReason = RejectShortQuote
				continue
			}
			if !strings.Contains(answers[id], q) {
				lastReason = RejectQuoteMissing
				continue
			}
			grounded = true
			support = append(support, domain.Support{FAQID: id, Quote: s.Quote})
		}
		if !grounded {
			return domain.Decision{}, lastReason, id
		}
	}

	if text == "" {
		return domain.Decision{}, RejectEmptyText, ""
	}

	return domain.Decision{
		Type:       domain.DecisionAnswer,
		Confidence: clamp01(w.Confidence),
		FAQIDsUsed: ids,
		Text:       text,
		Support:    support,
	}, Accepted, ""
}

func dedupeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	return min(1, max(0, v))
}
