// Package intent classifies messages that the deterministic lexicons did
// not settle. It asks the completion service first and falls back to
// heuristics, ending in the safe OTHER intent.
package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"frontdesk/internal/domain"
	"frontdesk/internal/heuristics"
	"frontdesk/internal/provider"
)

type Intent string

const (
	Question    Intent = "QUESTION"
	Statement   Intent = "STATEMENT"
	ContactInfo Intent = "CONTACT_INFO"
	AckOnly     Intent = "ACK_ONLY"
	Other       Intent = "OTHER"
)

func (i Intent) valid() bool {
	switch i {
	case Question, Statement, ContactInfo, AckOnly, Other:
		return true
	}
	return false
}

// Source tells which stage produced a Result.
type Source string

const (
	SourceModel     Source = "model"
	SourceHeuristic Source = "heuristic"
	SourceDefault   Source = "default"
)

type Flags struct {
	IsGreeting                bool `json:"isGreeting"`
	ContainsURL               bool `json:"containsUrl"`
	ContainsEmail             bool `json:"containsEmail"`
	ContainsPhone             bool `json:"containsPhone"`
	LooksLikeBookingStatement bool `json:"looksLikeBookingStatement"`
	IsShortAddendum           bool `json:"isShortAddendum"`
}

type Result struct {
	Intent        Intent
	Confidence    float64
	ExtractedName string
	Flags         Flags
	Source        Source
	Model         string
}

// Context is the minimal history offered to the classifier.
type Context struct {
	LastQuestion   string
	PrevMeaningful string
}

type wireResult struct {
	Intent        string  `json:"intent" jsonschema:"enum=QUESTION,enum=STATEMENT,enum=CONTACT_INFO,enum=ACK_ONLY,enum=OTHER"`
	Confidence    float64 `json:"confidence" jsonschema_description:"0.0-1.0"`
	ExtractedName string  `json:"extractedName" jsonschema_description:"First name if explicitly stated, otherwise empty"`
	Flags         Flags   `json:"flags"`
}

var routerSchema = provider.GenerateSchema[wireResult]()

type RouterConfig struct {
	Completer  domain.Completer // nil: heuristics only
	Classifier *heuristics.Classifier
	Logger     *slog.Logger
}

type Router struct {
	completer  domain.Completer
	classifier *heuristics.Classifier
	logger     *slog.Logger
}

func NewRouter(cfg RouterConfig) *Router {
	if cfg.Classifier == nil {
		cfg.Classifier = heuristics.Default
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Router{completer: cfg.Completer, classifier: cfg.Classifier, logger: cfg.Logger}
}

// Route classifies text. It never fails: service errors fall back to
// heuristics, and a panic-free empty input yields OTHER.
func (r *Router) Route(ctx context.Context, text string, hist Context) Result {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{Intent: Other, Source: SourceDefault}
	}
	if r.completer != nil {
		res, err := r.ask(ctx, text, hist)
		if err == nil {
			return res
		}
		r.logger.Warn("intent router fell back to heuristics", "err", err)
	}
	return r.Heuristic(text)
}

func (r *Router) ask(ctx context.Context, text string, hist Context) (Result, error) {
	lines := []string{fmt.Sprintf("Message: \"\"\"%s\"\"\"", text)}
	if hist.LastQuestion != "" {
		lines = append(lines, fmt.Sprintf("Last question (if any): \"\"\"%s\"\"\"", hist.LastQuestion))
	}
	if hist.PrevMeaningful != "" {
		lines = append(lines, fmt.Sprintf("Previous meaningful message: \"\"\"%s\"\"\"", hist.PrevMeaningful))
	}

	resp, err := r.completer.Complete(ctx, domain.CompletionRequest{
		SystemPrompt: routerPrompt,
		UserPrompt:   strings.Join(lines, "\n"),
		SchemaName:   "intent_router",
		Schema:       routerSchema,
		MaxTokens:    260,
	})
	if err != nil {
		return Result{}, err
	}

	var w wireResult
	dec := json.NewDecoder(bytes.NewReader([]byte(resp.Content)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return Result{}, fmt.Errorf("decode intent: %w", err)
	}
	in := Intent(w.Intent)
	if !in.valid() {
		return Result{}, errors.New("decode intent: unknown intent " + w.Intent)
	}

	// contact flags are kept consistent with what the text shows
	sig := heuristics.DetectContactSignals(text)
	w.Flags.ContainsURL = w.Flags.ContainsURL || sig.URL
	w.Flags.ContainsEmail = w.Flags.ContainsEmail || sig.Email
	w.Flags.ContainsPhone = w.Flags.ContainsPhone || sig.Phone

	return Result{
		Intent:        in,
		Confidence:    min(1, max(0, w.Confidence)),
		ExtractedName: strings.TrimSpace(w.ExtractedName),
		Flags:         w.Flags,
		Source:        SourceModel,
		Model:         resp.Model,
	}, nil
}

// Heuristic classifies text without the completion service.
func (r *Router) Heuristic(text string) Result {
	c := r.classifier
	sig := heuristics.DetectContactSignals(text)
	res := Result{
		ExtractedName: heuristics.ExtractFirstName(text),
		Flags: Flags{
			IsGreeting:    c.IsGreeting(text),
			ContainsURL:   sig.URL,
			ContainsEmail: sig.Email,
			ContainsPhone: sig.Phone,
		},
		Source: SourceHeuristic,
	}

	question := c.IsQuestion(text)
	switch {
	case heuristics.IsContactPayload(text):
		res.Intent, res.Confidence = ContactInfo, 0.9
	case c.IsAckOnly(text):
		res.Intent, res.Confidence = AckOnly, 0.95
	case sig.Any() && question:
		res.Intent, res.Confidence = Question, 0.7
	case sig.Any():
		res.Intent, res.Confidence = ContactInfo, 0.8
	case question:
		res.Intent, res.Confidence = Question, 0.8
	case len(strings.Fields(text)) <= 2:
		// fragments like "tomorrow" or "Rovaniemi" stay out of the FAQ path
		res.Intent, res.Confidence = Other, 0.7
	default:
		booking := c.LooksLikeIntroOrBooking(text)
		res.Flags.LooksLikeBookingStatement = booking
		res.Intent, res.Confidence = Statement, 0.6
		if booking {
			res.Confidence = 0.75
		}
	}
	return res
}

const routerPrompt = `You are an intent router for a WhatsApp customer service bot for a tour operator.
Classify the customer's message into exactly one intent:
- QUESTION: asks a question or requests information/action that the bot should answer via FAQ pipeline.
- STATEMENT: provides info (e.g., booking statement, date, group size) but is not itself a question.
- CONTACT_INFO: primarily contact or identifiers (email/phone/link/booking ref/hotel name/address) without a question.
- ACK_ONLY: short acknowledgement/thanks/ok/react emoji etc; no bot reply needed.
- OTHER: everything else that should not go to FAQ/decider; prefer OTHER over QUESTION if uncertain.

Return ONLY strict JSON matching the schema.
Also extract first name if explicitly provided (e.g., 'I'm Jeff', 'My name is Jeff').
Set flags (booleans) when obvious.`
