package decider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frontdesk/internal/domain"
	"frontdesk/internal/heuristics"
)

type fakeCompleter struct {
	content string
	err     error
	lastReq domain.CompletionRequest
}

func (f *fakeCompleter) Name() string                  { return "fake" }
func (f *fakeCompleter) Healthy(context.Context) error { return nil }
func (f *fakeCompleter) Complete(_ context.Context, req domain.CompletionRequest) (*domain.CompletionResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &domain.CompletionResponse{Content: f.content, Model: "fake-model"}, nil
}

var candidates = []domain.Candidate{
	{
		ID:       "price",
		Question: "How much does the aurora tour cost?",
		Answer:   "The Aurora Hunt costs 119 EUR per adult and 79 EUR per child (4–12 years).",
		Tags:     []string{"price", "aurora"},
	},
	{
		ID:       "included",
		Question: "What is included in the aurora tour?",
		Answer:   "Hotel pickup, warm overalls, hot drinks and snacks by the campfire are included.",
		Tags:     []string{"included"},
	},
	{
		ID:       "duration",
		Question: "How long does the aurora tour last?",
		Answer:   "The tour lasts about 4 hours including transfers.",
	},
}

func newDecider(c domain.Completer) *Decider {
	return New(Config{
		Completer:      c,
		MinConfidence:  0.6,
		MaxFAQIDs:      2,
		MinQuoteLength: 12,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func respond(t *testing.T, v any) *fakeCompleter {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return &fakeCompleter{content: string(b)}
}

func answer(ids []string, support []wireSupport, conf float64, text string) wireDecision {
	return wireDecision{Type: "ANSWER", Confidence: conf, FAQIDsUsed: ids, Text: text, Support: support}
}

func decide(t *testing.T, c domain.Completer, lang string) Result {
	t.Helper()
	return newDecider(c).Decide(context.Background(), Input{
		Question:   "How much is the aurora tour and what's included?",
		Candidates: candidates,
		Language:   lang,
	})
}

func assertFailClosed(t *testing.T, r Result, reason RejectReason) {
	t.Helper()
	assert.Equal(t, reason, r.Reason)
	assert.Equal(t, domain.DecisionClarify, r.Decision.Type)
	assert.Empty(t, r.Decision.FAQIDsUsed)
	assert.Empty(t, r.Decision.Support)
	assert.NotEmpty(t, r.Decision.Text)
}

func TestDecide_AcceptsGroundedAnswer(t *testing.T) {
	c := respond(t, answer(
		[]string{"price", "included"},
		[]wireSupport{
			{FAQID: "price", Quote: "119 EUR per adult"},
			{FAQID: "included", Quote: "Hotel pickup, warm overalls"},
		},
		0.9,
		"The tour costs 119 EUR per adult and includes hotel pickup and warm overalls.",
	))

	r := decide(t, c, "en")
	require.False(t, r.Rejected(), "reason=%s detail=%s", r.Reason, r.Detail)
	assert.Equal(t, domain.DecisionAnswer, r.Decision.Type)
	assert.Equal(t, []string{"price", "included"}, r.Decision.FAQIDsUsed)
	assert.Len(t, r.Decision.Support, 2)

	// every accepted quote is a normalized substring of the cited answer
	for _, s := range r.Decision.Support {
		var ans string
		for _, c := range candidates {
			if c.ID == s.FAQID {
				ans = c.Answer
			}
		}
		assert.Contains(t, heuristics.Normalize(ans), heuristics.Normalize(s.Quote))
	}

	assert.Equal(t, "grounded_decision", c.lastReq.SchemaName)
	assert.NotNil(t, c.lastReq.Schema)
	assert.Contains(t, c.lastReq.UserPrompt, "[id: included]")
}

func TestDecide_QuoteNormalization(t *testing.T) {
	// case, punctuation and dash variants are ignored
	c := respond(t, answer(
		[]string{"price"},
		[]wireSupport{{FAQID: "price", Quote: "79 eur per child (4-12 years)"}},
		0.8,
		"Children aged 4 to 12 pay 79 EUR.",
	))
	r := decide(t, c, "en")
	assert.False(t, r.Rejected(), "reason=%s", r.Reason)
}

func TestDecide_RejectsQuoteNotInAnswer(t *testing.T) {
	c := respond(t, answer(
		[]string{"price"},
		[]wireSupport{{FAQID: "price", Quote: "free for children under 4"}},
		0.95,
		"Children under 4 travel free.",
	))
	assertFailClosed(t, decide(t, c, "en"), RejectQuoteMissing)
}

func TestDecide_RejectsQuoteFromOtherEntry(t *testing.T) {
	c := respond(t, answer(
		[]string{"price"},
		[]wireSupport{{FAQID: "price", Quote: "warm overalls, hot drinks"}},
		0.95,
		"Overalls are included.",
	))
	assertFailClosed(t, decide(t, c, "en"), RejectQuoteMissing)
}

func TestDecide_ValidationFailures(t *testing.T) {
	support := []wireSupport{{FAQID: "price", Quote: "119 EUR per adult"}}
	tests := []struct {
		name   string
		wire   wireDecision
		reason RejectReason
	}{
		{"unknown type", wireDecision{Type: "MAYBE", Confidence: 0.9}, RejectUnknownType},
		{"low confidence", answer([]string{"price"}, support, 0.4, "119 EUR."), RejectLowConf},
		{"no ids", answer(nil, support, 0.9, "119 EUR."), RejectNoIDs},
		{"too many ids", answer([]string{"price", "included", "duration"}, support, 0.9, "x"), RejectTooManyIDs},
		{"id not offered", answer([]string{"refunds"}, support, 0.9, "x"), RejectUnknownID},
		{"missing support", answer([]string{"price", "duration"}, support, 0.9, "x"), RejectUnsupported},
		{"short quote", answer([]string{"price"}, []wireSupport{{FAQID: "price", Quote: "119 EUR"}}, 0.9, "x"), RejectShortQuote},
		{"empty text after meta", answer([]string{"price"}, support, 0.9, "According to the FAQ,"), RejectEmptyText},
		{"clarify with ids", wireDecision{Type: "CLARIFY", FAQIDsUsed: []string{"price"}, Text: "Which tour?"}, RejectClarifyIDs},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertFailClosed(t, decide(t, respond(t, tt.wire), "en"), tt.reason)
		})
	}
}

func TestDecide_ServiceAndDecodeFailures(t *testing.T) {
	t.Run("service error", func(t *testing.T) {
		assertFailClosed(t, decide(t, &fakeCompleter{err: errors.New("timeout")}, "en"), RejectService)
	})
	t.Run("not json", func(t *testing.T) {
		assertFailClosed(t, decide(t, &fakeCompleter{content: "The tour costs 119 EUR."}, "en"), RejectMalformed)
	})
	t.Run("unknown field", func(t *testing.T) {
		c := &fakeCompleter{content: `{"type":"ANSWER","confidence":0.9,"faqIdsUsed":["price"],"text":"x","support":[],"extra":1}`}
		assertFailClosed(t, decide(t, c, "en"), RejectMalformed)
	})
	t.Run("trailing data", func(t *testing.T) {
		c := &fakeCompleter{content: `{"type":"CLARIFY","confidence":0.2,"faqIdsUsed":[],"text":"?","support":[]} {}`}
		assertFailClosed(t, decide(t, c, "en"), RejectMalformed)
	})
	t.Run("no completer", func(t *testing.T) {
		assertFailClosed(t, decide(t, nil, "en"), RejectNoCompleter)
	})
}

func TestDecide_NoCandidates(t *testing.T) {
	c := &fakeCompleter{content: "{}"}
	r := newDecider(c).Decide(context.Background(), Input{Question: "hi?"})
	assertFailClosed(t, r, RejectNoCandidates)
	assert.Empty(t, c.lastReq.UserPrompt, "service must not be called")
}

func TestDecide_FencedJSON(t *testing.T) {
	c := &fakeCompleter{content: "```json\n{\"type\":\"CLARIFY\",\"confidence\":0.3,\"faqIdsUsed\":[],\"text\":\"Which date do you mean?\",\"support\":[]}\n```"}
	r := decide(t, c, "en")
	require.False(t, r.Rejected())
	assert.Equal(t, "Which date do you mean?", r.Decision.Text)
}

func TestDecide_ClarifyWithoutTextUsesDefault(t *testing.T) {
	c := respond(t, wireDecision{Type: "CLARIFY", Confidence: 0.2})
	r := decide(t, c, "fi")
	require.False(t, r.Rejected())
	assert.Equal(t, failClosedText["fi"], r.Decision.Text)
}

func TestDecide_LocalizedFailClosed(t *testing.T) {
	r := decide(t, nil, "fi")
	assert.Equal(t, failClosedText["fi"], r.Decision.Text)
	r = decide(t, nil, "sv")
	assert.Equal(t, failClosedText["en"], r.Decision.Text)
}

func TestStripMeta(t *testing.T) {
	tests := []struct{ in, want string }{
		{"According to the FAQ, the tour lasts about 4 hours.", "The tour lasts about 4 hours."},
		{"Based on the provided information: pickup is included.", "Pickup is included."},
		{"The FAQ says that pickup is included.", "Pickup is included."},
		{"Pickup is included (FAQ id: included).", "Pickup is included."},
		{"Pickup is included [ids: included, pickup].", "Pickup is included."},
		{"Please bring a photo ID: passport or driving licence are accepted.", "Please bring a photo ID: passport or driving licence are accepted."},
		{"Guests with ids: please show them at check-in.", "Guests with ids: please show them at check-in."},
		{"Plain answer.", "Plain answer."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StripMeta(tt.in), tt.in)
	}
}

func TestPrefersDecider(t *testing.T) {
	d := newDecider(nil)
	assert.True(t, d.PrefersDecider("How much is it and what's included?"))
	assert.True(t, d.PrefersDecider("Paljonko maksaa ja mitä se sisältää?"))
	assert.False(t, d.PrefersDecider("How long does the aurora tour last?"))

	custom := New(Config{PreferTerms: []string{"combo"}})
	assert.True(t, custom.PrefersDecider("Is there a combo deal?"))
	assert.False(t, custom.PrefersDecider("what is included"))
}

func TestUserPromptIsBounded(t *testing.T) {
	long := domain.Candidate{ID: "long", Question: "q", Answer: strings.Repeat("a", 5000)}
	p := userPrompt("q?", []domain.Candidate{long})
	assert.Less(t, len(p), 1500)
}
