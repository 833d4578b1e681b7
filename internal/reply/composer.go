// Package reply turns pipeline outcomes into outbound text: canned
// localized templates, the constrained FAQ rewrite and duplicate-reply
// suppression by fingerprint.
package reply

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"frontdesk/internal/domain"
)

// NoValidAnswer is the sentinel the rewrite must output when the FAQ
// answer does not cover the question.
const NoValidAnswer = "NO_VALID_ANSWER"

const DefaultDedupWindow = 10 * time.Minute

type ComposerConfig struct {
	Rewriter    domain.Completer // nil: FAQ answers are sent verbatim
	MaxTokens   int
	DedupWindow time.Duration // <= 0 uses DefaultDedupWindow
	Now         func() time.Time
	Logger      *slog.Logger
}

type Composer struct {
	rewriter  domain.Completer
	maxTokens int
	window    time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

func NewComposer(cfg ComposerConfig) *Composer {
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = DefaultDedupWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Composer{
		rewriter:  cfg.Rewriter,
		maxTokens: cfg.MaxTokens,
		window:    cfg.DedupWindow,
		now:       cfg.Now,
		logger:    cfg.Logger,
	}
}

// FAQAnswer is the outcome of composing a direct FAQ reply.
type FAQAnswer struct {
	Text      string
	Covered   bool // false: the rewrite reported NO_VALID_ANSWER
	Rewritten bool
}

// FromFAQ adapts a matched FAQ answer to the question. Rewrite failures and
// empty output fall back to the verbatim answer; only the sentinel marks
// the answer as not covering the question.
func (c *Composer) FromFAQ(ctx context.Context, question, answer, lang string) FAQAnswer {
	verbatim := FAQAnswer{Text: strings.TrimSpace(answer), Covered: true}
	if c.rewriter == nil {
		return verbatim
	}

	resp, err := c.rewriter.Complete(ctx, domain.CompletionRequest{
		SystemPrompt: rewriteSystemPrompt(lang),
		UserPrompt: strings.Join([]string{
			"User question:", question, "",
			"FAQ answer to use:", answer, "",
			"Task: Rewrite the FAQ answer to directly address the user's question.",
		}, "\n"),
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		c.logger.Warn("faq rewrite failed, sending verbatim answer", "err", err)
		return verbatim
	}
	text := strings.Trim(strings.TrimSpace(resp.Content), "\"'`")
	switch {
	case text == "":
		return verbatim
	case strings.Contains(text, NoValidAnswer):
		return FAQAnswer{Covered: false}
	}
	return FAQAnswer{Text: text, Covered: true, Rewritten: true}
}

func rewriteSystemPrompt(lang string) string {
	langLine := "Reply in English."
	if lang == "fi" {
		langLine = "Reply in Finnish."
	}
	return strings.Join([]string{
		"You are a customer service FAQ assistant.",
		"You MUST only use the provided FAQ answer content.",
		"Do NOT add new facts, prices, policies, or promises.",
		"If the FAQ answer does not cover the user's question, output exactly: " + NoValidAnswer,
		"Keep the reply concise and friendly.",
		langLine,
	}, " ")
}

var (
	fpSpaces = regexp.MustCompile(`\s+`)
	fpPunct  = regexp.MustCompile(`[.,!?:;]+`)
)

// Fingerprint is a stable key for reply text: case, repeated whitespace
// and sentence punctuation are ignored, and only the first 500 characters
// count.
func Fingerprint(text string) string {
	t := strings.TrimSpace(strings.ToLower(text))
	t = fpSpaces.ReplaceAllString(t, " ")
	t = fpPunct.ReplaceAllString(t, "")
	if r := []rune(t); len(r) > 500 {
		t = string(r[:500])
	}
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:16])
}

// IsDuplicate reports whether sending a reply with fingerprint fp would
// repeat the conversation's last reply within the dedup window.
func (c *Composer) IsDuplicate(conv *domain.Conversation, fp string) bool {
	if conv.LastReplyFingerprint != fp || conv.LastReplyAt == nil {
		return false
	}
	return c.now().Sub(*conv.LastReplyAt) < c.window
}
