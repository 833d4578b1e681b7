package decider

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"frontdesk/internal/domain"
)

// maxAnswerRunes bounds each candidate answer in the prompt. Validation
// always uses the full answer.
const maxAnswerRunes = 1200

func systemPrompt(lang string) string {
	reply := "Reply in English."
	if lang == "fi" {
		reply = "Reply in Finnish."
	}
	return strings.Join([]string{
		"You answer customer questions for a tour operator using ONLY the FAQ entries provided.",
		"Return a single JSON object matching the schema.",
		`Use type "ANSWER" only when the entries fully answer the question. Otherwise use type "CLARIFY" with one short clarifying question and empty faqIdsUsed and support.`,
		"For ANSWER list every FAQ id you used in faqIdsUsed and, for each id, at least one support item whose quote is copied character for character from that entry's answer.",
		"Never add facts, prices, times or promises that are not in the quoted text.",
		"Do not mention the FAQ, sources or ids in text.",
		reply,
	}, "\n")
}

func userPrompt(question string, candidates []domain.Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Customer question:\n%s\n\nFAQ entries:\n", strings.TrimSpace(question))
	for _, c := range candidates {
		fmt.Fprintf(&b, "\n[id: %s]\nQ: %s\nA: %s\n", c.ID, c.Question, truncate(c.Answer, maxAnswerRunes))
		if len(c.Tags) > 0 {
			fmt.Fprintf(&b, "Tags: %s\n", strings.Join(c.Tags, ", "))
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

var metaPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(according to|based on|as (stated|mentioned) in|per) (the |our )?(faq|faqs|knowledge base|provided (information|entries|faq|context)|information provided|sources?)\b[^.!?,:]*[,:]?\s*`),
	regexp.MustCompile(`(?i)\b(the )?faq (says|states|mentions) (that )?`),
	regexp.MustCompile(`(?i)[\[(]\s*(faq )?ids?:[^\])]*[\])]`),
	regexp.MustCompile(`(?i)\bas an ai( language model)?,?\s*`),
	regexp.MustCompile(`(?i)\b(faq:n|ukk:n) mukaan,?\s*`),
}

var spaceBeforePunct = regexp.MustCompile(`\s+([.,!?])`)

// StripMeta removes phrasing that refers to the FAQ, ids or the model
// itself and re-capitalizes the result.
func StripMeta(text string) string {
	out := strings.TrimSpace(text)
	for _, p := range metaPatterns {
		out = p.ReplaceAllString(out, "")
	}
	out = strings.Join(strings.Fields(out), " ")
	out = spaceBeforePunct.ReplaceAllString(out, "$1")
	out = strings.TrimLeft(out, ",;: ")
	if out == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(out)
	return string(unicode.ToUpper(r)) + out[size:]
}

var failClosedText = map[string]string{
	"en": "Could you tell me a bit more about what you would like to know, for example which tour or date you mean?",
	"fi": "Voisitko kertoa vähän tarkemmin, mitä haluaisit tietää? Esimerkiksi mistä retkestä tai päivästä on kyse?",
}

var failClosedDecisions = func() map[string]domain.Decision {
	m := make(map[string]domain.Decision, len(failClosedText))
	for lang, text := range failClosedText {
		m[lang] = domain.Decision{Type: domain.DecisionClarify, Text: text}
	}
	return m
}()

// failClosed returns the shared CLARIFY default for lang. Slices are nil so
// sharing the value is safe.
func failClosed(lang string) domain.Decision {
	if d, ok := failClosedDecisions[lang]; ok {
		return d
	}
	return failClosedDecisions["en"]
}
