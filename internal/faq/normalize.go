package faq

import (
	"regexp"
	"strings"
)

var typoFixes = []struct {
	re   *regexp.Regexp
	with string
}{
	{regexp.MustCompile(`\bnorthen\b`), "northern"},
	{regexp.MustCompile(`\bnothern\b`), "northern"},
	{regexp.MustCompile(`\bquaranteed\b`), "guaranteed"},
	{regexp.MustCompile(`\bguarenteed\b`), "guaranteed"},
	{regexp.MustCompile(`\bgaranteed\b`), "guaranteed"},
}

var (
	northernLights = regexp.MustCompile(`\bnorthern\s+lights?\b`)
	nonWord        = regexp.MustCompile(`[^a-z0-9äöå\s]`)
	spaces         = regexp.MustCompile(`\s+`)
)

// Normalize lowercases text, fixes known typos, canonicalizes
// "northern light(s)" and collapses punctuation and whitespace.
func Normalize(text string) string {
	t := strings.ToLower(text)
	for _, fix := range typoFixes {
		t = fix.re.ReplaceAllString(t, fix.with)
	}
	t = northernLights.ReplaceAllString(t, "northern lights")
	t = nonWord.ReplaceAllString(t, " ")
	return strings.TrimSpace(spaces.ReplaceAllString(t, " "))
}

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "am": true, "was": true,
	"be": true, "do": true, "does": true, "did": true, "i": true, "you": true, "we": true,
	"me": true, "my": true, "your": true, "our": true, "to": true, "of": true, "in": true,
	"on": true, "at": true, "for": true, "and": true, "or": true, "it": true, "its": true,
	"can": true, "could": true, "will": true, "would": true, "should": true, "there": true,
	"what": true, "how": true, "when": true, "where": true, "which": true, "who": true,
	"this": true, "that": true, "with": true, "if": true, "so": true, "about": true,
	"hi": true, "hello": true, "hey": true, "please": true, "thanks": true, "ok": true,
	"onko": true, "ja": true, "tai": true, "se": true, "mikä": true, "kuinka": true,
}

// queryTerms returns the distinct informative words of a normalized query.
func queryTerms(normalized string) []string {
	seen := make(map[string]bool)
	var terms []string
	for _, w := range strings.Fields(normalized) {
		if stopWords[w] || seen[w] {
			continue
		}
		if len([]rune(w)) < 2 && !isDigits(w) {
			continue
		}
		seen[w] = true
		terms = append(terms, w)
	}
	return terms
}

// isLowInformation reports queries that cannot be matched meaningfully:
// nothing but stop words, or one very short word.
func isLowInformation(normalized string) bool {
	terms := queryTerms(normalized)
	if len(terms) == 0 {
		return true
	}
	return len(terms) == 1 && len([]rune(terms[0])) < 3 && !isDigits(terms[0])
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

var guaranteeLexicon = []string{
	"guarante", "refund", "money back", "rebook", "retry", "no aurora", "reschedul",
	"policy", "taattu", "takuu", "hyvitys", "rahanpalautus", "uusinta",
}

// looksLikeGuarantee matches the guarantee/refund/policy intent.
func looksLikeGuarantee(normalized string) bool {
	for _, stem := range guaranteeLexicon {
		if strings.Contains(normalized, stem) {
			return true
		}
	}
	return false
}
