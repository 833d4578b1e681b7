// Package heuristics classifies raw chat text with fixed lexicons.
package heuristics

import (
	"regexp"
	"slices"
	"strings"
	"unicode"
)

// Kind is the classifier's verdict for one message.
type Kind string

const (
	KindAckOnly      Kind = "ack_only"
	KindHumanRequest Kind = "human_request"
	KindGreeting     Kind = "greeting"
	KindContact      Kind = "contact_payload"
	KindClarifier    Kind = "short_clarifier"
	KindStatement    Kind = "statement"
	KindQuestion     Kind = "question"
	KindOther        Kind = "other"
)

// Confirmation is the reading of a reply to a yes/no prompt.
type Confirmation int

const (
	ConfirmUnclear Confirmation = iota
	ConfirmYes
	ConfirmNo
)

func (c Confirmation) String() string {
	switch c {
	case ConfirmYes:
		return "yes"
	case ConfirmNo:
		return "no"
	default:
		return "unclear"
	}
}

const (
	maxAckWords      = 4
	maxGreetingWords = 3
	maxClarifierLen  = 40
)

// Classifier evaluates messages in a fixed priority order. It is
// immutable after construction and safe for concurrent use.
type Classifier struct {
	ackExact        map[string]bool
	ackTokens       map[string]bool
	ackCore         map[string]bool
	greetingPhrases [][]string // longest first
	greetingFillers map[string]bool
	humanRequest    []string
	yesPhrases      map[string]bool
	noPhrases       map[string]bool
	yesTokens       map[string]bool
	noTokens        map[string]bool
	clarifierTopics []string
	questionWords   []string
	starters        map[string]bool
	introPatterns   []string
	finnishWords    map[string]bool
}

func NewClassifier(lex Lexicon) *Classifier {
	c := &Classifier{
		ackExact:        setOf(lex.AckExact),
		ackTokens:       setOf(lex.AckTokens),
		ackCore:         setOf(lex.AckCore),
		greetingFillers: setOf(lex.GreetingFillers),
		humanRequest:    normalizeAll(lex.HumanRequest),
		yesPhrases:      setOf(normalizeAll(lex.Yes)),
		noPhrases:       setOf(normalizeAll(lex.No)),
		yesTokens:       singleWords(lex.Yes),
		noTokens:        singleWords(lex.No),
		clarifierTopics: normalizeAll(lex.ClarifierTopics),
		questionWords:   normalizeAll(lex.QuestionWords),
		starters:        setOf(lex.QuestionStarters),
		introPatterns:   lowerAll(lex.IntroPatterns),
		finnishWords:    setOf(lex.FinnishWords),
	}
	for _, p := range lex.GreetingPhrases {
		c.greetingPhrases = append(c.greetingPhrases, strings.Fields(Normalize(p)))
	}
	slices.SortStableFunc(c.greetingPhrases, func(a, b []string) int { return len(b) - len(a) })
	return c
}

// Default is a classifier over DefaultLexicon.
var Default = NewClassifier(DefaultLexicon())

// Classify returns the first matching kind in priority order: ack-only,
// human request, greeting, contact payload, short clarifier, statement,
// question. Everything else is KindOther.
func (c *Classifier) Classify(text string) Kind {
	switch {
	case c.IsAckOnly(text):
		return KindAckOnly
	case c.IsHumanRequest(text):
		return KindHumanRequest
	case c.IsGreeting(text):
		return KindGreeting
	case IsContactPayload(text):
		return KindContact
	case c.IsShortClarifier(text):
		return KindClarifier
	case c.LooksLikeIntroOrBooking(text) && !c.IsQuestion(text):
		return KindStatement
	case c.IsQuestion(text):
		return KindQuestion
	default:
		return KindOther
	}
}

// IsAckOnly reports a short thanks/ok-type message that needs no reply.
// Anything containing a question mark is never an acknowledgement.
func (c *Classifier) IsAckOnly(text string) bool {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return true
	}
	if strings.Contains(raw, "?") {
		return false
	}
	t := Normalize(strings.ReplaceAll(strings.ToLower(raw), "that's", "thats"))
	if t == "" {
		// emoji or punctuation only
		return true
	}
	if c.ackExact[t] {
		return true
	}
	words := strings.Fields(t)
	if len(words) > maxAckWords {
		return false
	}
	hasCore := false
	for _, w := range words {
		if !c.ackTokens[w] {
			return false
		}
		if c.ackCore[w] {
			hasCore = true
		}
	}
	return hasCore
}

// IsHumanRequest reports an explicit ask for a person.
func (c *Classifier) IsHumanRequest(text string) bool {
	return ContainsAnyPhrase(Normalize(text), c.humanRequest)
}

// IsGreeting reports a 1-3 word message made only of greeting phrases
// and fillers, with at least one greeting.
func (c *Classifier) IsGreeting(text string) bool {
	words := strings.Fields(Normalize(text))
	if len(words) == 0 || len(words) > maxGreetingWords {
		return false
	}
	greeted := false
	for i := 0; i < len(words); {
		if n := c.matchGreeting(words[i:]); n > 0 {
			i += n
			greeted = true
			continue
		}
		if !c.greetingFillers[words[i]] {
			return false
		}
		i++
	}
	return greeted
}

func (c *Classifier) matchGreeting(words []string) int {
	for _, phrase := range c.greetingPhrases {
		if len(phrase) <= len(words) && slices.Equal(phrase, words[:len(phrase)]) {
			return len(phrase)
		}
	}
	return 0
}

// IsShortClarifier reports a short topic-bearing fragment that only makes
// sense together with the previous question, such as "small group?".
func (c *Classifier) IsShortClarifier(text string) bool {
	raw := strings.TrimSpace(text)
	if len(raw) > maxClarifierLen || c.IsAckOnly(raw) {
		return false
	}
	if sig := DetectContactSignals(raw); sig.Any() {
		return false
	}
	t := Normalize(raw)
	if c.hasQuestionWording(t) {
		return false
	}
	return ContainsAnyPhrase(t, c.clarifierTopics)
}

// IsQuestion reports a question mark or question wording.
func (c *Classifier) IsQuestion(text string) bool {
	if strings.Contains(text, "?") {
		return true
	}
	return c.hasQuestionWording(Normalize(text))
}

func (c *Classifier) hasQuestionWording(normalized string) bool {
	if ContainsAnyPhrase(normalized, c.questionWords) {
		return true
	}
	words := strings.Fields(normalized)
	for i := 0; i < len(words); {
		if n := c.matchGreeting(words[i:]); n > 0 {
			i += n
			continue
		}
		if c.greetingFillers[words[i]] {
			i++
			continue
		}
		return c.starters[words[i]]
	}
	return false
}

// LooksLikeIntroOrBooking reports self-introductions and booking statements.
func (c *Classifier) LooksLikeIntroOrBooking(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text)) + " "
	for _, p := range c.introPatterns {
		if strings.Contains(t, p) {
			return true
		}
	}
	return false
}

// ParseConfirmation reads a reply to "shall I connect you to a person?".
func (c *Classifier) ParseConfirmation(text string) Confirmation {
	t := Normalize(text)
	if t == "" {
		return ConfirmUnclear
	}
	if c.yesPhrases[t] {
		return ConfirmYes
	}
	if c.noPhrases[t] {
		return ConfirmNo
	}
	var yes, no bool
	for _, w := range strings.Fields(t) {
		yes = yes || c.yesTokens[w]
		no = no || c.noTokens[w]
	}
	switch {
	case yes && !no:
		return ConfirmYes
	case no && !yes:
		return ConfirmNo
	default:
		return ConfirmUnclear
	}
}

// DetectLanguage is a two-bucket guess: "fi" or "en".
func (c *Classifier) DetectLanguage(text string) string {
	lower := strings.ToLower(text)
	if strings.ContainsAny(lower, "äöå") {
		return "fi"
	}
	for _, w := range strings.Fields(Normalize(lower)) {
		if c.finnishWords[w] {
			return "fi"
		}
	}
	return "en"
}

var (
	nameIsPattern = regexp.MustCompile(`(?i)my name is\s+([\p{L}'-]{2,})`)
	iAmPattern    = regexp.MustCompile(`(?i)\b(?:i'm|i am|im)\s+([\p{L}'-]{2,})`)
	nameIsFinnish = regexp.MustCompile(`(?i)nimeni on\s+([\p{L}'-]{2,})`)
)

// words that follow "I am" without being a name
var notNames = map[string]bool{
	"a": true, "an": true, "the": true, "not": true, "just": true, "so": true, "very": true,
	"here": true, "looking": true, "interested": true, "staying": true, "going": true,
	"coming": true, "traveling": true, "travelling": true, "wondering": true, "trying": true,
	"from": true, "in": true, "at": true, "with": true, "on": true, "booking": true,
	"sorry": true, "fine": true, "good": true, "sure": true, "ok": true, "okay": true,
}

// ExtractFirstName pulls a capitalized first name from "my name is X" or
// "I'm X". It returns "" when no name is stated.
func ExtractFirstName(text string) string {
	if m := nameIsPattern.FindStringSubmatch(text); m != nil {
		return capitalize(m[1])
	}
	if m := nameIsFinnish.FindStringSubmatch(text); m != nil {
		return capitalize(m[1])
	}
	if m := iAmPattern.FindStringSubmatch(text); m != nil && !notNames[strings.ToLower(m[1])] {
		return capitalize(m[1])
	}
	return ""
}

func capitalize(w string) string {
	r := []rune(strings.ToLower(w))
	if len(r) == 0 {
		return ""
	}
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// Normalize lowercases text, turns punctuation and symbols into spaces
// and collapses whitespace. Letters of any script and digits survive.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	space := true
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// ContainsAnyPhrase matches whole-word phrases in already-normalized text.
func ContainsAnyPhrase(normalized string, phrases []string) bool {
	if normalized == "" {
		return false
	}
	padded := " " + normalized + " "
	for _, p := range phrases {
		if p != "" && strings.Contains(padded, " "+p+" ") {
			return true
		}
	}
	return false
}

func setOf(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}

func normalizeAll(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, Normalize(it))
	}
	return out
}

func lowerAll(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, strings.ToLower(it))
	}
	return out
}

func singleWords(items []string) map[string]bool {
	m := make(map[string]bool)
	for _, it := range items {
		if n := Normalize(it); n != "" && !strings.Contains(n, " ") {
			m[n] = true
		}
	}
	return m
}
