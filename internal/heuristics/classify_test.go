package heuristics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		text string
		want Kind
	}{
		{"ok thanks", KindAckOnly},
		{"Thank you!", KindAckOnly},
		{"oh ok", KindAckOnly},
		{"That's cool", KindAckOnly},
		{"kiitos", KindAckOnly},
		{"👍", KindAckOnly},
		{"ok thanks?", KindQuestion},
		{"Can I talk to a human please", KindHumanRequest},
		{"I want a real person", KindHumanRequest},
		{"Hello!", KindGreeting},
		{"good morning", KindGreeting},
		{"hi there", KindGreeting},
		{"Moi", KindGreeting},
		{"hi, is pickup included?", KindQuestion},
		{"https://example.com/booking/123", KindContact},
		{"jeff@example.com", KindContact},
		{"+358 40 123 4567", KindContact},
		{"small group?", KindClarifier},
		{"Rovaniemi", KindClarifier},
		{"My name is Jeff and I booked the aurora tour", KindStatement},
		{"How long does the aurora tour last?", KindQuestion},
		{"mikä on hinta", KindQuestion},
		{"tomorrow", KindOther},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			assert.Equal(t, tc.want, Default.Classify(tc.text))
		})
	}
}

func TestIsAckOnly_LongMessageIsNotAck(t *testing.T) {
	assert.False(t, Default.IsAckOnly("ok thanks ok thanks ok"))
	assert.False(t, Default.IsAckOnly("ok see you"))
	assert.True(t, Default.IsAckOnly("   "))
}

func TestIsGreeting_RejectsGreetingWithContent(t *testing.T) {
	assert.False(t, Default.IsGreeting("hello I have a question"))
	assert.False(t, Default.IsGreeting("there"))
}

func TestIsShortClarifier_RejectsLongAndAddresses(t *testing.T) {
	assert.False(t, Default.IsShortClarifier("we are staying at a hotel near the city centre of rovaniemi"))
	assert.False(t, Default.IsShortClarifier("hotel www.example.com"))
	assert.True(t, Default.IsShortClarifier("meeting point"))
}

func TestParseConfirmation(t *testing.T) {
	cases := map[string]Confirmation{
		"yes":                    ConfirmYes,
		"Yes please!":            ConfirmYes,
		"sure, connect me":       ConfirmYes,
		"kyllä":                  ConfirmYes,
		"no":                     ConfirmNo,
		"No thanks":              ConfirmNo,
		"nope, just the bot":     ConfirmNo,
		"ei kiitos":              ConfirmNo,
		"maybe later":            ConfirmUnclear,
		"not sure":               ConfirmUnclear,
		"":                       ConfirmUnclear,
		"yes but no":             ConfirmUnclear,
	}
	for text, want := range cases {
		assert.Equal(t, want, Default.ParseConfirmation(text), text)
	}
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, "fi", Default.DetectLanguage("Paljonko retki maksaa"))
	assert.Equal(t, "fi", Default.DetectLanguage("Hei, missä tapaamispaikka on?"))
	assert.Equal(t, "en", Default.DetectLanguage("Where is the meeting point?"))
}

func TestExtractFirstName(t *testing.T) {
	assert.Equal(t, "Jeff", ExtractFirstName("Hi, my name is JEFF"))
	assert.Equal(t, "Anna", ExtractFirstName("I'm anna, we booked for friday"))
	assert.Equal(t, "Mikko", ExtractFirstName("minun nimeni on Mikko"))
	assert.Equal(t, "", ExtractFirstName("I am looking for a tour"))
	assert.Equal(t, "", ExtractFirstName("what time is pickup"))
}

func TestContactSignals(t *testing.T) {
	sig := DetectContactSignals("mail me at a@b.fi or call +358401234567")
	assert.True(t, sig.Email)
	assert.True(t, sig.Phone)
	assert.False(t, sig.URL)

	assert.True(t, IsNumericOnly("12.3.2025"))
	assert.False(t, IsOnlyPhone("123"))
	assert.False(t, IsContactPayload("my email is a@b.fi"))
}

func TestCustomLexicon(t *testing.T) {
	lex := DefaultLexicon()
	lex.HumanRequest = []string{"manager"}
	c := NewClassifier(lex)
	assert.Equal(t, KindHumanRequest, c.Classify("get me the manager"))
	assert.NotEqual(t, KindHumanRequest, c.Classify("I want a human"))
}
