package reply

import (
	"fmt"
	"strings"
)

// Kind names a reply template or an answer source.
type Kind string

const (
	KindFAQ            Kind = "faq"
	KindDecider        Kind = "decider"
	KindClarify        Kind = "clarify"
	KindHandoff        Kind = "handoff"
	KindConfirmAsk     Kind = "handoff_confirm"
	KindConfirmReask   Kind = "handoff_confirm_reask"
	KindConfirmYes     Kind = "handoff_confirmed"
	KindConfirmDecline Kind = "handoff_declined"
	KindGreeting       Kind = "greeting"
	KindStatementAck   Kind = "statement_ack"
	KindContactAck     Kind = "contact_ack"
)

// templates hold canned texts per language. %s, when present, takes the
// customer's first name including its leading separator.
var templates = map[string]map[Kind]string{
	"en": {
		KindClarify:        "I want to make sure I get this right. Could you tell me a little more about what you'd like to know?",
		KindHandoff:        "Thanks for your patience! I'm passing this to a member of our team, and they'll reply here as soon as possible.",
		KindConfirmAsk:     "Would you like me to connect you with a member of our team? Please answer yes or no.",
		KindConfirmReask:   "Sorry, I didn't catch that. Should I connect you with a member of our team? (yes / no)",
		KindConfirmYes:     "Sure! A member of our team will reply here as soon as possible.",
		KindConfirmDecline: "No problem! Feel free to ask me anything about our tours.",
		KindGreeting:       "Hi%s! Thanks for reaching out. How can I help you today?",
		KindStatementAck:   "Thanks%s, noted! Let me know if you have any questions.",
		KindContactAck:     "Thanks, got it! Let me know if there's anything else you need.",
	},
	"fi": {
		KindClarify:        "Haluan varmistaa, että vastaan oikein. Voisitko kertoa hieman tarkemmin, mitä haluaisit tietää?",
		KindHandoff:        "Kiitos kärsivällisyydestä! Välitän viestisi tiimillemme, ja he vastaavat tähän mahdollisimman pian.",
		KindConfirmAsk:     "Haluatko, että yhdistän sinut tiimimme jäsenelle? Vastaathan kyllä tai ei.",
		KindConfirmReask:   "Anteeksi, en ihan ymmärtänyt. Yhdistänkö sinut tiimimme jäsenelle? (kyllä / ei)",
		KindConfirmYes:     "Selvä! Tiimimme jäsen vastaa tähän mahdollisimman pian.",
		KindConfirmDecline: "Ei hätää! Kysy minulta vapaasti retkistämme.",
		KindGreeting:       "Hei%s! Kiitos yhteydenotosta. Miten voin auttaa?",
		KindStatementAck:   "Kiitos%s, merkitty! Kerro, jos sinulla on kysyttävää.",
		KindContactAck:     "Kiitos, tieto vastaanotettu! Kerro, jos voin auttaa muussa.",
	},
}

// Template renders a canned reply. Unknown languages fall back to English;
// an unknown kind yields "".
func Template(kind Kind, lang, firstName string) string {
	set, ok := templates[lang]
	if !ok {
		set = templates["en"]
	}
	tpl := set[kind]
	if !strings.Contains(tpl, "%s") {
		return tpl
	}
	name := ""
	if firstName != "" {
		name = " " + firstName
		if kind == KindStatementAck {
			name = ", " + firstName
		}
	}
	return fmt.Sprintf(tpl, name)
}
