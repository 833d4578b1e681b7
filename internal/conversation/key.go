package conversation

import (
	"strings"
	"unicode"
)

// KeyFor derives the stable conversation key from an external address.
// Phone-like addresses ("+358 40-123 4567", "whatsapp:+35840...") reduce
// to their digits; anything else is trimmed and lowercased. An empty
// result means the message cannot be routed.
func KeyFor(address string) string {
	a := strings.TrimSpace(address)
	if i := strings.LastIndexByte(a, ':'); i >= 0 && looksLikePhone(a[i+1:]) {
		a = a[i+1:]
	}
	if looksLikePhone(a) {
		var b strings.Builder
		for _, r := range a {
			if r >= '0' && r <= '9' {
				b.WriteRune(r)
			}
		}
		return b.String()
	}
	return strings.ToLower(a)
}

func looksLikePhone(s string) bool {
	digits := 0
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return false
		}
	}
	return digits >= 5
}
