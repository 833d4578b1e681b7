package heuristics

import (
	"regexp"
	"strings"
)

var (
	urlPattern      = regexp.MustCompile(`(?i)\bhttps?://\S+|\bwww\.\S+`)
	emailPattern    = regexp.MustCompile(`(?i)\b[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}\b`)
	phonePattern    = regexp.MustCompile(`\+?\d[\d\s().-]{6,}\d`)
	phoneOnly       = regexp.MustCompile(`^[\d\s().+-]+$`)
	numericOnly     = regexp.MustCompile(`^[\d\s,./:-]+$`)
	letterPattern   = regexp.MustCompile(`\p{L}`)
	emailSeparators = regexp.MustCompile(`[\s,;:()<>\[\]{}"']+`)
)

// ContactSignals flags identifiers found anywhere in a message.
type ContactSignals struct {
	URL   bool `json:"containsUrl"`
	Email bool `json:"containsEmail"`
	Phone bool `json:"containsPhone"`
}

func (s ContactSignals) Any() bool {
	return s.URL || s.Email || s.Phone
}

func DetectContactSignals(text string) ContactSignals {
	return ContactSignals{
		URL:   urlPattern.MatchString(text),
		Email: emailPattern.MatchString(text),
		Phone: phonePattern.MatchString(text) && countDigits(text) >= 7,
	}
}

// IsContactPayload reports a message that is only a link, email, phone
// number or bare numbers.
func IsContactPayload(text string) bool {
	t := strings.TrimSpace(text)
	return IsOnlyURL(t) || IsOnlyEmail(t) || IsOnlyPhone(t) || IsNumericOnly(t)
}

func IsOnlyURL(text string) bool {
	if !urlPattern.MatchString(text) {
		return false
	}
	return strings.TrimSpace(urlPattern.ReplaceAllString(text, "")) == ""
}

func IsOnlyEmail(text string) bool {
	if !emailPattern.MatchString(text) {
		return false
	}
	return emailSeparators.ReplaceAllString(emailPattern.ReplaceAllString(text, ""), "") == ""
}

func IsOnlyPhone(text string) bool {
	if text == "" || letterPattern.MatchString(text) || countDigits(text) < 7 {
		return false
	}
	return phoneOnly.MatchString(text)
}

func IsNumericOnly(text string) bool {
	if text == "" || letterPattern.MatchString(text) || countDigits(text) == 0 {
		return false
	}
	return numericOnly.MatchString(text)
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}
