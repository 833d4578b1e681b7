package bot

import (
	"strings"

	"frontdesk/internal/heuristics"
)

// MergeBurst joins the texts of one inbound burst. Acknowledgement lines
// are dropped when the burst has real content, and greeting-only lines are
// dropped when some line asks a question. An empty result means nothing
// in the burst needs an answer.
func MergeBurst(parts []string, c *heuristics.Classifier) string {
	var lines []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			lines = append(lines, p)
		}
	}

	hasContent := false
	for _, l := range lines {
		if !c.IsAckOnly(l) {
			hasContent = true
			break
		}
	}
	if hasContent {
		lines = filter(lines, func(l string) bool { return !c.IsAckOnly(l) })
	}

	hasQuestion := false
	for _, l := range lines {
		if strings.Contains(l, "?") {
			hasQuestion = true
			break
		}
	}
	if hasQuestion {
		lines = filter(lines, func(l string) bool { return !c.IsGreeting(l) })
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func filter(in []string, keep func(string) bool) []string {
	out := in[:0:0]
	for _, s := range in {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}
