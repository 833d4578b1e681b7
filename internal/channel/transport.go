package channel

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"
)

// LogTransport is a domain.Transport that only logs outbound text. It stands
// in for a real sender when credentials are missing.
type LogTransport struct {
	name   string
	logger *slog.Logger
}

func NewLogTransport(name string, logger *slog.Logger) *LogTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogTransport{name: name, logger: logger}
}

func (t *LogTransport) Name() string { return t.name }

func (t *LogTransport) Send(_ context.Context, address, text string) error {
	t.logger.Info("outbound (log only)", "channel", t.name, "to", address, "text", text)
	return nil
}

// splitMessage cuts msg into chunks of at most maxLen bytes, preferring
// newline boundaries and never splitting a UTF-8 sequence.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}

		cut := maxLen
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		if idx := strings.LastIndex(msg[:cut], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}

		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}
