package bot

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"frontdesk/internal/heuristics"
)

func TestMergeBurst(t *testing.T) {
	tests := []struct {
		name  string
		parts []string
		want  string
	}{
		{"single", []string{"How long is the tour?"}, "How long is the tour?"},
		{"greeting dropped before question", []string{"hi", "How long is the tour?"}, "How long is the tour?"},
		{"ack dropped with content", []string{"ok", "I booked for Friday"}, "I booked for Friday"},
		{"greeting kept without question", []string{"hello", "I booked for Friday"}, "hello\nI booked for Friday"},
		{"only acks", []string{"ok", "thanks"}, "ok\nthanks"},
		{"blank parts", []string{" ", "", "\t"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MergeBurst(tt.parts, heuristics.Default))
		})
	}
}
