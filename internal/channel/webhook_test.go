package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"frontdesk/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// recordingInbox collects delivered messages.
type recordingInbox struct {
	mu   sync.Mutex
	msgs []domain.InboundMessage
	err  error
	done chan struct{}
}

func newRecordingInbox() *recordingInbox {
	return &recordingInbox{done: make(chan struct{}, 64)}
}

func (r *recordingInbox) Deliver(_ context.Context, msg domain.InboundMessage) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	r.done <- struct{}{}
	return r.err
}

func (r *recordingInbox) all() []domain.InboundMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.InboundMessage(nil), r.msgs...)
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyHMAC(t *testing.T) {
	body := []byte(`{"text":"hello"}`)
	assert.True(t, verifyHMAC(body, "test-secret", sign("test-secret", body)))
	assert.False(t, verifyHMAC([]byte("body"), "secret", "sha256=invalid"))
	assert.False(t, verifyHMAC([]byte("body"), "secret", ""), "empty signature")
}

func TestSplitMessage_Short(t *testing.T) {
	assert.Len(t, splitMessage("short message", 100), 1)
}

func TestSplitMessage_Long(t *testing.T) {
	long := strings.Repeat("word ", 100)
	chunks := splitMessage(long, 50)
	require.GreaterOrEqual(t, len(chunks), 2)
	for i, c := range chunks {
		assert.LessOrEqual(t, len(c), 50, "chunk %d", i)
	}
	assert.Equal(t, long, strings.Join(chunks, ""))
}

func TestSplitMessage_KeepsRunesWhole(t *testing.T) {
	long := strings.Repeat("ä", 30) // 60 bytes
	for _, c := range splitMessage(long, 25) {
		require.True(t, strings.HasPrefix(c, "ä") && len(c)%2 == 0, "chunk split a rune: %q", c)
	}
}

func TestWebhookHandler_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		method string
		body   string
		secret string
		sig    string
		want   int
	}{
		{"method", http.MethodGet, "", "", "", http.StatusMethodNotAllowed},
		{"empty text", http.MethodPost, `{"address":"1","text":""}`, "", "", http.StatusBadRequest},
		{"invalid json", http.MethodPost, "not json", "", "", http.StatusBadRequest},
		{"missing signature", http.MethodPost, `{"text":"hello"}`, "my-secret", "", http.StatusUnauthorized},
		{"bad signature", http.MethodPost, `{"text":"hello"}`, "my-secret", "sha256=invalid", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inbox := newRecordingInbox()
			w := NewWebhook(WebhookConfig{Secret: tt.secret, Inbox: inbox, Logger: testLogger()})
			req := httptest.NewRequest(tt.method, "/inbound", bytes.NewBufferString(tt.body))
			if tt.sig != "" {
				req.Header.Set("X-Signature-256", tt.sig)
			}
			rr := httptest.NewRecorder()

			w.ServeHTTP(rr, req)
			assert.Equal(t, tt.want, rr.Code)
			assert.Empty(t, inbox.all())
		})
	}
}

func TestWebhookHandler_DeliversSignedMessage(t *testing.T) {
	inbox := newRecordingInbox()
	w := NewWebhook(WebhookConfig{Secret: "s", Inbox: inbox, Logger: testLogger()})
	body := []byte(`{"address":"+358401234567","external_id":"e1","text":"Hi","role":"agent"}`)
	req := httptest.NewRequest(http.MethodPost, "/inbound", bytes.NewReader(body))
	req.Header.Set("X-Signature-256", sign("s", body))
	rr := httptest.NewRecorder()

	w.ServeHTTP(rr, req)
	require.Equal(t, http.StatusAccepted, rr.Code)
	msgs := inbox.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "webhook", msgs[0].Channel)
	assert.Equal(t, "e1", msgs[0].ExternalID)
	assert.Equal(t, domain.RoleAgent, msgs[0].Role)
}

func TestWebhookHandler_DeliverError(t *testing.T) {
	inbox := newRecordingInbox()
	inbox.err = errors.New("no key")
	w := NewWebhook(WebhookConfig{Inbox: inbox, Logger: testLogger()})
	rr := httptest.NewRecorder()

	w.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/inbound", bytes.NewBufferString(`{"address":"x","text":"hi"}`)))
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}
