package channel

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"frontdesk/internal/domain"
)

// Webhook accepts generic JSON inbound events for integrations and scripted
// testing. It shares the inbox with the real transports.
type Webhook struct {
	path   string
	secret string
	inbox  domain.Inbox
	logger *slog.Logger
}

// WebhookConfig configures the webhook handler.
type WebhookConfig struct {
	Path   string // webhook URL path (default: /inbound)
	Secret string // HMAC secret for verifying webhook signatures
	Inbox  domain.Inbox
	Logger *slog.Logger
}

// WebhookPayload is the expected JSON body for webhook requests.
type WebhookPayload struct {
	Channel    string `json:"channel"`     // source channel identifier
	Address    string `json:"address"`     // customer address, e.g. a phone number
	ExternalID string `json:"external_id"` // idempotency key
	Text       string `json:"text"`
	Role       string `json:"role"` // "customer" (default) or "agent"
}

// NewWebhook creates a new webhook channel handler.
func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Path == "" {
		cfg.Path = "/inbound"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Webhook{
		path:   cfg.Path,
		secret: cfg.Secret,
		inbox:  cfg.Inbox,
		logger: cfg.Logger,
	}
}

func (w *Webhook) Path() string { return w.path }

// ServeHTTP processes the event synchronously and answers 202 once the
// pipeline has run.
func (w *Webhook) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB max
	if err != nil {
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if w.secret != "" {
		sig := r.Header.Get("X-Signature-256")
		if sig == "" {
			http.Error(rw, "Missing signature", http.StatusUnauthorized)
			return
		}
		if !verifyHMAC(body, w.secret, sig) {
			http.Error(rw, "Invalid signature", http.StatusForbidden)
			return
		}
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(rw, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(payload.Text) == "" {
		http.Error(rw, "text is required", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(payload.Address) == "" {
		http.Error(rw, "address is required", http.StatusBadRequest)
		return
	}
	if payload.Channel == "" {
		payload.Channel = "webhook"
	}
	role := domain.RoleCustomer
	if strings.EqualFold(payload.Role, "agent") {
		role = domain.RoleAgent
	}

	w.logger.Info("webhook received",
		"channel", payload.Channel,
		"external_id", payload.ExternalID,
		"role", role,
		"text_len", len(payload.Text),
	)

	err = w.inbox.Deliver(r.Context(), domain.InboundMessage{
		Channel:    payload.Channel,
		Address:    payload.Address,
		ExternalID: payload.ExternalID,
		Text:       payload.Text,
		Type:       "text",
		Role:       role,
		Timestamp:  time.Now(),
	})
	if err != nil {
		w.logger.Warn("webhook deliver failed", "err", err)
		writeJSON(rw, http.StatusUnprocessableEntity, map[string]string{"status": "rejected", "error": err.Error()})
		return
	}
	writeJSON(rw, http.StatusAccepted, map[string]string{"status": "accepted"})
}
