package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"frontdesk/internal/config"
	"frontdesk/internal/domain"
)

const (
	whatsappAPIBase        = "https://graph.facebook.com"
	whatsappMaxMsgLen      = 4096
	whatsappMaxSendRetries = 2
	whatsappMaxBodySize    = 1 << 20

	// Coexistence echoes of replies typed in the WhatsApp Business app.
	whatsappEchoField = "smb_message_echoes"
)

// WhatsApp implements domain.Channel for the WhatsApp Business Cloud API.
// Inbound traffic arrives on the webhook Handler; Start only binds the inbox.
type WhatsApp struct {
	cfg     config.WhatsAppConfig
	apiBase string
	inbox   domain.Inbox
	logger  *slog.Logger
	client  *http.Client
	mux     *http.ServeMux
	wg      sync.WaitGroup
	ctx     context.Context
}

type WhatsAppChannelConfig struct {
	Config     config.WhatsAppConfig
	APIBase    string // override for tests
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewWhatsApp(cfg WhatsAppChannelConfig) *WhatsApp {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.APIBase == "" {
		cfg.APIBase = whatsappAPIBase
	}
	if cfg.Config.APIVersion == "" {
		cfg.Config.APIVersion = "v21.0"
	}
	if cfg.Config.WebhookPath == "" {
		cfg.Config.WebhookPath = "/webhook"
	}
	w := &WhatsApp{
		cfg:     cfg.Config,
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		logger:  cfg.Logger,
		client:  cfg.HTTPClient,
		ctx:     context.Background(),
	}
	w.mux = http.NewServeMux()
	w.mux.HandleFunc("GET "+w.cfg.WebhookPath, w.handleVerification)
	w.mux.HandleFunc("POST "+w.cfg.WebhookPath, w.handleIncoming)
	return w
}

func (w *WhatsApp) Name() string { return "whatsapp" }

// Path is the webhook path the Handler serves.
func (w *WhatsApp) Path() string { return w.cfg.WebhookPath }

// DryRun reports whether outbound messages are only logged.
func (w *WhatsApp) DryRun() bool {
	return w.cfg.DryRun || w.cfg.AccessToken == "" || w.cfg.PhoneNumberID == ""
}

func (w *WhatsApp) Start(ctx context.Context, inbox domain.Inbox) error {
	w.inbox = inbox
	w.ctx = ctx
	w.logger.Info("whatsapp channel ready", "webhook", w.cfg.WebhookPath, "dry_run", w.DryRun())
	return nil
}

// Stop waits for in-flight webhook deliveries.
func (w *WhatsApp) Stop() error {
	w.wg.Wait()
	return nil
}

// Handler returns the HTTP handler for the webhook (mounted on the main mux).
func (w *WhatsApp) Handler() http.Handler { return w.mux }

// --- Webhook handlers ---

func (w *WhatsApp) handleVerification(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode == "subscribe" && w.cfg.VerifyToken != "" &&
		hmac.Equal([]byte(token), []byte(w.cfg.VerifyToken)) {
		w.logger.Info("whatsapp webhook verified")
		rw.Header().Set("Content-Type", "text/plain")
		rw.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(rw, challenge)
		return
	}

	w.logger.Warn("whatsapp webhook verification failed", "mode", mode)
	http.Error(rw, "Forbidden", http.StatusForbidden)
}

// handleIncoming acknowledges the webhook first, then hands each message to
// the inbox in the background.
func (w *WhatsApp) handleIncoming(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, whatsappMaxBodySize))
	if err != nil {
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}

	if w.cfg.AppSecret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if !verifyHMAC(body, w.cfg.AppSecret, sig) {
			w.logger.Warn("whatsapp invalid signature")
			http.Error(rw, "Forbidden", http.StatusForbidden)
			return
		}
	}

	var payload waPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		w.logger.Warn("whatsapp bad payload", "err", err)
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}

	msgs := payload.inbound()
	rw.WriteHeader(http.StatusOK)

	if w.inbox == nil || len(msgs) == 0 {
		return
	}
	ctx := context.WithoutCancel(w.ctx)
	w.wg.Go(func() {
		for _, m := range msgs {
			if err := w.inbox.Deliver(ctx, m); err != nil {
				w.logger.Error("whatsapp deliver failed", "external_id", m.ExternalID, "err", err)
			}
		}
	})
}

// verifyHMAC verifies an "sha256=<hex>" HMAC-SHA256 signature of body.
func verifyHMAC(body []byte, secret, signature string) bool {
	if !strings.HasPrefix(signature, "sha256=") {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// --- Outbound ---

// Send delivers text to a WhatsApp number, splitting long replies. In dry-run
// mode the message is only logged.
func (w *WhatsApp) Send(ctx context.Context, to, text string) error {
	if w.DryRun() {
		w.logger.Info("whatsapp dry-run send", "to", to, "text_len", len(text), "text", text)
		return nil
	}
	for _, chunk := range splitMessage(text, whatsappMaxMsgLen) {
		if err := w.sendChunk(ctx, to, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (w *WhatsApp) sendChunk(ctx context.Context, to, text string) error {
	var lastErr error
	for attempt := 0; attempt <= whatsappMaxSendRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 500 * time.Millisecond
			w.logger.Warn("whatsapp send error, retrying", "err", lastErr, "backoff", backoff)
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %w", domain.ErrSendFailed, ctx.Err())
			case <-time.After(backoff):
			}
		}
		retry, err := w.post(ctx, to, text)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return fmt.Errorf("%w: %w", domain.ErrSendFailed, lastErr)
}

// post performs one API call and reports whether a failure is worth retrying.
func (w *WhatsApp) post(ctx context.Context, to, text string) (bool, error) {
	url := fmt.Sprintf("%s/%s/%s/messages", w.apiBase, w.cfg.APIVersion, w.cfg.PhoneNumberID)

	body, err := json.Marshal(map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "text",
		"text":              map[string]any{"preview_url": false, "body": text},
	})
	if err != nil {
		return false, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.cfg.AccessToken)

	resp, err := w.client.Do(req)
	if err != nil {
		return ctx.Err() == nil, fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		retry := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return retry, fmt.Errorf("whatsapp API %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return false, nil
}

// --- WhatsApp webhook payload types ---

type waPayload struct {
	Object string    `json:"object"`
	Entry  []waEntry `json:"entry"`
}

type waEntry struct {
	ID      string     `json:"id"`
	Changes []waChange `json:"changes"`
}

type waChange struct {
	Value waValue `json:"value"`
	Field string  `json:"field"`
}

type waValue struct {
	MessagingProduct string      `json:"messaging_product"`
	Messages         []waMessage `json:"messages"`
	MessageEchoes    []waMessage `json:"message_echoes"`
}

type waMessage struct {
	From      string  `json:"from"`
	To        string  `json:"to,omitempty"`
	ID        string  `json:"id"`
	Timestamp string  `json:"timestamp"`
	Type      string  `json:"type"`
	Text      *waText `json:"text,omitempty"`
}

type waText struct {
	Body string `json:"body"`
}

// inbound flattens the payload into transport-neutral messages. Echoes of
// replies typed in the business app come first as AGENT messages addressed
// to their recipient, so a takeover is recorded before the customer
// messages of the same delivery are considered.
func (p waPayload) inbound() []domain.InboundMessage {
	var out []domain.InboundMessage
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			if change.Field != whatsappEchoField {
				continue
			}
			for _, m := range change.Value.MessageEchoes {
				out = append(out, m.toInbound(m.To, domain.RoleAgent))
			}
		}
	}
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			for _, m := range change.Value.Messages {
				out = append(out, m.toInbound(m.From, domain.RoleCustomer))
			}
		}
	}
	return out
}

func (m waMessage) toInbound(address string, role domain.Role) domain.InboundMessage {
	msg := domain.InboundMessage{
		Channel:    "whatsapp",
		Address:    address,
		ExternalID: m.ID,
		Type:       m.Type,
		Role:       role,
		Timestamp:  time.Now(),
	}
	if m.Text != nil {
		msg.Text = m.Text.Body
	}
	if sec, err := strconv.ParseInt(m.Timestamp, 10, 64); err == nil && sec > 0 {
		msg.Timestamp = time.Unix(sec, 0)
	}
	return msg
}
