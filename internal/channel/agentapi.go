package channel

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"frontdesk/internal/domain"
)

const (
	agentAPIMaxBodySize = 1 << 20
	agentAPIMaxLimit    = 200
)

// Desk is the operator-facing side of the conversation engine.
type Desk interface {
	Conversations(ctx context.Context, filter domain.ConversationFilter) ([]domain.Conversation, error)
	Conversation(ctx context.Context, id string) (*domain.Conversation, error)
	Messages(ctx context.Context, id string, limit int) ([]domain.Message, error)
	// AgentReply records an AGENT message, then sends it. A transport
	// rejection is reported with domain.ErrSendFailed after the message is
	// stored.
	AgentReply(ctx context.Context, id, text string) (*domain.Message, error)
	SetStatus(ctx context.Context, id string, status domain.Status) (*domain.Conversation, error)
}

// AgentAPI exposes the operator console over HTTP.
type AgentAPI struct {
	desk   Desk
	apiKey string
	logger *slog.Logger
	mux    *http.ServeMux
}

type AgentAPIConfig struct {
	Desk   Desk
	APIKey string // empty disables authentication
	Logger *slog.Logger
}

func NewAgentAPI(cfg AgentAPIConfig) *AgentAPI {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	a := &AgentAPI{desk: cfg.Desk, apiKey: cfg.APIKey, logger: cfg.Logger, mux: http.NewServeMux()}
	a.mux.HandleFunc("GET /agent/conversations", a.handleList)
	a.mux.HandleFunc("GET /agent/conversations/{id}", a.handleGet)
	a.mux.HandleFunc("GET /agent/conversations/{id}/messages", a.handleMessages)
	a.mux.HandleFunc("POST /agent/conversations/{id}/reply", a.handleReply)
	a.mux.HandleFunc("POST /agent/conversations/{id}/status", a.handleStatus)
	return a
}

// Handler returns the authenticated handler for /agent/ routes.
func (a *AgentAPI) Handler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if !a.authorized(r) {
			writeJSON(rw, http.StatusUnauthorized, map[string]string{"error": "invalid API key"})
			return
		}
		a.mux.ServeHTTP(rw, r)
	})
}

func (a *AgentAPI) authorized(r *http.Request) bool {
	if a.apiKey == "" {
		return true
	}
	key := r.Header.Get("X-Agent-Key")
	if key == "" {
		key = r.Header.Get("X-API-Key")
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(a.apiKey)) == 1
}

func (a *AgentAPI) handleList(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.ConversationFilter{
		Status: domain.Status(strings.ToUpper(q.Get("status"))),
		Limit:  queryInt(q.Get("limit"), 50),
		Offset: queryInt(q.Get("offset"), 0),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "status must be AUTO or HUMAN"})
		return
	}
	filter.Limit = min(max(filter.Limit, 1), agentAPIMaxLimit)
	filter.Offset = max(filter.Offset, 0)

	convs, err := a.desk.Conversations(r.Context(), filter)
	if err != nil {
		a.fail(rw, "list conversations", err)
		return
	}
	if convs == nil {
		convs = []domain.Conversation{}
	}
	writeJSON(rw, http.StatusOK, map[string]any{
		"conversations": convs,
		"limit":         filter.Limit,
		"offset":        filter.Offset,
	})
}

func (a *AgentAPI) handleGet(rw http.ResponseWriter, r *http.Request) {
	conv, err := a.desk.Conversation(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(rw, "get conversation", err)
		return
	}
	writeJSON(rw, http.StatusOK, conv)
}

func (a *AgentAPI) handleMessages(rw http.ResponseWriter, r *http.Request) {
	limit := min(max(queryInt(r.URL.Query().Get("limit"), 100), 1), 500)
	msgs, err := a.desk.Messages(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		a.fail(rw, "list messages", err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	writeJSON(rw, http.StatusOK, map[string]any{"messages": msgs})
}

func (a *AgentAPI) handleReply(rw http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if !decodeBody(rw, r, &body) {
		return
	}
	text := strings.TrimSpace(body.Text)
	if text == "" {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "text is required"})
		return
	}

	msg, err := a.desk.AgentReply(r.Context(), r.PathValue("id"), text)
	switch {
	case errors.Is(err, domain.ErrSendFailed):
		a.logger.Warn("agent reply stored but not delivered", "conversation", r.PathValue("id"), "err", err)
		writeJSON(rw, http.StatusBadGateway, map[string]any{"error": "send failed", "message": msg})
	case err != nil:
		a.fail(rw, "agent reply", err)
	default:
		writeJSON(rw, http.StatusAccepted, map[string]any{"status": "sent", "message": msg})
	}
}

func (a *AgentAPI) handleStatus(rw http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if !decodeBody(rw, r, &body) {
		return
	}
	status := domain.Status(strings.ToUpper(strings.TrimSpace(body.Status)))
	if !status.Valid() {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "status must be AUTO or HUMAN"})
		return
	}
	conv, err := a.desk.SetStatus(r.Context(), r.PathValue("id"), status)
	if err != nil {
		a.fail(rw, "set status", err)
		return
	}
	writeJSON(rw, http.StatusOK, conv)
}

func (a *AgentAPI) fail(rw http.ResponseWriter, op string, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(rw, http.StatusNotFound, map[string]string{"error": "conversation not found"})
		return
	}
	a.logger.Error("agent api error", "op", op, "err", err)
	writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func decodeBody(rw http.ResponseWriter, r *http.Request, v any) bool {
	data, err := io.ReadAll(io.LimitReader(r.Body, agentAPIMaxBodySize))
	if err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "bad request"})
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return false
	}
	return true
}

func writeJSON(rw http.ResponseWriter, code int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)
	_ = json.NewEncoder(rw).Encode(v)
}

func queryInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
