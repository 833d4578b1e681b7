package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"frontdesk/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDesk struct {
	convs      map[string]*domain.Conversation
	msgs       map[string][]domain.Message
	sendErr    error
	lastFilter domain.ConversationFilter
}

func newFakeDesk() *fakeDesk {
	return &fakeDesk{
		convs: map[string]*domain.Conversation{
			"c1": {ID: "c1", Key: "358401234567", Status: domain.StatusAuto},
		},
		msgs: map[string][]domain.Message{
			"c1": {{ID: "m1", ConversationID: "c1", Role: domain.RoleCustomer, Text: "hi"}},
		},
	}
}

func (d *fakeDesk) Conversations(_ context.Context, f domain.ConversationFilter) ([]domain.Conversation, error) {
	d.lastFilter = f
	var out []domain.Conversation
	for _, c := range d.convs {
		if f.Status == "" || c.Status == f.Status {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (d *fakeDesk) Conversation(_ context.Context, id string) (*domain.Conversation, error) {
	c, ok := d.convs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return c, nil
}

func (d *fakeDesk) Messages(_ context.Context, id string, _ int) ([]domain.Message, error) {
	if _, ok := d.convs[id]; !ok {
		return nil, domain.ErrNotFound
	}
	return d.msgs[id], nil
}

func (d *fakeDesk) AgentReply(_ context.Context, id, text string) (*domain.Message, error) {
	c, ok := d.convs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c.TakeOver(time.Now())
	m := domain.Message{ID: "m2", ConversationID: id, Role: domain.RoleAgent, Text: text}
	d.msgs[id] = append(d.msgs[id], m)
	if d.sendErr != nil {
		return &m, d.sendErr
	}
	return &m, nil
}

func (d *fakeDesk) SetStatus(_ context.Context, id string, s domain.Status) (*domain.Conversation, error) {
	c, ok := d.convs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c.Status = s
	return c, nil
}

func doAgent(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestAgentAPI_Auth(t *testing.T) {
	api := NewAgentAPI(AgentAPIConfig{Desk: newFakeDesk(), APIKey: "k", Logger: testLogger()})
	h := api.Handler()

	assert.Equal(t, http.StatusUnauthorized, doAgent(t, h, "GET", "/agent/conversations", "").Code)
	assert.Equal(t, http.StatusOK, doAgent(t, h, "GET", "/agent/conversations", "", "X-Agent-Key", "k").Code)
	assert.Equal(t, http.StatusOK, doAgent(t, h, "GET", "/agent/conversations", "", "X-API-Key", "k").Code)
	assert.Equal(t, http.StatusUnauthorized, doAgent(t, h, "GET", "/agent/conversations", "", "X-API-Key", "nope").Code)
}

func TestAgentAPI_ListClampsAndFilters(t *testing.T) {
	desk := newFakeDesk()
	h := NewAgentAPI(AgentAPIConfig{Desk: desk, Logger: testLogger()}).Handler()

	rr := doAgent(t, h, "GET", "/agent/conversations?status=auto&limit=1000&offset=-3", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, domain.StatusAuto, desk.lastFilter.Status)
	assert.Equal(t, 200, desk.lastFilter.Limit)
	assert.Equal(t, 0, desk.lastFilter.Offset)

	var body struct {
		Conversations []domain.Conversation `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Len(t, body.Conversations, 1)

	assert.Equal(t, http.StatusBadRequest, doAgent(t, h, "GET", "/agent/conversations?status=closed", "").Code)
}

func TestAgentAPI_MessagesAndNotFound(t *testing.T) {
	h := NewAgentAPI(AgentAPIConfig{Desk: newFakeDesk(), Logger: testLogger()}).Handler()

	rr := doAgent(t, h, "GET", "/agent/conversations/c1/messages", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"text":"hi"`)

	assert.Equal(t, http.StatusNotFound, doAgent(t, h, "GET", "/agent/conversations/nope/messages", "").Code)
	assert.Equal(t, http.StatusNotFound, doAgent(t, h, "GET", "/agent/conversations/nope", "").Code)
}

func TestAgentAPI_Reply(t *testing.T) {
	desk := newFakeDesk()
	h := NewAgentAPI(AgentAPIConfig{Desk: desk, Logger: testLogger()}).Handler()

	rr := doAgent(t, h, "POST", "/agent/conversations/c1/reply", `{"text":"On it"}`)
	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, domain.StatusHuman, desk.convs["c1"].Status)

	assert.Equal(t, http.StatusBadRequest, doAgent(t, h, "POST", "/agent/conversations/c1/reply", `{"text":"  "}`).Code)
	assert.Equal(t, http.StatusBadRequest, doAgent(t, h, "POST", "/agent/conversations/c1/reply", `nope`).Code)
}

func TestAgentAPI_ReplySendFailureIs502(t *testing.T) {
	desk := newFakeDesk()
	desk.sendErr = fmt.Errorf("%w: whatsapp API 500", domain.ErrSendFailed)
	h := NewAgentAPI(AgentAPIConfig{Desk: desk, Logger: testLogger()}).Handler()

	rr := doAgent(t, h, "POST", "/agent/conversations/c1/reply", `{"text":"On it"}`)
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Len(t, desk.msgs["c1"], 2, "message is stored even when sending fails")
}

func TestAgentAPI_Status(t *testing.T) {
	desk := newFakeDesk()
	h := NewAgentAPI(AgentAPIConfig{Desk: desk, Logger: testLogger()}).Handler()

	rr := doAgent(t, h, "POST", "/agent/conversations/c1/status", `{"status":"human"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, domain.StatusHuman, desk.convs["c1"].Status)

	assert.Equal(t, http.StatusBadRequest, doAgent(t, h, "POST", "/agent/conversations/c1/status", `{"status":"paused"}`).Code)
	assert.Equal(t, http.StatusNotFound, doAgent(t, h, "POST", "/agent/conversations/zz/status", `{"status":"AUTO"}`).Code)
}
