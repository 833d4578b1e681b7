package channel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frontdesk/internal/domain"
)

// echoInbox replies through the web chat to every delivered message.
type echoInbox struct {
	*recordingInbox
	chat *WebChat
}

func (e echoInbox) Deliver(ctx context.Context, msg domain.InboundMessage) error {
	if err := e.recordingInbox.Deliver(ctx, msg); err != nil {
		return err
	}
	return e.chat.Send(ctx, msg.Address, "echo: "+msg.Text)
}

func dialWebChat(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) WebChatFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f WebChatFrame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestWebChat_RoundTrip(t *testing.T) {
	chat := NewWebChat(WebChatConfig{Logger: testLogger()})
	inbox := echoInbox{recordingInbox: newRecordingInbox(), chat: chat}
	require.NoError(t, chat.Start(t.Context(), inbox))

	srv := httptest.NewServer(chat)
	defer srv.Close()

	conn := dialWebChat(t, srv, "?visitor=v-42")
	assert.Equal(t, "status", readFrame(t, conn).Type)

	require.NoError(t, conn.WriteJSON(WebChatFrame{Type: "message", ID: "m1", Text: "How long is the tour?"}))
	reply := readFrame(t, conn)
	assert.Equal(t, "reply", reply.Type)
	assert.Equal(t, "echo: How long is the tour?", reply.Text)

	msgs := inbox.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "webchat", msgs[0].Channel)
	assert.Equal(t, "web:v-42", msgs[0].Address)
	assert.Equal(t, "web:v-42:m1", msgs[0].ExternalID)
	assert.Equal(t, domain.RoleCustomer, msgs[0].Role)
}

func TestWebChat_ReplyReachesEveryTab(t *testing.T) {
	chat := NewWebChat(WebChatConfig{Logger: testLogger()})
	require.NoError(t, chat.Start(t.Context(), newRecordingInbox()))
	srv := httptest.NewServer(chat)
	defer srv.Close()

	tabs := []*websocket.Conn{dialWebChat(t, srv, "?visitor=v1"), dialWebChat(t, srv, "?visitor=v1")}
	for _, c := range tabs {
		readFrame(t, c)
	}

	require.NoError(t, chat.Send(t.Context(), "web:v1", "An agent will reply shortly."))
	for _, c := range tabs {
		assert.Equal(t, "An agent will reply shortly.", readFrame(t, c).Text)
	}
}

func TestWebChat_SendWithoutConnectionFails(t *testing.T) {
	chat := NewWebChat(WebChatConfig{Logger: testLogger()})
	assert.ErrorIs(t, chat.Send(t.Context(), "web:gone", "hi"), domain.ErrSendFailed)
}

func TestWebChat_RejectsBadRequests(t *testing.T) {
	chat := NewWebChat(WebChatConfig{AllowedOrigins: []string{"https://shop.example"}, Logger: testLogger()})

	rec := httptest.NewRecorder()
	chat.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat?visitor=v1", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	require.NoError(t, chat.Start(t.Context(), newRecordingInbox()))
	rec = httptest.NewRecorder()
	chat.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	srv := httptest.NewServer(chat)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat?visitor=v1"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
