package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"frontdesk/internal/domain"
)

const webChatWriteTimeout = 10 * time.Second

// WebChatFrame is the JSON protocol spoken with the website widget.
type WebChatFrame struct {
	Type string `json:"type"` // "message" | "reply" | "status"
	ID   string `json:"id,omitempty"`
	Text string `json:"text,omitempty"`
}

type WebChatConfig struct {
	Path           string   // default "/chat"
	AllowedOrigins []string // empty: same-origin only
	Logger         *slog.Logger
}

// WebChat is a website chat widget channel over WebSocket. Each browser
// identifies itself with a stable visitor id; several tabs of one visitor
// share a conversation and all receive replies.
type WebChat struct {
	path     string
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.RWMutex
	inbox   domain.Inbox
	ctx     context.Context
	clients map[string][]*wsClient // by address
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func NewWebChat(cfg WebChatConfig) *WebChat {
	if cfg.Path == "" {
		cfg.Path = "/chat"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	w := &WebChat{
		path:    cfg.Path,
		logger:  cfg.Logger,
		ctx:     context.Background(),
		clients: make(map[string][]*wsClient),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	if len(cfg.AllowedOrigins) > 0 {
		allowed := cfg.AllowedOrigins
		w.upgrader.CheckOrigin = func(r *http.Request) bool {
			return slices.Contains(allowed, r.Header.Get("Origin"))
		}
	}
	return w
}

func (w *WebChat) Name() string { return "webchat" }

func (w *WebChat) Path() string { return w.path }

// Start registers the inbox; connections are served by Handler on the
// shared HTTP server.
func (w *WebChat) Start(ctx context.Context, inbox domain.Inbox) error {
	w.mu.Lock()
	w.inbox, w.ctx = inbox, ctx
	w.mu.Unlock()
	return nil
}

// Stop closes every open connection.
func (w *WebChat) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for addr, cs := range w.clients {
		for _, c := range cs {
			c.conn.Close()
		}
		delete(w.clients, addr)
	}
	return nil
}

// ServeHTTP upgrades GET <path>?visitor=<id> and reads frames until the
// browser disconnects.
func (w *WebChat) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	visitor := strings.TrimSpace(r.URL.Query().Get("visitor"))
	if visitor == "" || len(visitor) > 64 {
		http.Error(rw, "visitor id required", http.StatusBadRequest)
		return
	}
	w.mu.RLock()
	inbox, ctx := w.inbox, w.ctx
	w.mu.RUnlock()
	if inbox == nil {
		http.Error(rw, "chat not started", http.StatusServiceUnavailable)
		return
	}

	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.logger.Warn("webchat upgrade failed", "err", err)
		return
	}
	address := "web:" + visitor
	client := &wsClient{conn: conn}
	w.add(address, client)
	defer w.remove(address, client)

	w.logger.Debug("webchat client connected", "address", address)
	_ = client.write(WebChatFrame{Type: "status", Text: "connected"})

	conn.SetReadLimit(16 << 10)
	for {
		var frame WebChatFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				w.logger.Warn("webchat read failed", "address", address, "err", err)
			}
			return
		}
		if frame.Type != "message" || strings.TrimSpace(frame.Text) == "" {
			continue
		}
		id := frame.ID
		if id == "" {
			id = uuid.NewString()
		}
		msg := domain.InboundMessage{
			Channel:    "webchat",
			Address:    address,
			ExternalID: address + ":" + id,
			Text:       frame.Text,
			Type:       "text",
			Role:       domain.RoleCustomer,
			Timestamp:  time.Now(),
		}
		if err := inbox.Deliver(ctx, msg); err != nil {
			w.logger.Error("webchat deliver failed", "external_id", msg.ExternalID, "err", err)
		}
	}
}

func (w *WebChat) add(address string, c *wsClient) {
	w.mu.Lock()
	w.clients[address] = append(w.clients[address], c)
	w.mu.Unlock()
}

func (w *WebChat) remove(address string, c *wsClient) {
	w.mu.Lock()
	cs := slices.DeleteFunc(w.clients[address], func(x *wsClient) bool { return x == c })
	if len(cs) == 0 {
		delete(w.clients, address)
	} else {
		w.clients[address] = cs
	}
	w.mu.Unlock()
	c.conn.Close()
	w.logger.Debug("webchat client disconnected", "address", address)
}

// Send writes a reply frame to every open tab of the visitor. It fails
// when none is connected.
func (w *WebChat) Send(_ context.Context, address, text string) error {
	w.mu.RLock()
	cs := slices.Clone(w.clients[address])
	w.mu.RUnlock()
	if len(cs) == 0 {
		return fmt.Errorf("%w: no open webchat connection for %s", domain.ErrSendFailed, address)
	}
	delivered := 0
	for _, c := range cs {
		if err := c.write(WebChatFrame{Type: "reply", Text: text}); err != nil {
			w.logger.Debug("webchat write failed", "address", address, "err", err)
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return fmt.Errorf("%w: webchat write failed for %s", domain.ErrSendFailed, address)
	}
	return nil
}

func (c *wsClient) write(f WebChatFrame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(webChatWriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
