package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/funsideprojects/open-network-backend/notify"
	"github.com/funsideprojects/open-network-backend/presence"
	"github.com/funsideprojects/open-network-backend/token"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	// The client must send connection_init within this window.
	initWait = 15 * time.Second
)

// Subscription socket message types, graphql-transport-ws style.
const (
	msgConnectionInit  = "connection_init"
	msgConnectionAck   = "connection_ack"
	msgConnectionError = "connection_error"
	msgSubscribe       = "subscribe"
	msgNext            = "next"
	msgError           = "error"
	msgComplete        = "complete"
)

// Streams a client can subscribe to.
const (
	StreamNotificationUpdated = "notificationUpdated"
	StreamIsUserOnline        = "isUserOnline"
)

type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type initPayload struct {
	Authorization string `json:"authorization"`
	Device        string `json:"device"`
}

type subscribePayload struct {
	Stream string `json:"stream"`
	UserID string `json:"userId,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// SocketHandler serves the subscription websocket: it runs the token
// handshake, feeds connects/disconnects into the presence coordinator, and
// pumps bus events to the client.
type SocketHandler struct {
	Tokens   *token.Service
	Presence *presence.Coordinator
	Notifier *notify.Notifier

	upgrader websocket.Upgrader
}

func NewSocketHandler(tokens *token.Service, coordinator *presence.Coordinator, notifier *notify.Notifier) *SocketHandler {
	return &SocketHandler{
		Tokens:   tokens,
		Presence: coordinator,
		Notifier: notifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *SocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		h:       h,
		ws:      ws,
		send:    make(chan []byte, 64),
		streams: make(map[string]context.CancelFunc),
	}
	c.run()
}

// client is one subscription socket. authUser and connID stay zero until the
// handshake completes; the disconnect path tolerates both.
type client struct {
	h    *SocketHandler
	ws   *websocket.Conn
	send chan []byte

	authUser *token.UserData
	connID   string

	// writeMu serializes the pump's writes with the synchronous handshake
	// failure path.
	writeMu sync.Mutex

	mu      sync.Mutex
	streams map[string]context.CancelFunc
}

func (c *client) run() {
	ctx, cancel := context.WithCancel(context.Background())

	go c.writePump(cancel)
	c.readLoop(ctx)

	cancel()
	// The socket is gone; disconnect bookkeeping runs on a fresh context.
	if c.authUser != nil {
		c.h.Presence.Disconnect(context.Background(), c.authUser.ID, c.connID)
	}
}

func (c *client) readLoop(ctx context.Context) {
	defer c.ws.Close()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(initWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	initialized := false
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Warn("Websocket read error", "error", err)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("", "invalid message")
			continue
		}

		switch msg.Type {
		case msgConnectionInit:
			if initialized {
				continue
			}
			if !c.handleInit(ctx, msg.Payload) {
				return
			}
			initialized = true
			c.ws.SetReadDeadline(time.Now().Add(pongWait))

		case msgSubscribe:
			if !initialized {
				c.sendError(msg.ID, "connection not initialized")
				continue
			}
			c.handleSubscribe(ctx, msg)

		case msgComplete:
			c.stopStream(msg.ID)
		}
	}
}

// handleInit runs the token handshake. A missing token yields an anonymous
// connection; a present-but-invalid token fails the handshake outright.
func (c *client) handleInit(ctx context.Context, raw json.RawMessage) bool {
	var p initPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			c.writeDirect(wsMessage{Type: msgConnectionError, Payload: mustJSON(errorPayload{Message: "invalid payload"})})
			return false
		}
	}

	if p.Authorization != "" {
		user, ok := c.h.Tokens.Verify(token.PurposeAccess, p.Authorization)
		if !ok {
			c.writeDirect(wsMessage{Type: msgConnectionError, Payload: mustJSON(errorPayload{Message: "Unauthenticated"})})
			return false
		}

		connID, err := c.h.Presence.Connect(ctx, user.ID, p.Device)
		if err != nil {
			slog.Error("Presence connect failed", "user", user.ID, "error", err)
			c.writeDirect(wsMessage{Type: msgConnectionError, Payload: mustJSON(errorPayload{Message: "connection failed, retry"})})
			return false
		}
		c.authUser = user
		c.connID = connID
		slog.Debug("User connected", "user", user.ID, "connId", connID)
	}

	c.sendMessage(wsMessage{Type: msgConnectionAck})
	return true
}

func (c *client) handleSubscribe(ctx context.Context, msg wsMessage) {
	if msg.ID == "" {
		c.sendError("", "subscription id required")
		return
	}

	var p subscribePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		c.sendError(msg.ID, "invalid payload")
		return
	}

	c.mu.Lock()
	if _, exists := c.streams[msg.ID]; exists {
		c.mu.Unlock()
		c.sendError(msg.ID, "subscription id already in use")
		return
	}
	subCtx, cancel := context.WithCancel(ctx)
	c.streams[msg.ID] = cancel
	c.mu.Unlock()

	switch p.Stream {
	case StreamNotificationUpdated:
		if c.authUser == nil {
			c.stopStream(msg.ID)
			c.sendError(msg.ID, "Unauthenticated")
			return
		}
		deliveries := c.h.Notifier.Subscribe(subCtx, c.authUser.ID)
		go func() {
			for d := range deliveries {
				c.sendNext(msg.ID, d)
			}
			c.sendMessage(wsMessage{ID: msg.ID, Type: msgComplete})
		}()

	case StreamIsUserOnline:
		if p.UserID == "" {
			c.stopStream(msg.ID)
			c.sendError(msg.ID, "userId required")
			return
		}
		events := c.h.Presence.Watch(subCtx, p.UserID)
		go func() {
			for evt := range events {
				c.sendNext(msg.ID, evt)
			}
			c.sendMessage(wsMessage{ID: msg.ID, Type: msgComplete})
		}()

	default:
		c.stopStream(msg.ID)
		c.sendError(msg.ID, "unknown stream")
	}
}

func (c *client) stopStream(id string) {
	c.mu.Lock()
	if cancel, ok := c.streams[id]; ok {
		cancel()
		delete(c.streams, id)
	}
	c.mu.Unlock()
}

func (c *client) sendNext(id string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("Failed to marshal subscription payload", "error", err)
		return
	}
	c.sendMessage(wsMessage{ID: id, Type: msgNext, Payload: raw})
}

func (c *client) sendError(id, message string) {
	c.sendMessage(wsMessage{ID: id, Type: msgError, Payload: mustJSON(errorPayload{Message: message})})
}

func (c *client) sendMessage(msg wsMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		slog.Warn("Dropping message for slow websocket client")
	}
}

// writeDirect bypasses the send queue so a handshake error reaches the client
// before the socket is torn down.
func (c *client) writeDirect(msg wsMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *client) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(messageType, data)
}

func (c *client) writePump(cancel context.CancelFunc) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
		c.ws.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				c.write(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func mustJSON(v any) json.RawMessage {
	raw, _ := json.Marshal(v)
	return raw
}
