package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/funsideprojects/open-network-backend/bus"
	"github.com/funsideprojects/open-network-backend/notify"
	"github.com/funsideprojects/open-network-backend/presence"
	"github.com/funsideprojects/open-network-backend/registry"
	"github.com/funsideprojects/open-network-backend/store"
	"github.com/funsideprojects/open-network-backend/token"
)

type fakeUserStore struct {
	mu    sync.Mutex
	users map[string]*store.User
}

func (f *fakeUserStore) FindByID(_ context.Context, id string) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeUserStore) UpdateOnlineStatus(_ context.Context, id string, status store.OnlineStatus) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, nil
	}
	u.IsOnline = status.Online
	if status.LastActiveAt != nil {
		u.LastActiveAt = *status.LastActiveAt
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUserStore) ResetOnlineStatus(_ context.Context) (int64, error) { return 0, nil }

type socketFixture struct {
	tokens      *token.Service
	bus         *bus.Bus
	registry    *registry.Registry
	coordinator *presence.Coordinator
	notifier    *notify.Notifier
	server      *httptest.Server
}

func newSocketFixture(t *testing.T) *socketFixture {
	t.Helper()

	tokens, err := token.New("test-secret")
	if err != nil {
		t.Fatalf("token.New returned error: %v", err)
	}

	users := &fakeUserStore{users: map[string]*store.User{
		"u1": {ID: "u1", Username: "jess", DisplayOnlineStatus: true},
		"u2": {ID: "u2", Username: "sam", DisplayOnlineStatus: true},
	}}

	b := bus.New()
	reg := registry.New()
	coordinator := presence.NewCoordinator(reg, users, b)
	notifier := notify.NewNotifier(b)

	server := httptest.NewServer(NewSocketHandler(tokens, coordinator, notifier))
	t.Cleanup(server.Close)

	return &socketFixture{
		tokens:      tokens,
		bus:         b,
		registry:    reg,
		coordinator: coordinator,
		notifier:    notifier,
		server:      server,
	}
}

// waitForSubscriber blocks until the server has wired a subscription for the
// topic, so a publish right after a subscribe message cannot be missed.
func (f *socketFixture) waitForSubscriber(t *testing.T, topic string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for f.bus.Subscribers(topic) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("No subscriber appeared for %s", topic)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (f *socketFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func sendMsg(t *testing.T, ws *websocket.Conn, msg wsMessage) {
	t.Helper()
	if err := ws.WriteJSON(msg); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
}

func readMsg(t *testing.T, ws *websocket.Conn) wsMessage {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg wsMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	return msg
}

func initConn(t *testing.T, ws *websocket.Conn, authorization string) {
	t.Helper()
	payload, _ := json.Marshal(initPayload{Authorization: authorization, Device: "test"})
	sendMsg(t, ws, wsMessage{Type: msgConnectionInit, Payload: payload})
	if msg := readMsg(t, ws); msg.Type != msgConnectionAck {
		t.Fatalf("Handshake response = %s, want connection_ack", msg.Type)
	}
}

func TestSocket_AnonymousHandshake(t *testing.T) {
	f := newSocketFixture(t)
	ws := f.dial(t)

	initConn(t, ws, "")

	// Anonymous connections may not subscribe to their notifications.
	payload, _ := json.Marshal(subscribePayload{Stream: StreamNotificationUpdated})
	sendMsg(t, ws, wsMessage{ID: "1", Type: msgSubscribe, Payload: payload})
	if msg := readMsg(t, ws); msg.Type != msgError {
		t.Errorf("Response = %s, want error", msg.Type)
	}
}

func TestSocket_InvalidTokenFailsHandshake(t *testing.T) {
	f := newSocketFixture(t)
	ws := f.dial(t)

	payload, _ := json.Marshal(initPayload{Authorization: "garbage"})
	sendMsg(t, ws, wsMessage{Type: msgConnectionInit, Payload: payload})

	msg := readMsg(t, ws)
	if msg.Type != msgConnectionError {
		t.Fatalf("Response = %s, want connection_error", msg.Type)
	}
	var ep errorPayload
	json.Unmarshal(msg.Payload, &ep)
	if ep.Message != "Unauthenticated" {
		t.Errorf("Error message = %q, want Unauthenticated", ep.Message)
	}
}

func TestSocket_AuthenticatedLifecycle(t *testing.T) {
	f := newSocketFixture(t)
	ws := f.dial(t)

	accessToken, err := f.tokens.Issue(token.PurposeAccess, token.UserData{ID: "u1", Username: "jess"})
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	initConn(t, ws, accessToken)

	// The handshake registered the connection before acking.
	if count := f.registry.Count("u1"); count != 1 {
		t.Fatalf("Registry count after handshake = %d, want 1", count)
	}

	// Watch u2's presence, then bring u2 online out of band.
	payload, _ := json.Marshal(subscribePayload{Stream: StreamIsUserOnline, UserID: "u2"})
	sendMsg(t, ws, wsMessage{ID: "sub-1", Type: msgSubscribe, Payload: payload})
	f.waitForSubscriber(t, presence.TopicUserOnline)

	if _, err := f.coordinator.Connect(context.Background(), "u2", "phone"); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}

	msg := readMsg(t, ws)
	if msg.Type != msgNext || msg.ID != "sub-1" {
		t.Fatalf("Message = %+v, want next for sub-1", msg)
	}
	var evt presence.Event
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		t.Fatalf("Bad event payload: %v", err)
	}
	if evt.UserID != "u2" || !evt.Online {
		t.Errorf("Event = %+v, want u2 online", evt)
	}

	// Closing the socket must unregister the connection.
	ws.Close()
	deadline := time.Now().Add(2 * time.Second)
	for f.registry.Count("u1") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("Connection still registered after close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSocket_NotificationDelivery(t *testing.T) {
	f := newSocketFixture(t)
	ws := f.dial(t)

	accessToken, _ := f.tokens.Issue(token.PurposeAccess, token.UserData{ID: "u1"})
	initConn(t, ws, accessToken)

	payload, _ := json.Marshal(subscribePayload{Stream: StreamNotificationUpdated})
	sendMsg(t, ws, wsMessage{ID: "sub-1", Type: msgSubscribe, Payload: payload})
	f.waitForSubscriber(t, notify.TopicNotification)

	f.notifier.Notify(context.Background(), notify.Event{
		Operation:  notify.OperationCreate,
		Type:       notify.TypeFollow,
		From:       &notify.Profile{ID: "u2", Username: "sam"},
		Recipients: []string{"u1"},
	})

	msg := readMsg(t, ws)
	if msg.Type != msgNext {
		t.Fatalf("Message type = %s, want next", msg.Type)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(msg.Payload, &raw); err != nil {
		t.Fatalf("Bad payload: %v", err)
	}
	if _, leaked := raw["recipients"]; leaked {
		t.Error("Recipients leaked into the client payload")
	}

	var d notify.Delivery
	json.Unmarshal(msg.Payload, &d)
	if d.Type != notify.TypeFollow || d.From == nil || d.From.ID != "u2" {
		t.Errorf("Delivery = %+v", d)
	}
}

func TestSocket_SubscribeBeforeInit(t *testing.T) {
	f := newSocketFixture(t)
	ws := f.dial(t)

	payload, _ := json.Marshal(subscribePayload{Stream: StreamIsUserOnline, UserID: "u2"})
	sendMsg(t, ws, wsMessage{ID: "1", Type: msgSubscribe, Payload: payload})

	if msg := readMsg(t, ws); msg.Type != msgError {
		t.Errorf("Response = %s, want error", msg.Type)
	}
}
