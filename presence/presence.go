// Package presence bridges connection-registry transitions to the durable
// online flag and to presence-changed events, exactly once per transition.
package presence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/funsideprojects/open-network-backend/bus"
	"github.com/funsideprojects/open-network-backend/registry"
	"github.com/funsideprojects/open-network-backend/store"
)

// TopicUserOnline is the bus topic for presence-changed events.
const TopicUserOnline = "IS_USER_ONLINE"

// Event is published when a user crosses the online/offline boundary. Wire
// names match the isUserOnline subscription payload.
type Event struct {
	UserID       string    `json:"userId"`
	Online       bool      `json:"isOnline"`
	LastActiveAt time.Time `json:"lastActiveAt"`
}

// Coordinator owns the Offline ⇄ Online state machine per user. "Online" is
// derived state — registry count > 0 — and the durable flag is only a cached
// projection of it, written at 0→1 and 1→0 crossings and never in between.
type Coordinator struct {
	registry *registry.Registry
	users    store.UserStore
	bus      *bus.Bus
	now      func() time.Time

	connectCounter    metric.Int64Counter
	disconnectCounter metric.Int64Counter
	transitionCounter metric.Int64Counter
}

func NewCoordinator(reg *registry.Registry, users store.UserStore, b *bus.Bus) *Coordinator {
	meter := otel.Meter("presence")
	connectCounter, _ := meter.Int64Counter("presence_connects_total",
		metric.WithDescription("Total subscription connections registered"))
	disconnectCounter, _ := meter.Int64Counter("presence_disconnects_total",
		metric.WithDescription("Total subscription connections removed"))
	transitionCounter, _ := meter.Int64Counter("presence_transitions_total",
		metric.WithDescription("Total online/offline boundary crossings"))

	return &Coordinator{
		registry:          reg,
		users:             users,
		bus:               b,
		now:               time.Now,
		connectCounter:    connectCounter,
		disconnectCounter: disconnectCounter,
		transitionCounter: transitionCounter,
	}
}

// Connect registers a live connection for the user. When this is the user's
// first connection the durable flag flips to true and, if the user's
// visibility preference allows it, an online event is published. A store
// failure here propagates: the handshake fails and the client retries.
func (c *Coordinator) Connect(ctx context.Context, userID, deviceLabel string) (string, error) {
	connID, count := c.registry.Add(userID, deviceLabel)
	c.connectCounter.Add(ctx, 1)

	if count != 1 {
		slog.Debug("User connected on another device", "user", userID, "connections", count)
		return connID, nil
	}

	now := c.now()
	user, err := c.users.UpdateOnlineStatus(ctx, userID, store.OnlineStatus{Online: true})
	if err != nil {
		// Roll the registration back so a retried handshake sees count 0
		// again and re-attempts the transition.
		c.registry.Remove(userID, connID)
		return "", fmt.Errorf("presence: set online for %s: %w", userID, err)
	}

	c.transitionCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("direction", "online")))
	slog.Info("User online", "user", userID)

	if user == nil || user.DisplayOnlineStatus {
		c.bus.Publish(TopicUserOnline, Event{UserID: userID, Online: true, LastActiveAt: now})
	}

	return connID, nil
}

// Disconnect removes the connection. When it was the user's last one the
// durable flag flips to false and LastActiveAt is stamped. The socket is
// already gone on this path, so store failures are logged and swallowed —
// there is nothing to report to and nothing to roll back.
//
// A connection that never finished its handshake disconnects with an empty
// conn id; that is a no-op, not an error.
func (c *Coordinator) Disconnect(ctx context.Context, userID, connID string) {
	if userID == "" || connID == "" {
		return
	}

	count, removed := c.registry.Remove(userID, connID)
	c.disconnectCounter.Add(ctx, 1)

	// A duplicate or unknown disconnect never crosses the boundary, even
	// when the user's count is already zero.
	if !removed || count != 0 {
		slog.Debug("User still connected elsewhere", "user", userID, "connections", count)
		return
	}

	now := c.now()
	user, err := c.users.UpdateOnlineStatus(ctx, userID, store.OnlineStatus{Online: false, LastActiveAt: &now})
	if err != nil {
		slog.Error("Failed to set user offline", "user", userID, "error", err)
		return
	}

	c.transitionCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("direction", "offline")))
	slog.Info("User offline", "user", userID)

	if user == nil || user.DisplayOnlineStatus {
		c.bus.Publish(TopicUserOnline, Event{UserID: userID, Online: false, LastActiveAt: now})
	}
}

// Reconcile forces every durable online flag back to false. Run once at
// startup before any connection is accepted: the in-memory registry starts
// empty, so flags left true by a crashed process are stale by definition.
func (c *Coordinator) Reconcile(ctx context.Context) error {
	n, err := c.users.ResetOnlineStatus(ctx)
	if err != nil {
		return fmt.Errorf("presence: reconcile online flags: %w", err)
	}
	if n > 0 {
		slog.Info("Reconciled stale online flags", "users", n)
	}
	return nil
}

// Watch streams presence events for one user. Events for other users are
// filtered out before they reach the subscriber's channel.
func (c *Coordinator) Watch(ctx context.Context, userID string) <-chan Event {
	events := c.bus.Subscribe(ctx, TopicUserOnline, func(evt bus.Event) bool {
		e, ok := evt.Payload.(Event)
		return ok && e.UserID == userID
	})

	out := make(chan Event, 1)
	go func() {
		defer close(out)
		for evt := range events {
			e, ok := evt.Payload.(Event)
			if !ok {
				continue
			}
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
