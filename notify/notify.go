// Package notify fans out notification-changed events to their recipients.
//
// Events are transient: constructed right after the durable write succeeds,
// published once, and discarded after delivery. Persisting the notification
// record itself is the store's job.
package notify

import (
	"context"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/funsideprojects/open-network-backend/bus"
)

// TopicNotification is the single shared bus topic all notification events
// ride on; subscribe-time filters make delivery recipient-exact.
const TopicNotification = "NOTIFICATION_UPDATED"

// Operation says what happened to the underlying notification record.
type Operation string

const (
	OperationCreate Operation = "CREATE"
	OperationDelete Operation = "DELETE"
)

// Type tags the notification category.
type Type string

const (
	TypeComment      Type = "COMMENT"
	TypeFollow       Type = "FOLLOW"
	TypeLike         Type = "LIKE"
	TypeNotification Type = "NOTIFICATION"
)

// Profile identifies the user whose action triggered the notification.
type Profile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	FullName string `json:"fullName"`
}

// Event is the transient fan-out message. Recipients is routing metadata:
// callers assemble it with the acting user already excluded (nobody is
// notified of their own action), and it is stripped before the payload
// reaches a client.
type Event struct {
	Operation  Operation `json:"operation"`
	Type       Type      `json:"type"`
	DataID     string    `json:"dataId,omitempty"`
	From       *Profile  `json:"from,omitempty"`
	Recipients []string  `json:"recipients"`
}

// Delivery is the client-visible payload: the event minus its recipient set.
type Delivery struct {
	Operation Operation `json:"operation"`
	Type      Type      `json:"type"`
	DataID    string    `json:"dataId,omitempty"`
	From      *Profile  `json:"from,omitempty"`
}

// Notifier publishes notification events on the shared topic.
type Notifier struct {
	bus *bus.Bus

	notifyCounter  metric.Int64Counter
	recipientCount metric.Int64Histogram
}

func NewNotifier(b *bus.Bus) *Notifier {
	meter := otel.Meter("notify")
	notifyCounter, _ := meter.Int64Counter("notify_events_total",
		metric.WithDescription("Total notification events published"))
	recipientCount, _ := meter.Int64Histogram("notify_recipients",
		metric.WithDescription("Recipients per notification event"))

	return &Notifier{bus: b, notifyCounter: notifyCounter, recipientCount: recipientCount}
}

// Notify publishes one event addressed to the given recipients. An empty
// recipient set is legal and skips the publish — it would match no one.
func (n *Notifier) Notify(ctx context.Context, evt Event) {
	if len(evt.Recipients) == 0 {
		slog.Debug("Skipping notification with no recipients", "type", evt.Type, "operation", evt.Operation)
		return
	}

	n.bus.Publish(TopicNotification, evt)
	n.notifyCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", string(evt.Type)),
		attribute.String("operation", string(evt.Operation)),
	))
	n.recipientCount.Record(ctx, int64(len(evt.Recipients)))
	slog.Debug("Published notification event",
		"type", evt.Type, "operation", evt.Operation, "recipients", len(evt.Recipients))
}

// Subscribe streams deliveries addressed to the given user. Filtering happens
// before the subscriber's channel: a connected client never sees an event it
// is not a recipient of.
func (n *Notifier) Subscribe(ctx context.Context, userID string) <-chan Delivery {
	events := n.bus.Subscribe(ctx, TopicNotification, func(evt bus.Event) bool {
		e, ok := evt.Payload.(Event)
		return ok && slices.Contains(e.Recipients, userID)
	})

	out := make(chan Delivery, 1)
	go func() {
		defer close(out)
		for evt := range events {
			e, ok := evt.Payload.(Event)
			if !ok {
				continue
			}
			d := Delivery{Operation: e.Operation, Type: e.Type, DataID: e.DataID, From: e.From}
			select {
			case out <- d:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
