// Package relay bridges the in-process event bus over NATS so that a client
// connected to one instance still receives presence and notification events
// produced on another. Delivery semantics stay best effort: core NATS is
// fire-and-forget, exactly like the local bus.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/funsideprojects/open-network-backend/bus"
	"github.com/funsideprojects/open-network-backend/notify"
	"github.com/funsideprojects/open-network-backend/pkg/telemetry"
	"github.com/funsideprojects/open-network-backend/presence"
)

const subjectPrefix = "events."

// envelope is the wire format on NATS. Origin identifies the publishing
// instance so it can drop its own messages coming back.
type envelope struct {
	Origin  string          `json:"origin"`
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// Relay forwards locally-published bus events to NATS and injects remote
// instances' events into the local bus.
type Relay struct {
	id   string
	nc   *nats.Conn
	bus  *bus.Bus
	subs []*nats.Subscription

	forwarded metric.Int64Counter
	injected  metric.Int64Counter
}

func New(nc *nats.Conn, b *bus.Bus) *Relay {
	meter := otel.Meter("relay")
	forwarded, _ := meter.Int64Counter("relay_forwarded_total",
		metric.WithDescription("Local events forwarded to NATS"))
	injected, _ := meter.Int64Counter("relay_injected_total",
		metric.WithDescription("Remote events injected into the local bus"))

	return &Relay{
		id:        uuid.NewString(),
		nc:        nc,
		bus:       b,
		forwarded: forwarded,
		injected:  injected,
	}
}

// Start wires both directions for the presence and notification topics.
// It returns after subscriptions are established; forwarding runs until ctx
// is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	topics := map[string]func(json.RawMessage) (any, error){
		presence.TopicUserOnline: func(raw json.RawMessage) (any, error) {
			var evt presence.Event
			err := json.Unmarshal(raw, &evt)
			return evt, err
		},
		notify.TopicNotification: func(raw json.RawMessage) (any, error) {
			var evt notify.Event
			err := json.Unmarshal(raw, &evt)
			return evt, err
		},
	}

	for topic, decode := range topics {
		if err := r.startTopic(ctx, topic, decode); err != nil {
			return err
		}
	}

	slog.Info("Event relay started", "instance", r.id)
	return nil
}

func (r *Relay) startTopic(ctx context.Context, topic string, decode func(json.RawMessage) (any, error)) error {
	subject := subjectPrefix + topic

	// Remote → local. Events from this instance come back on the same
	// subject and are dropped by origin.
	sub, err := r.nc.Subscribe(subject, func(msg *nats.Msg) {
		var env envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			slog.Warn("Invalid relay envelope", "subject", msg.Subject, "error", err)
			return
		}
		if env.Origin == r.id {
			return
		}

		payload, err := decode(env.Payload)
		if err != nil {
			slog.Warn("Invalid relay payload", "topic", env.Topic, "error", err)
			return
		}

		msgCtx := telemetry.ExtractContext(context.Background(), msg.Header)
		r.bus.Inject(topic, env.Origin, payload)
		r.injected.Add(msgCtx, 1, metric.WithAttributes(attribute.String("topic", topic)))
	})
	if err != nil {
		return fmt.Errorf("relay: subscribe %s: %w", subject, err)
	}
	r.subs = append(r.subs, sub)

	// Local → remote. Only locally-originated events are forwarded; injected
	// ones carry a non-empty origin and are filtered out here.
	events := r.bus.Subscribe(ctx, topic, func(evt bus.Event) bool {
		return evt.Origin == ""
	})
	go func() {
		for evt := range events {
			raw, err := json.Marshal(evt.Payload)
			if err != nil {
				slog.Warn("Failed to marshal relay payload", "topic", topic, "error", err)
				continue
			}
			data, err := json.Marshal(envelope{Origin: r.id, Topic: topic, Payload: raw})
			if err != nil {
				continue
			}
			if err := telemetry.TracedPublish(ctx, r.nc, subject, data); err != nil {
				slog.Warn("Failed to forward event to NATS", "topic", topic, "error", err)
				continue
			}
			r.forwarded.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
		}
	}()

	return nil
}

// Close drains the NATS subscriptions.
func (r *Relay) Close() {
	for _, sub := range r.subs {
		sub.Unsubscribe()
	}
}

// Connect dials NATS with the standard retry loop and reconnect logging.
func Connect(url, name string, attempts int) (*nats.Conn, error) {
	var nc *nats.Conn
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		nc, err = nats.Connect(url,
			nats.Name(name),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				slog.Warn("NATS disconnected", "error", err)
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
			}),
		)
		if err == nil {
			return nc, nil
		}
		slog.Info("Waiting for NATS", "attempt", attempt, "error", err)
		time.Sleep(2 * time.Second)
	}
	return nil, fmt.Errorf("connect to nats: %w", err)
}
