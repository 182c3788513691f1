// Package bus is the in-process publish/subscribe mechanism decoupling
// mutation handlers from live subscription delivery.
//
// Delivery is best effort and non-durable: the durable record is always
// written to the store before publishing, so a missed event only delays a UI
// refresh, it never loses data. Publishing with no subscribers is a silent
// drop.
package bus

import (
	"context"
	"log/slog"
	"sync"
)

// Event is what subscribers receive. Origin is empty for events published by
// this process; a relay injecting events from other instances sets it to the
// originating instance id so they are not forwarded again.
type Event struct {
	Topic   string
	Origin  string
	Payload any
}

// Filter decides whether a subscriber receives an event. A nil filter
// matches everything.
type Filter func(Event) bool

// Per-subscriber buffer. A subscriber that falls this far behind has its
// events dropped rather than blocking publishers.
const subscriberBuffer = 16

type subscriber struct {
	ch     chan Event
	filter Filter
}

// Bus routes events from publishers to topic subscribers over dedicated
// channels. A fresh instance is constructed by the composition root; tests
// build their own rather than sharing global state.
type Bus struct {
	mu     sync.RWMutex
	topics map[string]map[uint64]*subscriber
	nextID uint64
}

func New() *Bus {
	return &Bus{topics: make(map[string]map[uint64]*subscriber)}
}

// Publish hands the payload to every current subscriber of the topic.
// Fire and forget: no acknowledgement, no persistence.
func (b *Bus) Publish(topic string, payload any) {
	b.publish(Event{Topic: topic, Payload: payload})
}

// Inject publishes an event that originated on another instance. Local
// subscribers see it like any other event; relays skip it by origin.
func (b *Bus) Inject(topic, origin string, payload any) {
	b.publish(Event{Topic: topic, Origin: origin, Payload: payload})
}

func (b *Bus) publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.topics[evt.Topic] {
		if sub.filter != nil && !sub.filter(evt) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			slog.Warn("Dropping event for slow subscriber", "topic", evt.Topic)
		}
	}
}

// Subscribe returns a channel of matching events. The channel is closed when
// ctx is cancelled — cancellation is exactly "the client disconnected".
func (b *Bus) Subscribe(ctx context.Context, topic string, filter Filter) <-chan Event {
	sub := &subscriber{ch: make(chan Event, subscriberBuffer), filter: filter}

	b.mu.Lock()
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[uint64]*subscriber)
	}
	id := b.nextID
	b.nextID++
	b.topics[topic][id] = sub
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.topics[topic], id)
		if len(b.topics[topic]) == 0 {
			delete(b.topics, topic)
		}
		b.mu.Unlock()
		close(sub.ch)
	}()

	return sub.ch
}

// Subscribers reports the current subscriber count for a topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}
