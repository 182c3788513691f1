package bus

import (
	"context"
	"testing"
	"time"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case evt, ok := <-ch:
		if !ok {
			t.Fatal("Channel closed while waiting for event")
		}
		return evt
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for event")
		return Event{}
	}
}

func TestBus_PublishSubscribe(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := b.Subscribe(ctx, "greetings", nil)
	b.Publish("greetings", "hello")

	evt := receive(t, ch)
	if evt.Payload != "hello" {
		t.Errorf("Payload = %v, want hello", evt.Payload)
	}
	if evt.Topic != "greetings" || evt.Origin != "" {
		t.Errorf("Event = %+v", evt)
	}
}

func TestBus_FilterExcludes(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	evens := b.Subscribe(ctx, "numbers", func(evt Event) bool {
		return evt.Payload.(int)%2 == 0
	})

	for i := 1; i <= 4; i++ {
		b.Publish("numbers", i)
	}

	if got := receive(t, evens).Payload; got != 2 {
		t.Errorf("First filtered event = %v, want 2", got)
	}
	if got := receive(t, evens).Payload; got != 4 {
		t.Errorf("Second filtered event = %v, want 4", got)
	}
}

func TestBus_TopicsIsolated(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	other := b.Subscribe(ctx, "other", nil)
	b.Publish("numbers", 1)

	select {
	case evt := <-other:
		t.Errorf("Subscriber on other topic received %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_PublishWithoutSubscribers(t *testing.T) {
	b := New()
	// Silent drop, by design.
	b.Publish("nobody-home", "lost")
}

func TestBus_CancelClosesChannel(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())

	ch := b.Subscribe(ctx, "greetings", nil)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("Received event instead of close after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("Channel not closed after context cancel")
	}

	// The subscriber must be gone; publishing must not panic on the
	// closed channel.
	deadline := time.Now().Add(time.Second)
	for b.Subscribers("greetings") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("Subscriber still registered after cancel")
		}
		time.Sleep(5 * time.Millisecond)
	}
	b.Publish("greetings", "after-cancel")
}

func TestBus_Inject(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local := b.Subscribe(ctx, "events", func(evt Event) bool { return evt.Origin == "" })
	all := b.Subscribe(ctx, "events", nil)

	b.Inject("events", "instance-2", "remote-payload")

	evt := receive(t, all)
	if evt.Origin != "instance-2" || evt.Payload != "remote-payload" {
		t.Errorf("Injected event = %+v", evt)
	}

	// A local-only filter (what the relay uses) must not see it.
	select {
	case evt := <-local:
		t.Errorf("Local-origin filter received injected event %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_SlowSubscriberDrops(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := b.Subscribe(ctx, "burst", nil)

	// Overflow the buffer without draining; publishers must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			b.Publish("burst", i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	// The buffered prefix is still delivered in order.
	if got := receive(t, ch).Payload; got != 0 {
		t.Errorf("First buffered event = %v, want 0", got)
	}
}
