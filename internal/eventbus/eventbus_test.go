package eventbus

import (
	"context"
	"testing"
	"time"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := New()
	ch := bus.Subscribe(context.Background())
	bus.Publish("offer-created")
	if v := <-ch; v != "offer-created" {
		t.Fatalf("expected offer-created got %v", v)
	}
}

func TestBusSubscriptionEndsWithContext(t *testing.T) {
	bus := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch := bus.Subscribe(ctx)
	bus.Publish("buffered")
	cancel()

	// The close is asynchronous; the buffered event must still arrive
	// before the channel drains shut.
	if v := <-ch; v != "buffered" {
		t.Fatalf("expected the buffered event, got %v", v)
	}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed after context cancellation")
		}
	}
}

func TestBusNonBlockingWhenSubscriberFull(t *testing.T) {
	bus := New()
	ch := bus.Subscribe(context.Background())
	for i := 0; i < 100; i++ {
		bus.Publish(i) // must not block once the buffer fills
	}
	if v := <-ch; v != 0 {
		t.Fatalf("expected first event, got %v", v)
	}
	if bus.Dropped() != 100-subscriberBuffer {
		t.Fatalf("expected %d drops, got %d", 100-subscriberBuffer, bus.Dropped())
	}
}

func TestBusClose(t *testing.T) {
	bus := New()
	ch1 := bus.Subscribe(context.Background())
	ch2 := bus.Subscribe(context.Background())
	bus.Close()
	if _, ok := <-ch1; ok {
		t.Fatalf("expected ch1 closed")
	}
	if _, ok := <-ch2; ok {
		t.Fatalf("expected ch2 closed")
	}
	bus.Publish("after-close") // no-op, must not panic

	if _, ok := <-bus.Subscribe(context.Background()); ok {
		t.Fatal("a subscription on a closed bus must come back closed")
	}
}
