package mqtt

import (
	"context"
	"encoding/json"

	"github.com/roadcall/dispatchd/core/events"
	"github.com/roadcall/dispatchd/infra/logger"
	"github.com/roadcall/dispatchd/internal/eventbus"
)

// Notifier bridges the in-process event bus to the dispatch/events/#
// MQTT topics so the driver app, dispatcher console and downstream
// collaborators can follow incident progress.
type Notifier struct {
	client *Client
	bus    eventbus.EventBus
	log    logger.Logger
}

// NewNotifier builds a Notifier on the shared client.
func NewNotifier(client *Client, bus eventbus.EventBus) *Notifier {
	return &Notifier{client: client, bus: bus, log: logger.New("event_notifier")}
}

// Run consumes bus events until the context is cancelled or the bus
// closes. Publish failures are logged and dropped; the bus must never
// stall on a flaky broker.
func (n *Notifier) Run(ctx context.Context) {
	for ev := range n.bus.Subscribe(ctx) {
		n.forward(ev)
	}
}

func (n *Notifier) forward(ev eventbus.Event) {
	var topic string
	switch ev.(type) {
	case events.OfferCreatedEvent:
		topic = "dispatch/events/offer_created"
	case events.StatusChangedEvent:
		topic = "dispatch/events/status_changed"
	case events.EscalationEvent:
		topic = "dispatch/events/escalation"
	case events.VendorTimeoutEvent:
		topic = "dispatch/events/vendor_timeout"
	default:
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		n.log.Errorf("failed to encode event for %s: %v", topic, err)
		return
	}
	if err := n.client.publish(topic, "event", payload); err != nil {
		n.log.Errorf("failed to publish %s: %v", topic, err)
	}
}
