package timeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/roadcall/dispatchd/core/events"
	"github.com/roadcall/dispatchd/core/logger"
	"github.com/roadcall/dispatchd/internal/eventbus"
)

// Watch consumes dispatch events from the bus and appends them to the
// audit log until the context is cancelled.
func Watch(ctx context.Context, bus eventbus.EventBus, log Log, lg logger.Logger) {
	if lg == nil {
		lg = logger.Nop{}
	}
	for ev := range bus.Subscribe(ctx) {
		rec, ok := toRecord(ev)
		if !ok {
			continue
		}
		if err := log.Append(ctx, rec); err != nil {
			lg.Errorf("audit append: %v", err)
		}
	}
}

func toRecord(ev eventbus.Event) (Record, bool) {
	now := time.Now().UTC()
	switch e := ev.(type) {
	case events.OfferCreatedEvent:
		return marshal(now, "offer_created", e.IncidentID, e)
	case events.StatusChangedEvent:
		return marshal(e.Timestamp, "status_changed", e.IncidentID, e)
	case events.EscalationEvent:
		return marshal(now, "escalation", e.IncidentID, e)
	case events.VendorTimeoutEvent:
		return marshal(now, "vendor_timeout", e.IncidentID, e)
	default:
		return Record{}, false
	}
}

func marshal(at time.Time, kind, incidentID string, detail any) (Record, bool) {
	raw, err := json.Marshal(detail)
	if err != nil {
		return Record{}, false
	}
	return Record{Timestamp: at, Kind: kind, IncidentID: incidentID, Detail: raw}, true
}
