package events

import (
	"time"

	"github.com/roadcall/dispatchd/core/model"
)

// OfferCreatedEvent is published for every offer issued to a vendor.
type OfferCreatedEvent struct {
	OfferID    string
	IncidentID string
	VendorID   string
	Score      float64
	Breakdown  model.ScoreBreakdown
	ExpiresAt  time.Time
}
