package metrics

import (
	"time"

	"github.com/roadcall/dispatchd/core/model"
)

// OfferEvent is a per-offer record of issuance and outcome.
type OfferEvent struct {
	OfferID      string
	IncidentID   string
	VendorID     string
	Score        float64
	Outcome      model.OfferStatus
	ResponseTime time.Duration
	Time         time.Time
}

// RoundEvent summarizes one matching round.
type RoundEvent struct {
	IncidentID   string
	IncidentType model.IncidentType
	Attempt      int
	RadiusMiles  float64
	Candidates   int
	OffersIssued int
	Time         time.Time
}

// EscalationEvent records a hand-off to a human dispatcher.
type EscalationEvent struct {
	IncidentID   string
	IncidentType model.IncidentType
	Attempts     int
	Time         time.Time
}

// VendorTimeoutEvent records an assigned vendor missing its deadline.
type VendorTimeoutEvent struct {
	IncidentID string
	VendorID   string
	Type       string
	Elapsed    time.Duration
	Time       time.Time
}

// Sink records dispatch observability events. Implementations must be
// safe for concurrent use; recording failures are logged, never
// propagated into the dispatch path.
type Sink interface {
	RecordOffer(ev OfferEvent) error
	RecordRound(ev RoundEvent) error
	RecordEscalation(ev EscalationEvent) error
	RecordVendorTimeout(ev VendorTimeoutEvent) error
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) RecordOffer(OfferEvent) error                 { return nil }
func (NopSink) RecordRound(RoundEvent) error                 { return nil }
func (NopSink) RecordEscalation(EscalationEvent) error       { return nil }
func (NopSink) RecordVendorTimeout(VendorTimeoutEvent) error { return nil }
