// Package store persists incidents and offers. Implementations must
// provide the conditional-write semantics the dispatch races rely on:
// assignment claims and offer transitions only succeed when the stored
// record still matches the expected precondition.
package store

import (
	"context"
	"time"

	"github.com/roadcall/dispatchd/core/model"
)

// IncidentStore persists incident records.
type IncidentStore interface {
	CreateIncident(ctx context.Context, inc model.Incident) error
	GetIncident(ctx context.Context, id string) (model.Incident, error)

	// UpdateIncident writes inc if the stored version equals
	// expectedVersion, bumping the version by one. It fails with a
	// Conflict fault when another writer got there first.
	UpdateIncident(ctx context.Context, inc model.Incident, expectedVersion int64) (model.Incident, error)

	// ClaimAssignment atomically claims the incident's assignment slot
	// for vendorID: it requires status=created and no assigned vendor,
	// then sets vendor_assigned, records the assignment time, parks the
	// incident on the arrival deadline and appends the timeline entry.
	// Exactly one concurrent claim wins; losers observe a Conflict
	// fault.
	ClaimAssignment(ctx context.Context, incidentID, vendorID string, actor model.Actor, now, arrivalDeadline time.Time) (model.Incident, error)

	// ReleaseAssignment undoes a claim after an arrival timeout. It
	// requires the incident to still be assigned to vendorID in
	// vendor_assigned or vendor_en_route, moves it back to created and
	// appends a timeline entry naming the vendor that failed to arrive.
	ReleaseAssignment(ctx context.Context, incidentID, vendorID, reason string, now time.Time) (model.Incident, error)

	// ListWaiting returns incidents whose persisted deadline is due at
	// or before now. The scheduler re-delivers these to the
	// orchestrator's Resume entry point.
	ListWaiting(ctx context.Context, now time.Time) ([]model.Incident, error)

	// ListAssignedToVendor returns active incidents whose assignment
	// slot is held by vendorID. Feeds the arrival watch.
	ListAssignedToVendor(ctx context.Context, vendorID string) ([]model.Incident, error)
}

// OfferStore persists offers.
type OfferStore interface {
	CreateOffers(ctx context.Context, offers []model.Offer) error
	GetOffer(ctx context.Context, id string) (model.Offer, error)
	ListOffersByIncident(ctx context.Context, incidentID string) ([]model.Offer, error)

	// TransitionOffer moves the offer from `from` to `to`, recording an
	// optional reason. It fails with a Conflict fault when the stored
	// status is no longer `from`, which arbitrates accept/expire races.
	TransitionOffer(ctx context.Context, offerID string, from, to model.OfferStatus, reason string) (model.Offer, error)
}

// Store bundles both record types behind one handle.
type Store interface {
	IncidentStore
	OfferStore
}
