// Package offer owns the pending/accepted/declined/expired life of
// every offer and enforces first-accept-wins against the incident's
// assignment slot.
package offer

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/roadcall/dispatchd/core/events"
	"github.com/roadcall/dispatchd/core/faults"
	"github.com/roadcall/dispatchd/core/logger"
	"github.com/roadcall/dispatchd/core/match"
	"github.com/roadcall/dispatchd/core/metrics"
	"github.com/roadcall/dispatchd/core/model"
	"github.com/roadcall/dispatchd/core/store"
	"github.com/roadcall/dispatchd/internal/eventbus"
)

// VendorChannel delivers an offer to the addressed vendor. Delivery is
// best-effort; an undeliverable offer still expires on its own clock.
type VendorChannel interface {
	SendOffer(ctx context.Context, offer model.Offer) error
}

// basePayout estimates the vendor payout per incident type. Final
// settlement is owned by the billing collaborator.
var basePayout = map[model.IncidentType]float64{
	model.IncidentTire:    85,
	model.IncidentEngine:  120,
	model.IncidentTow:     150,
	model.IncidentBattery: 70,
	model.IncidentLockout: 65,
	model.IncidentFuel:    60,
}

// Manager drives offer lifecycle transitions against the store.
type Manager struct {
	store   store.Store
	channel VendorChannel
	bus     eventbus.EventBus
	sink    metrics.Sink
	log     logger.Logger
	now     func() time.Time
}

// NewManager builds a Manager. channel, bus and sink may be nil.
func NewManager(st store.Store, channel VendorChannel, bus eventbus.EventBus, sink metrics.Sink, log logger.Logger) *Manager {
	if sink == nil {
		sink = metrics.NopSink{}
	}
	if log == nil {
		log = logger.Nop{}
	}
	return &Manager{store: st, channel: channel, bus: bus, sink: sink, log: log, now: time.Now}
}

// SetClock overrides the wall clock, for tests.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// CreateOffers issues up to cfg.MaxOffersPerRound pending offers for
// the ranked candidates. Candidates without the required capability are
// skipped: a penalized score keeps them visible in the ranking, but an
// offer is never addressed to a vendor that cannot do the work.
// This is the only path that creates pending offers.
func (m *Manager) CreateOffers(ctx context.Context, inc model.Incident, candidates []match.Candidate, cfg model.MatchConfig) ([]model.Offer, error) {
	now := m.now().UTC()
	expires := now.Add(cfg.OfferTimeout())
	offers := make([]model.Offer, 0, len(candidates))
	for _, c := range candidates {
		if len(offers) >= cfg.MaxOffersPerRound {
			break
		}
		if c.Breakdown.Capability == 0 {
			m.log.Debugf("skipping vendor %s for incident %s: capability floor", c.Vendor.ID, inc.ID)
			continue
		}
		offers = append(offers, model.Offer{
			ID:              uuid.NewString(),
			IncidentID:      inc.ID,
			VendorID:        c.Vendor.ID,
			Score:           c.Score,
			Breakdown:       c.Breakdown,
			Status:          model.OfferPending,
			EstimatedPayout: basePayout[inc.Type],
			CreatedAt:       now,
			ExpiresAt:       expires,
		})
	}
	if len(offers) == 0 {
		return nil, nil
	}
	if err := m.store.CreateOffers(ctx, offers); err != nil {
		return nil, err
	}
	for _, o := range offers {
		m.publishCreated(o)
		if m.channel != nil {
			if err := m.channel.SendOffer(ctx, o); err != nil {
				m.log.Warnf("offer %s delivery to vendor %s failed: %v", o.ID, o.VendorID, err)
			}
		}
	}
	return offers, nil
}

// Accept resolves a vendor's acceptance. Exactly one acceptance per
// incident wins the assignment slot; every other path out of here is a
// fault: NotFound for a missing offer, Validation for a wrong
// addressee, Conflict for a non-pending or expired offer or a lost
// assignment race.
func (m *Manager) Accept(ctx context.Context, offerID, vendorID string, cfg model.MatchConfig) (model.Incident, error) {
	o, err := m.store.GetOffer(ctx, offerID)
	if err != nil {
		return model.Incident{}, err
	}
	if o.VendorID != vendorID {
		return model.Incident{}, faults.Validationf("offer %s is not addressed to vendor %s", offerID, vendorID)
	}
	if o.Terminal() {
		return model.Incident{}, faults.Conflictf("offer %s is no longer available", offerID)
	}
	now := m.now().UTC()
	if o.ExpiredAt(now) {
		// The expiry timer may not have fired yet; settle it here so
		// the late accept observes the same outcome either way.
		if _, err := m.store.TransitionOffer(ctx, offerID, model.OfferPending, model.OfferExpired, ""); err != nil && !faults.IsKind(err, faults.Conflict) {
			m.log.Warnf("expiring overdue offer %s: %v", offerID, err)
		}
		return model.Incident{}, faults.Conflictf("offer %s expired", offerID)
	}

	accepted, err := m.store.TransitionOffer(ctx, offerID, model.OfferPending, model.OfferAccepted, "")
	if err != nil {
		return model.Incident{}, err
	}

	inc, err := m.store.ClaimAssignment(ctx, o.IncidentID, vendorID,
		model.Actor{Role: model.RoleVendor, ID: vendorID}, now, now.Add(cfg.ArrivalTimeout()))
	if err != nil {
		// Lost the slot race: the offer must not stay accepted while
		// the incident belongs to someone else.
		if _, rbErr := m.store.TransitionOffer(ctx, offerID, model.OfferAccepted, model.OfferDeclined, "incident already assigned"); rbErr != nil {
			m.log.Errorf("rollback of offer %s failed: %v", offerID, rbErr)
		}
		if faults.IsKind(err, faults.NotFound) {
			return model.Incident{}, err
		}
		return model.Incident{}, faults.Conflictf("incident %s already assigned", o.IncidentID)
	}

	m.recordOutcome(accepted, now)
	m.publishStatus(inc, model.StatusCreated, model.StatusVendorAssigned, model.Actor{Role: model.RoleVendor, ID: vendorID}, now)
	m.expireSiblings(ctx, o.IncidentID, offerID)
	return inc, nil
}

// Decline resolves a vendor's refusal. Sibling offers are untouched.
func (m *Manager) Decline(ctx context.Context, offerID, vendorID, reason string) error {
	o, err := m.store.GetOffer(ctx, offerID)
	if err != nil {
		return err
	}
	if o.VendorID != vendorID {
		return faults.Validationf("offer %s is not addressed to vendor %s", offerID, vendorID)
	}
	if o.Terminal() {
		return faults.Conflictf("offer %s is no longer available", offerID)
	}
	declined, err := m.store.TransitionOffer(ctx, offerID, model.OfferPending, model.OfferDeclined, reason)
	if err != nil {
		return err
	}
	m.recordOutcome(declined, m.now().UTC())
	return nil
}

// Expire transitions a pending offer whose deadline has passed. It is
// idempotent: terminal offers and not-yet-due offers are left alone, and
// re-delivered expiry timers are no-ops.
func (m *Manager) Expire(ctx context.Context, offerID string) error {
	o, err := m.store.GetOffer(ctx, offerID)
	if err != nil {
		return err
	}
	if o.Terminal() {
		return nil
	}
	now := m.now().UTC()
	if !o.ExpiredAt(now) {
		return nil
	}
	expired, err := m.store.TransitionOffer(ctx, offerID, model.OfferPending, model.OfferExpired, "")
	if faults.IsKind(err, faults.Conflict) {
		return nil
	}
	if err != nil {
		return err
	}
	m.recordOutcome(expired, now)
	return nil
}

// ExpireAllPending force-expires every pending offer for the incident,
// regardless of deadline. Used when a round times out or the incident
// is cancelled.
func (m *Manager) ExpireAllPending(ctx context.Context, incidentID string) error {
	offers, err := m.store.ListOffersByIncident(ctx, incidentID)
	if err != nil {
		return err
	}
	now := m.now().UTC()
	for _, o := range offers {
		if o.Terminal() {
			continue
		}
		expired, err := m.store.TransitionOffer(ctx, o.ID, model.OfferPending, model.OfferExpired, "")
		if err != nil {
			if faults.IsKind(err, faults.Conflict) {
				continue
			}
			return err
		}
		m.recordOutcome(expired, now)
	}
	return nil
}

// PendingOffers returns the incident's unresolved offers.
func (m *Manager) PendingOffers(ctx context.Context, incidentID string) ([]model.Offer, error) {
	offers, err := m.store.ListOffersByIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	var pending []model.Offer
	for _, o := range offers {
		if o.Status == model.OfferPending {
			pending = append(pending, o)
		}
	}
	return pending, nil
}

// expireSiblings retires the losing offers after an acceptance. A
// sibling accept racing past the pending check still loses the
// assignment CAS, so conflicts here are expected and ignored.
func (m *Manager) expireSiblings(ctx context.Context, incidentID, winnerID string) {
	offers, err := m.store.ListOffersByIncident(ctx, incidentID)
	if err != nil {
		m.log.Warnf("listing siblings for incident %s: %v", incidentID, err)
		return
	}
	now := m.now().UTC()
	for _, o := range offers {
		if o.ID == winnerID || o.Terminal() {
			continue
		}
		expired, err := m.store.TransitionOffer(ctx, o.ID, model.OfferPending, model.OfferExpired, "")
		if err != nil {
			if !faults.IsKind(err, faults.Conflict) {
				m.log.Warnf("expiring sibling offer %s: %v", o.ID, err)
			}
			continue
		}
		m.recordOutcome(expired, now)
	}
}

func (m *Manager) publishCreated(o model.Offer) {
	if m.bus != nil {
		m.bus.Publish(events.OfferCreatedEvent{
			OfferID:    o.ID,
			IncidentID: o.IncidentID,
			VendorID:   o.VendorID,
			Score:      o.Score,
			Breakdown:  o.Breakdown,
			ExpiresAt:  o.ExpiresAt,
		})
	}
}

func (m *Manager) publishStatus(inc model.Incident, from, to model.IncidentStatus, actor model.Actor, at time.Time) {
	if m.bus != nil {
		m.bus.Publish(events.StatusChangedEvent{
			IncidentID: inc.ID,
			From:       from,
			To:         to,
			Actor:      actor,
			Timestamp:  at,
		})
	}
}

func (m *Manager) recordOutcome(o model.Offer, at time.Time) {
	ev := metrics.OfferEvent{
		OfferID:      o.ID,
		IncidentID:   o.IncidentID,
		VendorID:     o.VendorID,
		Score:        o.Score,
		Outcome:      o.Status,
		ResponseTime: at.Sub(o.CreatedAt),
		Time:         at,
	}
	if err := m.sink.RecordOffer(ev); err != nil {
		m.log.Errorf("offer metrics error: %v", err)
	}
}
