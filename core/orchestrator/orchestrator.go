// Package orchestrator drives each incident through its lifecycle:
// matching rounds with radius expansion, escalation to a human
// dispatcher, the arrival watch on assigned vendors, and every
// externally requested status transition.
//
// Waits are never in-process sleeps. Each wait is a persisted fact
// (waiting_until + wait_reason) on the incident record; Run re-delivers
// due facts to Resume, which is idempotent and safe to invoke for
// timers that already fired or were already handled.
package orchestrator

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
	"github.com/roadcall/dispatchd/core/offer"
	"github.com/roadcall/dispatchd/core/store"
	"github.com/roadcall/dispatchd/internal/eventbus"
)

// ConfigSource supplies the administered MatchConfig. Each matching
// round snapshots one config and uses it throughout.
type ConfigSource interface {
	Current(ctx context.Context) (model.MatchConfig, error)
}

// IncidentCreated is the inbound fact that starts orchestration.
type IncidentCreated struct {
	IncidentID string
	DriverID   string
	Type       model.IncidentType
	Location   model.Location
	CreatedAt  time.Time
}

// PositionUpdate is a vendor location sample from the tracking feed.
type PositionUpdate struct {
	VendorID  string
	Location  model.Location
	Timestamp time.Time
}

// Orchestrator is the top-level durable state machine.
type Orchestrator struct {
	store   store.Store
	engine  *match.Engine
	offers  *offer.Manager
	configs ConfigSource
	bus     eventbus.EventBus
	sink    metrics.Sink
	log     logger.Logger
	now     func() time.Time

	pollInterval time.Duration
}

// New builds an Orchestrator. bus and sink may be nil.
func New(st store.Store, engine *match.Engine, offers *offer.Manager, configs ConfigSource, bus eventbus.EventBus, sink metrics.Sink, log logger.Logger) *Orchestrator {
	if sink == nil {
		sink = metrics.NopSink{}
	}
	if log == nil {
		log = logger.Nop{}
	}
	return &Orchestrator{
		store:        st,
		engine:       engine,
		offers:       offers,
		configs:      configs,
		bus:          bus,
		sink:         sink,
		log:          log,
		now:          time.Now,
		pollInterval: time.Second,
	}
}

// SetClock overrides the wall clock, for tests.
func (o *Orchestrator) SetClock(now func() time.Time) { o.now = now }

// SetPollInterval overrides the timer re-delivery cadence.
func (o *Orchestrator) SetPollInterval(d time.Duration) { o.pollInterval = d }

// Run re-delivers due timer facts until the context is cancelled. A
// timer surfacing here after a crash is the expected recovery path, not
// an error.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			due, err := o.store.ListWaiting(ctx, o.now().UTC())
			if err != nil {
				o.log.Errorf("listing due incidents: %v", err)
				continue
			}
			for _, inc := range due {
				if err := o.Resume(ctx, inc.ID); err != nil && !faults.IsKind(err, faults.Conflict) {
					o.log.Errorf("resume incident %s: %v", inc.ID, err)
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// Intake registers a new incident and starts its first matching round.
func (o *Orchestrator) Intake(ctx context.Context, cmd IncidentCreated) (model.Incident, error) {
	if cmd.DriverID == "" {
		return model.Incident{}, faults.Validationf("driver_id is required")
	}
	if len(model.CapabilitiesFor(cmd.Type)) == 0 {
		return model.Incident{}, faults.Validationf("unknown incident type %q", cmd.Type)
	}
	cfg, err := o.configs.Current(ctx)
	if err != nil {
		return model.Incident{}, faults.Upstreamf(err, "loading match config")
	}
	now := o.now().UTC()
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = now
	}
	if cmd.IncidentID == "" {
		cmd.IncidentID = uuid.NewString()
	}
	inc := model.Incident{
		ID:                cmd.IncidentID,
		DriverID:          cmd.DriverID,
		Type:              cmd.Type,
		Location:          cmd.Location,
		Status:            model.StatusCreated,
		SearchRadiusMiles: cfg.DefaultRadiusMiles,
		CreatedAt:         cmd.CreatedAt,
		UpdatedAt:         now,
	}
	if err := o.store.CreateIncident(ctx, inc); err != nil {
		return model.Incident{}, err
	}
	inc, err = o.runMatchingRound(ctx, inc, cfg)
	if err != nil {
		return model.Incident{}, err
	}
	return inc, nil
}

// Resume is the idempotent timer re-entry point. It inspects the
// persisted wait fact and either handles it or, when the fact was
// already handled or is not yet due, does nothing.
func (o *Orchestrator) Resume(ctx context.Context, incidentID string) error {
	inc, err := o.store.GetIncident(ctx, incidentID)
	if err != nil {
		return err
	}
	now := o.now().UTC()
	if inc.WaitReason == model.WaitNone || inc.WaitingUntil.IsZero() || inc.WaitingUntil.After(now) {
		return nil
	}
	switch inc.WaitReason {
	case model.WaitOfferRound:
		return o.resumeOfferRound(ctx, inc)
	case model.WaitArrival:
		return o.resumeArrival(ctx, inc)
	default:
		return o.clearWait(ctx, inc)
	}
}

// resumeOfferRound handles an offer window that elapsed without an
// acceptance: expire the round's offers, then expand or escalate.
func (o *Orchestrator) resumeOfferRound(ctx context.Context, inc model.Incident) error {
	if inc.Status != model.StatusCreated {
		// Accepted or cancelled while the timer was in flight.
		return o.clearWait(ctx, inc)
	}
	if err := o.offers.ExpireAllPending(ctx, inc.ID); err != nil {
		o.log.Warnf("expiring round offers for incident %s: %v", inc.ID, err)
	}
	return o.restartMatching(ctx, inc)
}

// resumeArrival handles an arrival deadline that elapsed before the
// vendor reached the geofence: release the slot and restart matching.
// The attempt counter continues from where matching left off, so a
// no-show vendor cannot replenish the automation budget.
func (o *Orchestrator) resumeArrival(ctx context.Context, inc model.Incident) error {
	if inc.Status == model.StatusCreated && !inc.Assigned() {
		// A prior resume released the slot but went down before the
		// re-match committed. The stale wait fact is the only timer
		// this incident has left; pick up where the release stopped
		// instead of clearing it.
		return o.restartMatching(ctx, inc)
	}
	if inc.Status != model.StatusVendorAssigned && inc.Status != model.StatusVendorEnRoute {
		return o.clearWait(ctx, inc)
	}
	now := o.now().UTC()
	vendorID := inc.AssignedVendorID
	elapsed := now.Sub(inc.AssignedAt)
	released, err := o.store.ReleaseAssignment(ctx, inc.ID, vendorID,
		"vendor "+vendorID+" failed to arrive before deadline", now)
	if err != nil {
		return err
	}
	o.publishStatus(released.ID, inc.Status, model.StatusCreated, model.System, now)
	if o.bus != nil {
		o.bus.Publish(events.VendorTimeoutEvent{
			IncidentID:     inc.ID,
			VendorID:       vendorID,
			TimeoutType:    events.TimeoutArrival,
			ElapsedMinutes: elapsed.Minutes(),
		})
	}
	if err := o.sink.RecordVendorTimeout(metrics.VendorTimeoutEvent{
		IncidentID: inc.ID,
		VendorID:   vendorID,
		Type:       string(events.TimeoutArrival),
		Elapsed:    elapsed,
		Time:       now,
	}); err != nil {
		o.log.Errorf("vendor timeout metrics error: %v", err)
	}
	return o.restartMatching(ctx, released)
}

// restartMatching resumes matching on an unassigned incident: the next
// round when budget remains, escalation otherwise.
func (o *Orchestrator) restartMatching(ctx context.Context, inc model.Incident) error {
	cfg, err := o.configs.Current(ctx)
	if err != nil {
		return faults.Upstreamf(err, "loading match config")
	}
	if inc.MatchingAttempts >= cfg.MaxExpansionAttempts {
		return o.escalate(ctx, inc)
	}
	_, err = o.runMatchingRound(ctx, inc, cfg)
	return err
}

// runMatchingRound persists the round state first, then issues offers.
// A crash between the two leaves a round that times out empty and is
// retried by the next timer delivery, never a lost incident.
func (o *Orchestrator) runMatchingRound(ctx context.Context, inc model.Incident, cfg model.MatchConfig) (model.Incident, error) {
	now := o.now().UTC()
	attempt := inc.MatchingAttempts + 1
	radius := cfg.DefaultRadiusMiles
	if attempt > 1 {
		radius = cfg.NextRadius(inc.SearchRadiusMiles)
	}
	inc.MatchingAttempts = attempt
	inc.SearchRadiusMiles = radius
	inc.WaitingUntil = now.Add(cfg.OfferTimeout())
	inc.WaitReason = model.WaitOfferRound
	inc, err := o.store.UpdateIncident(ctx, inc, inc.Version)
	if err != nil {
		return model.Incident{}, err
	}

	candidates, err := o.engine.FindCandidates(ctx, inc, radius, cfg)
	if err != nil {
		// Roster exhausted its retries: treat as an empty round rather
		// than failing the incident.
		o.log.Warnf("candidate search failed for incident %s: %v", inc.ID, err)
		candidates = nil
	}
	issued, err := o.offers.CreateOffers(ctx, inc, candidates, cfg)
	if err != nil {
		return model.Incident{}, err
	}
	o.log.Infof("incident %s attempt %d radius %.1fmi: %d candidates, %d offers",
		inc.ID, attempt, radius, len(candidates), len(issued))
	if err := o.sink.RecordRound(metrics.RoundEvent{
		IncidentID:   inc.ID,
		IncidentType: inc.Type,
		Attempt:      attempt,
		RadiusMiles:  radius,
		Candidates:   len(candidates),
		OffersIssued: len(issued),
		Time:         now,
	}); err != nil {
		o.log.Errorf("round metrics error: %v", err)
	}
	return inc, nil
}

// escalate hands the incident to a human dispatcher. It fires exactly
// once per incident; the incident stays in created awaiting a manual
// assignment through the same compare-and-set path vendors use.
func (o *Orchestrator) escalate(ctx context.Context, inc model.Incident) error {
	alreadyEscalated := inc.Escalated
	inc.Escalated = true
	inc.WaitingUntil = time.Time{}
	inc.WaitReason = model.WaitNone
	inc, err := o.store.UpdateIncident(ctx, inc, inc.Version)
	if err != nil {
		return err
	}
	if alreadyEscalated {
		return nil
	}
	now := o.now().UTC()
	o.log.Warnf("incident %s escalated after %d matching attempts", inc.ID, inc.MatchingAttempts)
	if o.bus != nil {
		o.bus.Publish(events.EscalationEvent{
			IncidentID:                 inc.ID,
			Reason:                     "automated matching exhausted",
			Attempts:                   inc.MatchingAttempts,
			RequiresManualIntervention: true,
		})
	}
	if err := o.sink.RecordEscalation(metrics.EscalationEvent{
		IncidentID:   inc.ID,
		IncidentType: inc.Type,
		Attempts:     inc.MatchingAttempts,
		Time:         now,
	}); err != nil {
		o.log.Errorf("escalation metrics error: %v", err)
	}
	return nil
}

func (o *Orchestrator) clearWait(ctx context.Context, inc model.Incident) error {
	inc.WaitingUntil = time.Time{}
	inc.WaitReason = model.WaitNone
	_, err := o.store.UpdateIncident(ctx, inc, inc.Version)
	return err
}

func (o *Orchestrator) publishStatus(incidentID string, from, to model.IncidentStatus, actor model.Actor, at time.Time) {
	if o.bus != nil {
		o.bus.Publish(events.StatusChangedEvent{
			IncidentID: incidentID,
			From:       from,
			To:         to,
			Actor:      actor,
			Timestamp:  at,
		})
	}
}
