package orchestrator

import (
	"context"
	"time"

	"github.com/roadcall/dispatchd/core/faults"
	"github.com/roadcall/dispatchd/core/model"
)

// Get returns the incident record.
func (o *Orchestrator) Get(ctx context.Context, incidentID string) (model.Incident, error) {
	return o.store.GetIncident(ctx, incidentID)
}

// Transition applies an externally requested status change. The
// authorization check is a precondition of every request: it rejects
// before touching state. Replaying a transition whose target status is
// already current is a no-op, so duplicate event delivery never
// double-appends timeline entries.
func (o *Orchestrator) Transition(ctx context.Context, incidentID string, to model.IncidentStatus, actor model.Actor, reason string) (model.Incident, error) {
	inc, err := o.store.GetIncident(ctx, incidentID)
	if err != nil {
		return model.Incident{}, err
	}
	if err := authorize(inc, to, actor); err != nil {
		return model.Incident{}, err
	}
	if inc.Status == to {
		return inc, nil
	}
	if to == model.StatusVendorAssigned {
		return model.Incident{}, faults.Validationf("vendor assignment goes through offer acceptance, not a direct transition")
	}
	if to == model.StatusCancelled && (inc.Status == model.StatusWorkCompleted || inc.Status == model.StatusPaymentPending) {
		return model.Incident{}, faults.Validationf("cannot cancel incident %s after work completed", incidentID)
	}
	if !model.CanTransition(inc.Status, to) {
		return model.Incident{}, faults.Validationf("transition %s -> %s is not allowed", inc.Status, to)
	}

	now := o.now().UTC()
	from := inc.Status
	inc.Timeline = append(inc.Timeline, model.TimelineEntry{
		From:      from,
		To:        to,
		Timestamp: now,
		Actor:     actor,
		Reason:    reason,
	})
	inc.Status = to
	switch {
	case to == model.StatusCancelled:
		// Cancellation stops further offer issuance and drops any
		// claimed slot so the assignment invariant holds.
		inc.AssignedVendorID = ""
		inc.AssignedAt = time.Time{}
		inc.WaitingUntil = time.Time{}
		inc.WaitReason = model.WaitNone
	case to == model.StatusVendorArrived, to == model.StatusWorkInProgress:
		// Arrival ends the arrival watch.
		inc.WaitingUntil = time.Time{}
		inc.WaitReason = model.WaitNone
	case to == model.StatusClosed:
		inc.AssignedVendorID = ""
		inc.AssignedAt = time.Time{}
	}
	inc.UpdatedAt = now
	inc, err = o.store.UpdateIncident(ctx, inc, inc.Version)
	if err != nil {
		return model.Incident{}, err
	}
	if to == model.StatusCancelled {
		if err := o.offers.ExpireAllPending(ctx, inc.ID); err != nil {
			o.log.Warnf("expiring offers on cancellation of %s: %v", inc.ID, err)
		}
	}
	o.publishStatus(inc.ID, from, to, actor, now)
	return inc, nil
}

// AssignVendor is the manual assignment path for a human dispatcher on
// an escalated incident. It claims the slot through the same
// compare-and-set a vendor acceptance uses.
func (o *Orchestrator) AssignVendor(ctx context.Context, incidentID, vendorID string, actor model.Actor) (model.Incident, error) {
	if actor.Role != model.RoleDispatcher {
		return model.Incident{}, faults.Authorizationf("only a dispatcher may assign a vendor directly")
	}
	cfg, err := o.configs.Current(ctx)
	if err != nil {
		return model.Incident{}, faults.Upstreamf(err, "loading match config")
	}
	now := o.now().UTC()
	inc, err := o.store.ClaimAssignment(ctx, incidentID, vendorID, actor, now, now.Add(cfg.ArrivalTimeout()))
	if err != nil {
		return model.Incident{}, err
	}
	if err := o.offers.ExpireAllPending(ctx, incidentID); err != nil {
		o.log.Warnf("expiring offers on manual assignment of %s: %v", incidentID, err)
	}
	o.publishStatus(inc.ID, model.StatusCreated, model.StatusVendorAssigned, actor, now)
	return inc, nil
}

// HandlePositionUpdate feeds the arrival watch. A position sample from
// an assigned vendor marks the vendor en route; a sample inside the
// geofence completes the watch with vendor_arrived.
func (o *Orchestrator) HandlePositionUpdate(ctx context.Context, upd PositionUpdate) error {
	incidents, err := o.store.ListAssignedToVendor(ctx, upd.VendorID)
	if err != nil {
		return err
	}
	cfg, err := o.configs.Current(ctx)
	if err != nil {
		return faults.Upstreamf(err, "loading match config")
	}
	vendorActor := model.Actor{Role: model.RoleVendor, ID: upd.VendorID}
	for _, inc := range incidents {
		switch inc.Status {
		case model.StatusVendorAssigned, model.StatusVendorEnRoute:
		default:
			continue
		}
		if inc.Status == model.StatusVendorAssigned {
			updated, err := o.Transition(ctx, inc.ID, model.StatusVendorEnRoute, vendorActor, "position update received")
			if err != nil {
				o.log.Warnf("marking vendor en route for incident %s: %v", inc.ID, err)
				continue
			}
			inc = updated
		}
		if upd.Location.DistanceMiles(inc.Location) <= cfg.ArrivalGeofenceMiles {
			if _, err := o.Transition(ctx, inc.ID, model.StatusVendorArrived, vendorActor, "entered arrival geofence"); err != nil {
				o.log.Warnf("marking vendor arrived for incident %s: %v", inc.ID, err)
			}
		}
	}
	return nil
}

// authorize enforces the per-role preconditions from the request
// before any state is read for mutation.
func authorize(inc model.Incident, to model.IncidentStatus, actor model.Actor) error {
	switch actor.Role {
	case model.RoleDispatcher, model.RoleSystem:
		return nil
	case model.RoleDriver:
		if actor.ID != inc.DriverID {
			return faults.Authorizationf("driver %s does not own incident %s", actor.ID, inc.ID)
		}
		if to != model.StatusCancelled {
			return faults.Authorizationf("drivers may only cancel their incident")
		}
		return nil
	case model.RoleVendor:
		if actor.ID == "" || actor.ID != inc.AssignedVendorID {
			return faults.Authorizationf("vendor %s is not assigned to incident %s", actor.ID, inc.ID)
		}
		return nil
	default:
		return faults.Authorizationf("unknown actor role %q", actor.Role)
	}
}
