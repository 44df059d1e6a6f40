package model

import "time"

// IncidentType classifies the breakdown reported by the driver.
type IncidentType string

const (
	IncidentTire    IncidentType = "tire"
	IncidentEngine  IncidentType = "engine"
	IncidentTow     IncidentType = "tow"
	IncidentBattery IncidentType = "battery"
	IncidentLockout IncidentType = "lockout"
	IncidentFuel    IncidentType = "fuel"
)

// CapabilitiesFor returns the vendor capabilities that satisfy an
// incident type. Any one of them is sufficient.
func CapabilitiesFor(t IncidentType) []Capability {
	switch t {
	case IncidentTire:
		return []Capability{CapTireRepair, CapTireReplacement}
	case IncidentEngine:
		return []Capability{CapEngineRepair}
	case IncidentTow:
		return []Capability{CapTowing}
	case IncidentBattery:
		return []Capability{CapBatteryJump}
	case IncidentLockout:
		return []Capability{CapLockout}
	case IncidentFuel:
		return []Capability{CapFuelDelivery}
	default:
		return nil
	}
}

// IncidentStatus is one of the fixed lifecycle states.
type IncidentStatus string

const (
	StatusCreated        IncidentStatus = "created"
	StatusVendorAssigned IncidentStatus = "vendor_assigned"
	StatusVendorEnRoute  IncidentStatus = "vendor_en_route"
	StatusVendorArrived  IncidentStatus = "vendor_arrived"
	StatusWorkInProgress IncidentStatus = "work_in_progress"
	StatusWorkCompleted  IncidentStatus = "work_completed"
	StatusPaymentPending IncidentStatus = "payment_pending"
	StatusClosed         IncidentStatus = "closed"
	StatusCancelled      IncidentStatus = "cancelled"
)

// transitions is the full allowed-edge table. Status changes outside
// this table are rejected.
var transitions = map[IncidentStatus][]IncidentStatus{
	StatusCreated:        {StatusVendorAssigned, StatusCancelled},
	StatusVendorAssigned: {StatusVendorEnRoute, StatusCancelled},
	StatusVendorEnRoute:  {StatusVendorArrived, StatusCancelled},
	StatusVendorArrived:  {StatusWorkInProgress, StatusCancelled},
	StatusWorkInProgress: {StatusWorkCompleted, StatusCancelled},
	StatusWorkCompleted:  {StatusPaymentPending},
	StatusPaymentPending: {StatusClosed},
	StatusClosed:         nil,
	StatusCancelled:      nil,
}

// CanTransition reports whether from -> to is an allowed edge.
func CanTransition(from, to IncidentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status has no outgoing edges.
func (s IncidentStatus) Terminal() bool {
	return s == StatusClosed || s == StatusCancelled
}

// RequiresAssignment reports whether the status implies an assigned
// vendor. The incident invariant is: AssignedVendorID != "" iff the
// status is in this set.
func (s IncidentStatus) RequiresAssignment() bool {
	switch s {
	case StatusVendorAssigned, StatusVendorEnRoute, StatusVendorArrived,
		StatusWorkInProgress, StatusWorkCompleted, StatusPaymentPending:
		return true
	}
	return false
}

// ActorRole identifies who requested a change.
type ActorRole string

const (
	RoleDriver     ActorRole = "driver"
	RoleVendor     ActorRole = "vendor"
	RoleDispatcher ActorRole = "dispatcher"
	RoleSystem     ActorRole = "system"
)

// Actor is the principal behind a transition request.
type Actor struct {
	Role ActorRole `json:"role"`
	ID   string    `json:"id"`
}

// System is the actor used for automated transitions.
var System = Actor{Role: RoleSystem, ID: "dispatchd"}

// TimelineEntry records one applied status transition.
type TimelineEntry struct {
	From      IncidentStatus `json:"from"`
	To        IncidentStatus `json:"to"`
	Timestamp time.Time      `json:"timestamp"`
	Actor     Actor          `json:"actor"`
	Reason    string         `json:"reason,omitempty"`
}

// WaitReason names the durable timer an incident is parked on.
type WaitReason string

const (
	WaitNone       WaitReason = ""
	WaitOfferRound WaitReason = "offer_round"
	WaitArrival    WaitReason = "arrival"
)

// Incident is the durable dispatch record. It is mutated only through
// validated status transitions and the matching sub-workflow; the
// Version field backs the optimistic-concurrency checks in the store.
type Incident struct {
	ID                string          `json:"id"`
	DriverID          string          `json:"driver_id"`
	Type              IncidentType    `json:"type"`
	Location          Location        `json:"location"`
	Status            IncidentStatus  `json:"status"`
	AssignedVendorID  string          `json:"assigned_vendor_id,omitempty"`
	Timeline          []TimelineEntry `json:"timeline"`
	MatchingAttempts  int             `json:"matching_attempts"`
	SearchRadiusMiles float64         `json:"search_radius_miles"`
	Escalated         bool            `json:"escalated"`
	WaitingUntil      time.Time       `json:"waiting_until,omitempty"`
	WaitReason        WaitReason      `json:"wait_reason,omitempty"`
	AssignedAt        time.Time       `json:"assigned_at,omitempty"`
	Version           int64           `json:"version"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Assigned reports whether the assignment slot is claimed.
func (i Incident) Assigned() bool { return i.AssignedVendorID != "" }
