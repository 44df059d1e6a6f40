package events

import (
	"time"

	"github.com/roadcall/dispatchd/core/model"
)

// StatusChangedEvent is published for every applied incident transition.
type StatusChangedEvent struct {
	IncidentID string
	From       model.IncidentStatus
	To         model.IncidentStatus
	Actor      model.Actor
	Timestamp  time.Time
}

// EscalationEvent is published once when automated matching exhausts
// its attempts and the incident is handed to a human dispatcher.
type EscalationEvent struct {
	IncidentID                 string
	Reason                     string
	Attempts                   int
	RequiresManualIntervention bool
}

// TimeoutType names the deadline a vendor missed.
type TimeoutType string

const (
	TimeoutArrival  TimeoutType = "arrival"
	TimeoutResponse TimeoutType = "response"
)

// VendorTimeoutEvent feeds the vendor-reliability collaborator.
type VendorTimeoutEvent struct {
	IncidentID     string
	VendorID       string
	TimeoutType    TimeoutType
	ElapsedMinutes float64
}
