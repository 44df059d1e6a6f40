package model

import "time"

// OfferStatus is the lifecycle state of an offer. All states other than
// pending are terminal.
type OfferStatus string

const (
	OfferPending  OfferStatus = "pending"
	OfferAccepted OfferStatus = "accepted"
	OfferDeclined OfferStatus = "declined"
	OfferExpired  OfferStatus = "expired"
)

// ScoreBreakdown exposes the five weighted sub-scores, each in [0,1].
type ScoreBreakdown struct {
	Distance       float64 `json:"distance"`
	Capability     float64 `json:"capability"`
	Availability   float64 `json:"availability"`
	AcceptanceRate float64 `json:"acceptance_rate"`
	Rating         float64 `json:"rating"`
}

// Offer is a time-boxed proposal to one vendor for one incident.
// It is immutable once terminal.
type Offer struct {
	ID              string         `json:"id"`
	IncidentID      string         `json:"incident_id"`
	VendorID        string         `json:"vendor_id"`
	Score           float64        `json:"score"`
	Breakdown       ScoreBreakdown `json:"breakdown"`
	Status          OfferStatus    `json:"status"`
	EstimatedPayout float64        `json:"estimated_payout"`
	DeclineReason   string         `json:"decline_reason,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	ExpiresAt       time.Time      `json:"expires_at"`
}

// Terminal reports whether the offer can no longer change state.
func (o Offer) Terminal() bool { return o.Status != OfferPending }

// ExpiredAt reports whether the offer's deadline has passed at now.
func (o Offer) ExpiredAt(now time.Time) bool { return !now.Before(o.ExpiresAt) }
