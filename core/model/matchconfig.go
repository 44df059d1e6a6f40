package model

import (
	"fmt"
	"math"
	"time"
)

// weightSumTolerance bounds how far the five weights may drift from 1.0.
const weightSumTolerance = 1e-3

// Weights are the five scoring weights. They must be non-negative and
// sum to 1.0 within tolerance.
type Weights struct {
	Distance       float64 `json:"distance"`
	Capability     float64 `json:"capability"`
	Availability   float64 `json:"availability"`
	AcceptanceRate float64 `json:"acceptance_rate"`
	Rating         float64 `json:"rating"`
}

// Slice returns the weights in canonical order (distance, capability,
// availability, acceptance rate, rating).
func (w Weights) Slice() []float64 {
	return []float64{w.Distance, w.Capability, w.Availability, w.AcceptanceRate, w.Rating}
}

// MatchConfig tunes candidate search and offer issuance. A matching
// round snapshots one config and uses it throughout, even if the
// administered copy changes mid-round.
type MatchConfig struct {
	Weights               Weights `json:"weights"`
	DefaultRadiusMiles    float64 `json:"default_radius_miles"`
	MaxRadiusMiles        float64 `json:"max_radius_miles"`
	RadiusExpansionFactor float64 `json:"radius_expansion_factor"`
	MaxExpansionAttempts  int     `json:"max_expansion_attempts"`
	OfferTimeoutSeconds   int     `json:"offer_timeout_seconds"`
	MaxOffersPerRound     int     `json:"max_offers_per_round"`
	ArrivalTimeoutMinutes int     `json:"arrival_timeout_minutes"`
	ArrivalGeofenceMiles  float64 `json:"arrival_geofence_miles"`
}

// DefaultMatchConfig returns the shipped configuration.
func DefaultMatchConfig() MatchConfig {
	return MatchConfig{
		Weights: Weights{
			Distance:       0.30,
			Capability:     0.25,
			Availability:   0.20,
			AcceptanceRate: 0.15,
			Rating:         0.10,
		},
		DefaultRadiusMiles:    50,
		MaxRadiusMiles:        150,
		RadiusExpansionFactor: 0.25,
		MaxExpansionAttempts:  3,
		OfferTimeoutSeconds:   120,
		MaxOffersPerRound:     3,
		ArrivalTimeoutMinutes: 30,
		ArrivalGeofenceMiles:  0.25,
	}
}

// OfferTimeout returns the offer TTL as a duration.
func (c MatchConfig) OfferTimeout() time.Duration {
	return time.Duration(c.OfferTimeoutSeconds) * time.Second
}

// ArrivalTimeout returns the arrival deadline as a duration.
func (c MatchConfig) ArrivalTimeout() time.Duration {
	return time.Duration(c.ArrivalTimeoutMinutes) * time.Minute
}

// NextRadius applies one expansion step, capped at the maximum radius.
func (c MatchConfig) NextRadius(current float64) float64 {
	return math.Min(current*(1+c.RadiusExpansionFactor), c.MaxRadiusMiles)
}

// Validate rejects configs that would break scoring or the matching
// loop. It must pass before a config is persisted.
func (c MatchConfig) Validate() error {
	sum := 0.0
	for _, w := range c.Weights.Slice() {
		if w < 0 {
			return fmt.Errorf("weights must be non-negative, got %+v", c.Weights)
		}
		sum += w
	}
	if math.Abs(sum-1.0) > weightSumTolerance {
		return fmt.Errorf("weights must sum to 1.0 +/- %g, got %g", weightSumTolerance, sum)
	}
	if c.DefaultRadiusMiles <= 0 || c.MaxRadiusMiles < c.DefaultRadiusMiles {
		return fmt.Errorf("invalid radius bounds: default=%g max=%g", c.DefaultRadiusMiles, c.MaxRadiusMiles)
	}
	if c.RadiusExpansionFactor <= 0 {
		return fmt.Errorf("radius_expansion_factor must be positive")
	}
	if c.MaxExpansionAttempts <= 0 {
		return fmt.Errorf("max_expansion_attempts must be positive")
	}
	if c.OfferTimeoutSeconds <= 0 {
		return fmt.Errorf("offer_timeout_seconds must be positive")
	}
	if c.MaxOffersPerRound <= 0 {
		return fmt.Errorf("max_offers_per_round must be positive")
	}
	if c.ArrivalTimeoutMinutes <= 0 {
		return fmt.Errorf("arrival_timeout_minutes must be positive")
	}
	if c.ArrivalGeofenceMiles <= 0 {
		return fmt.Errorf("arrival_geofence_miles must be positive")
	}
	return nil
}
