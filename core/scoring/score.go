// Package scoring ranks vendors for an incident. Score is a pure
// function of its inputs so that the audit trail can reproduce every
// ranking decision.
package scoring

import (
	"gonum.org/v1/gonum/floats"

	"github.com/roadcall/dispatchd/core/model"
)

// Result pairs the weighted total with its sub-scores.
type Result struct {
	Total     float64
	Breakdown model.ScoreBreakdown
}

// Score computes the weighted suitability of a vendor for an incident.
// The total and every sub-score are in [0,1]. A capability mismatch
// zeroes the capability component, which costs the vendor at least the
// capability weight of the total.
func Score(v model.Vendor, inc model.Incident, cfg model.MatchConfig) Result {
	b := model.ScoreBreakdown{
		Distance:       distanceScore(v, inc.Location),
		Capability:     capabilityScore(v, inc.Type),
		Availability:   availabilityScore(v),
		AcceptanceRate: clamp01(v.Metrics.AcceptanceRate),
		Rating:         clamp01(v.Rating.Average / 5),
	}
	sub := []float64{b.Distance, b.Capability, b.Availability, b.AcceptanceRate, b.Rating}
	total := floats.Dot(cfg.Weights.Slice(), sub)
	return Result{Total: clamp01(total), Breakdown: b}
}

// distanceScore degrades linearly from 1 at the vendor's coverage
// center to 0 at its coverage radius.
func distanceScore(v model.Vendor, at model.Location) float64 {
	if v.CoverageRadiusMiles <= 0 {
		return 0
	}
	d := v.CoverageCenter.DistanceMiles(at)
	return clamp01(1 - d/v.CoverageRadiusMiles)
}

func capabilityScore(v model.Vendor, t model.IncidentType) float64 {
	if v.CanServe(t) {
		return 1
	}
	return 0
}

func availabilityScore(v model.Vendor) float64 {
	if v.Availability == model.Available {
		return 1
	}
	return 0
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
