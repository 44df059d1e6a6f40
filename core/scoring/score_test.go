package scoring

import (
	"testing"

	"github.com/roadcall/dispatchd/core/model"
)

func vendorAt(lat, lon float64) model.Vendor {
	return model.Vendor{
		ID:                  "v1",
		Capabilities:        []model.Capability{model.CapTireRepair},
		CoverageCenter:      model.Location{Lat: lat, Lon: lon},
		CoverageRadiusMiles: 50,
		Availability:        model.Available,
		Metrics:             model.VendorMetrics{AcceptanceRate: 0.8},
		Rating:              model.VendorRating{Average: 4.5, Count: 20},
	}
}

func tireIncident(lat, lon float64) model.Incident {
	return model.Incident{ID: "i1", Type: model.IncidentTire, Location: model.Location{Lat: lat, Lon: lon}}
}

func TestScoreRangeAndDeterminism(t *testing.T) {
	v := vendorAt(30.0, -97.0)
	inc := tireIncident(30.1, -97.1)
	cfg := model.DefaultMatchConfig()

	first := Score(v, inc, cfg)
	if first.Total < 0 || first.Total > 1 {
		t.Fatalf("total out of range: %v", first.Total)
	}
	for i := 0; i < 10; i++ {
		if got := Score(v, inc, cfg); got != first {
			t.Fatalf("score is not deterministic: %+v vs %+v", got, first)
		}
	}
}

func TestScoreCapabilityMismatch(t *testing.T) {
	v := vendorAt(30.0, -97.0)
	inc := tireIncident(30.0, -97.0)
	cfg := model.DefaultMatchConfig()

	with := Score(v, inc, cfg)
	v.Capabilities = []model.Capability{model.CapFuelDelivery}
	without := Score(v, inc, cfg)

	if without.Breakdown.Capability != 0 {
		t.Fatalf("mismatch must zero the capability component, got %v", without.Breakdown.Capability)
	}
	if with.Total-without.Total < cfg.Weights.Capability-1e-9 {
		t.Fatalf("mismatch must cost at least the capability weight: %v vs %v", with.Total, without.Total)
	}
}

func TestScoreDistanceMonotonic(t *testing.T) {
	cfg := model.DefaultMatchConfig()
	v := vendorAt(30.0, -97.0)
	prev := 2.0
	// Step the incident away from the coverage center.
	for _, dLat := range []float64{0, 0.1, 0.3, 0.6, 1.0} {
		res := Score(v, tireIncident(30.0+dLat, -97.0), cfg)
		if res.Breakdown.Distance > prev {
			t.Fatalf("distance score must not increase with distance")
		}
		prev = res.Breakdown.Distance
	}
}

func TestScoreDistanceAtCoverageEdge(t *testing.T) {
	cfg := model.DefaultMatchConfig()
	v := vendorAt(30.0, -97.0)
	// ~69 miles north, beyond the 50mi coverage radius.
	res := Score(v, tireIncident(31.0, -97.0), cfg)
	if res.Breakdown.Distance != 0 {
		t.Fatalf("distance score beyond coverage must clamp to 0, got %v", res.Breakdown.Distance)
	}
}

func TestScoreUnavailableVendor(t *testing.T) {
	cfg := model.DefaultMatchConfig()
	v := vendorAt(30.0, -97.0)
	v.Availability = model.Busy
	res := Score(v, tireIncident(30.0, -97.0), cfg)
	if res.Breakdown.Availability != 0 {
		t.Fatalf("busy vendor must score 0 availability, got %v", res.Breakdown.Availability)
	}
}

func TestScoreRatingNormalized(t *testing.T) {
	cfg := model.DefaultMatchConfig()
	v := vendorAt(30.0, -97.0)
	v.Rating.Average = 5
	if res := Score(v, tireIncident(30.0, -97.0), cfg); res.Breakdown.Rating != 1 {
		t.Fatalf("5-star rating must normalize to 1, got %v", res.Breakdown.Rating)
	}
	v.Rating.Average = 2.5
	if res := Score(v, tireIncident(30.0, -97.0), cfg); res.Breakdown.Rating != 0.5 {
		t.Fatalf("2.5-star rating must normalize to 0.5, got %v", res.Breakdown.Rating)
	}
}
