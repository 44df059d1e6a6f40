package model

import (
	"math"
	"testing"
)

func TestDefaultMatchConfigValid(t *testing.T) {
	if err := DefaultMatchConfig().Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestMatchConfigValidate_Weights(t *testing.T) {
	cfg := DefaultMatchConfig()
	cfg.Weights.Distance = 0.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("weights summing to 1.2 must be rejected")
	}

	cfg = DefaultMatchConfig()
	cfg.Weights.Rating = -0.1
	if err := cfg.Validate(); err == nil {
		t.Fatal("negative weight must be rejected")
	}

	// Drift inside the tolerance passes.
	cfg = DefaultMatchConfig()
	cfg.Weights.Rating += 0.0005
	if err := cfg.Validate(); err != nil {
		t.Fatalf("drift within tolerance must pass: %v", err)
	}
}

func TestMatchConfigValidate_Bounds(t *testing.T) {
	cases := []func(*MatchConfig){
		func(c *MatchConfig) { c.DefaultRadiusMiles = 0 },
		func(c *MatchConfig) { c.MaxRadiusMiles = c.DefaultRadiusMiles - 1 },
		func(c *MatchConfig) { c.RadiusExpansionFactor = 0 },
		func(c *MatchConfig) { c.MaxExpansionAttempts = 0 },
		func(c *MatchConfig) { c.OfferTimeoutSeconds = 0 },
		func(c *MatchConfig) { c.MaxOffersPerRound = 0 },
		func(c *MatchConfig) { c.ArrivalTimeoutMinutes = 0 },
		func(c *MatchConfig) { c.ArrivalGeofenceMiles = 0 },
	}
	for i, mutate := range cases {
		cfg := DefaultMatchConfig()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestNextRadiusProgression(t *testing.T) {
	cfg := DefaultMatchConfig()
	r := cfg.DefaultRadiusMiles
	want := []float64{62.5, 78.125}
	for _, w := range want {
		r = cfg.NextRadius(r)
		if math.Abs(r-w) > 1e-9 {
			t.Fatalf("expected radius %.4f, got %.4f", w, r)
		}
	}
}

func TestNextRadiusCapped(t *testing.T) {
	cfg := DefaultMatchConfig()
	if got := cfg.NextRadius(140); got != cfg.MaxRadiusMiles {
		t.Fatalf("expansion past the cap must clamp to %.1f, got %.1f", cfg.MaxRadiusMiles, got)
	}
	if got := cfg.NextRadius(cfg.MaxRadiusMiles); got != cfg.MaxRadiusMiles {
		t.Fatalf("expansion at the cap must stay at %.1f, got %.1f", cfg.MaxRadiusMiles, got)
	}
}
