// Package match turns an incident and a search radius into a ranked,
// bounded list of vendor candidates.
package match

import (
	"context"
	"sort"
	"time"

	"github.com/roadcall/dispatchd/core/faults"
	"github.com/roadcall/dispatchd/core/logger"
	"github.com/roadcall/dispatchd/core/model"
	"github.com/roadcall/dispatchd/core/scoring"
)

// Roster is the external vendor directory. It returns vendors whose
// coverage area intersects the circle around center; the list may be
// empty and the dispatch core treats its contents as read-only.
type Roster interface {
	Query(ctx context.Context, center model.Location, radiusMiles float64, required model.IncidentType) ([]model.Vendor, error)
}

// Candidate is one scored roster entry.
type Candidate struct {
	Vendor    model.Vendor
	Score     float64
	Breakdown model.ScoreBreakdown
}

// Engine scores and ranks roster candidates for matching rounds.
type Engine struct {
	roster     Roster
	log        logger.Logger
	maxRetries int
	backoff    time.Duration
}

// NewEngine builds an Engine. Roster failures are retried with bounded
// exponential backoff before the round is treated as empty.
func NewEngine(roster Roster, log logger.Logger) *Engine {
	if log == nil {
		log = logger.Nop{}
	}
	return &Engine{roster: roster, log: log, maxRetries: 3, backoff: 200 * time.Millisecond}
}

// FindCandidates queries the roster, scores every vendor and returns
// candidates sorted by descending score, ties broken by vendor id so
// identical inputs always rank identically. The result is truncated to
// cfg.MaxOffersPerRound. Vendors lacking the required capability stay
// in the list with a penalized score; the offer layer applies the hard
// capability floor.
func (e *Engine) FindCandidates(ctx context.Context, inc model.Incident, radiusMiles float64, cfg model.MatchConfig) ([]Candidate, error) {
	vendors, err := e.queryWithRetry(ctx, inc.Location, radiusMiles, inc.Type)
	if err != nil {
		return nil, err
	}
	if len(vendors) == 0 {
		return nil, nil
	}

	list := make([]Candidate, 0, len(vendors))
	for _, v := range vendors {
		res := scoring.Score(v, inc, cfg)
		list = append(list, Candidate{Vendor: v, Score: res.Total, Breakdown: res.Breakdown})
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Score != list[j].Score {
			return list[i].Score > list[j].Score
		}
		return list[i].Vendor.ID < list[j].Vendor.ID
	})
	if len(list) > cfg.MaxOffersPerRound {
		list = list[:cfg.MaxOffersPerRound]
	}
	return list, nil
}

// queryWithRetry retries transient roster failures; exhaustion surfaces
// as an Upstream fault the orchestrator treats as an empty round.
func (e *Engine) queryWithRetry(ctx context.Context, center model.Location, radius float64, t model.IncidentType) ([]model.Vendor, error) {
	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(e.backoff * time.Duration(1<<(attempt-1))):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		vendors, err := e.roster.Query(ctx, center, radius, t)
		if err == nil {
			return vendors, nil
		}
		lastErr = err
		e.log.Warnf("roster query attempt %d failed: %v", attempt+1, err)
	}
	return nil, faults.Upstreamf(lastErr, "roster query exhausted %d retries", e.maxRetries)
}
