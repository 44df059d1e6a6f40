// Package matchcfg administers the versioned MatchConfig. Updates are
// validated, audited and assigned a monotonically increasing version;
// a rollback restores a prior value as a new version, never rewriting
// history. Reads go through a bounded-TTL cache that is invalidated on
// every update, so an admin change takes effect within the TTL without
// a read hitting the backing store on every matching round.
package matchcfg

import (
	"context"
	"sync"
	"time"

	"github.com/roadcall/dispatchd/core/faults"
	"github.com/roadcall/dispatchd/core/model"
)

// AuditRecord captures one administered change.
type AuditRecord struct {
	Version   int64             `json:"version"`
	Previous  model.MatchConfig `json:"previous"`
	New       model.MatchConfig `json:"new"`
	Actor     string            `json:"actor"`
	Reason    string            `json:"reason"`
	Timestamp time.Time         `json:"timestamp"`
}

// Versioned pairs a config with its version number.
type Versioned struct {
	Version int64             `json:"version"`
	Config  model.MatchConfig `json:"config"`
}

// Store holds the administered config. The zero TTL disables caching.
type Store struct {
	mu       sync.RWMutex
	current  Versioned
	history  []Versioned
	audit    []AuditRecord
	cacheTTL time.Duration
	cachedAt time.Time
	cached   model.MatchConfig
	hasCache bool
	now      func() time.Time
}

// NewStore seeds the store with the default config as version 1.
func NewStore(cacheTTL time.Duration) *Store {
	initial := Versioned{Version: 1, Config: model.DefaultMatchConfig()}
	return &Store{
		current:  initial,
		history:  []Versioned{initial},
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

// SetClock overrides the wall clock, for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Current returns the active config, served from cache within the TTL.
func (s *Store) Current(_ context.Context) (model.MatchConfig, error) {
	s.mu.RLock()
	if s.hasCache && s.now().Sub(s.cachedAt) < s.cacheTTL {
		cfg := s.cached
		s.mu.RUnlock()
		return cfg, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = s.current.Config
	s.cachedAt = s.now()
	s.hasCache = true
	return s.cached, nil
}

// CurrentVersioned returns the active config with its version.
func (s *Store) CurrentVersioned() Versioned {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update validates and installs cfg as the next version, invalidating
// the read cache.
func (s *Store) Update(cfg model.MatchConfig, actor, reason string) (Versioned, error) {
	if err := cfg.Validate(); err != nil {
		return Versioned{}, faults.Wrap(faults.Validation, err, "match config rejected")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.current
	next := Versioned{Version: prev.Version + 1, Config: cfg}
	s.current = next
	s.history = append(s.history, next)
	s.audit = append(s.audit, AuditRecord{
		Version:   next.Version,
		Previous:  prev.Config,
		New:       cfg,
		Actor:     actor,
		Reason:    reason,
		Timestamp: s.now().UTC(),
	})
	s.hasCache = false
	return next, nil
}

// Rollback restores the config of a prior version as a new version.
func (s *Store) Rollback(toVersion int64, actor, reason string) (Versioned, error) {
	s.mu.RLock()
	var target *Versioned
	for i := range s.history {
		if s.history[i].Version == toVersion {
			target = &s.history[i]
			break
		}
	}
	s.mu.RUnlock()
	if target == nil {
		return Versioned{}, faults.NotFoundf("match config version %d", toVersion)
	}
	if reason == "" {
		reason = "rollback"
	}
	return s.Update(target.Config, actor, reason)
}

// History returns the audit trail, oldest first.
func (s *Store) History() []AuditRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]AuditRecord(nil), s.audit...)
}
