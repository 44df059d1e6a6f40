package roster

import (
	"context"
	"sync"

	"github.com/roadcall/dispatchd/core/model"
)

// StaticRoster is an in-memory roster for development and tests.
type StaticRoster struct {
	mu      sync.RWMutex
	vendors map[string]model.Vendor
}

// NewStaticRoster seeds the roster with the given vendors.
func NewStaticRoster(vendors ...model.Vendor) *StaticRoster {
	s := &StaticRoster{vendors: make(map[string]model.Vendor, len(vendors))}
	for _, v := range vendors {
		s.vendors[v.ID] = v
	}
	return s
}

// Upsert adds or replaces a vendor.
func (s *StaticRoster) Upsert(v model.Vendor) {
	s.mu.Lock()
	s.vendors[v.ID] = v
	s.mu.Unlock()
}

// Remove drops a vendor.
func (s *StaticRoster) Remove(vendorID string) {
	s.mu.Lock()
	delete(s.vendors, vendorID)
	s.mu.Unlock()
}

// Query applies the same coverage-intersection and capability filters
// as the Redis implementation.
func (s *StaticRoster) Query(_ context.Context, center model.Location, radiusMiles float64, required model.IncidentType) ([]model.Vendor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Vendor
	for _, v := range s.vendors {
		if center.DistanceMiles(v.CoverageCenter) > radiusMiles+v.CoverageRadiusMiles {
			continue
		}
		if !v.CanServe(required) {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}
