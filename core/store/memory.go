package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/roadcall/dispatchd/core/faults"
	"github.com/roadcall/dispatchd/core/model"
)

// MemoryStore is an in-process Store. It mirrors the conditional-write
// semantics of the SQLite store under a single mutex, which makes it
// the reference implementation for the concurrency tests.
type MemoryStore struct {
	mu        sync.Mutex
	incidents map[string]model.Incident
	offers    map[string]model.Offer
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		incidents: make(map[string]model.Incident),
		offers:    make(map[string]model.Offer),
	}
}

func (s *MemoryStore) CreateIncident(_ context.Context, inc model.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.incidents[inc.ID]; ok {
		return faults.Conflictf("incident %s already exists", inc.ID)
	}
	s.incidents[inc.ID] = cloneIncident(inc)
	return nil
}

func (s *MemoryStore) GetIncident(_ context.Context, id string) (model.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[id]
	if !ok {
		return model.Incident{}, faults.NotFoundf("incident %s", id)
	}
	return cloneIncident(inc), nil
}

func (s *MemoryStore) UpdateIncident(_ context.Context, inc model.Incident, expectedVersion int64) (model.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.incidents[inc.ID]
	if !ok {
		return model.Incident{}, faults.NotFoundf("incident %s", inc.ID)
	}
	if cur.Version != expectedVersion {
		return model.Incident{}, faults.Conflictf("incident %s version %d, expected %d", inc.ID, cur.Version, expectedVersion)
	}
	inc.Version = expectedVersion + 1
	inc.UpdatedAt = time.Now().UTC()
	s.incidents[inc.ID] = cloneIncident(inc)
	return cloneIncident(inc), nil
}

func (s *MemoryStore) ClaimAssignment(_ context.Context, incidentID, vendorID string, actor model.Actor, now, arrivalDeadline time.Time) (model.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[incidentID]
	if !ok {
		return model.Incident{}, faults.NotFoundf("incident %s", incidentID)
	}
	if inc.Status != model.StatusCreated || inc.Assigned() {
		return model.Incident{}, faults.Conflictf("incident %s already assigned", incidentID)
	}
	inc.Timeline = append(inc.Timeline, model.TimelineEntry{
		From:      model.StatusCreated,
		To:        model.StatusVendorAssigned,
		Timestamp: now,
		Actor:     actor,
		Reason:    "offer accepted",
	})
	inc.Status = model.StatusVendorAssigned
	inc.AssignedVendorID = vendorID
	inc.AssignedAt = now
	inc.WaitingUntil = arrivalDeadline
	inc.WaitReason = model.WaitArrival
	inc.Version++
	inc.UpdatedAt = now
	s.incidents[incidentID] = cloneIncident(inc)
	return cloneIncident(inc), nil
}

func (s *MemoryStore) ReleaseAssignment(_ context.Context, incidentID, vendorID, reason string, now time.Time) (model.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[incidentID]
	if !ok {
		return model.Incident{}, faults.NotFoundf("incident %s", incidentID)
	}
	if inc.AssignedVendorID != vendorID {
		return model.Incident{}, faults.Conflictf("incident %s not assigned to %s", incidentID, vendorID)
	}
	if inc.Status != model.StatusVendorAssigned && inc.Status != model.StatusVendorEnRoute {
		return model.Incident{}, faults.Conflictf("incident %s in %s, cannot release", incidentID, inc.Status)
	}
	inc.Timeline = append(inc.Timeline, model.TimelineEntry{
		From:      inc.Status,
		To:        model.StatusCreated,
		Timestamp: now,
		Actor:     model.System,
		Reason:    reason,
	})
	inc.Status = model.StatusCreated
	inc.AssignedVendorID = ""
	inc.AssignedAt = time.Time{}
	inc.Version++
	inc.UpdatedAt = now
	s.incidents[incidentID] = cloneIncident(inc)
	return cloneIncident(inc), nil
}

func (s *MemoryStore) ListWaiting(_ context.Context, now time.Time) ([]model.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []model.Incident
	for _, inc := range s.incidents {
		if inc.WaitReason != model.WaitNone && !inc.WaitingUntil.IsZero() && !inc.WaitingUntil.After(now) {
			due = append(due, cloneIncident(inc))
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].WaitingUntil.Before(due[j].WaitingUntil) })
	return due, nil
}

func (s *MemoryStore) ListAssignedToVendor(_ context.Context, vendorID string) ([]model.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Incident
	for _, inc := range s.incidents {
		if inc.AssignedVendorID == vendorID {
			out = append(out, cloneIncident(inc))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) CreateOffers(_ context.Context, offers []model.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range offers {
		if _, ok := s.offers[o.ID]; ok {
			return faults.Conflictf("offer %s already exists", o.ID)
		}
	}
	for _, o := range offers {
		s.offers[o.ID] = o
	}
	return nil
}

func (s *MemoryStore) GetOffer(_ context.Context, id string) (model.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[id]
	if !ok {
		return model.Offer{}, faults.NotFoundf("offer %s", id)
	}
	return o, nil
}

func (s *MemoryStore) ListOffersByIncident(_ context.Context, incidentID string) ([]model.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Offer
	for _, o := range s.offers {
		if o.IncidentID == incidentID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) TransitionOffer(_ context.Context, offerID string, from, to model.OfferStatus, reason string) (model.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[offerID]
	if !ok {
		return model.Offer{}, faults.NotFoundf("offer %s", offerID)
	}
	if o.Status != from {
		return model.Offer{}, faults.Conflictf("offer %s is %s, expected %s", offerID, o.Status, from)
	}
	o.Status = to
	if to == model.OfferDeclined {
		o.DeclineReason = reason
	}
	s.offers[offerID] = o
	return o, nil
}

func cloneIncident(inc model.Incident) model.Incident {
	cp := inc
	cp.Timeline = append([]model.TimelineEntry(nil), inc.Timeline...)
	return cp
}
