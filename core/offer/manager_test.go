package offer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/roadcall/dispatchd/core/faults"
	"github.com/roadcall/dispatchd/core/match"
	"github.com/roadcall/dispatchd/core/model"
	"github.com/roadcall/dispatchd/core/store"
)

type recordingChannel struct {
	mu   sync.Mutex
	sent []model.Offer
}

func (c *recordingChannel) SendOffer(_ context.Context, o model.Offer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, o)
	return nil
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func seedIncident(t *testing.T, st store.Store, id string) model.Incident {
	t.Helper()
	inc := model.Incident{
		ID:       id,
		DriverID: "driver-1",
		Type:     model.IncidentTire,
		Status:   model.StatusCreated,
	}
	if err := st.CreateIncident(context.Background(), inc); err != nil {
		t.Fatalf("seed incident: %v", err)
	}
	return inc
}

func candidate(vendorID string, capability float64) match.Candidate {
	return match.Candidate{
		Vendor: model.Vendor{ID: vendorID},
		Score:  0.8,
		Breakdown: model.ScoreBreakdown{
			Distance: 0.9, Capability: capability, Availability: 1,
			AcceptanceRate: 0.7, Rating: 0.8,
		},
	}
}

func TestCreateOffersCapabilityFloor(t *testing.T) {
	st := store.NewMemoryStore()
	ch := &recordingChannel{}
	m := NewManager(st, ch, nil, nil, nil)
	inc := seedIncident(t, st, "inc-1")
	cfg := model.DefaultMatchConfig()

	offers, err := m.CreateOffers(context.Background(), inc, []match.Candidate{
		candidate("capable", 1),
		candidate("incapable", 0),
		candidate("capable-2", 1),
	}, cfg)
	if err != nil {
		t.Fatalf("create offers: %v", err)
	}
	if len(offers) != 2 {
		t.Fatalf("the capability floor must drop the incapable vendor, got %d offers", len(offers))
	}
	for _, o := range offers {
		if o.VendorID == "incapable" {
			t.Fatal("an offer must never address a vendor that cannot do the work")
		}
		if o.Status != model.OfferPending {
			t.Fatalf("new offers start pending, got %s", o.Status)
		}
		if o.EstimatedPayout != 85 {
			t.Fatalf("tire payout expected 85, got %v", o.EstimatedPayout)
		}
	}
	if len(ch.sent) != 2 {
		t.Fatalf("offers must be pushed to the vendor channel, sent %d", len(ch.sent))
	}
}

func TestAcceptHappyPath(t *testing.T) {
	st := store.NewMemoryStore()
	m := NewManager(st, nil, nil, nil, nil)
	inc := seedIncident(t, st, "inc-1")
	cfg := model.DefaultMatchConfig()
	now := time.Now().UTC()
	m.SetClock(fixedClock(now))

	offers, err := m.CreateOffers(context.Background(), inc, []match.Candidate{
		candidate("v1", 1), candidate("v2", 1),
	}, cfg)
	if err != nil {
		t.Fatalf("create offers: %v", err)
	}

	var winning model.Offer
	for _, o := range offers {
		if o.VendorID == "v1" {
			winning = o
		}
	}
	got, err := m.Accept(context.Background(), winning.ID, "v1", cfg)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got.Status != model.StatusVendorAssigned || got.AssignedVendorID != "v1" {
		t.Fatalf("acceptance must claim the slot: %+v", got)
	}
	if got.WaitReason != model.WaitArrival || !got.WaitingUntil.Equal(now.Add(cfg.ArrivalTimeout())) {
		t.Fatalf("acceptance must park the arrival watch: %+v", got)
	}

	// The sibling offer is retired.
	for _, o := range offers {
		if o.VendorID != "v2" {
			continue
		}
		sibling, err := st.GetOffer(context.Background(), o.ID)
		if err != nil {
			t.Fatalf("get sibling: %v", err)
		}
		if sibling.Status != model.OfferExpired {
			t.Fatalf("sibling must expire after a win, got %s", sibling.Status)
		}
	}
}

func TestAcceptWrongVendor(t *testing.T) {
	st := store.NewMemoryStore()
	m := NewManager(st, nil, nil, nil, nil)
	inc := seedIncident(t, st, "inc-1")
	cfg := model.DefaultMatchConfig()

	offers, _ := m.CreateOffers(context.Background(), inc, []match.Candidate{candidate("v1", 1)}, cfg)
	if _, err := m.Accept(context.Background(), offers[0].ID, "intruder", cfg); !faults.IsKind(err, faults.Validation) {
		t.Fatalf("wrong addressee must be a validation fault, got %v", err)
	}
}

func TestAcceptMissingOffer(t *testing.T) {
	m := NewManager(store.NewMemoryStore(), nil, nil, nil, nil)
	if _, err := m.Accept(context.Background(), "nope", "v1", model.DefaultMatchConfig()); !faults.IsKind(err, faults.NotFound) {
		t.Fatalf("missing offer must be NotFound, got %v", err)
	}
}

func TestAcceptExpiredOfferSettles(t *testing.T) {
	st := store.NewMemoryStore()
	m := NewManager(st, nil, nil, nil, nil)
	inc := seedIncident(t, st, "inc-1")
	cfg := model.DefaultMatchConfig()
	start := time.Now().UTC()
	m.SetClock(fixedClock(start))

	offers, _ := m.CreateOffers(context.Background(), inc, []match.Candidate{candidate("v1", 1)}, cfg)

	// The deadline passes before the expiry timer fires.
	m.SetClock(fixedClock(start.Add(cfg.OfferTimeout() + time.Second)))
	if _, err := m.Accept(context.Background(), offers[0].ID, "v1", cfg); !faults.IsKind(err, faults.Conflict) {
		t.Fatalf("late accept must conflict, got %v", err)
	}
	o, _ := st.GetOffer(context.Background(), offers[0].ID)
	if o.Status != model.OfferExpired {
		t.Fatalf("late accept must settle the offer as expired, got %s", o.Status)
	}
	inc2, _ := st.GetIncident(context.Background(), "inc-1")
	if inc2.Assigned() {
		t.Fatal("late accept must not claim the slot")
	}
}

func TestAcceptLostRaceRollsBack(t *testing.T) {
	st := store.NewMemoryStore()
	m := NewManager(st, nil, nil, nil, nil)
	inc := seedIncident(t, st, "inc-1")
	cfg := model.DefaultMatchConfig()

	offers, _ := m.CreateOffers(context.Background(), inc, []match.Candidate{
		candidate("v1", 1), candidate("v2", 1),
	}, cfg)
	byVendor := map[string]model.Offer{}
	for _, o := range offers {
		byVendor[o.VendorID] = o
	}

	if _, err := m.Accept(context.Background(), byVendor["v1"].ID, "v1", cfg); err != nil {
		t.Fatalf("first accept: %v", err)
	}
	// Second accept on a sibling the expiry pass has not reached yet.
	// Force the sibling back to pending to simulate the race window.
	if _, err := st.TransitionOffer(context.Background(), byVendor["v2"].ID, model.OfferExpired, model.OfferPending, ""); err != nil {
		t.Fatalf("rewind sibling: %v", err)
	}
	if _, err := m.Accept(context.Background(), byVendor["v2"].ID, "v2", cfg); !faults.IsKind(err, faults.Conflict) {
		t.Fatalf("losing accept must conflict, got %v", err)
	}
	o, _ := st.GetOffer(context.Background(), byVendor["v2"].ID)
	if o.Status != model.OfferDeclined {
		t.Fatalf("losing accept must roll its offer back out of accepted, got %s", o.Status)
	}
	got, _ := st.GetIncident(context.Background(), "inc-1")
	if got.AssignedVendorID != "v1" {
		t.Fatalf("winner must keep the slot, got %q", got.AssignedVendorID)
	}
}

func TestAcceptFirstWinsConcurrent(t *testing.T) {
	st := store.NewMemoryStore()
	m := NewManager(st, nil, nil, nil, nil)
	inc := seedIncident(t, st, "inc-1")
	cfg := model.DefaultMatchConfig()

	candidates := []match.Candidate{
		candidate("v1", 1), candidate("v2", 1), candidate("v3", 1),
	}
	offers, err := m.CreateOffers(context.Background(), inc, candidates, cfg)
	if err != nil {
		t.Fatalf("create offers: %v", err)
	}

	var wg sync.WaitGroup
	wins := make(chan string, len(offers))
	for _, o := range offers {
		o := o
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Accept(context.Background(), o.ID, o.VendorID, cfg); err == nil {
				wins <- o.VendorID
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	if len(winners) != 1 {
		t.Fatalf("exactly one accept must win, got %v", winners)
	}
	got, _ := st.GetIncident(context.Background(), "inc-1")
	if got.AssignedVendorID != winners[0] {
		t.Fatalf("slot owner %q does not match winner %q", got.AssignedVendorID, winners[0])
	}
	// No offer may remain accepted except the winner's.
	for _, o := range offers {
		final, _ := st.GetOffer(context.Background(), o.ID)
		if final.Status == model.OfferAccepted && final.VendorID != winners[0] {
			t.Fatalf("loser %s left accepted", final.VendorID)
		}
	}
}

func TestDecline(t *testing.T) {
	st := store.NewMemoryStore()
	m := NewManager(st, nil, nil, nil, nil)
	inc := seedIncident(t, st, "inc-1")
	cfg := model.DefaultMatchConfig()

	offers, _ := m.CreateOffers(context.Background(), inc, []match.Candidate{
		candidate("v1", 1), candidate("v2", 1),
	}, cfg)

	if err := m.Decline(context.Background(), offers[0].ID, offers[0].VendorID, "too far"); err != nil {
		t.Fatalf("decline: %v", err)
	}
	o, _ := st.GetOffer(context.Background(), offers[0].ID)
	if o.Status != model.OfferDeclined || o.DeclineReason != "too far" {
		t.Fatalf("decline not recorded: %+v", o)
	}
	// Sibling is untouched.
	sibling, _ := st.GetOffer(context.Background(), offers[1].ID)
	if sibling.Status != model.OfferPending {
		t.Fatalf("a decline must not touch siblings, got %s", sibling.Status)
	}
	// Declining again conflicts.
	if err := m.Decline(context.Background(), offers[0].ID, offers[0].VendorID, ""); !faults.IsKind(err, faults.Conflict) {
		t.Fatalf("double decline must conflict, got %v", err)
	}
}

func TestExpireIdempotent(t *testing.T) {
	st := store.NewMemoryStore()
	m := NewManager(st, nil, nil, nil, nil)
	inc := seedIncident(t, st, "inc-1")
	cfg := model.DefaultMatchConfig()
	start := time.Now().UTC()
	m.SetClock(fixedClock(start))

	offers, _ := m.CreateOffers(context.Background(), inc, []match.Candidate{candidate("v1", 1)}, cfg)

	// Not yet due: no-op.
	if err := m.Expire(context.Background(), offers[0].ID); err != nil {
		t.Fatalf("early expire: %v", err)
	}
	o, _ := st.GetOffer(context.Background(), offers[0].ID)
	if o.Status != model.OfferPending {
		t.Fatalf("early expire must leave the offer pending, got %s", o.Status)
	}

	m.SetClock(fixedClock(start.Add(cfg.OfferTimeout() + time.Second)))
	for i := 0; i < 3; i++ {
		if err := m.Expire(context.Background(), offers[0].ID); err != nil {
			t.Fatalf("expire pass %d: %v", i, err)
		}
	}
	o, _ = st.GetOffer(context.Background(), offers[0].ID)
	if o.Status != model.OfferExpired {
		t.Fatalf("offer must be expired, got %s", o.Status)
	}
}

func TestExpireAllPendingForces(t *testing.T) {
	st := store.NewMemoryStore()
	m := NewManager(st, nil, nil, nil, nil)
	inc := seedIncident(t, st, "inc-1")
	cfg := model.DefaultMatchConfig()

	offers, _ := m.CreateOffers(context.Background(), inc, []match.Candidate{
		candidate("v1", 1), candidate("v2", 1),
	}, cfg)
	if err := m.Decline(context.Background(), offers[0].ID, offers[0].VendorID, "busy"); err != nil {
		t.Fatalf("decline: %v", err)
	}
	// Force-expire ahead of the deadline.
	if err := m.ExpireAllPending(context.Background(), "inc-1"); err != nil {
		t.Fatalf("expire all: %v", err)
	}
	first, _ := st.GetOffer(context.Background(), offers[0].ID)
	if first.Status != model.OfferDeclined {
		t.Fatalf("terminal offers are left alone, got %s", first.Status)
	}
	second, _ := st.GetOffer(context.Background(), offers[1].ID)
	if second.Status != model.OfferExpired {
		t.Fatalf("pending offers are force-expired, got %s", second.Status)
	}
}
