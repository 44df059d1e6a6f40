package model

import "testing"

func TestCanTransition_HappyPath(t *testing.T) {
	path := []IncidentStatus{
		StatusCreated, StatusVendorAssigned, StatusVendorEnRoute,
		StatusVendorArrived, StatusWorkInProgress, StatusWorkCompleted,
		StatusPaymentPending, StatusClosed,
	}
	for i := 0; i < len(path)-1; i++ {
		if !CanTransition(path[i], path[i+1]) {
			t.Errorf("expected %s -> %s to be allowed", path[i], path[i+1])
		}
	}
}

func TestCanTransition_RejectsSkips(t *testing.T) {
	cases := []struct{ from, to IncidentStatus }{
		{StatusCreated, StatusVendorEnRoute},
		{StatusCreated, StatusWorkCompleted},
		{StatusVendorAssigned, StatusWorkInProgress},
		{StatusWorkCompleted, StatusClosed},
		{StatusClosed, StatusCreated},
		{StatusCancelled, StatusCreated},
		{StatusVendorArrived, StatusVendorEnRoute},
	}
	for _, c := range cases {
		if CanTransition(c.from, c.to) {
			t.Errorf("expected %s -> %s to be rejected", c.from, c.to)
		}
	}
}

func TestCanTransition_CancellationEdges(t *testing.T) {
	cancellable := []IncidentStatus{
		StatusCreated, StatusVendorAssigned, StatusVendorEnRoute,
		StatusVendorArrived, StatusWorkInProgress,
	}
	for _, s := range cancellable {
		if !CanTransition(s, StatusCancelled) {
			t.Errorf("expected %s -> cancelled to be allowed", s)
		}
	}
	for _, s := range []IncidentStatus{StatusWorkCompleted, StatusPaymentPending, StatusClosed} {
		if CanTransition(s, StatusCancelled) {
			t.Errorf("expected %s -> cancelled to be rejected", s)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	if !StatusClosed.Terminal() || !StatusCancelled.Terminal() {
		t.Fatal("closed and cancelled must be terminal")
	}
	if StatusCreated.Terminal() || StatusPaymentPending.Terminal() {
		t.Fatal("non-final states must not be terminal")
	}
}

func TestRequiresAssignment(t *testing.T) {
	for _, s := range []IncidentStatus{
		StatusVendorAssigned, StatusVendorEnRoute, StatusVendorArrived,
		StatusWorkInProgress, StatusWorkCompleted, StatusPaymentPending,
	} {
		if !s.RequiresAssignment() {
			t.Errorf("%s should require an assigned vendor", s)
		}
	}
	for _, s := range []IncidentStatus{StatusCreated, StatusClosed, StatusCancelled} {
		if s.RequiresAssignment() {
			t.Errorf("%s should not require an assigned vendor", s)
		}
	}
}

func TestCapabilitiesFor(t *testing.T) {
	caps := CapabilitiesFor(IncidentTire)
	if len(caps) != 2 {
		t.Fatalf("tire incidents accept two capabilities, got %v", caps)
	}
	if CapabilitiesFor("unknown") != nil {
		t.Fatal("unknown incident type must map to no capabilities")
	}
}

func TestVendorCanServe(t *testing.T) {
	v := Vendor{Capabilities: []Capability{CapTireReplacement, CapTowing}}
	if !v.CanServe(IncidentTire) {
		t.Fatal("tire_replacement satisfies a tire incident")
	}
	if !v.CanServe(IncidentTow) {
		t.Fatal("towing satisfies a tow incident")
	}
	if v.CanServe(IncidentBattery) {
		t.Fatal("vendor without battery_jump cannot serve a battery incident")
	}
}

func TestDistanceMiles(t *testing.T) {
	austin := Location{Lat: 30.2672, Lon: -97.7431}
	dallas := Location{Lat: 32.7767, Lon: -96.7970}
	d := austin.DistanceMiles(dallas)
	if d < 180 || d > 200 {
		t.Fatalf("Austin-Dallas is roughly 182mi, got %.1f", d)
	}
	if austin.DistanceMiles(austin) != 0 {
		t.Fatal("distance to self must be zero")
	}
}
