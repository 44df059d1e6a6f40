package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/roadcall/dispatchd/core/match"
	"github.com/roadcall/dispatchd/core/matchcfg"
	"github.com/roadcall/dispatchd/core/model"
	"github.com/roadcall/dispatchd/core/offer"
	"github.com/roadcall/dispatchd/core/orchestrator"
	"github.com/roadcall/dispatchd/core/store"
)

type memRoster struct {
	vendors []model.Vendor
}

func (r *memRoster) Query(context.Context, model.Location, float64, model.IncidentType) ([]model.Vendor, error) {
	return r.vendors, nil
}

func newServer(t *testing.T, vendors ...model.Vendor) (*httptest.Server, *offer.Manager) {
	t.Helper()
	st := store.NewMemoryStore()
	configs := matchcfg.NewStore(0)
	offers := offer.NewManager(st, nil, nil, nil, nil)
	engine := match.NewEngine(&memRoster{vendors: vendors}, nil)
	orc := orchestrator.New(st, engine, offers, configs, nil, nil, nil)

	mux := http.NewServeMux()
	NewHandler(orc, offers, configs).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, offers
}

func tireVendor(id string) model.Vendor {
	return model.Vendor{
		ID:                  id,
		Capabilities:        []model.Capability{model.CapTireRepair},
		CoverageCenter:      model.Location{Lat: 30.0, Lon: -97.0},
		CoverageRadiusMiles: 60,
		Availability:        model.Available,
		Metrics:             model.VendorMetrics{AcceptanceRate: 0.9},
		Rating:              model.VendorRating{Average: 4.0},
	}
}

func postJSON(t *testing.T, url string, body any, headers map[string]string) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestCreateIncidentEndpoint(t *testing.T) {
	srv, _ := newServer(t, tireVendor("v1"))

	resp := postJSON(t, srv.URL+"/api/incidents", map[string]any{
		"driver_id": "driver-1", "type": "tire", "lat": 30.0, "lon": -97.0,
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	inc := decode[model.Incident](t, resp)
	if inc.ID == "" || inc.Status != model.StatusCreated || inc.MatchingAttempts != 1 {
		t.Fatalf("unexpected incident: %+v", inc)
	}

	// Fetch it back.
	getResp, err := http.Get(srv.URL + "/api/incidents/" + inc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got := decode[model.Incident](t, getResp)
	if got.ID != inc.ID {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
}

func TestCreateIncidentValidation(t *testing.T) {
	srv, _ := newServer(t)
	resp := postJSON(t, srv.URL+"/api/incidents", map[string]any{"type": "tire"}, nil)
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing driver_id must 400, got %d", resp.StatusCode)
	}
}

func TestGetIncidentNotFound(t *testing.T) {
	srv, _ := newServer(t)
	resp, err := http.Get(srv.URL + "/api/incidents/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestOfferAcceptAndSiblingConflict(t *testing.T) {
	srv, offers := newServer(t, tireVendor("v1"), tireVendor("v2"))

	resp := postJSON(t, srv.URL+"/api/incidents", map[string]any{
		"driver_id": "driver-1", "type": "tire", "lat": 30.0, "lon": -97.0,
	}, nil)
	inc := decode[model.Incident](t, resp)

	pending, err := offers.PendingOffers(context.Background(), inc.ID)
	if err != nil || len(pending) != 2 {
		t.Fatalf("expected 2 pending offers, got %d (%v)", len(pending), err)
	}

	acceptURL := fmt.Sprintf("%s/api/offers/%s/accept", srv.URL, pending[0].ID)
	acceptResp := postJSON(t, acceptURL, map[string]any{"vendor_id": pending[0].VendorID}, nil)
	if acceptResp.StatusCode != http.StatusOK {
		t.Fatalf("accept: expected 200, got %d", acceptResp.StatusCode)
	}
	got := decode[model.Incident](t, acceptResp)
	if got.AssignedVendorID != pending[0].VendorID {
		t.Fatalf("accept must assign the vendor: %+v", got)
	}

	// The sibling was expired by the win; a late accept conflicts.
	lateURL := fmt.Sprintf("%s/api/offers/%s/accept", srv.URL, pending[1].ID)
	lateResp := postJSON(t, lateURL, map[string]any{"vendor_id": pending[1].VendorID}, nil)
	defer func() { _ = lateResp.Body.Close() }()
	if lateResp.StatusCode != http.StatusConflict {
		t.Fatalf("late accept must 409, got %d", lateResp.StatusCode)
	}
}

func TestOfferAcceptWrongVendor(t *testing.T) {
	srv, offers := newServer(t, tireVendor("v1"))
	resp := postJSON(t, srv.URL+"/api/incidents", map[string]any{
		"driver_id": "driver-1", "type": "tire", "lat": 30.0, "lon": -97.0,
	}, nil)
	inc := decode[model.Incident](t, resp)
	pending, _ := offers.PendingOffers(context.Background(), inc.ID)

	url := fmt.Sprintf("%s/api/offers/%s/accept", srv.URL, pending[0].ID)
	badResp := postJSON(t, url, map[string]any{"vendor_id": "intruder"}, nil)
	defer func() { _ = badResp.Body.Close() }()
	if badResp.StatusCode != http.StatusBadRequest {
		t.Fatalf("wrong addressee must 400, got %d", badResp.StatusCode)
	}
}

func TestOfferDeclineEndpoint(t *testing.T) {
	srv, offers := newServer(t, tireVendor("v1"))
	resp := postJSON(t, srv.URL+"/api/incidents", map[string]any{
		"driver_id": "driver-1", "type": "tire", "lat": 30.0, "lon": -97.0,
	}, nil)
	inc := decode[model.Incident](t, resp)
	pending, _ := offers.PendingOffers(context.Background(), inc.ID)

	url := fmt.Sprintf("%s/api/offers/%s/decline", srv.URL, pending[0].ID)
	declineResp := postJSON(t, url, map[string]any{"vendor_id": "v1", "reason": "busy"}, nil)
	defer func() { _ = declineResp.Body.Close() }()
	if declineResp.StatusCode != http.StatusNoContent {
		t.Fatalf("decline: expected 204, got %d", declineResp.StatusCode)
	}
}

func TestStatusTransitionEndpointAuthorization(t *testing.T) {
	srv, _ := newServer(t, tireVendor("v1"))
	resp := postJSON(t, srv.URL+"/api/incidents", map[string]any{
		"driver_id": "driver-1", "type": "tire", "lat": 30.0, "lon": -97.0,
	}, nil)
	inc := decode[model.Incident](t, resp)

	url := fmt.Sprintf("%s/api/incidents/%s/status", srv.URL, inc.ID)
	// A foreign driver is rejected.
	forbidden := postJSON(t, url, map[string]any{"status": "cancelled"}, map[string]string{
		"X-Actor-Role": "driver", "X-Actor-ID": "someone-else",
	})
	defer func() { _ = forbidden.Body.Close() }()
	if forbidden.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign driver must 403, got %d", forbidden.StatusCode)
	}
	// The owner cancels.
	ok := postJSON(t, url, map[string]any{"status": "cancelled", "reason": "fixed it"}, map[string]string{
		"X-Actor-Role": "driver", "X-Actor-ID": "driver-1",
	})
	if ok.StatusCode != http.StatusOK {
		t.Fatalf("owner cancel must 200, got %d", ok.StatusCode)
	}
	got := decode[model.Incident](t, ok)
	if got.Status != model.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
}

func TestAssignVendorEndpoint(t *testing.T) {
	srv, _ := newServer(t)
	resp := postJSON(t, srv.URL+"/api/incidents", map[string]any{
		"driver_id": "driver-1", "type": "tire", "lat": 30.0, "lon": -97.0,
	}, nil)
	inc := decode[model.Incident](t, resp)

	url := fmt.Sprintf("%s/api/incidents/%s/assign", srv.URL, inc.ID)
	// Only dispatchers may assign directly.
	forbidden := postJSON(t, url, map[string]any{"vendor_id": "v9"}, map[string]string{
		"X-Actor-Role": "vendor", "X-Actor-ID": "v9",
	})
	defer func() { _ = forbidden.Body.Close() }()
	if forbidden.StatusCode != http.StatusForbidden {
		t.Fatalf("vendor assign must 403, got %d", forbidden.StatusCode)
	}
	ok := postJSON(t, url, map[string]any{"vendor_id": "v9"}, map[string]string{
		"X-Actor-Role": "dispatcher", "X-Actor-ID": "op-1",
	})
	if ok.StatusCode != http.StatusOK {
		t.Fatalf("dispatcher assign must 200, got %d", ok.StatusCode)
	}
	got := decode[model.Incident](t, ok)
	if got.AssignedVendorID != "v9" {
		t.Fatalf("unexpected assignment: %+v", got)
	}
}
