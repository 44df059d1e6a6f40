// Package dispatch exposes the incident and offer operations over HTTP.
package dispatch

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/roadcall/dispatchd/core/faults"
	"github.com/roadcall/dispatchd/core/model"
	"github.com/roadcall/dispatchd/core/offer"
	"github.com/roadcall/dispatchd/core/orchestrator"
)

// Handler serves the dispatch API.
type Handler struct {
	orc     *orchestrator.Orchestrator
	offers  *offer.Manager
	configs orchestrator.ConfigSource
}

// NewHandler builds the dispatch API handler.
func NewHandler(orc *orchestrator.Orchestrator, offers *offer.Manager, configs orchestrator.ConfigSource) *Handler {
	return &Handler{orc: orc, offers: offers, configs: configs}
}

// Register mounts the dispatch routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/incidents", h.createIncident)
	mux.HandleFunc("GET /api/incidents/{id}", h.getIncident)
	mux.HandleFunc("POST /api/incidents/{id}/status", h.updateStatus)
	mux.HandleFunc("POST /api/incidents/{id}/assign", h.assignVendor)
	mux.HandleFunc("POST /api/offers/{id}/accept", h.acceptOffer)
	mux.HandleFunc("POST /api/offers/{id}/decline", h.declineOffer)
}

type createIncidentRequest struct {
	DriverID string  `json:"driver_id"`
	Type     string  `json:"type"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
}

func (h *Handler) createIncident(w http.ResponseWriter, r *http.Request) {
	var req createIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	inc, err := h.orc.Intake(r.Context(), orchestrator.IncidentCreated{
		DriverID: req.DriverID,
		Type:     model.IncidentType(req.Type),
		Location: model.Location{Lat: req.Lat, Lon: req.Lon},
	})
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inc)
}

func (h *Handler) getIncident(w http.ResponseWriter, r *http.Request) {
	inc, err := h.orc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

type statusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	inc, err := h.orc.Transition(r.Context(), r.PathValue("id"),
		model.IncidentStatus(req.Status), actorFrom(r), req.Reason)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

type assignRequest struct {
	VendorID string `json:"vendor_id"`
}

func (h *Handler) assignVendor(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	inc, err := h.orc.AssignVendor(r.Context(), r.PathValue("id"), req.VendorID, actorFrom(r))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

type offerRequest struct {
	VendorID string `json:"vendor_id"`
	Reason   string `json:"reason"`
}

func (h *Handler) acceptOffer(w http.ResponseWriter, r *http.Request) {
	var req offerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	cfg, err := h.configs.Current(r.Context())
	if err != nil {
		writeFault(w, faults.Upstreamf(err, "loading match config"))
		return
	}
	inc, err := h.offers.Accept(r.Context(), r.PathValue("id"), req.VendorID, cfg)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (h *Handler) declineOffer(w http.ResponseWriter, r *http.Request) {
	var req offerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.offers.Decline(r.Context(), r.PathValue("id"), req.VendorID, req.Reason); err != nil {
		writeFault(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// actorFrom reads the caller identity forwarded by the gateway.
func actorFrom(r *http.Request) model.Actor {
	role := model.ActorRole(r.Header.Get("X-Actor-Role"))
	if role == "" {
		role = model.RoleSystem
	}
	return model.Actor{Role: role, ID: r.Header.Get("X-Actor-ID")}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeFault maps the fault taxonomy onto HTTP status codes.
func writeFault(w http.ResponseWriter, err error) {
	var fe *faults.Error
	status := http.StatusInternalServerError
	if errors.As(err, &fe) {
		switch fe.Kind {
		case faults.Validation:
			status = http.StatusBadRequest
		case faults.NotFound:
			status = http.StatusNotFound
		case faults.Authorization:
			status = http.StatusForbidden
		case faults.Conflict:
			status = http.StatusConflict
		case faults.Upstream:
			status = http.StatusBadGateway
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
