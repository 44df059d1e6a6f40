// Package admin exposes the match-config administration endpoints.
// Requests must include an Authorization header with "Bearer <token>"
// when a token is configured.
package admin

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/roadcall/dispatchd/core/faults"
	"github.com/roadcall/dispatchd/core/matchcfg"
	"github.com/roadcall/dispatchd/core/model"
)

// Handler serves the match-config admin API.
type Handler struct {
	store *matchcfg.Store
	token string
}

// NewHandler builds the admin handler.
func NewHandler(store *matchcfg.Store, token string) *Handler {
	return &Handler{store: store, token: token}
}

// Register mounts the admin routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/admin/match-config", h.auth(h.get))
	mux.HandleFunc("PUT /api/admin/match-config", h.auth(h.put))
	mux.HandleFunc("POST /api/admin/match-config/rollback", h.auth(h.rollback))
	mux.HandleFunc("GET /api/admin/match-config/history", h.auth(h.history))
}

func (h *Handler) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.token != "" {
			if r.Header.Get("Authorization") != "Bearer "+h.token {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func (h *Handler) get(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.store.CurrentVersioned())
}

type updateRequest struct {
	Config model.MatchConfig `json:"config"`
	Actor  string            `json:"actor"`
	Reason string            `json:"reason"`
}

func (h *Handler) put(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	v, err := h.store.Update(req.Config, req.Actor, req.Reason)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type rollbackRequest struct {
	Version int64  `json:"version"`
	Actor   string `json:"actor"`
	Reason  string `json:"reason"`
}

func (h *Handler) rollback(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	v, err := h.store.Rollback(req.Version, req.Actor, req.Reason)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) history(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.store.History())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeFault(w http.ResponseWriter, err error) {
	var fe *faults.Error
	status := http.StatusInternalServerError
	if errors.As(err, &fe) {
		switch fe.Kind {
		case faults.Validation:
			status = http.StatusBadRequest
		case faults.NotFound:
			status = http.StatusNotFound
		}
	}
	http.Error(w, err.Error(), status)
}
