package dispatch

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/roadcall/dispatchd/core/timeline"
)

// NewAuditHandler returns an HTTP handler exposing the dispatch audit
// trail via GET /api/dispatch/audit. Requests must include an
// Authorization header with "Bearer <token>" when token is non-empty.
func NewAuditHandler(log *timeline.RotatingJSONL, token string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token != "" {
			auth := r.Header.Get("Authorization")
			if auth != "Bearer "+token {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		q := timeline.Query{}
		if s := r.URL.Query().Get("start"); s != "" {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				q.Start = t
			}
		}
		if s := r.URL.Query().Get("end"); s != "" {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				q.End = t
			}
		}
		q.Kind = r.URL.Query().Get("kind")
		q.IncidentID = r.URL.Query().Get("incident_id")
		records, err := log.ReadBack(r.Context(), q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(records); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}
