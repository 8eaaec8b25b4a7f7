package paywall

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rentpeek/rentpeek/internal/paywall/ledger"
)

const adminRequestBodyLimit = 64 * 1024

// AdminKeyMiddleware returns middleware that requires a valid admin API key.
func AdminKeyMiddleware(adminKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get("X-Admin-Key"))
		if key == "" {
			// Also check Authorization: Bearer <key>
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				key = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
			}
		}

		if key == "" || key != adminKey {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		next.ServeHTTP(w, r)
	})
}

type upsertPropertyRequest struct {
	Title      string `json:"title"`
	PriceCents int64  `json:"price_cents"`
}

// HandleUpsertProperty returns the admin handler for
// PUT /admin/properties/{property_id}. The catalog proper lives elsewhere;
// this keeps the paywall's price snapshot in sync.
func HandleUpsertProperty(store *ledger.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		propertyID := strings.TrimSpace(r.PathValue("property_id"))
		if propertyID == "" {
			writeError(w, http.StatusBadRequest, "missing property id")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, adminRequestBodyLimit)
		var req upsertPropertyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.PriceCents <= 0 {
			writeError(w, http.StatusBadRequest, "price_cents must be positive")
			return
		}

		if err := store.UpsertProperty(&ledger.Property{
			ID:         propertyID,
			Title:      strings.TrimSpace(req.Title),
			PriceCents: req.PriceCents,
		}); err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": propertyID})
	}
}

// HandleHealthz is an unauthenticated liveness probe.
func HandleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleReadyz reports readiness based on store connectivity.
func HandleReadyz(store *ledger.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if err := store.Ping(); err != nil {
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
