package paywall

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rentpeek/rentpeek/internal/paywall/stripe"
	"github.com/rs/zerolog/log"
)

// callerID extracts the trusted caller identity forwarded by the upstream
// auth layer. This service does not authenticate users itself.
func callerID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-User-ID"))
}

// HandleInitiateCheckout returns the handler for POST /checkout/{property_id}.
func HandleInitiateCheckout(initiator *stripe.Initiator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		userID := callerID(r)
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing caller identity")
			return
		}
		propertyID := strings.TrimSpace(r.PathValue("property_id"))
		if propertyID == "" {
			writeError(w, http.StatusBadRequest, "missing property id")
			return
		}

		result, err := initiator.InitiateCheckout(r.Context(), userID, propertyID)
		if err != nil {
			if errors.Is(err, stripe.ErrUnsafeIdentifier) {
				writeError(w, http.StatusBadRequest, "invalid user or property identifier")
				return
			}
			if errors.Is(err, stripe.ErrPropertyNotFound) {
				writeError(w, http.StatusNotFound, "property not found")
				return
			}
			// Provider and store failures are retryable by the caller; an
			// orphaned session additionally self-heals via the webhook.
			log.Error().Err(err).
				Str("user_id", userID).
				Str("property_id", propertyID).
				Msg("Checkout initiation failed")
			writeError(w, http.StatusInternalServerError, "checkout failed")
			return
		}

		if result.AlreadyPaid {
			writeJSON(w, http.StatusOK, map[string]any{"already_paid": true})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"redirect_url": result.RedirectURL})
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("paywall: encode response")
	}
}
