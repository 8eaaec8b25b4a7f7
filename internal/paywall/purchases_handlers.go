package paywall

import (
	"net/http"
	"strings"

	"github.com/rentpeek/rentpeek/internal/paywall/ledger"
)

// HandleListPurchasers returns the handler for GET /purchases/{property_id}:
// confirmed purchasers of a property, first-paid-first. Owner restriction is
// enforced by the upstream auth layer.
func HandleListPurchasers(store *ledger.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if callerID(r) == "" {
			writeError(w, http.StatusUnauthorized, "missing caller identity")
			return
		}
		propertyID := strings.TrimSpace(r.PathValue("property_id"))
		if propertyID == "" {
			writeError(w, http.StatusBadRequest, "missing property id")
			return
		}

		purchasers, err := store.ListPaidByProperty(propertyID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if len(purchasers) == 0 {
			writeError(w, http.StatusNotFound, "no purchases")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"purchasers": purchasers,
			"count":      len(purchasers),
		})
	}
}

// HandleEntitlementCheck returns the handler for GET /entitlements/{property_id}:
// the access-control predicate for the caller's own entitlement. Only a
// confirmed payment grants access; pending attempts do not.
func HandleEntitlementCheck(store *ledger.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
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

		paid, err := store.HasPaid(userID, propertyID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"paid": paid})
	}
}
