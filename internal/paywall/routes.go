package paywall

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rentpeek/rentpeek/internal/paywall/ledger"
	"github.com/rentpeek/rentpeek/internal/paywall/notify"
	pwstripe "github.com/rentpeek/rentpeek/internal/paywall/stripe"
)

// Deps holds shared dependencies injected into HTTP handlers.
type Deps struct {
	Config     *Config
	Store      *ledger.Store
	Initiator  *pwstripe.Initiator
	Reconciler *pwstripe.Reconciler
	Notifier   notify.Sender
	Version    string
}

// RegisterRoutes wires all HTTP handlers onto the given ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps *Deps) {
	adminAuth := func(next http.Handler) http.Handler {
		return AdminKeyMiddleware(deps.Config.AdminKey, next)
	}

	// Health / readiness are unauthenticated liveness/readiness probes.
	mux.HandleFunc("/healthz", HandleHealthz)
	mux.HandleFunc("/readyz", HandleReadyz(deps.Store))

	// Metrics are private by default.
	mux.Handle("/metrics", adminAuth(promhttp.Handler()))

	// Payment webhook (signature-authenticated)
	reconciler := deps.Reconciler
	if reconciler == nil {
		reconciler = pwstripe.NewReconciler(deps.Store, deps.Notifier)
	}
	webhookHandler := pwstripe.NewWebhookHandler(deps.Config.StripeWebhookSecret, reconciler)
	webhookLimiter := NewRateLimiter(120, time.Minute)
	mux.Handle("/payments/webhook", webhookLimiter.Middleware(webhookHandler))

	// Checkout and entitlement queries (caller identity forwarded by upstream auth)
	initiator := deps.Initiator
	if initiator == nil {
		initiator = pwstripe.NewInitiator(deps.Store, deps.Store, deps.Config.StripeAPIKey, deps.Config.BaseURL)
	}
	mux.HandleFunc("/checkout/{property_id}", HandleInitiateCheckout(initiator))
	mux.HandleFunc("/purchases/{property_id}", HandleListPurchasers(deps.Store))
	mux.HandleFunc("/entitlements/{property_id}", HandleEntitlementCheck(deps.Store))

	// Admin API (key-authenticated)
	mux.Handle("/admin/properties/{property_id}", adminAuth(HandleUpsertProperty(deps.Store)))
}
