package pwmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookRequestsTotal counts payment webhook requests by event type and status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rentpeek",
		Subsystem: "paywall",
		Name:      "webhook_requests_total",
		Help:      "Total payment webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// WebhookDuration tracks payment webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rentpeek",
		Subsystem: "paywall",
		Name:      "webhook_duration_seconds",
		Help:      "Payment webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// CheckoutSessionsTotal counts checkout initiation attempts by outcome.
	CheckoutSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rentpeek",
		Subsystem: "paywall",
		Name:      "checkout_sessions_total",
		Help:      "Checkout initiation attempts by outcome.",
	}, []string{"outcome"})

	// EntitlementsGrantedTotal counts pending-to-paid transitions actually applied.
	EntitlementsGrantedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rentpeek",
		Subsystem: "paywall",
		Name:      "entitlements_granted_total",
		Help:      "Entitlements transitioned to paid (replays excluded).",
	})
)
