package stripe

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rentpeek/rentpeek/internal/paywall/pwmetrics"
	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const webhookBodyLimit = 1024 * 1024 // 1 MiB

// WebhookHandler handles incoming payment provider webhook events. Signature
// verification runs over the exact raw request bytes before any JSON is
// parsed; an event that fails verification never reaches the reconciler.
type WebhookHandler struct {
	secret     string
	reconciler *Reconciler
}

type webhookErrorResponse struct {
	Error string `json:"error"`
}

type webhookReceivedResponse struct {
	Received bool `json:"received"`
}

// NewWebhookHandler creates the payment webhook HTTP handler.
func NewWebhookHandler(secret string, reconciler *Reconciler) *WebhookHandler {
	return &WebhookHandler{
		secret:     secret,
		reconciler: reconciler,
	}
}

// ServeHTTP verifies the provider signature and dispatches the event. The
// provider retries non-2xx responses, so every path here is safe to
// re-invoke.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	eventType := "unknown"
	status := http.StatusOK
	defer func() {
		pwmetrics.WebhookRequestsTotal.WithLabelValues(eventType, strconv.Itoa(status)).Inc()
		pwmetrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		status = http.StatusMethodNotAllowed
		writeJSON(w, status, webhookErrorResponse{Error: "method not allowed"})
		return
	}
	if strings.TrimSpace(h.secret) == "" {
		// Fail closed: never process unverified events.
		status = http.StatusServiceUnavailable
		writeJSON(w, status, webhookErrorResponse{Error: "webhook secret not configured"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		status = http.StatusBadRequest
		writeJSON(w, status, webhookErrorResponse{Error: "failed to read request body"})
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		status = http.StatusBadRequest
		writeJSON(w, status, webhookErrorResponse{Error: "missing Stripe signature"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, h.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		status = http.StatusBadRequest
		writeJSON(w, status, webhookErrorResponse{Error: "invalid Stripe signature"})
		return
	}
	eventType = string(event.Type)

	if err := h.handleEvent(r, &event); err != nil {
		if errors.Is(err, ErrUnprocessable) {
			log.Warn().Err(err).
				Str("event_id", event.ID).
				Str("type", string(event.Type)).
				Msg("Payment webhook event unprocessable")
			status = http.StatusBadRequest
			writeJSON(w, status, webhookErrorResponse{Error: "unprocessable event"})
			return
		}
		log.Error().Err(err).
			Str("event_id", event.ID).
			Str("type", string(event.Type)).
			Msg("Payment webhook processing failed")
		status = http.StatusInternalServerError
		writeJSON(w, status, webhookErrorResponse{Error: "processing failed"})
		return
	}

	status = http.StatusOK
	writeJSON(w, status, webhookReceivedResponse{Received: true})
}

func (h *WebhookHandler) handleEvent(r *http.Request, event *stripelib.Event) error {
	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		session, err := decodeCheckoutSession(event)
		if err != nil {
			return err
		}
		return h.reconciler.HandleCheckoutCompleted(r.Context(), session)

	case "checkout.session.expired", "checkout.session.async_payment_failed":
		session, err := decodeCheckoutSession(event)
		if err != nil {
			return err
		}
		return h.reconciler.HandleCheckoutFailed(r.Context(), session)

	default:
		// Acknowledge event types this system does not understand yet, so the
		// provider stops redelivering them.
		log.Info().
			Str("type", string(event.Type)).
			Str("event_id", event.ID).
			Msg("Payment webhook ignored (unhandled type)")
		return nil
	}
}

func decodeCheckoutSession(event *stripelib.Event) (CheckoutSession, error) {
	var session CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return CheckoutSession{}, fmt.Errorf("decode checkout.session: %w", err)
	}
	return session, nil
}

// CheckoutSession is a minimal representation of a Stripe checkout.session
// event payload.
type CheckoutSession struct {
	ID            string            `json:"id"`
	Mode          string            `json:"mode"`
	PaymentIntent string            `json:"payment_intent"`
	PaymentStatus string            `json:"payment_status"`
	AmountTotal   int64             `json:"amount_total"`
	Metadata      map[string]string `json:"metadata"`
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("paywall.stripe: encode webhook response")
	}
}
