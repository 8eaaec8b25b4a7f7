package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rentpeek/rentpeek/internal/paywall/ledger"
	"github.com/rentpeek/rentpeek/internal/paywall/notify"
	"github.com/rentpeek/rentpeek/internal/paywall/pwmetrics"
	"github.com/rs/zerolog/log"
)

// ErrUnprocessable indicates a verified event whose payload cannot be
// attributed to a (user, property) pair. The event is rejected without any
// store mutation.
var ErrUnprocessable = errors.New("event not attributable to a user/property pair")

// Reconciler applies verified payment events to the entitlement ledger.
//
// All transitions go through the ledger's guarded single-statement writes, so
// replayed or out-of-order deliveries converge: a pair reaches paid at most
// once, and paid never regresses. Deliveries for different pairs never block
// each other; deliveries for the same pair serialize through the store.
type Reconciler struct {
	store    *ledger.Store
	notifier notify.Sender // nil disables purchase notifications
}

// NewReconciler creates a reconciler. notifier may be nil.
func NewReconciler(store *ledger.Store, notifier notify.Sender) *Reconciler {
	return &Reconciler{store: store, notifier: notifier}
}

// HandleCheckoutCompleted grants the entitlement referenced by a completed
// checkout session. Attribution comes exclusively from the metadata this
// system embedded at session creation and the provider echoed back. If no
// local record exists (the webhook outran the checkout write, or that write
// was lost), the record is created from the event itself: the webhook is
// authoritative for payment, the pending record is a convenience.
func (rc *Reconciler) HandleCheckoutCompleted(ctx context.Context, session CheckoutSession) error {
	userID, propertyID, err := attribution(session)
	if err != nil {
		return err
	}

	paymentRef := strings.TrimSpace(session.PaymentIntent)
	if paymentRef == "" {
		// Zero-amount sessions carry no payment intent; the session ID still
		// uniquely identifies the payment.
		paymentRef = session.ID
	}

	changed, err := rc.store.MarkPaid(userID, propertyID, session.ID, paymentRef, session.AmountTotal)
	if err != nil {
		return fmt.Errorf("apply checkout completion: %w", err)
	}
	if !changed {
		log.Info().
			Str("user_id", userID).
			Str("property_id", propertyID).
			Str("session_id", session.ID).
			Msg("Checkout completion replayed; entitlement already paid")
		return nil
	}

	pwmetrics.EntitlementsGrantedTotal.Inc()
	log.Info().
		Str("user_id", userID).
		Str("property_id", propertyID).
		Str("session_id", session.ID).
		Str("payment_ref", paymentRef).
		Int64("amount_cents", session.AmountTotal).
		Msg("Entitlement granted")

	// Keyed to the actual transition, so redelivered events never dispatch a
	// duplicate. Failures are logged, not propagated: the entitlement is
	// already durable.
	if rc.notifier != nil {
		event := notify.NewPurchaseConfirmed(userID, propertyID, paymentRef, session.AmountTotal)
		if err := rc.notifier.Send(ctx, event); err != nil {
			log.Warn().Err(err).
				Str("user_id", userID).
				Str("property_id", propertyID).
				Msg("Purchase notification dispatch failed")
		}
	}
	return nil
}

// HandleCheckoutFailed marks the attempt referenced by an expired or failed
// checkout session as failed. Only the pending attempt holding this exact
// session reference transitions; failure events for superseded attempts or
// already-paid pairs are acknowledged no-ops.
func (rc *Reconciler) HandleCheckoutFailed(ctx context.Context, session CheckoutSession) error {
	userID, propertyID, err := attribution(session)
	if err != nil {
		return err
	}

	changed, err := rc.store.MarkFailed(userID, propertyID, session.ID)
	if err != nil {
		return fmt.Errorf("apply checkout failure: %w", err)
	}
	if !changed {
		log.Info().
			Str("user_id", userID).
			Str("property_id", propertyID).
			Str("session_id", session.ID).
			Msg("Checkout failure ignored (stale session or pair not pending)")
		return nil
	}

	log.Info().
		Str("user_id", userID).
		Str("property_id", propertyID).
		Str("session_id", session.ID).
		Msg("Checkout attempt marked failed")
	return nil
}

func attribution(session CheckoutSession) (userID, propertyID string, err error) {
	userID = strings.TrimSpace(session.Metadata[metadataUserIDKey])
	propertyID = strings.TrimSpace(session.Metadata[metadataPropertyIDKey])
	if userID == "" || propertyID == "" {
		return "", "", fmt.Errorf("%w: session %s missing user/property metadata", ErrUnprocessable, session.ID)
	}
	if !isSafeRef(userID) || !isSafeRef(propertyID) {
		return "", "", fmt.Errorf("%w: session %s carries malformed metadata", ErrUnprocessable, session.ID)
	}
	return userID, propertyID, nil
}
