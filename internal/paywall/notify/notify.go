package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PurchaseConfirmed describes one completed purchase. Delivery is
// fire-and-forget: the reconciler emits it exactly once per actual
// pending-to-paid transition and never on replayed webhook events.
type PurchaseConfirmed struct {
	EventID     string    `json:"event_id"`
	UserID      string    `json:"user_id"`
	PropertyID  string    `json:"property_id"`
	PaymentRef  string    `json:"payment_ref"`
	AmountCents int64     `json:"amount_cents"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// NewPurchaseConfirmed stamps a purchase event with a fresh event ID.
func NewPurchaseConfirmed(userID, propertyID, paymentRef string, amountCents int64) PurchaseConfirmed {
	return PurchaseConfirmed{
		EventID:     uuid.NewString(),
		UserID:      userID,
		PropertyID:  propertyID,
		PaymentRef:  paymentRef,
		AmountCents: amountCents,
		OccurredAt:  time.Now().UTC(),
	}
}

// Sender dispatches purchase notifications to whatever downstream cares
// (email, push, analytics). Errors are logged by the caller, never retried.
type Sender interface {
	Send(ctx context.Context, event PurchaseConfirmed) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, event PurchaseConfirmed) error

func (f SenderFunc) Send(ctx context.Context, event PurchaseConfirmed) error {
	return f(ctx, event)
}

// NewLogSender returns a Sender that hands each event to logFn. Used when no
// real notification provider is configured.
func NewLogSender(logFn func(event PurchaseConfirmed)) Sender {
	return SenderFunc(func(_ context.Context, event PurchaseConfirmed) error {
		logFn(event)
		return nil
	})
}
