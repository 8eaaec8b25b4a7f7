package ledger

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"
)

// EntitlementStatus represents the payment lifecycle state of an entitlement.
// An absent row means "no entitlement"; that state is never persisted.
type EntitlementStatus string

const (
	EntitlementPending EntitlementStatus = "pending"
	EntitlementPaid    EntitlementStatus = "paid"
	EntitlementFailed  EntitlementStatus = "failed"
)

// Entitlement records a user's paid access to a property's protected details.
// Exactly one record exists per (UserID, PropertyID) pair.
type Entitlement struct {
	UserID             string            `json:"user_id"`
	PropertyID         string            `json:"property_id"`
	Status             EntitlementStatus `json:"status"`
	CheckoutSessionRef string            `json:"checkout_session_ref"`
	PaymentRef         string            `json:"payment_ref"`
	AmountCents        int64             `json:"amount_cents"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// PaidPurchaser is the owner-facing summary of one confirmed purchase.
type PaidPurchaser struct {
	UserID     string    `json:"user_id"`
	PaymentRef string    `json:"payment_ref"`
	PaidAt     time.Time `json:"paid_at"`
}

// Property is the slice of the catalog this subsystem needs: identity and the
// price that fixes the charge amount at session-creation time. The catalog
// itself is owned elsewhere.
type Property struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	PriceCents int64     `json:"price_cents"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// crockfordBase32 is the Crockford base32 alphabet (excludes I, L, O, U).
const crockfordBase32 = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// GenerateUserID returns a user ID of the form "u_" followed by 10 random
// Crockford base32 characters (50 bits of entropy).
func GenerateUserID() (string, error) {
	return generateID("u_")
}

// GeneratePropertyID returns a property ID of the form "p_" followed by 10
// random Crockford base32 characters (50 bits of entropy).
func GeneratePropertyID() (string, error) {
	return generateID("p_")
}

func generateID(prefix string) (string, error) {
	b := make([]byte, 10)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	var sb strings.Builder
	sb.WriteString(prefix)
	for _, v := range b {
		sb.WriteByte(crockfordBase32[int(v)%len(crockfordBase32)])
	}
	return sb.String(), nil
}
