package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rentpeek/rentpeek/internal/paywall/ledger"
	"github.com/rentpeek/rentpeek/internal/paywall/pwmetrics"
	"github.com/rs/zerolog/log"
	stripe "github.com/stripe/stripe-go/v82"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"
)

const (
	// providerTimeout bounds the outbound checkout-session call. On timeout the
	// local store is untouched and the caller surfaces a retryable error.
	providerTimeout = 15 * time.Second

	defaultCurrency = "usd"

	metadataUserIDKey     = "user_id"
	metadataPropertyIDKey = "property_id"
)

var (
	// ErrPropertyNotFound indicates checkout was requested for an unknown property.
	ErrPropertyNotFound = errors.New("property not found")

	// ErrUnsafeIdentifier indicates the caller or property identifier cannot be
	// round-tripped through provider metadata. Charging such a pair would
	// produce a completion event the reconciler rejects, so checkout refuses
	// it up front.
	ErrUnsafeIdentifier = errors.New("identifier not representable in checkout metadata")

	// ErrOrphanedSession indicates a checkout session exists at the provider but
	// the local pending record could not be written. The provider's completion
	// webhook self-heals the missing record once delivered.
	ErrOrphanedSession = errors.New("checkout session orphaned: provider session created but local record write failed")
)

// PropertyCatalog is the catalog collaborator: lookup by ID only.
type PropertyCatalog interface {
	GetProperty(id string) (*ledger.Property, error)
}

// CheckoutResult is the outcome of a checkout initiation: either the pair is
// already paid, or the caller should redirect the user to the provider's
// hosted checkout page.
type CheckoutResult struct {
	AlreadyPaid bool   `json:"already_paid,omitempty"`
	RedirectURL string `json:"redirect_url,omitempty"`
}

// Initiator handles a user's request to buy access to a property. It is safe
// for concurrent use; all coordination happens through the ledger.
type Initiator struct {
	store    *ledger.Store
	catalog  PropertyCatalog
	baseURL  string
	currency string

	createCheckoutSession func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// NewInitiator creates a checkout initiator. The Stripe API key is injected
// here once, never read from process state at call time.
func NewInitiator(store *ledger.Store, catalog PropertyCatalog, apiKey, baseURL string) *Initiator {
	stripe.Key = strings.TrimSpace(apiKey)
	return &Initiator{
		store:                 store,
		catalog:               catalog,
		baseURL:               strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		currency:              defaultCurrency,
		createCheckoutSession: stripesession.New,
	}
}

// InitiateCheckout idempotently starts (or short-circuits) a purchase of
// propertyID by userID. A pair already in the paid state returns immediately
// with zero provider calls and zero store writes. Otherwise a fresh provider
// session is created and the pair is (re-)armed as pending, replacing any
// stale session reference from an earlier attempt.
func (i *Initiator) InitiateCheckout(ctx context.Context, userID, propertyID string) (*CheckoutResult, error) {
	// Same validation the reconciler applies to echoed metadata. An identifier
	// that fails it here would pass checkout, get charged, and then have its
	// completion event rejected forever, so it must never reach the provider.
	if !isSafeRef(userID) || !isSafeRef(propertyID) {
		pwmetrics.CheckoutSessionsTotal.WithLabelValues("unsafe_identifier").Inc()
		return nil, fmt.Errorf("%w: user %q, property %q", ErrUnsafeIdentifier, userID, propertyID)
	}

	prop, err := i.catalog.GetProperty(propertyID)
	if err != nil {
		pwmetrics.CheckoutSessionsTotal.WithLabelValues("store_error").Inc()
		return nil, fmt.Errorf("lookup property: %w", err)
	}
	if prop == nil {
		pwmetrics.CheckoutSessionsTotal.WithLabelValues("not_found").Inc()
		return nil, ErrPropertyNotFound
	}

	existing, err := i.store.Get(userID, propertyID)
	if err != nil {
		pwmetrics.CheckoutSessionsTotal.WithLabelValues("store_error").Inc()
		return nil, fmt.Errorf("lookup entitlement: %w", err)
	}
	if existing != nil && existing.Status == ledger.EntitlementPaid {
		pwmetrics.CheckoutSessionsTotal.WithLabelValues("already_paid").Inc()
		return &CheckoutResult{AlreadyPaid: true}, nil
	}

	session, err := i.createSession(ctx, userID, prop)
	if err != nil {
		pwmetrics.CheckoutSessionsTotal.WithLabelValues("provider_error").Inc()
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	changed, err := i.store.UpsertPending(&ledger.Entitlement{
		UserID:             userID,
		PropertyID:         propertyID,
		CheckoutSessionRef: session.ID,
		AmountCents:        prop.PriceCents,
	})
	if err != nil {
		pwmetrics.CheckoutSessionsTotal.WithLabelValues("orphaned").Inc()
		log.Error().Err(err).
			Str("user_id", userID).
			Str("property_id", propertyID).
			Str("session_id", session.ID).
			Msg("Checkout session orphaned: pending record write failed after provider call")
		return nil, fmt.Errorf("%w (session %s): %v", ErrOrphanedSession, session.ID, err)
	}
	if !changed {
		// The completion webhook won the race between our paid check and the
		// upsert. The new session is abandoned; the user already holds access.
		pwmetrics.CheckoutSessionsTotal.WithLabelValues("already_paid").Inc()
		log.Warn().
			Str("user_id", userID).
			Str("property_id", propertyID).
			Str("session_id", session.ID).
			Msg("Entitlement turned paid during checkout initiation; abandoning new session")
		return &CheckoutResult{AlreadyPaid: true}, nil
	}

	pwmetrics.CheckoutSessionsTotal.WithLabelValues("created").Inc()
	return &CheckoutResult{RedirectURL: session.URL}, nil
}

func (i *Initiator) createSession(ctx context.Context, userID string, prop *ledger.Property) (*stripe.CheckoutSession, error) {
	ctx, cancel := context.WithTimeout(ctx, providerTimeout)
	defer cancel()

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(i.buildReturnURL("/purchase/complete", prop.ID)),
		CancelURL:  stripe.String(i.buildReturnURL("/purchase/cancelled", prop.ID)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(i.currency),
					UnitAmount: stripe.Int64(prop.PriceCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(prop.Title),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		// The provider echoes this metadata back verbatim on completion. It is
		// the only attribution the reconciler trusts.
		Metadata: map[string]string{
			metadataUserIDKey:     userID,
			metadataPropertyIDKey: prop.ID,
		},
	}
	params.Context = ctx

	session, err := i.createCheckoutSession(params)
	if err != nil {
		return nil, err
	}
	if session == nil || strings.TrimSpace(session.URL) == "" {
		return nil, fmt.Errorf("provider returned empty checkout URL")
	}
	return session, nil
}

func (i *Initiator) buildReturnURL(path, propertyID string) string {
	return i.baseURL + path + "?" + url.Values{"property_id": {propertyID}}.Encode()
}
