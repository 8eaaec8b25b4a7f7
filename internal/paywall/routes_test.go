package paywall

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rentpeek/rentpeek/internal/paywall/ledger"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
)

const (
	testAdminKey      = "test-admin-key"
	testWebhookSecret = "whsec_test_secret"
)

func newTestMux(t *testing.T) (*http.ServeMux, *ledger.Store) {
	t.Helper()
	store, err := ledger.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	cfg := &Config{
		DataDir:             t.TempDir(),
		BindAddress:         "127.0.0.1",
		Port:                8090,
		AdminKey:            testAdminKey,
		BaseURL:             "https://rentpeek.example.com",
		StripeAPIKey:        "sk_test_key",
		StripeWebhookSecret: testWebhookSecret,
	}

	mux := http.NewServeMux()
	RegisterRoutes(mux, &Deps{
		Config:  cfg,
		Store:   store,
		Version: "test",
	})
	return mux, store
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestHealthAndReadiness(t *testing.T) {
	mux, _ := newTestMux(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s status=%d, want=%d", path, rec.Code, http.StatusOK)
		}
	}
}

func TestMetricsRequiresAdminKey(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status=%d, want=%d", rec.Code, http.StatusUnauthorized)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("X-Admin-Key", testAdminKey)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated status=%d, want=%d", rec.Code, http.StatusOK)
	}
}

func TestAdminUpsertProperty(t *testing.T) {
	mux, store := newTestMux(t)

	body := `{"title":"Seaview apartment","price_cents":4900}`

	// Without a key the catalog is untouchable.
	req := httptest.NewRequest(http.MethodPut, "/admin/properties/p_SEAVIEW01", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status=%d, want=%d", rec.Code, http.StatusUnauthorized)
	}

	req = httptest.NewRequest(http.MethodPut, "/admin/properties/p_SEAVIEW01", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testAdminKey)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want=%d, body=%q", rec.Code, http.StatusOK, rec.Body.String())
	}

	prop, err := store.GetProperty("p_SEAVIEW01")
	if err != nil || prop == nil {
		t.Fatalf("GetProperty: %v, %+v", err, prop)
	}
	if prop.PriceCents != 4900 {
		t.Errorf("PriceCents = %d, want 4900", prop.PriceCents)
	}

	// Non-positive price rejected.
	req = httptest.NewRequest(http.MethodPut, "/admin/properties/p_SEAVIEW01", strings.NewReader(`{"price_cents":0}`))
	req.Header.Set("X-Admin-Key", testAdminKey)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("zero price status=%d, want=%d", rec.Code, http.StatusBadRequest)
	}
}

func TestCheckoutRequiresCallerIdentity(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/checkout/p_P1", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want=%d", rec.Code, http.StatusUnauthorized)
	}
}

func TestCheckoutRejectsUnsafeCallerIdentity(t *testing.T) {
	mux, store := newTestMux(t)

	if err := store.UpsertProperty(&ledger.Property{ID: "p_P1", Title: "Flat", PriceCents: 4900}); err != nil {
		t.Fatalf("UpsertProperty: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/checkout/p_P1", nil)
	req.Header.Set("X-User-ID", "john.doe@example.com")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want=%d, body=%q", rec.Code, http.StatusBadRequest, rec.Body.String())
	}
}

func TestCheckoutUnknownProperty(t *testing.T) {
	mux, _ := newTestMux(t)

	req := httptest.NewRequest(http.MethodPost, "/checkout/p_MISSING", nil)
	req.Header.Set("X-User-ID", "u_U1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want=%d, body=%q", rec.Code, http.StatusNotFound, rec.Body.String())
	}
}

func TestCheckoutAlreadyPaidShortCircuit(t *testing.T) {
	mux, store := newTestMux(t)

	if err := store.UpsertProperty(&ledger.Property{ID: "p_P1", Title: "Flat", PriceCents: 4900}); err != nil {
		t.Fatalf("UpsertProperty: %v", err)
	}
	if _, err := store.MarkPaid("u_U1", "p_P1", "cs_S1", "pi_PI1", 4900); err != nil {
		t.Fatalf("MarkPaid: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/checkout/p_P1", nil)
	req.Header.Set("X-User-ID", "u_U1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want=%d, body=%q", rec.Code, http.StatusOK, rec.Body.String())
	}
	if body := decodeBody(t, rec); body["already_paid"] != true {
		t.Errorf("body = %v, want already_paid=true", body)
	}
}

func TestEntitlementCheck(t *testing.T) {
	mux, store := newTestMux(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/entitlements/p_P1", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status=%d, want=%d", rec.Code, http.StatusUnauthorized)
	}

	req := httptest.NewRequest(http.MethodGet, "/entitlements/p_P1", nil)
	req.Header.Set("X-User-ID", "u_U1")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want=%d", rec.Code, http.StatusOK)
	}
	if body := decodeBody(t, rec); body["paid"] != false {
		t.Errorf("body = %v, want paid=false", body)
	}

	if _, err := store.MarkPaid("u_U1", "p_P1", "cs_S1", "pi_PI1", 4900); err != nil {
		t.Fatalf("MarkPaid: %v", err)
	}
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if body := decodeBody(t, rec); body["paid"] != true {
		t.Errorf("body = %v, want paid=true", body)
	}
}

func TestListPurchasers(t *testing.T) {
	mux, store := newTestMux(t)

	req := httptest.NewRequest(http.MethodGet, "/purchases/p_P1", nil)
	req.Header.Set("X-User-ID", "u_OWNER01")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("empty status=%d, want=%d", rec.Code, http.StatusNotFound)
	}

	if _, err := store.MarkPaid("u_U1", "p_P1", "cs_S1", "pi_PI1", 4900); err != nil {
		t.Fatalf("MarkPaid: %v", err)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want=%d, body=%q", rec.Code, http.StatusOK, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["count"] != float64(1) {
		t.Errorf("count = %v, want 1", body["count"])
	}
}

func TestWebhookThroughRouter(t *testing.T) {
	mux, store := newTestMux(t)

	payload := fmt.Sprintf(`{"id":"evt_1","object":"event","type":"checkout.session.completed",`+
		`"data":{"object":{"id":"cs_S1","object":"checkout.session","payment_intent":"pi_PI1",`+
		`"amount_total":%d,"metadata":{"user_id":"u_U1","property_id":"p_P1"}}}}`, 4900)

	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want=%d, body=%q", rec.Code, http.StatusOK, rec.Body.String())
	}

	paid, err := store.HasPaid("u_U1", "p_P1")
	if err != nil || !paid {
		t.Fatalf("HasPaid = %v, %v; want true", paid, err)
	}

	// A tampered signature must be rejected without touching the store.
	req = httptest.NewRequest(http.MethodPost, "/payments/webhook", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", "t=1614556800,v1=deadbeef")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad signature status=%d, want=%d", rec.Code, http.StatusBadRequest)
	}
}
