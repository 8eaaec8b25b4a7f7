package paywall

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Error("request over limit should be denied")
	}
	// A different IP has its own budget.
	if !rl.Allow("10.0.0.2") {
		t.Error("different IP should be allowed")
	}
}

func TestRateLimiterWindowExpiry(t *testing.T) {
	rl := NewRateLimiter(1, 10*time.Millisecond)

	if !rl.Allow("10.0.0.1") {
		t.Fatal("first request should be allowed")
	}
	if rl.Allow("10.0.0.1") {
		t.Fatal("second request should be denied")
	}
	time.Sleep(20 * time.Millisecond)
	if !rl.Allow("10.0.0.1") {
		t.Error("request after window expiry should be allowed")
	}
}

func TestRateLimiterDefaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	if rl.limit != defaultRateLimit {
		t.Errorf("limit = %d, want %d", rl.limit, defaultRateLimit)
	}
	if rl.window != defaultRateWindow {
		t.Errorf("window = %v, want %v", rl.window, defaultRateWindow)
	}
}

func TestRateLimiterMiddleware(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", nil)
	req.RemoteAddr = "192.0.2.10:4321"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status=%d, want=%d", rec.Code, http.StatusOK)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status=%d, want=%d", rec.Code, http.StatusTooManyRequests)
	}
	if got := rec.Header().Get("Retry-After"); got != "60" {
		t.Errorf("Retry-After = %q, want 60", got)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("rejection body %q is not JSON: %v", rec.Body.String(), err)
	}
	if body["error"] == "" {
		t.Errorf("rejection body = %v, want an error field", body)
	}
}

func TestRateLimiterEvictsIdleIPs(t *testing.T) {
	rl := NewRateLimiter(5, 10*time.Millisecond)

	rl.Allow("10.0.0.1")
	rl.Allow("10.0.0.2")
	time.Sleep(25 * time.Millisecond)

	// The next request sweeps entries whose hits have all aged out.
	rl.Allow("10.0.0.3")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if len(rl.hits) != 1 {
		t.Errorf("tracked IPs = %d, want 1 (idle entries evicted)", len(rl.hits))
	}
	if _, ok := rl.hits["10.0.0.3"]; !ok {
		t.Error("active IP evicted by sweep")
	}
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:4321"
	if got := clientIP(req); got != "192.0.2.10" {
		t.Errorf("clientIP = %q, want 192.0.2.10", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 192.0.2.10")
	if got := clientIP(req); got != "203.0.113.7" {
		t.Errorf("clientIP = %q, want first forwarded address", got)
	}
}
