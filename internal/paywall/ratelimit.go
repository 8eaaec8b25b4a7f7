package paywall

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultRateLimit  = 120
	defaultRateWindow = time.Minute
)

// RateLimiter caps per-IP request rates on the webhook route. Stripe retries
// rejected deliveries with backoff, so a 429 here only delays reconciliation,
// never loses an event.
type RateLimiter struct {
	mu        sync.Mutex
	hits      map[string][]time.Time
	limit     int
	window    time.Duration
	lastSweep time.Time
}

// NewRateLimiter creates a rate limiter allowing limit requests per window
// from each client IP.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = defaultRateLimit
	}
	if window <= 0 {
		window = defaultRateWindow
	}
	return &RateLimiter{
		hits:      make(map[string][]time.Time),
		limit:     limit,
		window:    window,
		lastSweep: time.Now(),
	}
}

// Allow reports whether a request from ip fits inside the current window and
// records it if so.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	rl.sweepIdle(now)

	live := pruneBefore(rl.hits[ip], now.Add(-rl.window))
	if len(live) >= rl.limit {
		rl.hits[ip] = live
		return false
	}
	rl.hits[ip] = append(live, now)
	return true
}

// sweepIdle drops IPs whose every recorded hit has aged out of the window.
// Runs at most once per window so steady traffic pays almost nothing for it.
// Caller holds rl.mu.
func (rl *RateLimiter) sweepIdle(now time.Time) {
	if now.Sub(rl.lastSweep) < rl.window {
		return
	}
	cutoff := now.Add(-rl.window)
	for ip, hits := range rl.hits {
		if live := pruneBefore(hits, cutoff); len(live) == 0 {
			delete(rl.hits, ip)
		} else {
			rl.hits[ip] = live
		}
	}
	rl.lastSweep = now
}

func pruneBefore(hits []time.Time, cutoff time.Time) []time.Time {
	live := hits[:0]
	for _, t := range hits {
		if t.After(cutoff) {
			live = append(live, t)
		}
	}
	return live
}

// Middleware wraps next with per-IP rate limiting. Rejections carry the JSON
// error shape the rest of the API uses plus a Retry-After hint.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientIP(r)) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		// First address in the chain is the originating client.
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return xff
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
