package http

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	. "github.com/roelfdiedericks/chatrelay/internal/logging"
	. "github.com/roelfdiedericks/chatrelay/internal/metrics"
)

// RateLimiter throttles API requests with a shared token bucket. A nil
// limiter lets everything through.
type RateLimiter struct {
	bucket *rate.Limiter
}

// NewRateLimiter returns a limiter allowing rps requests per second with the
// given burst. rps <= 0 disables throttling.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if rps <= 0 {
		return &RateLimiter{}
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{bucket: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Allow reports whether a request may proceed now.
func (r *RateLimiter) Allow() bool {
	return r.bucket == nil || r.bucket.Allow()
}

// Middleware rejects requests over the limit with 429.
func (r *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !r.Allow() {
			MetricInc("http", "throttled")
			L_warn("http: throttled", "path", req.URL.Path, "ip", req.RemoteAddr)
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, req)
	})
}

// FailureLimiter tracks failed auth attempts and blocks IPs temporarily
type FailureLimiter struct {
	failures map[string]time.Time // IP -> time of last failure
	mu       sync.RWMutex
	delay    time.Duration // How long to block after failure
	now      func() time.Time
}

// NewFailureLimiter creates a new failure limiter
func NewFailureLimiter(delay time.Duration) *FailureLimiter {
	return &FailureLimiter{
		failures: make(map[string]time.Time),
		delay:    delay,
		now:      time.Now,
	}
}

// RecordFailure records a failed auth attempt for an IP
func (r *FailureLimiter) RecordFailure(ip string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[ip] = r.now()
}

// ClearFailure clears the failure record for an IP (on successful auth)
func (r *FailureLimiter) ClearFailure(ip string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.failures, ip)
}

// IsLimited returns true if the IP is currently rate limited
func (r *FailureLimiter) IsLimited(ip string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	failTime, exists := r.failures[ip]
	if !exists {
		return false
	}
	return r.now().Sub(failTime) <= r.delay
}
