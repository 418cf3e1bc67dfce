package gateway

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimiter tracks the most recently observed rate-limit headers from the
// provider so callers can inspect remaining headroom without issuing a
// request. It does not itself throttle; doRequest's retry loop honors a
// Retry-After hint directly from the response that triggered a 429.
type RateLimiter struct {
	mu          sync.Mutex
	limit       int
	remaining   int
	lastUpdated time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{}
}

// Status is a point-in-time snapshot, safe to read concurrently with updates.
type Status struct {
	Limit       int
	Remaining   int
	UsagePct    float64
	LastUpdated time.Time
}

func (rl *RateLimiter) Status() Status {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	var pct float64
	if rl.limit > 0 {
		pct = float64(rl.limit-rl.remaining) / float64(rl.limit) * 100
	}
	return Status{
		Limit:       rl.limit,
		Remaining:   rl.remaining,
		UsagePct:    pct,
		LastUpdated: rl.lastUpdated,
	}
}

func (rl *RateLimiter) IsNearLimit(thresholdPct float64) bool {
	return rl.Status().UsagePct >= thresholdPct
}

// update parses the provider's rate-limit headers, if present. Header names
// are intentionally generic (RateLimit-Limit / RateLimit-Remaining) since the
// gateway treats the provider as an opaque REST surface.
func (rl *RateLimiter) update(resp *http.Response) {
	limit, limitOK := parseIntHeader(resp.Header, "RateLimit-Limit")
	remaining, remOK := parseIntHeader(resp.Header, "RateLimit-Remaining")
	if !limitOK && !remOK {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if limitOK {
		rl.limit = limit
	}
	if remOK {
		rl.remaining = remaining
	}
	rl.lastUpdated = time.Now()
}

func parseIntHeader(h http.Header, name string) (int, bool) {
	v := h.Get(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// parseRetryAfter reads the Retry-After header, supporting only the
// delta-seconds form the provider is expected to send.
func parseRetryAfter(resp *http.Response) int {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
