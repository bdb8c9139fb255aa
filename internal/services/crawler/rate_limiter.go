package crawler

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter spaces requests to the same host by at least the configured delay.
// Both fetch strategies share one limiter so switching strategy never doubles the request rate.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	delay    time.Duration
}

// NewRateLimiter creates a per-host limiter. A delay <= 0 disables limiting.
func NewRateLimiter(delay time.Duration) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		delay:    delay,
	}
}

// Wait blocks until a request to rawURL's host is allowed or ctx is done
func (rl *RateLimiter) Wait(ctx context.Context, rawURL string) error {
	if rl == nil || rl.delay <= 0 {
		return nil
	}

	host := extractHost(rawURL)
	if host == "" {
		return nil
	}

	return rl.limiter(host).Wait(ctx)
}

func (rl *RateLimiter) limiter(host string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, ok := rl.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(rl.delay), 1)
		rl.limiters[host] = limiter
	}
	return limiter
}

// Delay returns the configured minimum spacing
func (rl *RateLimiter) Delay() time.Duration {
	return rl.delay
}

func extractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}
