package exchange

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// HostLimit configures a per-exchange-host rate limit.
type HostLimit struct {
	RatePerSecond float64
	Burst         int
}

// HostLimiter throttles outbound RPCs per exchange host, adapted from the
// teacher's per-client token-bucket gateway middleware into a per-host
// limiter for outbound exchange calls instead of per-inbound-client calls.
type HostLimiter struct {
	mu       sync.Mutex
	limits   map[string]HostLimit
	defaults HostLimit
	visitors map[string]*rate.Limiter
}

// NewHostLimiter builds a HostLimiter applying defaultLimit to any
// exchange host without a specific override.
func NewHostLimiter(defaultLimit HostLimit) *HostLimiter {
	if defaultLimit.RatePerSecond <= 0 {
		defaultLimit.RatePerSecond = 20
	}
	if defaultLimit.Burst <= 0 {
		defaultLimit.Burst = int(defaultLimit.RatePerSecond)
		if defaultLimit.Burst <= 0 {
			defaultLimit.Burst = 1
		}
	}
	return &HostLimiter{
		limits:   make(map[string]HostLimit),
		defaults: defaultLimit,
		visitors: make(map[string]*rate.Limiter),
	}
}

// SetHostLimit overrides the limit applied to a specific exchange host.
func (h *HostLimiter) SetHostLimit(exchangeURL string, limit HostLimit) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.limits[exchangeURL] = limit
}

// Wait blocks until exchangeURL's bucket has a token available or ctx is
// cancelled.
func (h *HostLimiter) Wait(ctx context.Context, exchangeURL string) error {
	return h.obtain(exchangeURL).Wait(ctx)
}

func (h *HostLimiter) obtain(exchangeURL string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	if l, ok := h.visitors[exchangeURL]; ok {
		return l
	}
	cfg := h.defaults
	if override, ok := h.limits[exchangeURL]; ok {
		cfg = override
	}
	l := rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst)
	h.visitors[exchangeURL] = l
	return l
}
