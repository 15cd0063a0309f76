package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"quotefeed/internal/clock"
	"quotefeed/internal/provider"
)

// ErrExhausted is returned by Acquire while the current window has no
// budget left.
var ErrExhausted = errors.New("ratelimit: budget exhausted")

// Gate enforces a provider's rolling call budget and minimum
// inter-request spacing. One Gate is owned by exactly one provider.
//
// Spacing uses a reservation scheme: each accepted caller reserves the
// next start slot while holding the mutex, then sleeps until its slot
// outside the lock. Two requests can never start closer together than
// the configured interval, even under concurrent callers.
type Gate struct {
	budget      int
	resetWindow time.Duration
	minInterval time.Duration
	clk         clock.Clock

	mu        sync.Mutex
	remaining int
	resetAt   time.Time // zero while budget remains
	nextStart time.Time // earliest start for the next request
}

// New builds a Gate with a full budget. A nil clk falls back to the
// wall clock.
func New(budget int, resetWindow, minInterval time.Duration, clk clock.Clock) *Gate {
	if clk == nil {
		clk = clock.Real()
	}
	return &Gate{
		budget:      budget,
		resetWindow: resetWindow,
		minInterval: minInterval,
		clk:         clk,
		remaining:   budget,
	}
}

// rollover restores the budget once the reset deadline has passed.
// Callers must hold g.mu.
func (g *Gate) rollover(now time.Time) {
	if !g.resetAt.IsZero() && !now.Before(g.resetAt) {
		g.remaining = g.budget
		g.resetAt = time.Time{}
	}
}

// Available reports whether the gate currently has budget. It may
// lazily roll an expired window over, but issues no request.
func (g *Gate) Available() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollover(g.clk.Now())
	return g.remaining > 0
}

// Acquire consumes one budget slot and blocks until the spacing
// interval since the previous request has elapsed. The slot is
// consumed when the request is accepted; a call that later times out
// is not refunded.
func (g *Gate) Acquire(ctx context.Context) error {
	g.mu.Lock()
	now := g.clk.Now()
	g.rollover(now)
	if g.remaining <= 0 {
		g.mu.Unlock()
		return ErrExhausted
	}
	g.remaining--
	if g.remaining == 0 {
		g.resetAt = now.Add(g.resetWindow)
	}
	start := now
	if g.minInterval > 0 && g.nextStart.After(start) {
		start = g.nextStart
	}
	g.nextStart = start.Add(g.minInterval)
	wait := start.Sub(now)
	g.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-g.clk.After(wait):
		return nil
	}
}

// Exhaust drops the remaining budget to zero and starts a reset
// window immediately. Used when the backend signals throttling inside
// an otherwise successful response.
func (g *Gate) Exhaust() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.remaining = 0
	g.resetAt = g.clk.Now().Add(g.resetWindow)
}

// Snapshot returns the current budget state for telemetry.
func (g *Gate) Snapshot() provider.RateLimitInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollover(g.clk.Now())
	info := provider.RateLimitInfo{Remaining: g.remaining}
	if !g.resetAt.IsZero() {
		t := g.resetAt
		info.ResetAt = &t
	}
	return info
}
