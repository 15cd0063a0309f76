package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"quotefeed/internal/observability"
	"quotefeed/internal/provider"
)

// errNoData translates the provider layer's nil-on-failure contract
// into an error the breaker can count.
var errNoData = errors.New("breaker: no data from provider")

// Config holds circuit breaker tuning for one provider.
type Config struct {
	MaxRequests uint32        // requests allowed while half-open
	Interval    time.Duration // closed-state count reset period
	Timeout     time.Duration // open-state duration before half-open
}

// DefaultConfig matches the tuning used for external market data APIs.
var DefaultConfig = Config{
	MaxRequests: 5,
	Interval:    time.Minute,
	Timeout:     30 * time.Second,
}

// Provider wraps another provider with a circuit breaker. A provider
// that keeps failing stops being probed for the open-state timeout;
// while open it reports unavailable and fetches short-circuit to nil.
type Provider struct {
	P  provider.Provider
	cb *gobreaker.CircuitBreaker[any]
}

func New(p provider.Provider, cfg Config) *Provider {
	name := p.Name()
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.Warn("circuit breaker state change",
				"provider", name,
				"from", from.String(),
				"to", to.String())
			m := observability.GetMetrics()
			m.SetBreakerState(name, stateToInt(to))
			if to == gobreaker.StateOpen {
				m.RecordBreakerTrip(name)
			}
		},
	}
	return &Provider{P: p, cb: gobreaker.NewCircuitBreaker[any](settings)}
}

func (b *Provider) Name() string { return b.P.Name() }

func (b *Provider) Available() bool {
	return b.cb.State() != gobreaker.StateOpen && b.P.Available()
}

func (b *Provider) RateLimit() provider.RateLimitInfo { return b.P.RateLimit() }

func (b *Provider) Quote(ctx context.Context, symbol string) *provider.QuoteData {
	v, err := b.cb.Execute(func() (any, error) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		q := b.P.Quote(ctx, symbol)
		if q == nil {
			return nil, errNoData
		}
		return q, nil
	})
	if err != nil {
		return nil
	}
	return v.(*provider.QuoteData)
}

func (b *Provider) BatchQuotes(ctx context.Context, symbols []string) map[string]provider.QuoteData {
	v, err := b.cb.Execute(func() (any, error) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		res := b.P.BatchQuotes(ctx, symbols)
		// A partially-filled batch is a success; only a fully-empty
		// result counts against the breaker.
		if len(res) == 0 && len(symbols) > 0 {
			return res, errNoData
		}
		return res, nil
	})
	if err != nil {
		return map[string]provider.QuoteData{}
	}
	return v.(map[string]provider.QuoteData)
}

func (b *Provider) Historical(ctx context.Context, symbol, period string) []provider.HistoricalBar {
	v, err := b.cb.Execute(func() (any, error) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		bars := b.P.Historical(ctx, symbol, period)
		if len(bars) == 0 {
			return bars, errNoData
		}
		return bars, nil
	})
	if err != nil {
		return []provider.HistoricalBar{}
	}
	return v.([]provider.HistoricalBar)
}

// stateToInt maps breaker states for metrics: 0=closed, 1=half-open,
// 2=open.
func stateToInt(state gobreaker.State) int {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
