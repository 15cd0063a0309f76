package aggregate

import (
	"context"
	"log/slog"

	"quotefeed/internal/observability"
	"quotefeed/internal/provider"
)

// Aggregator presents an ordered list of providers as one virtual
// provider. Providers are tried in priority order (most trusted first)
// and the first successful normalized result wins; partial fields are
// never merged across providers.
//
// Available() is consulted before each attempt to avoid burning budget
// on a doomed call, but it is only a hint: a fetch that fails after a
// true hint still falls through to the next provider.
type Aggregator struct {
	providers []provider.Provider
	log       *slog.Logger
}

func New(providers ...provider.Provider) *Aggregator {
	return &Aggregator{
		providers: providers,
		log:       observability.WithProvider("aggregate"),
	}
}

func (a *Aggregator) Name() string { return "Aggregate" }

// Available reports whether any underlying provider has budget.
func (a *Aggregator) Available() bool {
	for _, p := range a.providers {
		if p.Available() {
			return true
		}
	}
	return false
}

// Quote returns the first provider's successful result, or nil when
// every provider fails. An exhausted provider list is a normal
// outcome, not an error.
func (a *Aggregator) Quote(ctx context.Context, symbol string) *provider.QuoteData {
	for _, p := range a.providers {
		if !p.Available() {
			continue
		}
		if q := p.Quote(ctx, symbol); q != nil {
			return q
		}
		a.log.Info("provider returned no quote, falling back", "provider", p.Name(), "symbol", symbol)
	}
	return nil
}

// BatchQuotes delegates the whole set to the first available provider,
// then falls back per-symbol to later providers for whatever is still
// missing. Each symbol's entry comes from the highest-priority
// provider that produced one.
func (a *Aggregator) BatchQuotes(ctx context.Context, symbols []string) map[string]provider.QuoteData {
	out := make(map[string]provider.QuoteData, len(symbols))
	remaining := make([]string, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		sym := provider.NormalizeSymbol(s)
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		remaining = append(remaining, sym)
	}

	for _, p := range a.providers {
		if len(remaining) == 0 {
			break
		}
		if !p.Available() {
			continue
		}
		res := p.BatchQuotes(ctx, remaining)
		next := remaining[:0]
		for _, sym := range remaining {
			if q, ok := res[sym]; ok {
				out[sym] = q
			} else {
				next = append(next, sym)
			}
		}
		remaining = next
	}
	return out
}

// Historical returns the first provider's non-empty series; series are
// never merged across providers.
func (a *Aggregator) Historical(ctx context.Context, symbol, period string) []provider.HistoricalBar {
	for _, p := range a.providers {
		if !p.Available() {
			continue
		}
		if bars := p.Historical(ctx, symbol, period); len(bars) > 0 {
			return bars
		}
		a.log.Info("provider returned no history, falling back", "provider", p.Name(), "symbol", symbol)
	}
	return []provider.HistoricalBar{}
}

// RateLimit reports the head (most trusted) provider's budget, which
// is what a caller treating the aggregate as a single provider cares
// about. Per-provider detail is available via RateLimits.
func (a *Aggregator) RateLimit() provider.RateLimitInfo {
	if len(a.providers) == 0 {
		return provider.RateLimitInfo{}
	}
	return a.providers[0].RateLimit()
}

// RateLimits exposes every provider's budget snapshot for telemetry.
func (a *Aggregator) RateLimits() map[string]provider.RateLimitInfo {
	out := make(map[string]provider.RateLimitInfo, len(a.providers))
	for _, p := range a.providers {
		out[p.Name()] = p.RateLimit()
	}
	return out
}
