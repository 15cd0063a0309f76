package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quotefeed/internal/provider"
)

type quoteEntry struct {
	expiresAt time.Time
	quote     provider.QuoteData
}

type historyEntry struct {
	expiresAt time.Time
	bars      []provider.HistoricalBar
}

// Provider caches quotes and historical series from the wrapped
// provider. Quote entries stay fresh for minutes, history entries for
// about an hour; both are advisory freshness windows, not correctness
// requirements.
type Provider struct {
	P          provider.Provider
	QuoteTTL   time.Duration
	HistoryTTL time.Duration
	MaxItems   int

	mu      sync.RWMutex
	quotes  map[string]quoteEntry
	history map[string]historyEntry

	// coalesce concurrent refreshes of the same symbol
	sf singleflight.Group
}

func (c *Provider) Name() string { return c.P.Name() }

func (c *Provider) Available() bool { return c.P.Available() }

func (c *Provider) RateLimit() provider.RateLimitInfo { return c.P.RateLimit() }

func (c *Provider) Quote(ctx context.Context, symbol string) *provider.QuoteData {
	symbol = provider.NormalizeSymbol(symbol)
	if c.QuoteTTL <= 0 {
		return c.P.Quote(ctx, symbol)
	}

	if q, ok := c.cachedQuote(symbol); ok {
		return q
	}

	v, _, _ := c.sf.Do("q:"+symbol, func() (any, error) {
		// Double-check after winning the flight.
		if q, ok := c.cachedQuote(symbol); ok {
			return q, nil
		}
		q := c.P.Quote(ctx, symbol)
		if q != nil {
			c.storeQuote(symbol, *q)
		}
		return q, nil
	})
	if q, ok := v.(*provider.QuoteData); ok {
		return q
	}
	return nil
}

func (c *Provider) BatchQuotes(ctx context.Context, symbols []string) map[string]provider.QuoteData {
	if c.QuoteTTL <= 0 {
		return c.P.BatchQuotes(ctx, symbols)
	}

	out := make(map[string]provider.QuoteData, len(symbols))
	missing := make([]string, 0, len(symbols))
	for _, s := range symbols {
		sym := provider.NormalizeSymbol(s)
		if _, dup := out[sym]; dup {
			continue
		}
		if q, ok := c.cachedQuote(sym); ok {
			out[sym] = *q
			continue
		}
		missing = append(missing, sym)
	}
	if len(missing) == 0 {
		return out
	}

	fresh := c.P.BatchQuotes(ctx, missing)
	for sym, q := range fresh {
		c.storeQuote(sym, q)
		out[sym] = q
	}
	return out
}

func (c *Provider) Historical(ctx context.Context, symbol, period string) []provider.HistoricalBar {
	symbol = provider.NormalizeSymbol(symbol)
	if c.HistoryTTL <= 0 {
		return c.P.Historical(ctx, symbol, period)
	}
	key := symbol + "|" + period

	c.mu.RLock()
	e, ok := c.history[key]
	c.mu.RUnlock()
	if ok && time.Now().Before(e.expiresAt) {
		return e.bars
	}

	v, _, _ := c.sf.Do("h:"+key, func() (any, error) {
		c.mu.RLock()
		e, ok := c.history[key]
		c.mu.RUnlock()
		if ok && time.Now().Before(e.expiresAt) {
			return e.bars, nil
		}
		bars := c.P.Historical(ctx, symbol, period)
		if len(bars) > 0 {
			c.mu.Lock()
			if c.history == nil {
				c.history = make(map[string]historyEntry)
			}
			c.history[key] = historyEntry{expiresAt: time.Now().Add(c.HistoryTTL), bars: bars}
			c.mu.Unlock()
		}
		return bars, nil
	})
	if bars, ok := v.([]provider.HistoricalBar); ok {
		return bars
	}
	return []provider.HistoricalBar{}
}

func (c *Provider) cachedQuote(symbol string) (*provider.QuoteData, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.quotes[symbol]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	q := e.quote
	return &q, true
}

func (c *Provider) storeQuote(symbol string, q provider.QuoteData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.quotes == nil {
		c.quotes = make(map[string]quoteEntry)
	}
	c.quotes[symbol] = quoteEntry{expiresAt: time.Now().Add(c.QuoteTTL), quote: q}

	// best-effort size cap: expired first, then arbitrary
	if c.MaxItems > 0 && len(c.quotes) > c.MaxItems {
		now := time.Now()
		for k, v := range c.quotes {
			if now.After(v.expiresAt) {
				delete(c.quotes, k)
			}
			if len(c.quotes) <= c.MaxItems {
				break
			}
		}
		for k := range c.quotes {
			if len(c.quotes) <= c.MaxItems {
				break
			}
			delete(c.quotes, k)
		}
	}
}
