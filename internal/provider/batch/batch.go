package batch

import (
	"context"
	"sync"
	"time"

	"quotefeed/internal/clock"
	"quotefeed/internal/provider"
)

// Strategy selects how a multi-symbol fetch is driven against one
// provider.
type Strategy int

const (
	// Sequential issues one request at a time. Required for providers
	// whose per-minute budget is too small for any concurrency.
	Sequential Strategy = iota
	// ChunkedConcurrent issues fixed-size waves of concurrent requests
	// separated by a fixed delay, bounding peak concurrency and total
	// request rate at once.
	ChunkedConcurrent
)

// FetchFunc fetches a single symbol; nil means the symbol failed.
type FetchFunc func(ctx context.Context, symbol string) *provider.QuoteData

// Coordinator drives a batch fetch for one provider. The returned map
// contains exactly the symbols that succeeded; a failed symbol is
// absent, never an error for the whole batch.
type Coordinator struct {
	Strategy   Strategy
	ChunkSize  int
	ChunkDelay time.Duration
	Clock      clock.Clock
}

func (c Coordinator) clk() clock.Clock {
	if c.Clock == nil {
		return clock.Real()
	}
	return c.Clock
}

// Run fetches all symbols using the configured strategy. Duplicate
// symbols are collapsed before fetching.
func (c Coordinator) Run(ctx context.Context, symbols []string, fetch FetchFunc) map[string]provider.QuoteData {
	uniq := dedupe(symbols)
	out := make(map[string]provider.QuoteData, len(uniq))

	if c.Strategy == Sequential {
		for _, s := range uniq {
			if ctx.Err() != nil {
				break
			}
			if q := fetch(ctx, s); q != nil {
				out[s] = *q
			}
		}
		return out
	}

	size := c.ChunkSize
	if size <= 0 {
		size = 5
	}
	chunks := chunk(uniq, size)
	var mu sync.Mutex
	for i, ch := range chunks {
		if ctx.Err() != nil {
			break
		}
		var wg sync.WaitGroup
		for _, s := range ch {
			wg.Add(1)
			go func(sym string) {
				defer wg.Done()
				// One symbol failing must not cancel its siblings.
				if q := fetch(ctx, sym); q != nil {
					mu.Lock()
					out[sym] = *q
					mu.Unlock()
				}
			}(s)
		}
		wg.Wait()

		if c.ChunkDelay > 0 && i < len(chunks)-1 {
			select {
			case <-ctx.Done():
				return out
			case <-c.clk().After(c.ChunkDelay):
			}
		}
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func chunk(in []string, size int) [][]string {
	if size <= 0 || len(in) == 0 {
		return [][]string{in}
	}
	out := make([][]string, 0, (len(in)+size-1)/size)
	for i := 0; i < len(in); i += size {
		j := i + size
		if j > len(in) {
			j = len(in)
		}
		out = append(out, in[i:j])
	}
	return out
}
