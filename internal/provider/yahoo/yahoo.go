package yahoo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"quotefeed/internal/clock"
	"quotefeed/internal/httpx"
	"quotefeed/internal/observability"
	"quotefeed/internal/provider"
	"quotefeed/internal/provider/batch"
	"quotefeed/internal/provider/ratelimit"
)

var (
	errRateLimited = errors.New("yahoo: throttled")
	errProvider    = errors.New("yahoo: chart error")
	errShape       = errors.New("yahoo: unexpected response shape")
)

// defaultUserAgent is a browser-like UA. The chart endpoint blocks
// clients that identify as generic HTTP libraries.
const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

// Config controls the Yahoo Finance provider behavior.
type Config struct {
	Name        string
	BaseURL     string
	UserAgent   string
	Budget      int
	ResetWindow time.Duration
	MinInterval time.Duration
	// ChunkSize and ChunkDelay bound the chunked-concurrent batch
	// strategy: at most ChunkSize requests in flight, ChunkDelay
	// between waves.
	ChunkSize  int
	ChunkDelay time.Duration
	Clock      clock.Clock
}

// Provider fetches quotes and historical series from the Yahoo Finance
// v8 chart API. No credential is required, so availability is purely a
// rate-gate question.
type Provider struct {
	cfg    Config
	client *httpx.Client
	gate   *ratelimit.Gate
	coord  batch.Coordinator
	log    *slog.Logger
}

func New(cfg Config, hc *httpx.Client) *Provider {
	if cfg.Name == "" {
		cfg.Name = "Yahoo Finance"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://query1.finance.yahoo.com"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Budget <= 0 {
		cfg.Budget = 60
	}
	if cfg.ResetWindow <= 0 {
		cfg.ResetWindow = time.Minute
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 5
	}
	if cfg.ChunkDelay <= 0 {
		cfg.ChunkDelay = time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if hc == nil {
		hc = httpx.New(10 * time.Second)
	}
	return &Provider{
		cfg:    cfg,
		client: hc,
		gate:   ratelimit.New(cfg.Budget, cfg.ResetWindow, cfg.MinInterval, cfg.Clock),
		coord: batch.Coordinator{
			Strategy:   batch.ChunkedConcurrent,
			ChunkSize:  cfg.ChunkSize,
			ChunkDelay: cfg.ChunkDelay,
			Clock:      cfg.Clock,
		},
		log: observability.WithProvider(cfg.Name),
	}
}

func (p *Provider) Name() string { return p.cfg.Name }

func (p *Provider) Available() bool { return p.gate.Available() }

func (p *Provider) RateLimit() provider.RateLimitInfo { return p.gate.Snapshot() }

func (p *Provider) Quote(ctx context.Context, symbol string) *provider.QuoteData {
	q, err := p.quote(ctx, symbol)
	if err != nil {
		p.log.Warn("quote fetch failed", "symbol", symbol, "error", err)
		observability.GetMetrics().RecordProviderError(p.cfg.Name, "quote", classify(err))
		return nil
	}
	return q
}

func (p *Provider) BatchQuotes(ctx context.Context, symbols []string) map[string]provider.QuoteData {
	return p.coord.Run(ctx, symbols, p.Quote)
}

func (p *Provider) Historical(ctx context.Context, symbol, period string) []provider.HistoricalBar {
	bars, err := p.historical(ctx, symbol, period)
	if err != nil {
		p.log.Warn("historical fetch failed", "symbol", symbol, "period", period, "error", err)
		observability.GetMetrics().RecordProviderError(p.cfg.Name, "historical", classify(err))
		return []provider.HistoricalBar{}
	}
	return bars
}

// chartResponse mirrors the relevant slice of the v8 chart payload.
type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  any           `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Meta struct {
		Symbol               string  `json:"symbol"`
		RegularMarketPrice   float64 `json:"regularMarketPrice"`
		ChartPreviousClose   float64 `json:"chartPreviousClose"`
		PreviousClose        float64 `json:"previousClose"`
		RegularMarketDayHigh float64 `json:"regularMarketDayHigh"`
		RegularMarketDayLow  float64 `json:"regularMarketDayLow"`
		RegularMarketVolume  int64   `json:"regularMarketVolume"`
		RegularMarketTime    int64   `json:"regularMarketTime"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []float64 `json:"open"`
			High   []float64 `json:"high"`
			Low    []float64 `json:"low"`
			Close  []float64 `json:"close"`
			Volume []int64   `json:"volume"`
		} `json:"quote"`
	} `json:"indicators"`
}

func (p *Provider) quote(ctx context.Context, symbol string) (*provider.QuoteData, error) {
	symbol = provider.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("%w: empty symbol", errShape)
	}

	r, err := p.chart(ctx, "quote", symbol, "1d", "1d")
	if err != nil {
		return nil, err
	}

	price := r.Meta.RegularMarketPrice
	prevClose := r.Meta.ChartPreviousClose
	if prevClose <= 0 {
		prevClose = r.Meta.PreviousClose
	}
	if price <= 0 || prevClose <= 0 {
		return nil, fmt.Errorf("%w: missing price fields", errShape)
	}

	high := r.Meta.RegularMarketDayHigh
	low := r.Meta.RegularMarketDayLow
	open := 0.0
	if len(r.Indicators.Quote) > 0 {
		q := r.Indicators.Quote[0]
		for _, o := range q.Open {
			if o > 0 {
				open = o
				break
			}
		}
		if high <= 0 {
			for _, h := range q.High {
				if h > high {
					high = h
				}
			}
		}
		if low <= 0 {
			for _, l := range q.Low {
				if l > 0 && (low <= 0 || l < low) {
					low = l
				}
			}
		}
	}
	if open <= 0 {
		open = prevClose
	}
	if high <= 0 {
		high = price
	}
	if low <= 0 {
		low = price
	}

	lastUpdate := p.cfg.Clock.Now().UTC().Format("2006-01-02")
	if r.Meta.RegularMarketTime > 0 {
		lastUpdate = time.Unix(r.Meta.RegularMarketTime, 0).UTC().Format("2006-01-02")
	}

	change := price - prevClose
	return &provider.QuoteData{
		Symbol:        symbol,
		Price:         provider.Round2(price),
		Change:        provider.Round2(change),
		ChangePercent: provider.Round2(change / prevClose * 100),
		Volume:        r.Meta.RegularMarketVolume,
		High:          provider.Round2(high),
		Low:           provider.Round2(low),
		Open:          provider.Round2(open),
		PreviousClose: provider.Round2(prevClose),
		LastUpdate:    lastUpdate,
		Source:        p.cfg.Name,
		IsRealData:    true,
	}, nil
}

func (p *Provider) historical(ctx context.Context, symbol, period string) ([]provider.HistoricalBar, error) {
	symbol = provider.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("%w: empty symbol", errShape)
	}

	// "1d" selects the intraday series; everything else maps to the
	// daily series, over-fetched and truncated to the 30 most recent.
	interval, rng, dateLayout := "1d", "3mo", "2006-01-02"
	if period == "1d" {
		interval, rng, dateLayout = "5m", "1d", "2006-01-02 15:04"
	}

	r, err := p.chart(ctx, "historical", symbol, interval, rng)
	if err != nil {
		return nil, err
	}
	if len(r.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("%w: missing indicators", errShape)
	}
	q := r.Indicators.Quote[0]
	n := len(r.Timestamp)
	if len(q.Close) != n || len(q.Open) != n || len(q.High) != n || len(q.Low) != n {
		return nil, fmt.Errorf("%w: ragged series", errShape)
	}

	// Walk newest-first so the output is already descending by date.
	bars := make([]provider.HistoricalBar, 0, provider.MaxHistoricalBars)
	for i := n - 1; i >= 0 && len(bars) < provider.MaxHistoricalBars; i-- {
		if q.Close[i] <= 0 {
			// Nulls in the arrays decode to zero; skip those slots.
			continue
		}
		var vol int64
		if len(q.Volume) == n {
			vol = q.Volume[i]
		}
		bars = append(bars, provider.HistoricalBar{
			Date:   time.Unix(r.Timestamp[i], 0).UTC().Format(dateLayout),
			Open:   provider.Round2(q.Open[i]),
			High:   provider.Round2(q.High[i]),
			Low:    provider.Round2(q.Low[i]),
			Close:  provider.Round2(q.Close[i]),
			Volume: vol,
		})
	}
	return bars, nil
}

// chart acquires the rate gate and fetches one chart payload.
func (p *Provider) chart(ctx context.Context, operation, symbol, interval, rng string) (*chartResult, error) {
	waitStart := p.cfg.Clock.Now()
	if err := p.gate.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("gate: %w", err)
	}
	observability.GetMetrics().RecordRateGateWait(p.cfg.Name, p.cfg.Clock.Now().Sub(waitStart))

	params := url.Values{}
	params.Set("interval", interval)
	params.Set("range", rng)
	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", p.cfg.BaseURL, url.PathEscape(symbol), params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := p.client.Do(ctx, req)
	observability.GetMetrics().RecordProviderRequest(p.cfg.Name, operation, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		// Out-of-band throttle: burn the window immediately.
		p.gate.Exhaust()
		return nil, errRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
		return nil, fmt.Errorf("GET chart -> %d: %s", resp.StatusCode, string(b))
	}

	var body chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", errShape, err)
	}
	if body.Chart.Error != nil {
		return nil, fmt.Errorf("%w: %v", errProvider, body.Chart.Error)
	}
	if len(body.Chart.Result) == 0 {
		return nil, fmt.Errorf("%w: empty result", errShape)
	}
	return &body.Chart.Result[0], nil
}

func classify(err error) string {
	switch {
	case errors.Is(err, errRateLimited), errors.Is(err, ratelimit.ErrExhausted):
		return "throttled"
	case errors.Is(err, errProvider):
		return "provider"
	case errors.Is(err, errShape):
		return "shape"
	default:
		return "transport"
	}
}
