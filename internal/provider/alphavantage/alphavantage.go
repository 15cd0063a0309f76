package alphavantage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"quotefeed/internal/clock"
	"quotefeed/internal/observability"
	"quotefeed/internal/provider"
	"quotefeed/internal/provider/batch"
	"quotefeed/internal/provider/ratelimit"
)

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=alphavantage_test -destination=mock_http_client_test.go -source=alphavantage.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

var (
	errRateLimited = errors.New("alphavantage: rate limit or information note")
	errProvider    = errors.New("alphavantage: provider-reported error")
	errShape       = errors.New("alphavantage: unexpected response shape")
)

// Config controls the Alpha Vantage provider behavior.
type Config struct {
	Name    string
	APIKey  string
	BaseURL string
	// Budget is the number of calls allowed per reset window.
	Budget      int
	ResetWindow time.Duration
	MinInterval time.Duration
	UserAgent   string
	Clock       clock.Clock
}

// Provider fetches quotes and historical series from the Alpha Vantage
// GLOBAL_QUOTE and TIME_SERIES endpoints. The free tier allows very few
// calls per minute, so batches run strictly sequentially through the
// rate gate.
type Provider struct {
	cfg    Config
	client HTTPClient
	gate   *ratelimit.Gate
	coord  batch.Coordinator
	log    *slog.Logger
}

func New(cfg Config, hc HTTPClient) *Provider {
	if cfg.Name == "" {
		cfg.Name = "Alpha Vantage"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.alphavantage.co"
	}
	if cfg.Budget <= 0 {
		cfg.Budget = 5
	}
	if cfg.ResetWindow <= 0 {
		cfg.ResetWindow = time.Minute
	}
	if cfg.MinInterval < 0 {
		cfg.MinInterval = 0
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "quotefeed/1.0"
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Provider{
		cfg:    cfg,
		client: hc,
		gate:   ratelimit.New(cfg.Budget, cfg.ResetWindow, cfg.MinInterval, cfg.Clock),
		coord:  batch.Coordinator{Strategy: batch.Sequential},
		log:    observability.WithProvider(cfg.Name),
	}
}

func (p *Provider) Name() string { return p.cfg.Name }

// configured reports whether a usable API key is present. "demo" is
// the documented placeholder key and does not count.
func (p *Provider) configured() bool {
	return p.cfg.APIKey != "" && p.cfg.APIKey != "demo"
}

func (p *Provider) Available() bool {
	return p.configured() && p.gate.Available()
}

func (p *Provider) RateLimit() provider.RateLimitInfo {
	return p.gate.Snapshot()
}

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

// globalQuote mirrors the GLOBAL_QUOTE payload. Every numeric arrives
// as a string.
type globalQuote struct {
	Symbol        string `json:"01. symbol"`
	Open          string `json:"02. open"`
	High          string `json:"03. high"`
	Low           string `json:"04. low"`
	Price         string `json:"05. price"`
	Volume        string `json:"06. volume"`
	LatestDay     string `json:"07. latest trading day"`
	PrevClose     string `json:"08. previous close"`
	Change        string `json:"09. change"`
	ChangePercent string `json:"10. change percent"`
}

func (p *Provider) quote(ctx context.Context, symbol string) (*provider.QuoteData, error) {
	symbol = provider.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("%w: empty symbol", errShape)
	}
	if !p.configured() {
		return nil, errors.New("alphavantage: API key not configured")
	}

	params := url.Values{}
	params.Set("function", "GLOBAL_QUOTE")
	params.Set("symbol", symbol)
	params.Set("apikey", p.cfg.APIKey)

	body, err := p.get(ctx, "quote", params)
	if err != nil {
		return nil, err
	}
	raw, ok := body["Global Quote"]
	if !ok {
		return nil, fmt.Errorf("%w: missing Global Quote", errShape)
	}
	var gq globalQuote
	if err := json.Unmarshal(raw, &gq); err != nil {
		return nil, fmt.Errorf("%w: %v", errShape, err)
	}

	price, err := parseFloat(gq.Price)
	if err != nil {
		return nil, fmt.Errorf("%w: price %q", errShape, gq.Price)
	}
	// Change may legitimately be negative; only the price-like fields
	// carry the non-negative invariant.
	change, err := strconv.ParseFloat(gq.Change, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: change %q", errShape, gq.Change)
	}
	changePct, err := provider.ParsePercent(gq.ChangePercent)
	if err != nil {
		return nil, fmt.Errorf("%w: change percent %q", errShape, gq.ChangePercent)
	}
	high, err := parseFloat(gq.High)
	if err != nil {
		return nil, fmt.Errorf("%w: high %q", errShape, gq.High)
	}
	low, err := parseFloat(gq.Low)
	if err != nil {
		return nil, fmt.Errorf("%w: low %q", errShape, gq.Low)
	}
	open, err := parseFloat(gq.Open)
	if err != nil {
		return nil, fmt.Errorf("%w: open %q", errShape, gq.Open)
	}
	prevClose, err := parseFloat(gq.PrevClose)
	if err != nil {
		return nil, fmt.Errorf("%w: previous close %q", errShape, gq.PrevClose)
	}
	volume, err := strconv.ParseInt(gq.Volume, 10, 64)
	if err != nil || volume < 0 {
		return nil, fmt.Errorf("%w: volume %q", errShape, gq.Volume)
	}

	lastUpdate := gq.LatestDay
	if lastUpdate == "" {
		lastUpdate = p.cfg.Clock.Now().UTC().Format("2006-01-02")
	}

	return &provider.QuoteData{
		Symbol:        symbol,
		Price:         price,
		Change:        change,
		ChangePercent: provider.Round2(changePct),
		Volume:        volume,
		High:          high,
		Low:           low,
		Open:          open,
		PreviousClose: prevClose,
		LastUpdate:    lastUpdate,
		Source:        p.cfg.Name,
		IsRealData:    true,
	}, nil
}

// seriesBar mirrors one entry of a TIME_SERIES payload.
type seriesBar struct {
	Open   string `json:"1. open"`
	High   string `json:"2. high"`
	Low    string `json:"3. low"`
	Close  string `json:"4. close"`
	Volume string `json:"5. volume"`
}

func (p *Provider) historical(ctx context.Context, symbol, period string) ([]provider.HistoricalBar, error) {
	symbol = provider.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("%w: empty symbol", errShape)
	}
	if !p.configured() {
		return nil, errors.New("alphavantage: API key not configured")
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("apikey", p.cfg.APIKey)

	// "1d" selects the intraday series; everything else is served from
	// the daily series and truncated to the 30 most recent bars.
	seriesKey := "Time Series (Daily)"
	if period == "1d" {
		params.Set("function", "TIME_SERIES_INTRADAY")
		params.Set("interval", "5min")
		seriesKey = "Time Series (5min)"
	} else {
		params.Set("function", "TIME_SERIES_DAILY")
	}

	body, err := p.get(ctx, "historical", params)
	if err != nil {
		return nil, err
	}
	raw, ok := body[seriesKey]
	if !ok {
		return nil, fmt.Errorf("%w: missing %q", errShape, seriesKey)
	}
	var series map[string]seriesBar
	if err := json.Unmarshal(raw, &series); err != nil {
		return nil, fmt.Errorf("%w: %v", errShape, err)
	}

	dates := make([]string, 0, len(series))
	for d := range series {
		dates = append(dates, d)
	}
	// Timestamps are ISO-formatted, so a reverse string sort is a
	// reverse chronological sort.
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	if len(dates) > provider.MaxHistoricalBars {
		dates = dates[:provider.MaxHistoricalBars]
	}

	bars := make([]provider.HistoricalBar, 0, len(dates))
	for _, d := range dates {
		sb := series[d]
		open, err := parseFloat(sb.Open)
		if err != nil {
			return nil, fmt.Errorf("%w: bar %s open %q", errShape, d, sb.Open)
		}
		high, err := parseFloat(sb.High)
		if err != nil {
			return nil, fmt.Errorf("%w: bar %s high %q", errShape, d, sb.High)
		}
		low, err := parseFloat(sb.Low)
		if err != nil {
			return nil, fmt.Errorf("%w: bar %s low %q", errShape, d, sb.Low)
		}
		closePx, err := parseFloat(sb.Close)
		if err != nil {
			return nil, fmt.Errorf("%w: bar %s close %q", errShape, d, sb.Close)
		}
		volume, err := strconv.ParseInt(sb.Volume, 10, 64)
		if err != nil || volume < 0 {
			return nil, fmt.Errorf("%w: bar %s volume %q", errShape, d, sb.Volume)
		}
		bars = append(bars, provider.HistoricalBar{
			Date:   d,
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closePx,
			Volume: volume,
		})
	}
	return bars, nil
}

// get acquires the rate gate, issues one GET and decodes the top-level
// JSON object, translating in-band throttle and error notices.
func (p *Provider) get(ctx context.Context, operation string, params url.Values) (map[string]json.RawMessage, error) {
	waitStart := p.cfg.Clock.Now()
	if err := p.gate.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("gate: %w", err)
	}
	observability.GetMetrics().RecordRateGateWait(p.cfg.Name, p.cfg.Clock.Now().Sub(waitStart))

	u := fmt.Sprintf("%s/query?%s", p.cfg.BaseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := p.client.Do(req)
	observability.GetMetrics().RecordProviderRequest(p.cfg.Name, operation, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
		return nil, fmt.Errorf("GET %s -> %d: %s", req.URL.Path, resp.StatusCode, string(b))
	}

	var body map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", errShape, err)
	}

	// Throttling and informational notices arrive inside 200 bodies.
	if _, ok := body["Note"]; ok {
		p.gate.Exhaust()
		return nil, errRateLimited
	}
	if _, ok := body["Information"]; ok {
		p.gate.Exhaust()
		return nil, errRateLimited
	}
	if msg, ok := body["Error Message"]; ok {
		return nil, fmt.Errorf("%w: %s", errProvider, string(msg))
	}
	return body, nil
}

func parseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("negative value %q", s)
	}
	return v, nil
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
