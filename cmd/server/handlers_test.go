package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"quotefeed/internal/provider"
)

// fakeService serves canned quotes for handler tests.
type fakeService struct {
	quotes map[string]provider.QuoteData
	bars   []provider.HistoricalBar
}

func (f fakeService) Name() string    { return "fake" }
func (f fakeService) Available() bool { return true }

func (f fakeService) RateLimit() provider.RateLimitInfo {
	return provider.RateLimitInfo{Remaining: 3}
}

func (f fakeService) RateLimits() map[string]provider.RateLimitInfo {
	return map[string]provider.RateLimitInfo{"fake": {Remaining: 3}}
}

func (f fakeService) Quote(_ context.Context, symbol string) *provider.QuoteData {
	if q, ok := f.quotes[symbol]; ok {
		return &q
	}
	return nil
}

func (f fakeService) BatchQuotes(ctx context.Context, symbols []string) map[string]provider.QuoteData {
	out := make(map[string]provider.QuoteData, len(symbols))
	for _, s := range symbols {
		if q := f.Quote(ctx, provider.NormalizeSymbol(s)); q != nil {
			out[provider.NormalizeSymbol(s)] = *q
		}
	}
	return out
}

func (f fakeService) Historical(context.Context, string, string) []provider.HistoricalBar {
	return f.bars
}

func newTestRouter(svc service) http.Handler {
	h := &handlers{svc: svc, quoteMaxAge: 120, historyMaxAge: 3600, timeout: 5 * time.Second}
	r := chi.NewRouter()
	r.Get("/healthz", h.health)
	r.Get("/api/quote/{symbol}", h.quote)
	r.Get("/api/quotes", h.batchQuotes)
	r.Get("/api/history/{symbol}", h.history)
	r.Get("/api/ratelimits", h.rateLimits)
	return r
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()
	newTestRouter(fakeService{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestQuoteFound(t *testing.T) {
	t.Parallel()

	svc := fakeService{quotes: map[string]provider.QuoteData{
		"AAPL": {Symbol: "AAPL", Price: 150.25, Source: "fake", IsRealData: true},
	}}

	rr := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/quote/aapl", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "public, max-age=120", rr.Header().Get("Cache-Control"))

	var got provider.QuoteData
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Equal(t, "AAPL", got.Symbol)
	require.InDelta(t, 150.25, got.Price, 1e-9)
}

func TestQuoteNotFound(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()
	newTestRouter(fakeService{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/quote/NOPE", nil))

	require.Equal(t, http.StatusNotFound, rr.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "data unavailable", resp.Error)
}

func TestBatchQuotes(t *testing.T) {
	t.Parallel()

	svc := fakeService{quotes: map[string]provider.QuoteData{
		"AAPL": {Symbol: "AAPL", Price: 150},
		"MSFT": {Symbol: "MSFT", Price: 410},
	}}

	rr := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rr,
		httptest.NewRequest(http.MethodGet, "/api/quotes?symbols=aapl,MSFT,GOOG", nil))

	require.Equal(t, http.StatusOK, rr.Code)

	var resp batchResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Quotes, 2)
	require.Contains(t, resp.Quotes, "AAPL")
	require.Contains(t, resp.Quotes, "MSFT")
	require.NotContains(t, resp.Quotes, "GOOG")
}

func TestBatchQuotesMissingParam(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()
	newTestRouter(fakeService{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/quotes", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHistoryDefaultsPeriod(t *testing.T) {
	t.Parallel()

	svc := fakeService{bars: []provider.HistoricalBar{{Date: "2025-06-02", Close: 150}}}

	rr := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/history/AAPL", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "public, max-age=3600", rr.Header().Get("Cache-Control"))

	var resp historyResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "AAPL", resp.Symbol)
	require.Equal(t, "1mo", resp.Period)
	require.Len(t, resp.Bars, 1)
}

func TestRateLimits(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()
	newTestRouter(fakeService{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/ratelimits", nil))

	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]provider.RateLimitInfo
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, 3, resp["fake"].Remaining)
}

func TestRequestIDMiddleware(t *testing.T) {
	t.Parallel()

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// A fresh ID is minted when the client sends none.
	rr := httptest.NewRecorder()
	requestID(next).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, rr.Header().Get("X-Request-Id"))

	// A client-supplied ID is preserved.
	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "abc-123")
	requestID(next).ServeHTTP(rr, req)
	require.Equal(t, "abc-123", rr.Header().Get("X-Request-Id"))
}
