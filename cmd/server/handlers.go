package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"quotefeed/internal/observability"
	"quotefeed/internal/provider"
)

// service is the slice of the aggregator the handlers need.
type service interface {
	provider.Provider
	RateLimits() map[string]provider.RateLimitInfo
}

type handlers struct {
	svc           service
	quoteMaxAge   int
	historyMaxAge int
	timeout       time.Duration
}

type errorResponse struct {
	Error string `json:"error"`
}

type batchResponse struct {
	Quotes map[string]provider.QuoteData `json:"quotes"`
}

type historyResponse struct {
	Symbol string                   `json:"symbol"`
	Period string                   `json:"period"`
	Bars   []provider.HistoricalBar `json:"bars"`
}

func (h *handlers) ctx(r *http.Request) (context.Context, context.CancelFunc) {
	timeout := h.timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return context.WithTimeout(r.Context(), timeout)
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *handlers) quote(w http.ResponseWriter, r *http.Request) {
	symbol := provider.NormalizeSymbol(chi.URLParam(r, "symbol"))
	if symbol == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing symbol"})
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	q := h.svc.Quote(ctx, symbol)
	if q == nil {
		// Every provider failing is a normal outcome for this layer.
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "data unavailable"})
		return
	}
	setCacheControl(w, h.quoteMaxAge)
	writeJSON(w, http.StatusOK, q)
}

func (h *handlers) batchQuotes(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("symbols")
	symbols := splitCSV(raw)
	if len(symbols) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing symbols query param"})
		return
	}
	if len(symbols) > 100 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "too many symbols (max 100)"})
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	quotes := h.svc.BatchQuotes(ctx, symbols)
	setCacheControl(w, h.quoteMaxAge)
	writeJSON(w, http.StatusOK, batchResponse{Quotes: quotes})
}

func (h *handlers) history(w http.ResponseWriter, r *http.Request) {
	symbol := provider.NormalizeSymbol(chi.URLParam(r, "symbol"))
	if symbol == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing symbol"})
		return
	}
	period := r.URL.Query().Get("period")
	if period == "" {
		period = "1mo"
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	bars := h.svc.Historical(ctx, symbol, period)
	setCacheControl(w, h.historyMaxAge)
	writeJSON(w, http.StatusOK, historyResponse{Symbol: symbol, Period: period, Bars: bars})
}

func (h *handlers) rateLimits(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.RateLimits())
}

func setCacheControl(w http.ResponseWriter, maxAgeSec int) {
	if maxAgeSec > 0 {
		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", maxAgeSec))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// requestID tags every request with a UUID for log correlation.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

// metricsMiddleware records request counts and latency.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		observability.GetMetrics().RecordHTTPRequest(
			r.Method, r.URL.Path, strconv.Itoa(sw.status), time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
