package provider

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"
)

// QuoteData is the normalized snapshot every provider's raw response is
// converted into. LastUpdate is a calendar date (YYYY-MM-DD).
type QuoteData struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
	Volume        int64   `json:"volume"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Open          float64 `json:"open"`
	PreviousClose float64 `json:"previous_close"`
	LastUpdate    string  `json:"last_update"`
	Source        string  `json:"source"`
	IsRealData    bool    `json:"is_real_data"`
}

// HistoricalBar is one entry of a daily or intraday series.
type HistoricalBar struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// MaxHistoricalBars caps every historical series to the most recent entries.
const MaxHistoricalBars = 30

// RateLimitInfo is a read-only snapshot of a provider's rate budget.
// ResetAt is nil while the current window has budget left.
type RateLimitInfo struct {
	Remaining int        `json:"remaining"`
	ResetAt   *time.Time `json:"reset_at,omitempty"`
}

// Provider is the uniform contract over all market data sources.
//
// Fetch operations never return errors: every failure (transport,
// malformed payload, in-band throttle notice) is logged internally and
// collapsed to nil, a missing map entry, or an empty slice. Callers
// treat "no data" uniformly regardless of cause.
type Provider interface {
	Name() string
	Available() bool
	Quote(ctx context.Context, symbol string) *QuoteData
	BatchQuotes(ctx context.Context, symbols []string) map[string]QuoteData
	Historical(ctx context.Context, symbol, period string) []HistoricalBar
	RateLimit() RateLimitInfo
}

// NormalizeSymbol canonicalizes a ticker for lookups and output.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// ParsePercent parses a numeric percent that may carry a trailing '%',
// e.g. "1.23%" -> 1.23.
func ParsePercent(s string) (float64, error) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	return strconv.ParseFloat(s, 64)
}

// Round2 rounds to two decimal places for display-oriented providers.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
