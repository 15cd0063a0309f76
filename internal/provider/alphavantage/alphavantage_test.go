package alphavantage_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"quotefeed/internal/clock"
	"quotefeed/internal/observability"
	"quotefeed/internal/provider"
	"quotefeed/internal/provider/alphavantage"
)

func TestMain(m *testing.M) {
	// Private registry so repeated provider construction cannot collide
	// with the default registerer.
	observability.SetMetrics(observability.NewMetrics(prometheus.NewRegistry()))
	os.Exit(m.Run())
}

func newProvider(t *testing.T, hc alphavantage.HTTPClient) *alphavantage.Provider {
	t.Helper()
	return alphavantage.New(alphavantage.Config{
		APIKey: "testkey",
		Budget: 100,
		Clock:  clock.NewFake(time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)),
	}, hc)
}

func jsonResponse(t *testing.T, v any) *http.Response {
	t.Helper()
	buffer := &bytes.Buffer{}
	require.NoError(t, json.NewEncoder(buffer).Encode(v))
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(buffer)}
}

func TestQuoteParsesGlobalQuote(t *testing.T) {
	t.Parallel()

	// Arrange: create a mock controller and HTTP client.
	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)

	// Assert: stub the Do method with a canned GLOBAL_QUOTE payload and
	// check the request while we are here.
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			q := req.URL.Query()
			require.Equal(t, "GLOBAL_QUOTE", q.Get("function"))
			require.Equal(t, "AAPL", q.Get("symbol"))
			require.Equal(t, "testkey", q.Get("apikey"))

			return jsonResponse(t, map[string]any{
				"Global Quote": map[string]string{
					"01. symbol":             "AAPL",
					"02. open":               "149.00",
					"03. high":               "151.20",
					"04. low":                "148.50",
					"05. price":              "150.00",
					"06. volume":             "43210000",
					"07. latest trading day": "2025-06-02",
					"08. previous close":     "148.50",
					"09. change":             "1.50",
					"10. change percent":     "1.01%",
				},
			}), nil
		}).
		Times(1)

	p := newProvider(t, httpClient)

	// Act: fetch a quote (lowercase symbol is normalized).
	got := p.Quote(context.Background(), "aapl")

	// Assert: every field normalized from the stringly payload.
	require.NotNil(t, got)
	require.Equal(t, "AAPL", got.Symbol)
	require.InDelta(t, 150.00, got.Price, 1e-9)
	require.InDelta(t, 1.50, got.Change, 1e-9)
	require.InDelta(t, 1.01, got.ChangePercent, 1e-9)
	require.Equal(t, int64(43210000), got.Volume)
	require.InDelta(t, 151.20, got.High, 1e-9)
	require.InDelta(t, 148.50, got.Low, 1e-9)
	require.InDelta(t, 149.00, got.Open, 1e-9)
	require.InDelta(t, 148.50, got.PreviousClose, 1e-9)
	require.Equal(t, "2025-06-02", got.LastUpdate)
	require.Equal(t, "Alpha Vantage", got.Source)
	require.True(t, got.IsRealData)
}

func TestQuoteNegativeChange(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(*http.Request) (*http.Response, error) {
			return jsonResponse(t, map[string]any{
				"Global Quote": map[string]string{
					"01. symbol":             "MSFT",
					"02. open":               "412.00",
					"03. high":               "413.10",
					"04. low":                "405.80",
					"05. price":              "406.30",
					"06. volume":             "18000000",
					"07. latest trading day": "2025-06-02",
					"08. previous close":     "411.00",
					"09. change":             "-4.70",
					"10. change percent":     "-1.1436%",
				},
			}), nil
		}).
		Times(1)

	p := newProvider(t, httpClient)
	got := p.Quote(context.Background(), "MSFT")

	require.NotNil(t, got)
	require.InDelta(t, -4.70, got.Change, 1e-9)
	require.InDelta(t, -1.14, got.ChangePercent, 1e-9)
}

func TestQuoteNoteExhaustsBudget(t *testing.T) {
	t.Parallel()

	// Arrange: the API reports throttling as a 200 with a "Note".
	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(*http.Request) (*http.Response, error) {
			return jsonResponse(t, map[string]any{
				"Note": "Thank you for using Alpha Vantage! Our standard API rate limit is 25 requests per day.",
			}), nil
		}).
		Times(1)

	p := newProvider(t, httpClient)

	// Act
	got := p.Quote(context.Background(), "AAPL")

	// Assert: the failure collapses to nil and the provider reports
	// unavailable until its window resets.
	require.Nil(t, got)
	require.False(t, p.Available())
	require.Equal(t, 0, p.RateLimit().Remaining)
	require.NotNil(t, p.RateLimit().ResetAt)
}

func TestQuoteInformationExhaustsBudget(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(*http.Request) (*http.Response, error) {
			return jsonResponse(t, map[string]any{
				"Information": "premium endpoint",
			}), nil
		}).
		Times(1)

	p := newProvider(t, httpClient)
	require.Nil(t, p.Quote(context.Background(), "AAPL"))
	require.False(t, p.Available())
}

func TestQuoteProviderErrorMessage(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(*http.Request) (*http.Response, error) {
			return jsonResponse(t, map[string]any{
				"Error Message": "Invalid API call.",
			}), nil
		}).
		Times(1)

	p := newProvider(t, httpClient)

	// An explicit provider error does not burn the budget.
	require.Nil(t, p.Quote(context.Background(), "NOPE"))
	require.True(t, p.Available())
}

func TestQuoteMalformedBody(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(*http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(bytes.NewBufferString("<html>upstream error</html>")),
			}, nil
		}).
		Times(1)

	p := newProvider(t, httpClient)
	require.Nil(t, p.Quote(context.Background(), "AAPL"))
}

func TestQuoteMissingAPIKeyNeverCallsUpstream(t *testing.T) {
	t.Parallel()

	// No EXPECT: any Do call fails the test.
	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)

	p := alphavantage.New(alphavantage.Config{
		Clock: clock.NewFake(time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)),
	}, httpClient)

	require.False(t, p.Available())
	require.Nil(t, p.Quote(context.Background(), "AAPL"))
}

func TestHistoricalDailyTruncatedDescending(t *testing.T) {
	t.Parallel()

	// Arrange: 90 daily entries; only the most recent 30 should come
	// back, newest first.
	series := make(map[string]map[string]string, 90)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 90; i++ {
		d := base.AddDate(0, 0, i).Format("2006-01-02")
		series[d] = map[string]string{
			"1. open":   "100.00",
			"2. high":   "101.00",
			"3. low":    "99.00",
			"4. close":  fmt.Sprintf("%.2f", 100.0+float64(i)*0.1),
			"5. volume": "1000",
		}
	}

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			require.Equal(t, "TIME_SERIES_DAILY", req.URL.Query().Get("function"))
			return jsonResponse(t, map[string]any{"Time Series (Daily)": series}), nil
		}).
		Times(1)

	p := newProvider(t, httpClient)

	// Act
	bars := p.Historical(context.Background(), "AAPL", "1mo")

	// Assert
	require.Len(t, bars, provider.MaxHistoricalBars)
	require.Equal(t, base.AddDate(0, 0, 89).Format("2006-01-02"), bars[0].Date)
	for i := 1; i < len(bars); i++ {
		require.Greater(t, bars[i-1].Date, bars[i].Date)
	}
}

func TestHistoricalIntradayUsesFiveMinuteSeries(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			q := req.URL.Query()
			require.Equal(t, "TIME_SERIES_INTRADAY", q.Get("function"))
			require.Equal(t, "5min", q.Get("interval"))
			return jsonResponse(t, map[string]any{
				"Time Series (5min)": map[string]map[string]string{
					"2025-06-02 15:55:00": {
						"1. open": "150.00", "2. high": "150.30",
						"3. low": "149.80", "4. close": "150.10", "5. volume": "120000",
					},
					"2025-06-02 16:00:00": {
						"1. open": "150.10", "2. high": "150.50",
						"3. low": "150.00", "4. close": "150.40", "5. volume": "98000",
					},
				},
			}), nil
		}).
		Times(1)

	p := newProvider(t, httpClient)
	bars := p.Historical(context.Background(), "AAPL", "1d")

	require.Len(t, bars, 2)
	require.Equal(t, "2025-06-02 16:00:00", bars[0].Date)
	require.InDelta(t, 150.40, bars[0].Close, 1e-9)
}

func TestBatchQuotesOmitsFailures(t *testing.T) {
	t.Parallel()

	// Arrange: one request per symbol, strictly sequential; the middle
	// symbol fails.
	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			sym := req.URL.Query().Get("symbol")
			if sym == "BAD" {
				return jsonResponse(t, map[string]any{"Error Message": "Invalid API call."}), nil
			}
			return jsonResponse(t, map[string]any{
				"Global Quote": map[string]string{
					"01. symbol":             sym,
					"02. open":               "10.00",
					"03. high":               "11.00",
					"04. low":                "9.00",
					"05. price":              "10.50",
					"06. volume":             "500",
					"07. latest trading day": "2025-06-02",
					"08. previous close":     "10.00",
					"09. change":             "0.50",
					"10. change percent":     "5.00%",
				},
			}), nil
		}).
		Times(3)

	p := newProvider(t, httpClient)

	// Act
	out := p.BatchQuotes(context.Background(), []string{"AAPL", "BAD", "MSFT"})

	// Assert: failed symbol absent, not an error for the batch.
	require.Len(t, out, 2)
	require.Contains(t, out, "AAPL")
	require.Contains(t, out, "MSFT")
	require.NotContains(t, out, "BAD")
}
