package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"quotefeed/internal/aggregate"
	"quotefeed/internal/config"
	"quotefeed/internal/httpx"
	"quotefeed/internal/observability"
	"quotefeed/internal/provider"
	"quotefeed/internal/provider/alphavantage"
	"quotefeed/internal/provider/yahoo"
)

// fetch is a one-shot CLI for poking the provider stack without running
// the server: fetch -symbols AAPL,MSFT -period 1mo
func main() {
	var symbolsCSV string
	var period string
	var history bool
	var timeout int
	var configPath string

	flag.StringVar(&symbolsCSV, "symbols", getenv("SYMBOLS", "AAPL"), "comma-separated ticker symbols")
	flag.StringVar(&period, "period", getenv("PERIOD", "1mo"), "historical period (1d, 1mo, ...)")
	flag.BoolVar(&history, "history", false, "fetch historical bars instead of quotes")
	flag.IntVar(&timeout, "timeout", getenvInt("REQUEST_TIMEOUT_SEC", 60), "overall timeout seconds")
	flag.StringVar(&configPath, "config", getenv("CONFIG_FILE", ""), "path to config.json (optional)")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	observability.InitLogger(false)
	observability.InitMetrics()

	agg := buildStack(cfg)

	symbols := splitCSV(symbolsCSV)
	if len(symbols) == 0 {
		log.Fatal("no symbols provided")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()

	if history {
		out := make(map[string][]provider.HistoricalBar, len(symbols))
		for _, s := range symbols {
			out[provider.NormalizeSymbol(s)] = agg.Historical(ctx, s, period)
		}
		printJSON(out)
		return
	}

	quotes := agg.BatchQuotes(ctx, symbols)
	if len(quotes) == 0 {
		log.Fatal("no quotes received")
	}
	printJSON(map[string]any{"quotes": quotes, "ratelimits": agg.RateLimits()})
}

// buildStack assembles the bare aggregator. The CLI skips the cache and
// breaker decorators: a one-shot process has nothing to cache and no
// failure history worth tracking.
func buildStack(cfg config.Config) *aggregate.Aggregator {
	var providers []provider.Provider
	if cfg.AlphaVantage.Enabled {
		hc := httpx.New(time.Duration(cfg.AlphaVantage.TimeoutSec) * time.Second)
		providers = append(providers, alphavantage.New(alphavantage.Config{
			APIKey:      cfg.AlphaVantage.APIKey,
			BaseURL:     cfg.AlphaVantage.BaseURL,
			Budget:      cfg.AlphaVantage.Budget,
			ResetWindow: time.Duration(cfg.AlphaVantage.ResetWindowSec) * time.Second,
			MinInterval: time.Duration(cfg.AlphaVantage.MinIntervalMillis) * time.Millisecond,
		}, hc.HTTP))
	}
	if cfg.Yahoo.Enabled {
		hc := httpx.New(time.Duration(cfg.Yahoo.TimeoutSec) * time.Second)
		providers = append(providers, yahoo.New(yahoo.Config{
			BaseURL:     cfg.Yahoo.BaseURL,
			UserAgent:   cfg.Yahoo.UserAgent,
			Budget:      cfg.Yahoo.Budget,
			ResetWindow: time.Duration(cfg.Yahoo.ResetWindowSec) * time.Second,
			MinInterval: time.Duration(cfg.Yahoo.MinIntervalMillis) * time.Millisecond,
			ChunkSize:   cfg.Yahoo.ChunkSize,
			ChunkDelay:  time.Duration(cfg.Yahoo.ChunkDelayMillis) * time.Millisecond,
		}, hc))
	}
	if len(providers) == 0 {
		log.Fatal("no providers enabled; set config.json or env overrides")
	}
	return aggregate.New(providers...)
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
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

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var x int
		_, _ = fmt.Sscanf(v, "%d", &x)
		if x != 0 {
			return x
		}
	}
	return def
}
