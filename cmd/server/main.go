package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"quotefeed/internal/aggregate"
	"quotefeed/internal/config"
	"quotefeed/internal/httpx"
	"quotefeed/internal/observability"
	"quotefeed/internal/provider"
	"quotefeed/internal/provider/alphavantage"
	"quotefeed/internal/provider/breaker"
	"quotefeed/internal/provider/cache"
	"quotefeed/internal/provider/yahoo"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		observability.Error("config load failed", "error", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.Server.Production)
	observability.InitMetrics()

	agg := buildAggregator(cfg)

	h := &handlers{
		svc:           agg,
		quoteMaxAge:   cfg.Cache.QuoteTTLSec,
		historyMaxAge: cfg.Cache.HistoryTTLSec,
		timeout:       time.Duration(cfg.Server.RequestTimeoutSec) * time.Second,
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimw.RealIP)
	r.Use(metricsMiddleware)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", h.health)
	r.Get("/api/quote/{symbol}", h.quote)
	r.Get("/api/quotes", h.batchQuotes)
	r.Get("/api/history/{symbol}", h.history)
	r.Get("/api/ratelimits", h.rateLimits)
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.RequestTimeoutSec+5) * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		observability.Info("server listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			observability.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// buildAggregator assembles the provider stack in priority order:
// Alpha Vantage first (most complete quote payload), Yahoo as
// fallback. Each provider is wrapped breaker-then-cache so cached
// reads never count against the breaker.
func buildAggregator(cfg config.Config) *aggregate.Aggregator {
	var providers []provider.Provider

	if cfg.AlphaVantage.Enabled {
		if cfg.AlphaVantage.APIKey == "" {
			observability.Warn("alphavantage enabled but ALPHAVANTAGE_API_KEY not set; provider will report unavailable")
		}
		hc := httpx.New(time.Duration(cfg.AlphaVantage.TimeoutSec) * time.Second)
		av := alphavantage.New(alphavantage.Config{
			APIKey:      cfg.AlphaVantage.APIKey,
			BaseURL:     cfg.AlphaVantage.BaseURL,
			Budget:      cfg.AlphaVantage.Budget,
			ResetWindow: time.Duration(cfg.AlphaVantage.ResetWindowSec) * time.Second,
			MinInterval: time.Duration(cfg.AlphaVantage.MinIntervalMillis) * time.Millisecond,
		}, hc.HTTP)
		providers = append(providers, wrap(av, cfg))
	}

	if cfg.Yahoo.Enabled {
		hc := httpx.New(time.Duration(cfg.Yahoo.TimeoutSec) * time.Second)
		y := yahoo.New(yahoo.Config{
			BaseURL:     cfg.Yahoo.BaseURL,
			UserAgent:   cfg.Yahoo.UserAgent,
			Budget:      cfg.Yahoo.Budget,
			ResetWindow: time.Duration(cfg.Yahoo.ResetWindowSec) * time.Second,
			MinInterval: time.Duration(cfg.Yahoo.MinIntervalMillis) * time.Millisecond,
			ChunkSize:   cfg.Yahoo.ChunkSize,
			ChunkDelay:  time.Duration(cfg.Yahoo.ChunkDelayMillis) * time.Millisecond,
		}, hc)
		providers = append(providers, wrap(y, cfg))
	}

	if len(providers) == 0 {
		observability.Warn("no providers enabled; every fetch will return empty")
	}
	return aggregate.New(providers...)
}

func wrap(p provider.Provider, cfg config.Config) provider.Provider {
	if cfg.Breaker.Enabled {
		p = breaker.New(p, breaker.DefaultConfig)
	}
	if cfg.Cache.QuoteTTLSec > 0 || cfg.Cache.HistoryTTLSec > 0 {
		p = &cache.Provider{
			P:          p,
			QuoteTTL:   time.Duration(cfg.Cache.QuoteTTLSec) * time.Second,
			HistoryTTL: time.Duration(cfg.Cache.HistoryTTLSec) * time.Second,
			MaxItems:   cfg.Cache.MaxItems,
		}
	}
	return p
}
