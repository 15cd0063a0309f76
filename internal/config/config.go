package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

type Server struct {
	Port              string `json:"port"`
	RequestTimeoutSec int    `json:"request_timeout_sec"`
	Production        bool   `json:"production"`
}

type AlphaVantage struct {
	Enabled           bool   `json:"enabled"`
	APIKey            string `json:"api_key"`
	BaseURL           string `json:"base_url"`
	Budget            int    `json:"budget"`
	ResetWindowSec    int    `json:"reset_window_sec"`
	MinIntervalMillis int    `json:"min_interval_ms"`
	TimeoutSec        int    `json:"timeout_sec"`
}

type Yahoo struct {
	Enabled           bool   `json:"enabled"`
	BaseURL           string `json:"base_url"`
	UserAgent         string `json:"user_agent"`
	Budget            int    `json:"budget"`
	ResetWindowSec    int    `json:"reset_window_sec"`
	MinIntervalMillis int    `json:"min_interval_ms"`
	ChunkSize         int    `json:"chunk_size"`
	ChunkDelayMillis  int    `json:"chunk_delay_ms"`
	TimeoutSec        int    `json:"timeout_sec"`
}

type Cache struct {
	QuoteTTLSec   int `json:"quote_ttl_sec"`
	HistoryTTLSec int `json:"history_ttl_sec"`
	MaxItems      int `json:"max_items"`
}

type Breaker struct {
	Enabled bool `json:"enabled"`
}

type Config struct {
	Server       Server       `json:"server"`
	AlphaVantage AlphaVantage `json:"alphavantage"`
	Yahoo        Yahoo        `json:"yahoo"`
	Cache        Cache        `json:"cache"`
	Breaker      Breaker      `json:"breaker"`
}

func Default() Config {
	return Config{
		Server: Server{Port: "8080", RequestTimeoutSec: 20},
		AlphaVantage: AlphaVantage{
			Enabled:           true,
			BaseURL:           "https://www.alphavantage.co",
			Budget:            5,
			ResetWindowSec:    60,
			MinIntervalMillis: 12000,
			TimeoutSec:        15,
		},
		Yahoo: Yahoo{
			Enabled:           true,
			BaseURL:           "https://query1.finance.yahoo.com",
			Budget:            60,
			ResetWindowSec:    60,
			MinIntervalMillis: 500,
			ChunkSize:         5,
			ChunkDelayMillis:  1000,
			TimeoutSec:        10,
		},
		Cache: Cache{
			QuoteTTLSec:   120,
			HistoryTTLSec: 3600,
			MaxItems:      10000,
		},
		Breaker: Breaker{Enabled: true},
	}
}

// Load reads JSON config from path. If path is empty or the file does
// not exist, it returns defaults. Environment variables override
// select fields for secrecy.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		if _, err := os.Stat("config.json"); err == nil {
			path = "config.json"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := json.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := envInt("REQUEST_TIMEOUT_SEC"); v > 0 {
		cfg.Server.RequestTimeoutSec = v
	}
	if v := os.Getenv("PRODUCTION"); v != "" {
		cfg.Server.Production = envBool(v)
	}

	if v := os.Getenv("ALPHAVANTAGE_ENABLED"); v != "" {
		cfg.AlphaVantage.Enabled = envBool(v)
	}
	if v := os.Getenv("ALPHAVANTAGE_API_KEY"); v != "" {
		cfg.AlphaVantage.APIKey = v
	}
	if v := os.Getenv("ALPHAVANTAGE_BASE_URL"); v != "" {
		cfg.AlphaVantage.BaseURL = v
	}
	if v := envInt("ALPHAVANTAGE_BUDGET"); v > 0 {
		cfg.AlphaVantage.Budget = v
	}
	if v := envInt("ALPHAVANTAGE_RESET_WINDOW_SEC"); v > 0 {
		cfg.AlphaVantage.ResetWindowSec = v
	}
	if v := envInt("ALPHAVANTAGE_MIN_INTERVAL_MS"); v >= 0 && os.Getenv("ALPHAVANTAGE_MIN_INTERVAL_MS") != "" {
		cfg.AlphaVantage.MinIntervalMillis = v
	}
	if v := envInt("ALPHAVANTAGE_TIMEOUT_SEC"); v > 0 {
		cfg.AlphaVantage.TimeoutSec = v
	}

	if v := os.Getenv("YAHOO_ENABLED"); v != "" {
		cfg.Yahoo.Enabled = envBool(v)
	}
	if v := os.Getenv("YAHOO_BASE_URL"); v != "" {
		cfg.Yahoo.BaseURL = v
	}
	if v := os.Getenv("YAHOO_USER_AGENT"); v != "" {
		cfg.Yahoo.UserAgent = v
	}
	if v := envInt("YAHOO_BUDGET"); v > 0 {
		cfg.Yahoo.Budget = v
	}
	if v := envInt("YAHOO_RESET_WINDOW_SEC"); v > 0 {
		cfg.Yahoo.ResetWindowSec = v
	}
	if v := envInt("YAHOO_MIN_INTERVAL_MS"); v >= 0 && os.Getenv("YAHOO_MIN_INTERVAL_MS") != "" {
		cfg.Yahoo.MinIntervalMillis = v
	}
	if v := envInt("YAHOO_CHUNK_SIZE"); v > 0 {
		cfg.Yahoo.ChunkSize = v
	}
	if v := envInt("YAHOO_CHUNK_DELAY_MS"); v > 0 {
		cfg.Yahoo.ChunkDelayMillis = v
	}
	if v := envInt("YAHOO_TIMEOUT_SEC"); v > 0 {
		cfg.Yahoo.TimeoutSec = v
	}

	if v := envInt("CACHE_QUOTE_TTL_SEC"); v >= 0 && os.Getenv("CACHE_QUOTE_TTL_SEC") != "" {
		cfg.Cache.QuoteTTLSec = v
	}
	if v := envInt("CACHE_HISTORY_TTL_SEC"); v >= 0 && os.Getenv("CACHE_HISTORY_TTL_SEC") != "" {
		cfg.Cache.HistoryTTLSec = v
	}
	if v := envInt("CACHE_MAX_ITEMS"); v > 0 {
		cfg.Cache.MaxItems = v
	}
	if v := os.Getenv("BREAKER_ENABLED"); v != "" {
		cfg.Breaker.Enabled = envBool(v)
	}
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	var x int
	_, _ = fmt.Sscanf(v, "%d", &x)
	return x
}

func envBool(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y":
		return true
	default:
		return false
	}
}
