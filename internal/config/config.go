// Package config loads engine configuration from environment variables.
// Every tunable has a default so the engine starts with nothing but
// DATABASE_URL (and even that falls back to the in-memory store).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all runtime tunables for the option engine.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string

	// Upstream feed.
	FeedURL           string
	FeedRESTURL       string
	HeartbeatInterval time.Duration
	ReconnectBase     time.Duration
	MaxReconnects     int

	// Fallback REST price fetch, distinct from the ws reconnect policy.
	FetchTimeout time.Duration
	FetchRetries int

	// Price manipulation.
	BiasThreshold  decimal.Decimal // exposure ratio above which the bias kicks in
	DownMultiplier decimal.Decimal // applied when up-side exposure dominates
	UpMultiplier   decimal.Decimal // applied when down-side exposure dominates

	// Settlement.
	PayoutRatio             decimal.Decimal
	SettleRetryDelay        time.Duration
	SettleMaxRetries        int
	SettleWithEntryExposure bool // settle against entry-time exposure instead of a fresh recompute

	// Live publishing cadence, decoupled from raw feed tick rate.
	PublishInterval time.Duration
}

// Load reads configuration from the environment, applying defaults for
// anything unset. It returns an error on unparseable values rather than
// silently falling back.
func Load() (*Config, error) {
	cfg := &Config{
		Port:              "8080",
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		FeedURL:           "wss://stream.binance.com:9443/ws",
		FeedRESTURL:       "https://api.binance.com/api/v3/ticker/price",
		HeartbeatInterval: 30 * time.Second,
		ReconnectBase:     5 * time.Second,
		MaxReconnects:     5,
		FetchTimeout:      5 * time.Second,
		FetchRetries:      3,
		BiasThreshold:     decimal.NewFromFloat(0.6),
		DownMultiplier:    decimal.NewFromFloat(0.998),
		UpMultiplier:      decimal.NewFromFloat(1.002),
		PayoutRatio:       decimal.NewFromFloat(0.8),
		SettleRetryDelay:  2 * time.Second,
		SettleMaxRetries:  5,
		PublishInterval:   time.Second,
	}

	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("FEED_URL"); v != "" {
		cfg.FeedURL = v
	}
	if v := os.Getenv("FEED_REST_URL"); v != "" {
		cfg.FeedRESTURL = v
	}

	var err error
	if cfg.HeartbeatInterval, err = durationEnv("FEED_HEARTBEAT_INTERVAL", cfg.HeartbeatInterval); err != nil {
		return nil, err
	}
	if cfg.ReconnectBase, err = durationEnv("FEED_RECONNECT_BASE", cfg.ReconnectBase); err != nil {
		return nil, err
	}
	if cfg.MaxReconnects, err = intEnv("FEED_MAX_RECONNECTS", cfg.MaxReconnects); err != nil {
		return nil, err
	}
	if cfg.FetchTimeout, err = durationEnv("PRICE_FETCH_TIMEOUT", cfg.FetchTimeout); err != nil {
		return nil, err
	}
	if cfg.FetchRetries, err = intEnv("PRICE_FETCH_RETRIES", cfg.FetchRetries); err != nil {
		return nil, err
	}
	if cfg.BiasThreshold, err = decimalEnv("BIAS_THRESHOLD", cfg.BiasThreshold); err != nil {
		return nil, err
	}
	if cfg.DownMultiplier, err = decimalEnv("BIAS_DOWN_MULTIPLIER", cfg.DownMultiplier); err != nil {
		return nil, err
	}
	if cfg.UpMultiplier, err = decimalEnv("BIAS_UP_MULTIPLIER", cfg.UpMultiplier); err != nil {
		return nil, err
	}
	if cfg.PayoutRatio, err = decimalEnv("PAYOUT_RATIO", cfg.PayoutRatio); err != nil {
		return nil, err
	}
	if cfg.SettleRetryDelay, err = durationEnv("SETTLE_RETRY_DELAY", cfg.SettleRetryDelay); err != nil {
		return nil, err
	}
	if cfg.SettleMaxRetries, err = intEnv("SETTLE_MAX_RETRIES", cfg.SettleMaxRetries); err != nil {
		return nil, err
	}
	if cfg.PublishInterval, err = durationEnv("PUBLISH_INTERVAL", cfg.PublishInterval); err != nil {
		return nil, err
	}
	if v := os.Getenv("SETTLE_WITH_ENTRY_EXPOSURE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("parse SETTLE_WITH_ENTRY_EXPOSURE: %w", err)
		}
		cfg.SettleWithEntryExposure = b
	}

	return cfg, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return i, nil
}

func decimalEnv(key string, def decimal.Decimal) (decimal.Decimal, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
