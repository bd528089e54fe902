package config

import (
	"log"
	"os"
	"strings"
)

// Aggregator holds the candle aggregator's configuration, loaded from
// environment variables.
type Aggregator struct {
	Timeframes  string // comma-separated timeframe tags, e.g. "1m,5m,1h"
	MetricsAddr string
	LogLevel    string
}

// Coordinator holds a symbol coordinator's configuration.
type Coordinator struct {
	Symbol     string
	ConfigRoot string // directory containing pipelines/<symbol>/*.yaml

	// Warm start and caching are optional; empty values disable them.
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string

	MetricsAddr string
	LogLevel    string
}

// LoadAggregator reads aggregator configuration with sensible defaults.
func LoadAggregator() *Aggregator {
	return &Aggregator{
		Timeframes:  getEnv("TIMEFRAMES", "1m,5m,15m,1h,4h,1d"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9091"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
	}
}

// LoadCoordinator reads coordinator configuration. SYMBOL is required.
func LoadCoordinator() *Coordinator {
	return &Coordinator{
		Symbol:        mustEnv("SYMBOL"),
		ConfigRoot:    getEnv("PIPELINE_CONFIG_ROOT", "config"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9092"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
	}
}

// ParseTimeframes splits the Timeframes value into tags, dropping blanks.
func (c *Aggregator) ParseTimeframes() []string {
	parts := strings.Split(c.Timeframes, ",")
	tfs := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		tfs = append(tfs, p)
	}
	return tfs
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
