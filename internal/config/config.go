package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port                  string
	DatabaseURL           string
	SessionLookback       time.Duration
	SessionCandidateLimit int
	SessionSweepInterval  time.Duration
	SessionSweepBatchSize int
	DefaultPackSize       float64
	DefaultTareWeight     float64
	ProductionWIPLocation string
	RateLimitPerMinute    int
	RateLimitBurst        int
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:                  port,
		DatabaseURL:           os.Getenv("DB_DSN"),
		SessionLookback:       time.Duration(readInt("SESSION_LOOKBACK_HOURS", 12)) * time.Hour,
		SessionCandidateLimit: readInt("SESSION_CANDIDATE_LIMIT", 5),
		SessionSweepInterval:  readDurationSeconds("SESSION_SWEEP_INTERVAL_SECONDS", 300),
		SessionSweepBatchSize: readInt("SESSION_SWEEP_BATCH_SIZE", 100),
		DefaultPackSize:       readFloat("DEFAULT_PACK_SIZE", 50),
		DefaultTareWeight:     readFloat("DEFAULT_TARE_WEIGHT", 0.2),
		ProductionWIPLocation: readString("PRODUCTION_WIP_LOCATION", "PRODUCTION-WIP"),
		RateLimitPerMinute:    readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:        readInt("RATE_LIMIT_BURST", 30),
	}
}

func readString(key, fallback string) string {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	return raw
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return value
}
