package config

import (
	"os"
	"time"
)

// Server captures process-level configuration.
//
// The upstream API key and the capability signing secret are deliberately
// allowed to be empty here: a missing signing secret must fail token issuance
// at request time (fail closed), not crash the whole gateway at boot, and the
// handlers surface it as a configuration error.
type Server struct {
	Addr        string
	Environment string

	// Upstream image host.
	UpstreamBaseURL string
	UpstreamAPIKey  string
	UploadTimeout   time.Duration
	BulkTimeout     time.Duration

	// HMAC secret for direct-to-upstream capability tokens. Shared with the
	// upstream worker, which verifies signatures within its skew window.
	SigningSecret string

	// Key used to verify session tokens minted by the web front end.
	// Empty means every caller is treated as anonymous.
	SessionVerifyKey string

	Redis RedisConfig

	// Sweep interval for the in-memory rate limit store.
	CleanupInterval time.Duration
}

// RedisConfig holds connection settings for the optional shared bucket store.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	cfg := Server{
		Addr:             getEnv("PIXGATE_ADDR", ":8080"),
		Environment:      getEnv("PIXGATE_ENV", "development"),
		UpstreamBaseURL:  getEnv("IMAGE_HOST_URL", "https://i.api.dishis.tech"),
		UpstreamAPIKey:   os.Getenv("IMAGE_HOST_API_KEY"),
		SigningSecret:    os.Getenv("DELETE_SECRET"),
		SessionVerifyKey: os.Getenv("SESSION_VERIFY_KEY"),
		UploadTimeout:    getDuration("UPLOAD_TIMEOUT", 30*time.Second),
		BulkTimeout:      getDuration("BULK_TIMEOUT", 60*time.Second),
		CleanupInterval:  getDuration("RATELIMIT_CLEANUP_INTERVAL", 5*time.Minute),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
