package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Tier2Backend selects the warm-tier implementation.
const (
	Tier2BackendRedis = "redis"
	Tier2BackendFile  = "file"
)

// Config holds all configuration values from environment.
type Config struct {
	AppPort string

	RedisHost string
	RedisPort string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioSSL       bool

	Tier2Backend string
	FileCacheDir string

	MemoryCacheMaxBytes int64
	FileCacheMaxBytes   int64

	BaseTTL              time.Duration
	HealthCheckInterval  time.Duration
	QuotaRefreshInterval time.Duration
	AutoCleanup          bool
	CleanupFraction      float64
	SingleFlight         bool

	// Resilience settings
	BreakerFailureThreshold int
	BreakerSuccessThreshold int
	BreakerRecoveryTimeout  time.Duration
	RetryMax                int
	RetryBaseDelay          time.Duration
	FetchTimeout            time.Duration
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppPort: os.Getenv("APP_PORT"),

		RedisHost: getEnv("REDIS_HOST", "localhost"),
		RedisPort: getEnv("REDIS_PORT", "6379"),

		MinioEndpoint:  os.Getenv("MINIO_ENDPOINT"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("MINIO_BUCKET", "cache-tier3"),
		MinioSSL:       getEnvBool("MINIO_SSL", false),

		Tier2Backend: getEnv("TIER2_BACKEND", Tier2BackendRedis),
		FileCacheDir: getEnv("FILE_CACHE_DIR", "/tmp/cache-service"),

		MemoryCacheMaxBytes: getEnvInt64("MEMORY_CACHE_MAX_BYTES", 256<<20),
		FileCacheMaxBytes:   getEnvInt64("FILE_CACHE_MAX_BYTES", 2<<30),

		BaseTTL:              getEnvDuration("CACHE_BASE_TTL", time.Hour),
		HealthCheckInterval:  getEnvDuration("HEALTH_CHECK_INTERVAL", time.Minute),
		QuotaRefreshInterval: getEnvDuration("QUOTA_REFRESH_INTERVAL", 15*time.Minute),
		AutoCleanup:          getEnvBool("AUTO_CLEANUP", true),
		CleanupFraction:      getEnvFloat("CLEANUP_FRACTION", 0.25),
		SingleFlight:         getEnvBool("SINGLE_FLIGHT", false),

		BreakerFailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerSuccessThreshold: getEnvInt("BREAKER_SUCCESS_THRESHOLD", 2),
		BreakerRecoveryTimeout:  getEnvDuration("BREAKER_RECOVERY_TIMEOUT", 30*time.Second),
		RetryMax:                getEnvInt("RETRY_MAX", 3),
		RetryBaseDelay:          getEnvDuration("RETRY_BASE_DELAY", 250*time.Millisecond),
		FetchTimeout:            getEnvDuration("FETCH_TIMEOUT", 10*time.Second),
	}

	if cfg.Tier2Backend != Tier2BackendRedis && cfg.Tier2Backend != Tier2BackendFile {
		return nil, fmt.Errorf("invalid TIER2_BACKEND %q: must be %q or %q",
			cfg.Tier2Backend, Tier2BackendRedis, Tier2BackendFile)
	}
	if cfg.MinioEndpoint == "" || cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" {
		return nil, fmt.Errorf("minio configuration is incomplete")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return fallback
}
