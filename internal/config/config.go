package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// Clinic REST backend
	BackendBaseURL        string
	BackendAPIToken       string
	BackendAttemptTimeout time.Duration
	BackendMaxAttempts    int
	BackendRetryBaseDelay time.Duration

	// List view caching
	CacheStaleTime     time.Duration
	CacheRetainTime    time.Duration
	CacheSweepInterval time.Duration
	DefaultPageSize    int
	PrefetchNextPage   bool
	SessionTTL         time.Duration

	// View state persistence; an empty RedisAddr keeps state in memory.
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
	ViewStateTTL  time.Duration

	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		BackendBaseURL:        strings.TrimRight(getEnv("BACKEND_BASE_URL", ""), "/"),
		BackendAPIToken:       getEnv("BACKEND_API_TOKEN", ""),
		BackendAttemptTimeout: getEnvAsDuration("BACKEND_ATTEMPT_TIMEOUT", 5*time.Second),
		BackendMaxAttempts:    getEnvAsInt("BACKEND_MAX_ATTEMPTS", 3),
		BackendRetryBaseDelay: getEnvAsDuration("BACKEND_RETRY_BASE_DELAY", 200*time.Millisecond),

		CacheStaleTime:     getEnvAsDuration("CACHE_STALE_TIME", 5*time.Minute),
		CacheRetainTime:    getEnvAsDuration("CACHE_RETAIN_TIME", 30*time.Minute),
		CacheSweepInterval: getEnvAsDuration("CACHE_SWEEP_INTERVAL", time.Minute),
		DefaultPageSize:    getEnvAsInt("DEFAULT_PAGE_SIZE", 10),
		PrefetchNextPage:   getEnvAsBool("PREFETCH_NEXT_PAGE", true),
		SessionTTL:         getEnvAsDuration("VIEW_SESSION_TTL", 2*time.Hour),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),
		ViewStateTTL:  getEnvAsDuration("VIEW_STATE_TTL", 7*24*time.Hour),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
	}
}

// Validate reports settings the server cannot start with.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, is.Port),
		validation.Field(&c.BackendBaseURL, validation.Required, is.URL),
		validation.Field(&c.BackendMaxAttempts, validation.Min(1), validation.Max(10)),
		validation.Field(&c.BackendAttemptTimeout, validation.Min(100*time.Millisecond)),
		validation.Field(&c.DefaultPageSize, validation.Min(1), validation.Max(500)),
		validation.Field(&c.CacheStaleTime, validation.Min(time.Second)),
		validation.Field(&c.CacheRetainTime, validation.Min(c.CacheStaleTime)),
		validation.Field(&c.CacheSweepInterval, validation.Min(time.Second)),
	)
}

// IsProduction reports whether ENV names a production deployment.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production") || strings.EqualFold(c.Env, "prod")
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping empty items.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
