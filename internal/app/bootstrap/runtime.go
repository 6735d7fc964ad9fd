package bootstrap

import (
	"context"
	"crypto/tls"
	"strings"

	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/clinic-console/internal/config"
	"github.com/wolfman30/clinic-console/internal/views"
	"github.com/wolfman30/clinic-console/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available; view state will not survive restarts", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildStateStore persists view state in Redis when a client is available and
// in process memory otherwise.
func BuildStateStore(redisClient *redis.Client, cfg *appconfig.Config, logger *logging.Logger) views.StateStore {
	if redisClient == nil {
		if logger != nil {
			logger.Info("view state kept in memory")
		}
		return views.NewMemoryStateStore()
	}
	return views.NewRedisStateStore(redisClient, cfg.ViewStateTTL)
}

// ReadyCheck pings Redis for the health endpoint. Nil when Redis is disabled.
func ReadyCheck(redisClient *redis.Client) func(context.Context) error {
	if redisClient == nil {
		return nil
	}
	return func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	}
}
