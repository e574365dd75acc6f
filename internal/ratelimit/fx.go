package ratelimit

import (
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/payflow/internal/config"
	"github.com/smallbiznis/payflow/internal/resolver"
	"go.uber.org/fx"
)

var Module = fx.Module("rate.limit",
	fx.Provide(
		NewRedisClient,
		NewWebhookLimiter,
		provideLocker,
	),
)

// NewRedisClient builds the shared redis client, or nil when no address is
// configured. Consumers treat a nil client as "feature disabled".
func NewRedisClient(cfg config.Config) *redis.Client {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})
}

func provideLocker(client *redis.Client) resolver.Locker {
	locker := NewLocker(client)
	if locker == nil {
		return nil
	}
	return locker
}
