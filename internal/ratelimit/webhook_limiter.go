package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/payflow/internal/config"
)

const keyWebhookOrg = "payflow:webhook:org:%s"

// WebhookLimiter throttles webhook ingress per tenant. Providers retry
// aggressively after incidents; the bucket smooths redelivery storms. A nil
// limiter allows everything.
type WebhookLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

// NewWebhookLimiter builds the limiter. Without a redis backend it returns
// nil and webhook ingress runs unthrottled.
func NewWebhookLimiter(cfg config.Config, client *redis.Client) *WebhookLimiter {
	if client == nil {
		return nil
	}
	rate := cfg.WebhookRateLimit
	burst := cfg.WebhookRateBurst
	if rate <= 0 || burst <= 0 {
		return nil
	}
	return &WebhookLimiter{
		bucket: NewTokenBucket(client),
		rate:   rate,
		burst:  burst,
	}
}

// Allow reports whether the tenant may ingest another webhook now.
func (l *WebhookLimiter) Allow(ctx context.Context, orgID string) (*RateLimitResult, error) {
	if l == nil || l.bucket == nil {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyWebhookOrg, strings.TrimSpace(orgID)), l.rate, l.burst)
}
