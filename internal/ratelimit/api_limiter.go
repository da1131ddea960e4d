package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/lumichat/lumichat/internal/config"
)

const (
	keyConsume = "quota:consume:%s"
	keyMedia   = "quota:media:%s"
)

// APILimiter throttles per-user request bursts in front of the quota
// ledger. Text consumption and media generation get separate buckets
// because media requests are far more expensive downstream.
type APILimiter struct {
	enabled bool

	bucket *TokenBucket

	consumeRate  float64
	consumeBurst int
	mediaRate    float64
	mediaBurst   int
}

func NewAPILimiter(cfg config.Config) (*APILimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.ConsumeRate <= 0 || limitCfg.ConsumeBurst <= 0 {
		return nil, errors.New("consume rate limit must be positive")
	}
	if limitCfg.MediaRate <= 0 || limitCfg.MediaBurst <= 0 {
		return nil, errors.New("media rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	return &APILimiter{
		enabled:      true,
		bucket:       NewTokenBucket(client),
		consumeRate:  limitCfg.ConsumeRate,
		consumeBurst: limitCfg.ConsumeBurst,
		mediaRate:    limitCfg.MediaRate,
		mediaBurst:   limitCfg.MediaBurst,
	}, nil
}

func (l *APILimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *APILimiter) AllowConsume(ctx context.Context, userID string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyConsume, strings.TrimSpace(userID)), l.consumeRate, l.consumeBurst)
}

func (l *APILimiter) AllowMedia(ctx context.Context, userID string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyMedia, strings.TrimSpace(userID)), l.mediaRate, l.mediaBurst)
}

// RetryAfterSeconds rounds up for the Retry-After response header.
func (r *Result) RetryAfterSeconds() int {
	if r == nil || r.RetryAfter <= 0 {
		return 1
	}
	secs := int((r.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
