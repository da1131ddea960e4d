package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "idem:"
	pendingSuffix  = ":pending"
)

type redisStore struct {
	client *redis.Client
}

// NewRedisStore shares dedup state across processes. The pending lock
// is a SETNX key with the operation's TTL, so a crashed worker cannot
// wedge a key forever.
func NewRedisStore(client *redis.Client) Store {
	return &redisStore{client: client}
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *redisStore) Begin(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, redisKeyPrefix+key+pendingSuffix, 1, ttl).Result()
}

func (s *redisStore) Complete(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, redisKeyPrefix+key, value, ttl)
	pipe.Del(ctx, redisKeyPrefix+key+pendingSuffix)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *redisStore) Fail(ctx context.Context, key string) error {
	return s.client.Del(ctx, redisKeyPrefix+key+pendingSuffix).Err()
}
