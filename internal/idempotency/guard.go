package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	obsmetrics "github.com/lumichat/lumichat/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ErrProcessing means another process holds the pending lock for this
// key. The caller should retry after a short delay.
var ErrProcessing = errors.New("request_in_progress")

type call struct {
	done   chan struct{}
	result []byte
	err    error
}

// Guard deduplicates operations by key. Concurrent calls in the same
// process share one execution; across processes the store's pending
// lock serializes them. Successful results are cached for the TTL,
// failures are not, so a failed operation can be retried immediately.
type Guard struct {
	store   Store
	log     *zap.Logger
	metrics *obsmetrics.Metrics

	mu    sync.Mutex
	calls map[string]*call
}

type Params struct {
	fx.In

	Store   Store
	Log     *zap.Logger
	Metrics *obsmetrics.Metrics `optional:"true"`
}

func NewGuard(p Params) *Guard {
	return &Guard{
		store:   p.Store,
		log:     p.Log.Named("idempotency"),
		metrics: p.Metrics,
		calls:   make(map[string]*call),
	}
}

// Run executes op at most once per key within ttl. A duplicate call
// returns the cached result decoded into T.
func Run[T any](ctx context.Context, g *Guard, key string, ttl time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	g.mu.Lock()
	if c, ok := g.calls[key]; ok {
		g.mu.Unlock()
		select {
		case <-c.done:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
		if c.err != nil {
			return zero, c.err
		}
		g.count("deduplicated")
		return decode[T](c.result)
	}

	c := &call{done: make(chan struct{})}
	g.calls[key] = c
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.calls, key)
		g.mu.Unlock()
		close(c.done)
	}()

	if cached, ok, err := g.store.Get(ctx, key); err != nil {
		c.err = err
		return zero, err
	} else if ok {
		c.result = cached
		g.count("deduplicated")
		return decode[T](cached)
	}

	acquired, err := g.store.Begin(ctx, key, ttl)
	if err != nil {
		c.err = err
		return zero, err
	}
	if !acquired {
		c.err = ErrProcessing
		g.count("processing")
		return zero, ErrProcessing
	}

	value, err := op(ctx)
	if err != nil {
		c.err = err
		if failErr := g.store.Fail(ctx, key); failErr != nil {
			g.log.Warn("failed to release pending key", zap.String("key", key), zap.Error(failErr))
		}
		return zero, err
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		c.err = err
		if failErr := g.store.Fail(ctx, key); failErr != nil {
			g.log.Warn("failed to release pending key", zap.String("key", key), zap.Error(failErr))
		}
		return zero, err
	}
	if err := g.store.Complete(ctx, key, encoded, ttl); err != nil {
		// The operation already succeeded; losing the cache entry only
		// weakens dedup, so the result is still returned.
		g.log.Warn("failed to cache result", zap.String("key", key), zap.Error(err))
	}

	c.result = encoded
	g.count("executed")
	return value, nil
}

func (g *Guard) count(outcome string) {
	if g.metrics != nil {
		g.metrics.IdempotencyCalls.WithLabelValues(outcome).Inc()
	}
}

func decode[T any](data []byte) (T, error) {
	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		return value, err
	}
	return value, nil
}
