package idempotency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lumichat/lumichat/internal/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type reward struct {
	Granted int `json:"granted"`
}

func newTestGuard(clk clock.Clock) *Guard {
	return NewGuard(Params{
		Store: NewMemoryStore(clk),
		Log:   zap.NewNop(),
	})
}

func TestRunExecutesOnce(t *testing.T) {
	clk := clock.NewFakeClock(time.Now())
	g := newTestGuard(clk)
	ctx := context.Background()

	var executions int32
	op := func(ctx context.Context) (reward, error) {
		atomic.AddInt32(&executions, 1)
		return reward{Granted: 5}, nil
	}

	first, err := Run(ctx, g, "ad-1", time.Minute, op)
	require.NoError(t, err)
	require.Equal(t, 5, first.Granted)

	second, err := Run(ctx, g, "ad-1", time.Minute, op)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.EqualValues(t, 1, atomic.LoadInt32(&executions))
}

func TestRunConcurrentSharesOneExecution(t *testing.T) {
	clk := clock.NewFakeClock(time.Now())
	g := newTestGuard(clk)
	ctx := context.Background()

	var executions int32
	started := make(chan struct{})
	op := func(ctx context.Context) (reward, error) {
		atomic.AddInt32(&executions, 1)
		<-started
		return reward{Granted: 7}, nil
	}

	const callers = 16
	var wg sync.WaitGroup
	results := make(chan reward, callers)
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := Run(ctx, g, "ad-2", time.Minute, op)
			results <- r
			errs <- err
		}()
	}

	// Let every caller pile onto the in-flight execution, then release it.
	time.Sleep(50 * time.Millisecond)
	close(started)
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	for r := range results {
		require.Equal(t, 7, r.Granted)
	}
	require.EqualValues(t, 1, atomic.LoadInt32(&executions))
}

func TestRunFailureNotCached(t *testing.T) {
	clk := clock.NewFakeClock(time.Now())
	g := newTestGuard(clk)
	ctx := context.Background()

	boom := errors.New("downstream unavailable")
	calls := 0
	_, err := Run(ctx, g, "ad-3", time.Minute, func(ctx context.Context) (reward, error) {
		calls++
		return reward{}, boom
	})
	require.ErrorIs(t, err, boom)

	// The failed attempt left nothing behind; a retry executes again and
	// can succeed.
	result, err := Run(ctx, g, "ad-3", time.Minute, func(ctx context.Context) (reward, error) {
		calls++
		return reward{Granted: 3}, nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, result.Granted)
	require.Equal(t, 2, calls)
}

func TestRunTTLExpiry(t *testing.T) {
	clk := clock.NewFakeClock(time.Now())
	g := newTestGuard(clk)
	ctx := context.Background()

	var executions int32
	op := func(ctx context.Context) (reward, error) {
		atomic.AddInt32(&executions, 1)
		return reward{Granted: int(atomic.LoadInt32(&executions))}, nil
	}

	_, err := Run(ctx, g, "ad-4", time.Minute, op)
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)

	result, err := Run(ctx, g, "ad-4", time.Minute, op)
	require.NoError(t, err)
	require.Equal(t, 2, result.Granted)
	require.EqualValues(t, 2, atomic.LoadInt32(&executions))
}

func TestRunPendingElsewhere(t *testing.T) {
	clk := clock.NewFakeClock(time.Now())
	store := NewMemoryStore(clk)
	g := NewGuard(Params{Store: store, Log: zap.NewNop()})
	ctx := context.Background()

	// Another process holds the pending lock for this key.
	acquired, err := store.Begin(ctx, "ad-5", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	_, err = Run(ctx, g, "ad-5", time.Minute, func(ctx context.Context) (reward, error) {
		t.Fatal("operation must not run while pending elsewhere")
		return reward{}, nil
	})
	require.ErrorIs(t, err, ErrProcessing)
}

func TestMemoryStoreSweep(t *testing.T) {
	clk := clock.NewFakeClock(time.Now())
	store := NewMemoryStore(clk).(*memoryStore)
	ctx := context.Background()

	require.NoError(t, store.Complete(ctx, "k1", []byte(`1`), time.Minute))
	require.NoError(t, store.Complete(ctx, "k2", []byte(`2`), time.Hour))

	clk.Advance(30 * time.Minute)
	store.Sweep()

	_, ok, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = store.Get(ctx, "k2")
	require.NoError(t, err)
	require.True(t, ok)
}
