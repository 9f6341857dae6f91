package guard_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/meridian/internal/clients/guard"
	"github.com/aristath/meridian/internal/domain"
	"github.com/aristath/meridian/internal/telemetry"
)

func newTestGuard(t *testing.T, cfg guard.Config) *guard.Guard {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = "testprov"
	}
	if cfg.RequestsPerWindow == 0 {
		cfg.RequestsPerWindow = 100
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = time.Millisecond
	}
	return guard.New(cfg, telemetry.NewMetricsRegistry(), zerolog.Nop())
}

func TestGuardPassesThroughSuccess(t *testing.T) {
	g := newTestGuard(t, guard.Config{})

	calls := 0
	err := g.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "closed", g.State())
}

func TestGuardRetriesTransientErrors(t *testing.T) {
	g := newTestGuard(t, guard.Config{MaxRetries: 3})

	calls := 0
	err := g.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return domain.Transient("fetch close", errors.New("connection reset"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestGuardDoesNotRetryPermanentErrors(t *testing.T) {
	g := newTestGuard(t, guard.Config{MaxRetries: 3})

	calls := 0
	err := g.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("malformed response")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestGuardExhaustsRetries(t *testing.T) {
	g := newTestGuard(t, guard.Config{MaxRetries: 2})

	calls := 0
	err := g.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return domain.Transient("fetch close", errors.New("timeout"))
	})

	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
	assert.Equal(t, 3, calls) // initial attempt + 2 retries
}

func TestGuardOpensBreakerAfterConsecutiveFailures(t *testing.T) {
	g := newTestGuard(t, guard.Config{MaxRetries: 0})

	boom := func(ctx context.Context) error {
		return domain.Transient("fetch close", errors.New("upstream down"))
	}

	for i := 0; i < 3; i++ {
		err := g.Do(context.Background(), boom)
		require.Error(t, err)
	}
	assert.Equal(t, "open", g.State())

	// Open breaker fails fast with a typed error and no provider call.
	calls := 0
	err := g.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})

	require.Error(t, err)
	assert.Equal(t, 0, calls)

	breakerErr, ok := domain.IsBreakerOpen(err)
	require.True(t, ok)
	assert.Equal(t, "testprov", breakerErr.Provider)
}

func TestGuardBreakerOpenStopsRetryLoop(t *testing.T) {
	g := newTestGuard(t, guard.Config{MaxRetries: 0})

	boom := func(ctx context.Context) error {
		return domain.Transient("fetch close", errors.New("upstream down"))
	}
	for i := 0; i < 3; i++ {
		_ = g.Do(context.Background(), boom)
	}
	require.Equal(t, "open", g.State())

	// Even with retries budgeted, a breaker-open result returns immediately
	// rather than burning the backoff schedule.
	g2 := newTestGuard(t, guard.Config{MaxRetries: 5})
	for i := 0; i < 3; i++ {
		_ = g2.Do(context.Background(), boom)
	}

	start := time.Now()
	err := g2.Do(context.Background(), func(ctx context.Context) error { return nil })
	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestGuardHonorsContextCancellation(t *testing.T) {
	g := newTestGuard(t, guard.Config{MaxRetries: 5, BackoffBase: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- g.Do(ctx, func(ctx context.Context) error {
			calls++
			return domain.Transient("fetch close", errors.New("timeout"))
		})
	}()

	// First attempt fails, then the guard sits in backoff; cancellation must
	// release it.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("guard did not release on context cancellation")
	}
}
