// Package guard wraps outbound provider calls with rate limiting, circuit
// breaking, and retry. Every concrete client routes its HTTP requests
// through a Guard so upstream failures degrade the same way everywhere.
package guard

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/aristath/meridian/internal/domain"
	"github.com/aristath/meridian/internal/telemetry"
)

// Config holds per-provider guard settings.
type Config struct {
	// Name identifies the provider in errors, logs, and metrics.
	Name string

	// RequestsPerWindow and WindowSeconds define the token bucket:
	// refill rate R/W per second with burst capacity R.
	RequestsPerWindow int
	WindowSeconds     int

	// MaxRetries caps retry attempts after the first call. Only transient
	// errors are retried.
	MaxRetries int

	// BackoffBase and BackoffCap bound the exponential retry backoff.
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// CallTimeout bounds each individual attempt.
	CallTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.RequestsPerWindow <= 0 {
		c.RequestsPerWindow = 5
	}
	if c.WindowSeconds <= 0 {
		c.WindowSeconds = 1
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 60 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	return c
}

// Guard applies a token bucket, a circuit breaker, and transient-error
// retries around a provider call.
type Guard struct {
	name    string
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	metrics *telemetry.MetricsRegistry
	log     zerolog.Logger
	cfg     Config
}

// New creates a guard for one provider. The breaker opens after three
// consecutive failures and stays open for 60 seconds before admitting a
// single half-open probe.
func New(cfg Config, metrics *telemetry.MetricsRegistry, log zerolog.Logger) *Guard {
	cfg = cfg.withDefaults()

	g := &Guard{
		name: cfg.Name,
		limiter: rate.NewLimiter(
			rate.Limit(float64(cfg.RequestsPerWindow)/float64(cfg.WindowSeconds)),
			cfg.RequestsPerWindow,
		),
		metrics: metrics,
		log:     log.With().Str("guard", cfg.Name).Logger(),
		cfg:     cfg,
	}

	settings := gobreaker.Settings{
		Name:    cfg.Name,
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.log.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
			if g.metrics != nil {
				g.metrics.SetBreakerState(name, breakerStateValue(to))
			}
		},
	}
	g.breaker = gobreaker.NewCircuitBreaker(settings)

	return g
}

// Do executes call under the guard. An open breaker fails fast with
// BreakerOpenError before any token is consumed. Transient errors are
// retried up to MaxRetries with exponential backoff and ±20% jitter.
func (g *Guard) Do(ctx context.Context, call func(context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(g.backoff(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := g.attempt(ctx, call)
		if err == nil {
			return nil
		}
		lastErr = err

		// Fail fast: an open breaker will not close between retries of
		// the same request, and non-transient errors never retry.
		if _, open := domain.IsBreakerOpen(err); open {
			return err
		}
		if !domain.IsTransient(err) {
			return err
		}
	}

	return lastErr
}

func (g *Guard) attempt(ctx context.Context, call func(context.Context) error) error {
	start := time.Now()

	// Checking the breaker before the limiter keeps a dead provider from
	// draining tokens that a recovered call could use.
	if g.breaker.State() == gobreaker.StateOpen {
		g.record("breaker_open", start)
		return &domain.BreakerOpenError{Provider: g.name}
	}

	if err := g.limiter.Wait(ctx); err != nil {
		g.record("rate_limited", start)
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
	defer cancel()

	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, call(callCtx)
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			g.record("breaker_open", start)
			return &domain.BreakerOpenError{Provider: g.name}
		}
		g.record("error", start)
		return err
	}

	g.record("ok", start)
	return nil
}

func (g *Guard) record(outcome string, start time.Time) {
	if g.metrics != nil {
		g.metrics.RecordProviderRequest(g.name, outcome, time.Since(start))
	}
}

// backoff returns base*2^(attempt-1) capped at BackoffCap, with ±20% jitter.
func (g *Guard) backoff(attempt int) time.Duration {
	d := g.cfg.BackoffBase << uint(attempt-1)
	if d > g.cfg.BackoffCap || d <= 0 {
		d = g.cfg.BackoffCap
	}

	jitter := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(d) * jitter)
}

// State reports the current breaker state name for status endpoints.
func (g *Guard) State() string {
	return g.breaker.State().String()
}

// Name returns the provider name this guard protects.
func (g *Guard) Name() string {
	return g.name
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}
