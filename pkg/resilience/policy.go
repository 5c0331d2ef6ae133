// Package resilience wraps upstream calls with retry, per-operation circuit
// breaking, per-attempt timeouts and an explicit fallback.
//
// Composition, from the outside in:
//
//	retry -> circuit breaker -> timeout -> call
//
// The fallback runs when retries are exhausted on a transient failure or when
// the breaker rejects the call. Non-transient errors are returned unchanged.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// State is the state of an operation's circuit breaker.
type State = gobreaker.State

// Breaker states re-exported for callers.
const (
	StateClosed   = gobreaker.StateClosed
	StateHalfOpen = gobreaker.StateHalfOpen
	StateOpen     = gobreaker.StateOpen
)

// BreakerConfig configures the per-operation circuit breakers.
type BreakerConfig struct {
	// FailureRatio opens the breaker once reached (0..1).
	FailureRatio float64 `yaml:"failure_ratio"`

	// MinRequests is the number of calls needed before the ratio is evaluated.
	MinRequests uint32 `yaml:"min_requests"`

	// Interval is the cyclic period after which closed-state counts reset.
	// Zero keeps counts until the state changes.
	Interval time.Duration `yaml:"interval"`

	// OpenTimeout is how long the breaker stays open before half-opening.
	OpenTimeout time.Duration `yaml:"open_timeout"`

	// HalfOpenRequests is the number of trial calls admitted while half-open.
	HalfOpenRequests uint32 `yaml:"half_open_requests"`
}

// Config holds the resilience policy configuration.
type Config struct {
	Retry   RetryConfig   `yaml:"retry"`
	Breaker BreakerConfig `yaml:"breaker"`

	// Timeout bounds each attempt. Zero disables it.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the default policy configuration.
func DefaultConfig() Config {
	return Config{
		Retry: DefaultRetryConfig(),
		Breaker: BreakerConfig{
			FailureRatio:     0.5,
			MinRequests:      5,
			Interval:         60 * time.Second,
			OpenTimeout:      30 * time.Second,
			HalfOpenRequests: 1,
		},
		Timeout: 5 * time.Second,
	}
}

// Fallback produces the substitute result for a failed operation.
type Fallback[T any] func(err error) (T, error)

// Policy holds one circuit breaker per operation.
type Policy struct {
	cfg       Config
	logger    zerolog.Logger
	retryable func(error) bool

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

// NewPolicy creates a policy. retryable decides which errors are transient;
// only those are retried, counted as breaker failures and answered by the
// fallback.
func NewPolicy(cfg Config, retryable func(error) bool, logger zerolog.Logger) *Policy {
	if retryable == nil {
		retryable = func(err error) bool { return err != nil }
	}
	return &Policy{
		cfg:       cfg,
		logger:    logger.With().Str("component", "resilience").Logger(),
		retryable: retryable,
		breakers:  make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

// State returns the current breaker state of an operation.
func (p *Policy) State(operation string) State {
	return p.breaker(operation).State()
}

func (p *Policy) breaker(operation string) *gobreaker.CircuitBreaker[any] {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cb, ok := p.breakers[operation]; ok {
		return cb
	}

	bc := p.cfg.Breaker
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        operation,
		MaxRequests: bc.HalfOpenRequests,
		Interval:    bc.Interval,
		Timeout:     bc.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < bc.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= bc.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			circuitState.WithLabelValues(name).Set(float64(to))
			p.logger.Warn().
				Str("operation", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			var cancelled *callerCancelledError
			if errors.As(err, &cancelled) {
				return true
			}
			return err == nil || !p.retryable(err)
		},
	})
	circuitState.WithLabelValues(operation).Set(float64(gobreaker.StateClosed))
	p.breakers[operation] = cb
	return cb
}

// Execute runs fn under the policy for the named operation.
func Execute[T any](ctx context.Context, p *Policy, operation string, fn func(context.Context) (T, error), fallback Fallback[T]) (T, error) {
	cb := p.breaker(operation)

	var result T
	err := retryWithBackoff(ctx, p.cfg.Retry, operation, p.logger, p.shouldRetry, func(ctx context.Context) error {
		v, err := cb.Execute(func() (any, error) {
			attemptCtx := ctx
			if p.cfg.Timeout > 0 {
				var cancel context.CancelFunc
				attemptCtx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
				defer cancel()
			}
			v, err := fn(attemptCtx)
			if err != nil && ctx.Err() != nil {
				return v, &callerCancelledError{err: err}
			}
			return v, err
		})
		if err != nil {
			return err
		}
		if v != nil {
			result = v.(T)
		}
		return nil
	})
	if err == nil {
		return result, nil
	}

	if fallback == nil || !p.shouldFallback(err) {
		var zero T
		return zero, err
	}

	fallbacksTotal.WithLabelValues(operation).Inc()
	p.logger.Warn().
		Err(err).
		Str("operation", operation).
		Str("circuit", cb.State().String()).
		Msg("Fallback triggered")
	return fallback(err)
}

// shouldRetry excludes breaker rejections: retrying an open circuit only
// burns backoff time.
func (p *Policy) shouldRetry(err error) bool {
	if rejected(err) {
		return false
	}
	return p.retryable(err)
}

func (p *Policy) shouldFallback(err error) bool {
	if errors.Is(err, ErrContextCancelled) {
		return false
	}
	return rejected(err) || errors.Is(err, ErrRetryExhausted) || p.retryable(err)
}

// callerCancelledError marks an attempt that failed after the caller's own
// context was done. The breaker does not count it as an upstream failure.
type callerCancelledError struct {
	err error
}

func (e *callerCancelledError) Error() string { return e.err.Error() }

func (e *callerCancelledError) Unwrap() error { return e.err }

func rejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
