package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	upstreamRateLimitRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "upstream_rate_limit_remaining",
		Help: "Number of requests remaining in the current upstream rate limit window",
	})

	upstreamRateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "upstream_rate_limit_blocks_total",
		Help: "Total number of requests blocked due to critical rate limit",
	})

	upstreamRateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "upstream_rate_limit_throttles_total",
		Help: "Total number of requests throttled due to warning rate limit",
	})
)

// ErrRateLimited is returned for requests blocked before reaching the upstream.
var ErrRateLimited = errors.New("upstream rate limit reached")

// Rate limit headers.
const (
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// defaultRetryAfter applies to 429 responses without a usable Retry-After.
const defaultRetryAfter = time.Second

// Config holds tracker configuration.
type Config struct {
	// ThrottleDelay is how long a request waits in the warning state.
	ThrottleDelay time.Duration `yaml:"throttle_delay"`
}

// DefaultConfig returns the default tracker configuration.
func DefaultConfig() Config {
	return Config{ThrottleDelay: time.Second}
}

// Tracker monitors the upstream rate limit and gates requests.
type Tracker struct {
	store  Store
	config Config
	logger zerolog.Logger
	now    func() time.Time
}

// NewTracker creates a new rate limit tracker. A nil store keeps the state
// in process.
func NewTracker(store Store, config Config, logger zerolog.Logger) *Tracker {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Tracker{
		store:  store,
		config: config,
		logger: logger.With().Str("component", "rate-limit").Logger(),
		now:    time.Now,
	}
}

// GetState returns the current rate limit state. Without recorded data, or
// once the recorded window has reset, the state is healthy.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	now := t.now()

	state, err := t.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if state == nil || state.Expired(now) {
		return healthyState(now), nil
	}
	return state, nil
}

// UpdateFromHeaders records the rate limit reported with an upstream
// response. A 429 blocks requests until its Retry-After has passed.
// Responses without rate limit headers leave the state untouched.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, statusCode int, headers http.Header) error {
	now := t.now()

	var state *State
	if statusCode == http.StatusTooManyRequests {
		state = &State{
			Remaining:  0,
			ResetAt:    now.Add(parseRetryAfter(headers.Get(HeaderRetryAfter), now)),
			LastUpdate: now,
		}
	} else {
		remainStr := headers.Get(HeaderRemaining)
		if remainStr == "" {
			return nil
		}

		remain, err := strconv.Atoi(remainStr)
		if err != nil {
			return fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
		}

		resetStr := headers.Get(HeaderReset)
		if resetStr == "" {
			return fmt.Errorf("%s header missing", HeaderReset)
		}
		resetSeconds, err := strconv.Atoi(resetStr)
		if err != nil {
			return fmt.Errorf("parse %s header: %w", HeaderReset, err)
		}

		state = &State{
			Remaining:  remain,
			ResetAt:    now.Add(time.Duration(resetSeconds) * time.Second),
			LastUpdate: now,
		}
	}
	state.UpdateHealth()

	if err := t.store.Save(ctx, state); err != nil {
		return err
	}

	upstreamRateLimitRemaining.Set(float64(state.Remaining))

	switch {
	case state.NeedsCriticalBlock():
		t.logger.Error().
			Int("remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Msg("Upstream rate limit CRITICAL - requests will be blocked")
	case state.NeedsThrottling():
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Msg("Upstream rate limit WARNING - requests will be throttled")
	default:
		t.logger.Debug().
			Int("remaining", state.Remaining).
			Bool("is_healthy", state.IsHealthy).
			Msg("Upstream rate limit state updated")
	}

	return nil
}

// ShouldAllowRequest reports whether a request may go to the upstream. In
// the warning state it waits ThrottleDelay first, returning early with the
// context's error if ctx ends.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, fmt.Errorf("get rate limit state: %w", err)
	}

	if state.NeedsCriticalBlock() {
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Dur("wait_duration", state.TimeUntilReset(t.now())).
			Msg("Upstream rate limit critical - blocking request")
		upstreamRateLimitBlocksTotal.Inc()
		return false, nil
	}

	if state.NeedsThrottling() && t.config.ThrottleDelay > 0 {
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Msg("Upstream rate limit warning - throttling request")
		upstreamRateLimitThrottlesTotal.Inc()

		timer := time.NewTimer(t.config.ThrottleDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	return true, nil
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return defaultRetryAfter
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	return defaultRetryAfter
}
