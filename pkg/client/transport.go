package client

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/posts-proxy/pkg/ratelimit"
)

// loggingTransport logs every upstream request and its outcome. Bodies are
// never logged.
type loggingTransport struct {
	wrapped http.RoundTripper
	logger  zerolog.Logger
	now     func() time.Time
}

func newLoggingTransport(wrapped http.RoundTripper, logger zerolog.Logger) *loggingTransport {
	if wrapped == nil {
		wrapped = http.DefaultTransport
	}
	return &loggingTransport{
		wrapped: wrapped,
		logger:  logger,
		now:     time.Now,
	}
}

// RoundTrip implements http.RoundTripper.
func (t *loggingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	start := t.now()
	t.logger.Info().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Msg("Upstream request")

	resp, err := t.wrapped.RoundTrip(r)
	if err != nil {
		t.logger.Warn().
			Err(err).
			Str("method", r.Method).
			Str("url", r.URL.String()).
			Dur("duration", t.now().Sub(start)).
			Msg("Upstream request failed")
		return nil, err
	}

	t.logger.Info().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Int("status", resp.StatusCode).
		Dur("duration", t.now().Sub(start)).
		Msg("Upstream response")
	return resp, nil
}

// rateLimitTransport gates requests on the upstream rate limit and records
// the limit reported by each response.
type rateLimitTransport struct {
	wrapped http.RoundTripper
	tracker *ratelimit.Tracker
	logger  zerolog.Logger
}

func newRateLimitTransport(wrapped http.RoundTripper, tracker *ratelimit.Tracker, logger zerolog.Logger) *rateLimitTransport {
	if wrapped == nil {
		wrapped = http.DefaultTransport
	}
	return &rateLimitTransport{
		wrapped: wrapped,
		tracker: tracker,
		logger:  logger,
	}
}

// RoundTrip implements http.RoundTripper. A failing state store lets the
// request through.
func (t *rateLimitTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	allowed, err := t.tracker.ShouldAllowRequest(r.Context())
	switch {
	case err != nil && r.Context().Err() != nil:
		return nil, err
	case err != nil:
		t.logger.Warn().Err(err).Msg("Rate limit state unavailable")
	case !allowed:
		return nil, ratelimit.ErrRateLimited
	}

	resp, err := t.wrapped.RoundTrip(r)
	if err != nil {
		return nil, err
	}

	if err := t.tracker.UpdateFromHeaders(r.Context(), resp.StatusCode, resp.Header); err != nil {
		t.logger.Warn().Err(err).Msg("Failed to record rate limit")
	}
	return resp, nil
}
