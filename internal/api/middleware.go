package api

import (
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/posts-proxy/pkg/apierror"
	"github.com/Sternrassler/posts-proxy/pkg/logging"
)

// Response headers carrying request correlation ids.
const (
	HeaderRequestID = "X-Request-Id"
	HeaderTraceID   = "X-Trace-Id"
	HeaderSpanID    = "X-Span-Id"
)

// WithMiddleware wraps router with request correlation, access logging,
// metrics and panic recovery. The router is also used to resolve route
// templates for metric labels, so unmatched requests are covered too.
func WithMiddleware(router *mux.Router) http.Handler {
	return requestIDs(observe(router, recoverer(router)))
}

// requestIDs sets the correlation headers on every response and attaches a
// logger carrying them to the request context. An inbound X-Request-Id is
// kept.
func requestIDs(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		traceID := hexID()
		spanID := hexID()[:16]

		w.Header().Set(HeaderRequestID, requestID)
		w.Header().Set(HeaderTraceID, traceID)
		w.Header().Set(HeaderSpanID, spanID)

		logger := log.With().
			Str("component", "http").
			Str("request_id", requestID).
			Str("trace_id", traceID).
			Logger()
		next.ServeHTTP(w, r.WithContext(logging.WithContext(r.Context(), logger)))
	})
}

func hexID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// observe logs every request and records the HTTP metrics.
func observe(router *mux.Router, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rr := &respRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rr, r)

		d := time.Since(start)
		route := routeTemplate(router, r)
		httpRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rr.status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(d.Seconds())

		logger := logging.FromContext(r.Context())
		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("route", route).
			Int("status", rr.status).
			Dur("duration", d).
			Msg("HTTP request")
	})
}

func routeTemplate(router *mux.Router, r *http.Request) string {
	var match mux.RouteMatch
	if !router.Match(r, &match) || match.Route == nil || match.MatchErr != nil {
		return routeUnmatched
	}
	tpl, err := match.Route.GetPathTemplate()
	if err != nil {
		return routeUnmatched
	}
	return tpl
}

// recoverer turns a handler panic into a 500 problem document.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			logger := logging.FromContext(r.Context())
			logger.Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("Handler panicked")

			if rr, ok := w.(*respRecorder); ok && rr.wroteHeader {
				return
			}
			writeError(w, r, apierror.New("Unexpected error occurred",
				apierror.TitleInternalServer, http.StatusInternalServerError))
		}()
		next.ServeHTTP(w, r)
	})
}

type respRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rr *respRecorder) WriteHeader(code int) {
	if !rr.wroteHeader {
		rr.status = code
		rr.wroteHeader = true
	}
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *respRecorder) Write(b []byte) (int, error) {
	if !rr.wroteHeader {
		rr.wroteHeader = true
	}
	return rr.ResponseWriter.Write(b)
}
