package api

import (
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/Sternrassler/posts-proxy/pkg/apierror"
)

var hexPattern = regexp.MustCompile(`^[0-9a-f]+$`)

func TestRequestIDs(t *testing.T) {
	h := newTestServer(&fakeService{})

	w := do(t, h, http.MethodGet, "/posts")

	requestID := w.Header().Get(HeaderRequestID)
	traceID := w.Header().Get(HeaderTraceID)
	spanID := w.Header().Get(HeaderSpanID)
	assert.Len(t, requestID, 36)
	assert.Len(t, traceID, 32)
	assert.Len(t, spanID, 16)
	assert.Regexp(t, hexPattern, traceID)
	assert.Regexp(t, hexPattern, spanID)

	other := do(t, h, http.MethodGet, "/posts")
	assert.NotEqual(t, requestID, other.Header().Get(HeaderRequestID))
}

func TestRequestIDs_KeepsInboundID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/posts", nil)
	req.Header.Set(HeaderRequestID, "abc-123")
	w := httptest.NewRecorder()

	newTestServer(&fakeService{}).ServeHTTP(w, req)

	assert.Equal(t, "abc-123", w.Header().Get(HeaderRequestID))
}

func TestRequestIDs_OnErrors(t *testing.T) {
	w := do(t, newTestServer(&fakeService{}), http.MethodGet, "/posts/abc")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))
	assert.NotEmpty(t, w.Header().Get(HeaderTraceID))
}

func TestRecoverer(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/boom", func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})

	w := do(t, WithMiddleware(router), http.MethodGet, "/boom")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	p := decodeProblem(t, w)
	assert.Equal(t, apierror.TitleInternalServer, p.Title)
}

func TestRecoverer_AfterWrite(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/half", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		panic("late")
	})

	w := do(t, WithMiddleware(router), http.MethodGet, "/half")

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestObserve_RouteLabels(t *testing.T) {
	h := newTestServer(&fakeService{})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/posts/{id}", http.MethodGet, "200"))
	do(t, h, http.MethodGet, "/posts/1")
	do(t, h, http.MethodGet, "/posts/2")
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/posts/{id}", http.MethodGet, "200"))
	assert.Equal(t, 2.0, after-before)

	before = testutil.ToFloat64(httpRequestsTotal.WithLabelValues(routeUnmatched, http.MethodGet, "404"))
	do(t, h, http.MethodGet, "/missing")
	after = testutil.ToFloat64(httpRequestsTotal.WithLabelValues(routeUnmatched, http.MethodGet, "404"))
	assert.Equal(t, 1.0, after-before)

	before = testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/admin/cache/posts/{id}", http.MethodDelete, "204"))
	do(t, h, http.MethodDelete, "/admin/cache/posts/3")
	after = testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/admin/cache/posts/{id}", http.MethodDelete, "204"))
	assert.Equal(t, 1.0, after-before)
}
