// Package testutil provides testing utilities for the posts proxy.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/Sternrassler/posts-proxy/pkg/model"
)

// MockResponse defines the behavior for a mock upstream endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockUpstream is a configurable mock of the posts/comments API.
type MockUpstream struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc
	counts   map[string]int

	requests          atomic.Int64
	lastRequestHeader http.Header
}

// NewMockUpstream creates a new mock upstream server. Paths without a
// configured handler answer 404 with an empty JSON object, like
// JSONPlaceholder does.
func NewMockUpstream() *MockUpstream {
	mock := &MockUpstream{
		handlers: make(map[string]http.HandlerFunc),
		counts:   make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.requests.Inc()

		mock.mu.Lock()
		mock.counts[r.URL.Path]++
		mock.lastRequestHeader = r.Header.Clone()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{}`))
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockUpstream) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockUpstream) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockUpstream) Reset() {
	m.requests.Store(0)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts = make(map[string]int)
	m.lastRequestHeader = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockUpstream) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockUpstream) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			select {
			case <-time.After(resp.Delay):
			case <-r.Context().Done():
				return
			}
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			_, _ = w.Write([]byte(resp.Body))
		}
	})
}

// SetJSON configures a 200 response with v encoded as JSON.
func (m *MockUpstream) SetJSON(path string, v any) {
	m.SetResponse(path, NewJSONResponse(v))
}

// SetPosts serves posts on /posts and each post on /posts/{id}.
func (m *MockUpstream) SetPosts(posts []model.Post) {
	m.SetJSON("/posts", posts)
	for _, p := range posts {
		m.SetJSON(fmt.Sprintf("/posts/%d", p.ID), p)
	}
}

// SetComments serves comments for a post on both /posts/{id}/comments and
// /comments?postId={id}.
func (m *MockUpstream) SetComments(postID int, comments []model.Comment) {
	m.SetJSON(fmt.Sprintf("/posts/%d/comments", postID), comments)

	m.mu.Lock()
	byPost, ok := m.handlers["/comments"]
	m.mu.Unlock()

	body := NewJSONResponse(comments).Body
	m.SetHandler("/comments", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("postId") == fmt.Sprint(postID) {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(body))
			return
		}
		if ok {
			byPost(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(`[]`))
	})
}

// RequestCount returns the number of requests made to the server.
func (m *MockUpstream) RequestCount() int {
	return int(m.requests.Load())
}

// PathCount returns the number of requests made to a path.
func (m *MockUpstream) PathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counts[path]
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockUpstream) LastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRequestHeader
}

// NewJSONResponse creates a 200 OK response with v encoded as JSON.
func NewJSONResponse(v any) MockResponse {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("testutil: marshal response: %v", err))
	}
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       string(data),
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewNotFoundResponse creates a 404 Not Found response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Rate limit exceeded"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
			"Retry-After":  "60",
		},
	}
}

// SamplePosts returns a small fixed data set.
func SamplePosts() []model.Post {
	return []model.Post{
		{ID: 1, UserID: 1, Title: "Sample Post", Body: "first body"},
		{ID: 2, UserID: 2, Title: "Other", Body: "second body"},
		{ID: 3, UserID: 1, Title: "Another sample", Body: "third body"},
	}
}

// SampleComments returns comments belonging to postID.
func SampleComments(postID int) []model.Comment {
	return []model.Comment{
		{ID: postID*10 + 1, PostID: postID, Name: "first", Email: "a@example.com", Body: "nice"},
		{ID: postID*10 + 2, PostID: postID, Name: "second", Email: "b@example.com", Body: "agreed"},
	}
}
