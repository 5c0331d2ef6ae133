// Package client provides the HTTP client for the upstream posts/comments API
// and its resilient, fallback-producing variant.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/posts-proxy/pkg/apierror"
	"github.com/Sternrassler/posts-proxy/pkg/model"
	"github.com/Sternrassler/posts-proxy/pkg/ratelimit"
)

// Prometheus metrics for upstream client operations.
var (
	upstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upstream_requests_total",
		Help: "Total upstream requests by endpoint and status",
	}, []string{"endpoint", "status"})

	upstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "upstream_request_duration_seconds",
		Help:    "Upstream request duration in seconds by endpoint",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"endpoint"})

	upstreamErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upstream_errors_total",
		Help: "Total upstream errors by class",
	}, []string{"class"})
)

// Endpoint templates, used as metric labels.
const (
	endpointPosts          = "/posts"
	endpointPostByID       = "/posts/{id}"
	endpointPostComments   = "/posts/{postId}/comments"
	endpointCommentsByPost = "/comments?postId={postId}"
)

// DefaultBaseURL is the public JSONPlaceholder API.
const DefaultBaseURL = "https://jsonplaceholder.typicode.com"

// Client talks to the upstream posts/comments API. It has no timeout or
// retry of its own; see Resilient.
type Client struct {
	httpClient *http.Client
	baseURL    string
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the upstream API, without trailing slash.
	BaseURL string

	// UserAgent sent with every request.
	UserAgent string

	// HTTPClient overrides the default client. Its transport is wrapped with
	// request logging.
	HTTPClient *http.Client

	// RateLimit, when set, gates requests on the upstream's rate limit.
	RateLimit *ratelimit.Tracker
}

// DefaultConfig returns a configuration pointing at the public API.
func DefaultConfig(userAgent string) Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		UserAgent: userAgent,
	}
}

// New creates a new upstream client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("base url is required")
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}

	logger := log.With().Str("component", "upstream-client").Logger()

	httpClient := &http.Client{}
	if cfg.HTTPClient != nil {
		clone := *cfg.HTTPClient
		httpClient = &clone
	}
	transport := httpClient.Transport
	if cfg.RateLimit != nil {
		transport = newRateLimitTransport(transport, cfg.RateLimit, logger)
	}
	httpClient.Transport = newLoggingTransport(transport, logger)

	return &Client{
		httpClient: httpClient,
		baseURL:    base,
		config:     cfg,
		logger:     logger,
	}, nil
}

// GetPosts fetches all posts. A null or empty body yields an empty list.
func (c *Client) GetPosts(ctx context.Context) ([]model.Post, error) {
	var posts []model.Post
	if err := c.getJSON(ctx, endpointPosts, "/posts", nil, &posts); err != nil {
		c.logger.Error().Err(err).Msg("Error fetching posts")
		return nil, apierror.Wrap("Failed to fetch posts", apierror.TitleExternalService, http.StatusInternalServerError, err)
	}
	if posts == nil {
		posts = []model.Post{}
	}

	c.logger.Info().Int("count", len(posts)).Msg("Fetched posts")
	return posts, nil
}

// GetPostByID fetches a single post.
func (c *Client) GetPostByID(ctx context.Context, id int) (*model.Post, error) {
	var post model.Post
	err := c.getJSON(ctx, endpointPostByID, "/posts/"+strconv.Itoa(id), nil, &post)
	if err != nil {
		return nil, c.mapError(err,
			fmt.Sprintf("Cannot find a Post with id %d", id),
			fmt.Sprintf("Failed to fetch post with id: %d", id),
			"Unexpected error occurred while fetching post")
	}

	c.logger.Info().Int("post_id", id).Msg("Fetched post")
	return &post, nil
}

// GetCommentsForPost fetches the comments of a post via /posts/{id}/comments.
func (c *Client) GetCommentsForPost(ctx context.Context, postID int) ([]model.Comment, error) {
	path := "/posts/" + strconv.Itoa(postID) + "/comments"
	return c.getComments(ctx, endpointPostComments, path, nil, postID,
		fmt.Sprintf("Failed to fetch comments for post id: %d", postID))
}

// GetCommentsByPostID fetches the comments of a post via /comments?postId={id}.
func (c *Client) GetCommentsByPostID(ctx context.Context, postID int) ([]model.Comment, error) {
	query := url.Values{"postId": []string{strconv.Itoa(postID)}}
	return c.getComments(ctx, endpointCommentsByPost, "/comments", query, postID,
		fmt.Sprintf("Failed to fetch comments by post id: %d", postID))
}

func (c *Client) getComments(ctx context.Context, endpoint, path string, query url.Values, postID int, failDetail string) ([]model.Comment, error) {
	var comments []model.Comment
	if err := c.getJSON(ctx, endpoint, path, query, &comments); err != nil {
		return nil, c.mapError(err,
			fmt.Sprintf("Cannot find comments for Post with id %d", postID),
			failDetail,
			"Unexpected error occurred while fetching comments")
	}
	if comments == nil {
		comments = []model.Comment{}
	}

	c.logger.Info().Int("post_id", postID).Int("count", len(comments)).Msg("Fetched comments")
	return comments, nil
}

// GetPostByIDWithComments fetches a post and attaches its comments.
func (c *Client) GetPostByIDWithComments(ctx context.Context, id int) (*model.Post, error) {
	post, err := c.GetPostByID(ctx, id)
	if err != nil {
		return nil, passOrWrap(err, "Failed to fetch post with comments")
	}

	comments, err := c.GetCommentsForPost(ctx, id)
	if err != nil {
		return nil, passOrWrap(err, "Failed to fetch post with comments")
	}

	return post.WithComments(comments), nil
}

// passOrWrap returns *apierror.Error values as they are and wraps anything
// else as a 500.
func passOrWrap(err error, detail string) error {
	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		return err
	}
	return apierror.Wrap(detail, apierror.TitleExternalService, http.StatusInternalServerError, err)
}

// mapError converts a getJSON failure into the uniform error: 404 becomes
// "Resource Not Found", other upstream statuses keep their code, anything
// else is a 500.
func (c *Client) mapError(err error, notFound, failed, unexpected string) error {
	var statusErr *apierror.StatusError
	if errors.As(err, &statusErr) {
		c.logger.Warn().
			Int("status", statusErr.StatusCode).
			Str("url", statusErr.URL).
			Msg("Upstream returned error status")
		if statusErr.StatusCode == http.StatusNotFound {
			return apierror.New(notFound, apierror.TitleNotFound, http.StatusNotFound)
		}
		return apierror.Wrap(failed, apierror.TitleExternalService, statusErr.StatusCode, err)
	}

	c.logger.Error().Err(err).Msg(unexpected)
	return apierror.Wrap(unexpected, apierror.TitleInternalServer, http.StatusInternalServerError, err)
}

// getJSON performs a GET and decodes the JSON body into out. Failures are
// classified: transport errors and timeouts are network errors, non-2xx
// responses are *apierror.StatusError, undecodable bodies are internal
// errors.
func (c *Client) getJSON(ctx context.Context, endpoint, path string, query url.Values, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	startTime := time.Now()
	defer func() {
		upstreamRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if errors.Is(err, ratelimit.ErrRateLimited) {
		upstreamRequestsTotal.WithLabelValues(endpoint, "rate_limited").Inc()
		return &apierror.StatusError{
			StatusCode: http.StatusTooManyRequests,
			Status:     "429 Too Many Requests (rate limit reached)",
			URL:        target,
		}
	}
	if err != nil {
		upstreamErrorsTotal.WithLabelValues(string(apierror.ClassNetwork)).Inc()
		upstreamRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return &apierror.Error{Class: apierror.ClassNetwork, Err: err}
	}
	defer resp.Body.Close()

	upstreamRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		class := apierror.ClassifyStatus(resp.StatusCode)
		upstreamErrorsTotal.WithLabelValues(string(class)).Inc()
		c.logger.Debug().Str("class", string(class)).Msg("Error classified")
		return &apierror.StatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			URL:        target,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			upstreamErrorsTotal.WithLabelValues(string(apierror.ClassNetwork)).Inc()
			return &apierror.Error{Class: apierror.ClassNetwork, Err: err}
		}
		upstreamErrorsTotal.WithLabelValues(string(apierror.ClassInternal)).Inc()
		return &apierror.Error{Class: apierror.ClassInternal, Err: fmt.Errorf("decode %s: %w", endpoint, err)}
	}

	return nil
}
