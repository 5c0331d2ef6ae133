package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/posts-proxy/pkg/apierror"
	"github.com/Sternrassler/posts-proxy/pkg/model"
	"github.com/Sternrassler/posts-proxy/pkg/resilience"
)

// Operation names, used for circuit breakers, logs and metrics.
const (
	OpGetPosts                = "get_posts"
	OpGetPostByID             = "get_post_by_id"
	OpGetPostByIDWithComments = "get_post_by_id_with_comments"
	OpGetCommentsForPost      = "get_comments_for_post"
	OpGetCommentsByPostID     = "get_comments_by_post_id"
)

// Upstream is the set of upstream operations.
type Upstream interface {
	GetPosts(ctx context.Context) ([]model.Post, error)
	GetPostByID(ctx context.Context, id int) (*model.Post, error)
	GetPostByIDWithComments(ctx context.Context, id int) (*model.Post, error)
	GetCommentsForPost(ctx context.Context, postID int) ([]model.Comment, error)
	GetCommentsByPostID(ctx context.Context, postID int) ([]model.Comment, error)
}

var (
	_ Upstream = (*Client)(nil)
	_ Upstream = (*Resilient)(nil)
)

// Resilient runs each upstream operation under a resilience policy.
//
// When an operation fails terminally (retries exhausted on a transient error,
// or its circuit is open) list operations degrade to an empty list and
// single-post operations fail with 503 Service Unavailable. Errors such as an
// upstream 404 pass through untouched.
type Resilient struct {
	upstream Upstream
	policy   *resilience.Policy
	logger   zerolog.Logger
}

// NewResilient wraps upstream with policy.
func NewResilient(upstream Upstream, policy *resilience.Policy) *Resilient {
	return &Resilient{
		upstream: upstream,
		policy:   policy,
		logger:   log.With().Str("component", "resilient-client").Logger(),
	}
}

// Policy returns the policy in use.
func (r *Resilient) Policy() *resilience.Policy {
	return r.policy
}

// GetPosts fetches all posts, or an empty list when the upstream is unavailable.
func (r *Resilient) GetPosts(ctx context.Context) ([]model.Post, error) {
	return resilience.Execute(ctx, r.policy, OpGetPosts, r.upstream.GetPosts,
		func(err error) ([]model.Post, error) {
			r.logger.Warn().Err(err).Msg("Fallback triggered for getPosts")
			return []model.Post{}, nil
		})
}

// GetPostByID fetches a single post, or fails with 503 when the upstream is
// unavailable.
func (r *Resilient) GetPostByID(ctx context.Context, id int) (*model.Post, error) {
	return resilience.Execute(ctx, r.policy, OpGetPostByID,
		func(ctx context.Context) (*model.Post, error) {
			return r.upstream.GetPostByID(ctx, id)
		},
		func(err error) (*model.Post, error) {
			r.logger.Warn().Err(err).Int("post_id", id).Msg("Fallback triggered for getPostById")
			return nil, unavailable(fmt.Sprintf("Service temporarily unavailable for post %d", id), err)
		})
}

// GetPostByIDWithComments fetches a post with its comments, or fails with 503
// when the upstream is unavailable.
func (r *Resilient) GetPostByIDWithComments(ctx context.Context, id int) (*model.Post, error) {
	return resilience.Execute(ctx, r.policy, OpGetPostByIDWithComments,
		func(ctx context.Context) (*model.Post, error) {
			return r.upstream.GetPostByIDWithComments(ctx, id)
		},
		func(err error) (*model.Post, error) {
			r.logger.Warn().Err(err).Int("post_id", id).Msg("Fallback triggered for getPostByIdWithComments")
			return nil, unavailable(fmt.Sprintf("Service temporarily unavailable for post with comments %d", id), err)
		})
}

// GetCommentsForPost fetches a post's comments, or an empty list when the
// upstream is unavailable.
func (r *Resilient) GetCommentsForPost(ctx context.Context, postID int) ([]model.Comment, error) {
	return resilience.Execute(ctx, r.policy, OpGetCommentsForPost,
		func(ctx context.Context) ([]model.Comment, error) {
			return r.upstream.GetCommentsForPost(ctx, postID)
		},
		func(err error) ([]model.Comment, error) {
			r.logger.Warn().Err(err).Int("post_id", postID).Msg("Fallback triggered for getCommentsForPost")
			return []model.Comment{}, nil
		})
}

// GetCommentsByPostID fetches a post's comments by query, or an empty list
// when the upstream is unavailable.
func (r *Resilient) GetCommentsByPostID(ctx context.Context, postID int) ([]model.Comment, error) {
	return resilience.Execute(ctx, r.policy, OpGetCommentsByPostID,
		func(ctx context.Context) ([]model.Comment, error) {
			return r.upstream.GetCommentsByPostID(ctx, postID)
		},
		func(err error) ([]model.Comment, error) {
			r.logger.Warn().Err(err).Int("post_id", postID).Msg("Fallback triggered for getCommentsByPostId")
			return []model.Comment{}, nil
		})
}

// PostsResult is the outcome of GetPostsAsync.
type PostsResult struct {
	Posts []model.Post
	Err   error
}

// GetPostsAsync runs GetPosts on its own goroutine. The returned channel
// receives exactly one result and is then closed.
func (r *Resilient) GetPostsAsync(ctx context.Context) <-chan PostsResult {
	ch := make(chan PostsResult, 1)
	go func() {
		defer close(ch)
		posts, err := r.GetPosts(ctx)
		ch <- PostsResult{Posts: posts, Err: err}
	}()
	return ch
}

func unavailable(detail string, cause error) error {
	err := apierror.Wrap(detail, apierror.TitleServiceUnavailable, http.StatusServiceUnavailable, cause)
	// the 503 is final; nothing above should retry it
	err.Class = apierror.ClassInternal
	return err
}
