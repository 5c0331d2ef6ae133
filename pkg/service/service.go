// Package service orchestrates cache-then-fetch access to the upstream
// posts API.
package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/posts-proxy/pkg/cache"
	"github.com/Sternrassler/posts-proxy/pkg/client"
	"github.com/Sternrassler/posts-proxy/pkg/filter"
	"github.com/Sternrassler/posts-proxy/pkg/metrics"
	"github.com/Sternrassler/posts-proxy/pkg/model"
)

// PostService serves posts and comments from the cache, fetching from the
// upstream on a miss.
type PostService struct {
	upstream client.Upstream
	cache    *cache.Manager
	metrics  metrics.Sink
	logger   zerolog.Logger
}

// New creates a PostService. A nil sink discards metrics.
func New(upstream client.Upstream, cacheManager *cache.Manager, sink metrics.Sink) *PostService {
	if sink == nil {
		sink = metrics.Nop{}
	}
	return &PostService{
		upstream: upstream,
		cache:    cacheManager,
		metrics:  sink,
		logger:   log.With().Str("component", "post-service").Logger(),
	}
}

// GetPosts returns all posts.
func (s *PostService) GetPosts(ctx context.Context) ([]model.Post, error) {
	s.metrics.IncRequests(metrics.KindPosts)
	return s.getPosts(ctx)
}

func (s *PostService) getPosts(ctx context.Context) ([]model.Post, error) {
	return cache.GetOrCompute(ctx, s.cache, cache.NamespacePosts, cache.KeyAllPosts,
		timed(s, client.OpGetPosts, s.upstream.GetPosts))
}

// GetPostsWithFilter returns the cached post list narrowed by userID and
// title. Blank filters are ignored.
func (s *PostService) GetPostsWithFilter(ctx context.Context, userID, title string) ([]model.Post, error) {
	s.metrics.IncRequests(metrics.KindPostsFiltered)

	posts, err := s.getPosts(ctx)
	if err != nil {
		return nil, err
	}

	filtered := filter.Posts(posts, userID, title)
	s.logger.Debug().
		Str("user_id", userID).
		Str("title", title).
		Int("total", len(posts)).
		Int("matched", len(filtered)).
		Msg("Filtered posts")
	return filtered, nil
}

// GetPostByID returns a single post.
func (s *PostService) GetPostByID(ctx context.Context, id int) (*model.Post, error) {
	s.metrics.IncRequests(metrics.KindPost)
	return cache.GetOrCompute(ctx, s.cache, cache.NamespacePosts, cache.IDKey(id),
		timed(s, client.OpGetPostByID, func(ctx context.Context) (*model.Post, error) {
			return s.upstream.GetPostByID(ctx, id)
		}))
}

// GetPostByIDWithComments returns a post with its comments attached.
func (s *PostService) GetPostByIDWithComments(ctx context.Context, id int) (*model.Post, error) {
	s.metrics.IncRequests(metrics.KindPostWithComments)
	return cache.GetOrCompute(ctx, s.cache, cache.NamespacePostsWithComments, cache.IDKey(id),
		timed(s, client.OpGetPostByIDWithComments, func(ctx context.Context) (*model.Post, error) {
			return s.upstream.GetPostByIDWithComments(ctx, id)
		}))
}

// GetCommentsForPost returns the comments of a post.
func (s *PostService) GetCommentsForPost(ctx context.Context, postID int) ([]model.Comment, error) {
	s.metrics.IncRequests(metrics.KindComments)
	return cache.GetOrCompute(ctx, s.cache, cache.NamespaceComments, cache.IDKey(postID),
		timed(s, client.OpGetCommentsByPostID, func(ctx context.Context) ([]model.Comment, error) {
			return s.upstream.GetCommentsByPostID(ctx, postID)
		}))
}

// ClearCache empties every namespace.
func (s *PostService) ClearCache(ctx context.Context) {
	s.metrics.IncRequests(metrics.KindCacheInvalidation)
	s.cache.Clear(ctx)
}

// EvictPostCache drops a single cached post.
func (s *PostService) EvictPostCache(ctx context.Context, id int) {
	s.metrics.IncRequests(metrics.KindCacheInvalidation)
	s.cache.EvictPost(ctx, id)
}

// EvictAllPostsCache drops every cached post and post with comments.
func (s *PostService) EvictAllPostsCache(ctx context.Context) {
	s.metrics.IncRequests(metrics.KindCacheInvalidation)
	s.cache.EvictAllPosts(ctx)
}

// timed reports the duration of fn to the sink.
func timed[V any](s *PostService, operation string, fn func(context.Context) (V, error)) func(context.Context) (V, error) {
	return func(ctx context.Context) (V, error) {
		start := time.Now()
		v, err := fn(ctx)
		s.metrics.ObserveFetch(operation, time.Since(start))
		return v, err
	}
}
