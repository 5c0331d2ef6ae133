package prefetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/posts-proxy/pkg/model"
)

// Config holds warmer configuration
type Config struct {
	// MaxConcurrency is the maximum number of parallel fetches
	MaxConcurrency int `yaml:"max_concurrency"`
	// Timeout per post fetch
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns a configuration gentle enough for a public API
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Timeout:        10 * time.Second,
	}
}

// Fetcher is implemented by the post service. Fetching through it populates
// the cache.
type Fetcher interface {
	GetPosts(ctx context.Context) ([]model.Post, error)
	GetPostByIDWithComments(ctx context.Context, id int) (*model.Post, error)
}

// Result summarizes a warm run
type Result struct {
	Total    int
	Warmed   int
	Failed   int
	Duration time.Duration
}

type postResult struct {
	PostID int
	Error  error
}

// Warmer fetches every post with comments through a worker pool
type Warmer struct {
	fetcher Fetcher
	config  Config
	logger  zerolog.Logger
}

// NewWarmer creates a new warmer
func NewWarmer(fetcher Fetcher, config Config) *Warmer {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	return &Warmer{
		fetcher: fetcher,
		config:  config,
		logger:  log.With().Str("component", "cache-warmer").Logger(),
	}
}

// WarmAll fetches the post list and then each post with its comments.
// Failed posts are counted; the returned error wraps the first failure and
// the result is still valid.
func (w *Warmer) WarmAll(ctx context.Context) (Result, error) {
	start := time.Now()

	posts, err := w.fetcher.GetPosts(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list posts: %w", err)
	}

	result := Result{Total: len(posts)}
	if len(posts) == 0 {
		result.Duration = time.Since(start)
		w.logger.Info().Msg("Nothing to warm")
		return result, nil
	}

	w.logger.Info().
		Int("posts", len(posts)).
		Int("workers", w.config.MaxConcurrency).
		Msg("Starting cache warm")

	queue := make(chan int, len(posts))
	for _, p := range posts {
		queue <- p.ID
	}
	close(queue)

	results := make(chan postResult, len(posts))

	var wg sync.WaitGroup
	for i := 0; i < w.config.MaxConcurrency; i++ {
		wg.Add(1)
		go w.worker(ctx, queue, results, &wg, i)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var firstErr error
	for r := range results {
		if r.Error != nil {
			result.Failed++
			if firstErr == nil {
				firstErr = r.Error
			}
			continue
		}
		result.Warmed++
	}
	result.Duration = time.Since(start)

	if ctx.Err() != nil && result.Warmed+result.Failed < result.Total {
		return result, fmt.Errorf("warm cancelled (%d/%d posts): %w", result.Warmed, result.Total, ctx.Err())
	}
	if firstErr != nil {
		w.logger.Warn().
			Err(firstErr).
			Int("warmed", result.Warmed).
			Int("failed", result.Failed).
			Msg("Cache warm incomplete")
		return result, fmt.Errorf("warm incomplete (%d/%d posts): %w", result.Warmed, result.Total, firstErr)
	}

	w.logger.Info().
		Int("posts", result.Warmed).
		Dur("duration", result.Duration).
		Msg("Cache warm complete")
	return result, nil
}

// worker processes post ids from the queue
func (w *Warmer) worker(ctx context.Context, queue <-chan int, results chan<- postResult, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	processed := 0

	for id := range queue {
		select {
		case <-ctx.Done():
			w.logger.Debug().
				Int("worker_id", workerID).
				Int("posts_processed", processed).
				Msg("Worker stopping (context cancelled)")
			return
		default:
		}

		fetchCtx, cancel := context.WithTimeout(ctx, w.config.Timeout)
		_, err := w.fetcher.GetPostByIDWithComments(fetchCtx, id)
		cancel()

		if err != nil {
			w.logger.Warn().
				Err(err).
				Int("worker_id", workerID).
				Int("post_id", id).
				Msg("Post warm failed")
		}

		// results is buffered for every post, so this never blocks
		results <- postResult{PostID: id, Error: err}
		processed++
	}

	if processed > 0 {
		w.logger.Debug().
			Int("worker_id", workerID).
			Int("posts_processed", processed).
			Msg("Worker completed")
	}
}
