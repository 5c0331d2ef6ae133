// Package prefetch warms the post cache in the background.
//
// The warmer lists all posts once, then fetches every post with its comments
// through a bounded worker pool so the first real requests hit the cache.
//
// Example usage:
//
//	warmer := prefetch.NewWarmer(postService, prefetch.DefaultConfig())
//	result, err := warmer.WarmAll(ctx)
//
// The warmer:
//   - Fetches the post list to determine the work
//   - Spawns a worker pool (default 4 workers)
//   - Bounds each fetch with its own timeout
//   - Keeps going when single posts fail and reports them in the result
package prefetch
