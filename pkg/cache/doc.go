// Package cache memoizes upstream results per namespace.
//
// Each namespace is a Store: a bounded LRU with two TTLs, one measured from
// the last write and one from the last access. An entry is dropped when either
// TTL elapses or when the store is full and it is the least recently used.
//
// # Namespaces
//
// The Manager owns three isolated namespaces:
//
//   - posts: the full post list under key "all-posts" and single posts by id
//   - posts-with-comments: posts with their comments attached, by id
//   - comments: comment lists by post id
//
// # Basic Usage
//
//	manager := cache.NewManager(cache.DefaultConfig())
//
//	posts, err := cache.GetOrCompute(ctx, manager, cache.NamespacePosts, cache.KeyAllPosts,
//		func(ctx context.Context) ([]model.Post, error) {
//			return upstream.GetPosts(ctx)
//		})
//
// Errors, nil values and empty collections are never cached, so a degraded
// empty result does not stick.
//
// # Shared Tier
//
// A Remote (RedisStore) can be attached with WithRemote. Local misses consult
// it and promote hits; writes and evictions go to both tiers.
//
// # Periodic Clear
//
//	stop, err := manager.StartClearSchedule("@every 5m")
//	defer stop()
//
// # Metrics
//
//   - cache_hits_total{namespace,layer} - Cache hits ("memory" or "redis")
//   - cache_misses_total{namespace} - Cache misses
//   - cache_evictions_total{namespace,reason} - Removed entries
//   - cache_entries{namespace} - Current entries
//   - cache_errors_total{operation} - Shared tier errors
package cache
