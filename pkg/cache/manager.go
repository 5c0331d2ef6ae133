package cache

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Layers, used as metric labels.
const (
	layerMemory = "memory"
	layerRedis  = "redis"
)

// Manager owns the namespaces and the optional shared tier.
type Manager struct {
	cfg    Config
	stores map[string]*Store
	remote Remote
	now    func() time.Time
	logger zerolog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// Option configures a Manager.
type Option func(*Manager)

// WithRemote attaches a shared tier.
func WithRemote(remote Remote) Option {
	return func(m *Manager) {
		m.remote = remote
	}
}

// WithClock replaces the clock of every namespace.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
		for _, s := range m.stores {
			s.now = now
		}
	}
}

// NewManager creates a manager with one store per namespace, all sharing cfg.
func NewManager(cfg Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:    cfg,
		stores: make(map[string]*Store, 3),
		now:    time.Now,
		logger: log.With().Str("component", "cache").Logger(),
	}
	for _, ns := range Namespaces() {
		m.stores[ns] = NewStore(ns, cfg)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store returns the store of a namespace, or nil if it doesn't exist.
func (m *Manager) Store(namespace string) *Store {
	return m.stores[namespace]
}

// GetOrCompute returns the value cached under (namespace, key), computing and
// caching it on a miss. Errors are returned without caching; nil values and
// empty collections are returned but not cached.
func GetOrCompute[V any](ctx context.Context, m *Manager, namespace, key string, compute func(context.Context) (V, error)) (V, error) {
	var zero V
	store := m.Store(namespace)
	if store == nil {
		return zero, fmt.Errorf("unknown cache namespace %q", namespace)
	}

	if cached, ok := store.Get(key); ok {
		if v, ok := cached.(V); ok {
			CacheHits.WithLabelValues(namespace, layerMemory).Inc()
			m.logger.Debug().Str("namespace", namespace).Str("key", key).Msg("Cache hit")
			return v, nil
		}
		// type changed under the same key; treat as a miss
		store.Delete(key)
	}

	ck := CacheKey{Namespace: namespace, Key: key}
	if m.remote != nil {
		if v, ok := getShared[V](ctx, m, store, ck); ok {
			return v, nil
		}
	}

	CacheMisses.WithLabelValues(namespace).Inc()
	m.logger.Debug().Str("namespace", namespace).Str("key", key).Msg("Cache miss")

	v, err := compute(ctx)
	if err != nil {
		return zero, err
	}
	if isEmpty(v) {
		return v, nil
	}

	store.Set(key, v)
	if m.remote != nil {
		now := m.now()
		putShared(ctx, m, ck, sharedEntry[V]{Value: v, WrittenAt: now, AccessedAt: now})
	}
	return v, nil
}

// sharedEntry is the shared-tier record. It carries the write and access
// times so every instance applies the same TTLs to it.
type sharedEntry[V any] struct {
	Value      V         `json:"value"`
	WrittenAt  time.Time `json:"written_at"`
	AccessedAt time.Time `json:"accessed_at"`
}

// getShared looks ck up in the shared tier. A fresh record is promoted to
// store with its original write time and its access time is refreshed in
// the shared tier; a stale one is deleted.
func getShared[V any](ctx context.Context, m *Manager, store *Store, ck CacheKey) (V, bool) {
	var zero V
	var se sharedEntry[V]
	if err := m.remote.Get(ctx, ck, &se); err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			m.logger.Warn().Err(err).Str("key", ck.String()).Msg("Shared cache get error")
		}
		return zero, false
	}

	e := entry{writtenAt: se.WrittenAt, accessedAt: se.AccessedAt}
	if reason := e.expiry(m.now(), m.cfg.WriteTTL, m.cfg.AccessTTL); reason != "" || isEmpty(se.Value) {
		if err := m.remote.Delete(ctx, ck); err != nil {
			m.logger.Warn().Err(err).Str("key", ck.String()).Msg("Failed to drop stale shared cache entry")
		}
		return zero, false
	}

	store.setAt(ck.Key, se.Value, se.WrittenAt)
	se.AccessedAt = m.now()
	putShared(ctx, m, ck, se)

	CacheHits.WithLabelValues(ck.Namespace, layerRedis).Inc()
	m.logger.Debug().Str("namespace", ck.Namespace).Str("key", ck.Key).Msg("Shared cache hit")
	return se.Value, true
}

// putShared writes se with the time left on its write TTL. Without a write
// TTL nothing is written.
func putShared[V any](ctx context.Context, m *Manager, ck CacheKey, se sharedEntry[V]) {
	if m.cfg.WriteTTL <= 0 {
		return
	}
	ttl := m.cfg.WriteTTL - m.now().Sub(se.WrittenAt)
	if ttl <= 0 {
		return
	}
	if err := m.remote.Set(ctx, ck, se, ttl); err != nil {
		m.logger.Warn().Err(err).Str("key", ck.String()).Msg("Failed to write shared cache")
	}
}

// EvictPost removes a single post from the posts namespace.
func (m *Manager) EvictPost(ctx context.Context, id int) {
	key := IDKey(id)
	m.stores[NamespacePosts].Delete(key)
	if m.remote != nil {
		if err := m.remote.Delete(ctx, CacheKey{Namespace: NamespacePosts, Key: key}); err != nil {
			m.logger.Warn().Err(err).Int("post_id", id).Msg("Failed to evict post from shared cache")
		}
	}
	m.logger.Info().Int("post_id", id).Msg("Evicted post cache entry")
}

// EvictAllPosts clears the posts and posts-with-comments namespaces.
func (m *Manager) EvictAllPosts(ctx context.Context) {
	m.clear(ctx, NamespacePosts, NamespacePostsWithComments)
}

// Clear removes every entry from every namespace.
func (m *Manager) Clear(ctx context.Context) {
	m.clear(ctx, Namespaces()...)
}

func (m *Manager) clear(ctx context.Context, namespaces ...string) {
	for _, ns := range namespaces {
		n := m.stores[ns].Clear()
		if m.remote != nil {
			if err := m.remote.ClearNamespace(ctx, ns); err != nil {
				m.logger.Warn().Err(err).Str("namespace", ns).Msg("Failed to clear shared cache")
			}
		}
		m.logger.Info().Str("namespace", ns).Int("entries", n).Msg("Cleared cache")
	}
}

// Stats returns a snapshot per namespace.
func (m *Manager) Stats() map[string]Stats {
	stats := make(map[string]Stats, len(m.stores))
	for ns, s := range m.stores {
		stats[ns] = s.Stats()
	}
	return stats
}

// StartClearSchedule clears all namespaces on a cron schedule (for example
// "@every 5m"). The returned stop function waits for a running clear.
func (m *Manager) StartClearSchedule(spec string) (stop func(), err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cron != nil {
		return nil, errors.New("clear schedule already started")
	}

	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		m.logger.Info().Msg("Scheduled cache clear")
		m.Clear(context.Background())
	}); err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	c.Start()
	m.cron = c

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.cron == nil {
			return
		}
		<-m.cron.Stop().Done()
		m.cron = nil
	}, nil
}

// isEmpty reports whether v is nil or an empty collection.
func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	case reflect.Slice, reflect.Map:
		return rv.IsNil() || rv.Len() == 0
	case reflect.Array, reflect.String:
		return rv.Len() == 0
	default:
		return false
	}
}
