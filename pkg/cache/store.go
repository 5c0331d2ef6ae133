package cache

import (
	"container/list"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Config holds the per-namespace cache policy.
type Config struct {
	// MaxEntries bounds the namespace; the least recently used entry is
	// evicted when it is exceeded. Zero means unbounded.
	MaxEntries int `yaml:"max_entries"`

	// WriteTTL is the lifetime of an entry measured from its last write.
	WriteTTL time.Duration `yaml:"write_ttl"`

	// AccessTTL is the lifetime of an entry measured from its last access.
	AccessTTL time.Duration `yaml:"access_ttl"`
}

// DefaultConfig returns the default cache policy.
func DefaultConfig() Config {
	return Config{
		MaxEntries: 1000,
		WriteTTL:   5 * time.Minute,
		AccessTTL:  2 * time.Minute,
	}
}

// Stats is a snapshot of a store's counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Entries   int
}

// Store is a concurrency-safe LRU with write and access TTLs for one
// namespace. All bookkeeping happens under a single mutex.
type Store struct {
	namespace string
	cfg       Config
	now       func() time.Time

	mu    sync.Mutex
	items map[string]*list.Element
	lru   *list.List // front = most recently used

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// NewStore creates an empty store.
func NewStore(namespace string, cfg Config) *Store {
	return &Store{
		namespace: namespace,
		cfg:       cfg,
		now:       time.Now,
		items:     make(map[string]*list.Element),
		lru:       list.New(),
	}
}

// Namespace returns the store's namespace.
func (s *Store) Namespace() string {
	return s.namespace
}

// Get returns the value under key. A hit refreshes the access time and LRU
// position; a stale entry is removed and reported as a miss.
func (s *Store) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.items[key]
	if !ok {
		s.misses.Inc()
		return nil, false
	}

	e := elem.Value.(*entry)
	now := s.now()
	if reason := e.expiry(now, s.cfg.WriteTTL, s.cfg.AccessTTL); reason != "" {
		s.removeElement(elem, reason)
		s.misses.Inc()
		return nil, false
	}

	e.accessedAt = now
	s.lru.MoveToFront(elem)
	s.hits.Inc()
	return e.value, true
}

// Set stores value under key, evicting the least recently used entries
// if the store is over capacity.
func (s *Store) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.setLocked(key, value, now, now)
}

// setAt stores value with an earlier write time, so a value copied from
// another tier keeps its original write TTL. The access time is now.
func (s *Store) setAt(key string, value any, writtenAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setLocked(key, value, writtenAt, s.now())
}

func (s *Store) setLocked(key string, value any, writtenAt, accessedAt time.Time) {
	if elem, ok := s.items[key]; ok {
		e := elem.Value.(*entry)
		e.value = value
		e.writtenAt = writtenAt
		e.accessedAt = accessedAt
		s.lru.MoveToFront(elem)
		return
	}

	s.items[key] = s.lru.PushFront(&entry{
		key:        key,
		value:      value,
		writtenAt:  writtenAt,
		accessedAt: accessedAt,
	})
	CacheEntries.WithLabelValues(s.namespace).Inc()

	for s.cfg.MaxEntries > 0 && s.lru.Len() > s.cfg.MaxEntries {
		s.removeElement(s.lru.Back(), reasonCapacity)
	}
}

// Delete removes key and reports whether it was present.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.items[key]
	if !ok {
		return false
	}
	s.removeElement(elem, reasonExplicit)
	return true
}

// Clear removes every entry and returns how many there were.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.lru.Len()
	s.items = make(map[string]*list.Element)
	s.lru.Init()
	if n > 0 {
		s.evictions.Add(int64(n))
		CacheEvictions.WithLabelValues(s.namespace, reasonClear).Add(float64(n))
		CacheEntries.WithLabelValues(s.namespace).Sub(float64(n))
	}
	return n
}

// Purge removes stale entries and returns how many were removed.
func (s *Store) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for elem := s.lru.Back(); elem != nil; {
		prev := elem.Prev()
		if reason := elem.Value.(*entry).expiry(now, s.cfg.WriteTTL, s.cfg.AccessTTL); reason != "" {
			s.removeElement(elem, reason)
			removed++
		}
		elem = prev
	}
	return removed
}

// Len returns the number of entries, including stale ones not yet purged.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

// Stats returns a snapshot of the store's counters.
func (s *Store) Stats() Stats {
	return Stats{
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		Evictions: s.evictions.Load(),
		Entries:   s.Len(),
	}
}

// removeElement must be called with s.mu held.
func (s *Store) removeElement(elem *list.Element, reason string) {
	e := s.lru.Remove(elem).(*entry)
	delete(s.items, e.key)
	s.evictions.Inc()
	CacheEvictions.WithLabelValues(s.namespace, reason).Inc()
	CacheEntries.WithLabelValues(s.namespace).Dec()
}
