package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type post struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
}

// countingCompute returns fn wrapped with a call counter.
func countingCompute[V any](v V, err error) (func(context.Context) (V, error), *int) {
	calls := 0
	return func(context.Context) (V, error) {
		calls++
		return v, err
	}, &calls
}

func TestNewManager(t *testing.T) {
	m := NewManager(DefaultConfig())

	for _, ns := range Namespaces() {
		require.NotNil(t, m.Store(ns), ns)
		assert.Equal(t, ns, m.Store(ns).Namespace())
	}
	assert.Nil(t, m.Store("unknown"))
}

func TestGetOrCompute_CachesResult(t *testing.T) {
	m := NewManager(DefaultConfig())
	ctx := context.Background()
	compute, calls := countingCompute([]post{{ID: 1, Title: "a"}}, nil)

	first, err := GetOrCompute(ctx, m, NamespacePosts, KeyAllPosts, compute)
	require.NoError(t, err)
	second, err := GetOrCompute(ctx, m, NamespacePosts, KeyAllPosts, compute)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, *calls, "second call must be a cache hit")
}

func TestGetOrCompute_ErrorsAreNotCached(t *testing.T) {
	m := NewManager(DefaultConfig())
	ctx := context.Background()
	boom := errors.New("boom")
	compute, calls := countingCompute[[]post](nil, boom)

	_, err := GetOrCompute(ctx, m, NamespacePosts, KeyAllPosts, compute)
	assert.ErrorIs(t, err, boom)
	_, err = GetOrCompute(ctx, m, NamespacePosts, KeyAllPosts, compute)
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, 2, *calls)
}

func TestGetOrCompute_EmptyResultsAreNotCached(t *testing.T) {
	m := NewManager(DefaultConfig())
	ctx := context.Background()

	emptyList, listCalls := countingCompute([]post{}, nil)
	for i := 0; i < 2; i++ {
		got, err := GetOrCompute(ctx, m, NamespacePosts, KeyAllPosts, emptyList)
		require.NoError(t, err)
		assert.Empty(t, got)
	}
	assert.Equal(t, 2, *listCalls)

	nilPost, postCalls := countingCompute[*post](nil, nil)
	for i := 0; i < 2; i++ {
		got, err := GetOrCompute(ctx, m, NamespacePosts, IDKey(1), nilPost)
		require.NoError(t, err)
		assert.Nil(t, got)
	}
	assert.Equal(t, 2, *postCalls)
	assert.Equal(t, 0, m.Store(NamespacePosts).Len())
}

func TestGetOrCompute_NamespacesAreIsolated(t *testing.T) {
	m := NewManager(DefaultConfig())
	ctx := context.Background()

	_, err := GetOrCompute(ctx, m, NamespacePosts, "1", func(context.Context) (*post, error) {
		return &post{ID: 1, Title: "plain"}, nil
	})
	require.NoError(t, err)

	got, err := GetOrCompute(ctx, m, NamespacePostsWithComments, "1", func(context.Context) (*post, error) {
		return &post{ID: 1, Title: "with comments"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "with comments", got.Title)
}

func TestGetOrCompute_UnknownNamespace(t *testing.T) {
	m := NewManager(DefaultConfig())
	compute, calls := countingCompute(1, nil)

	_, err := GetOrCompute(context.Background(), m, "nope", "k", compute)

	assert.Error(t, err)
	assert.Equal(t, 0, *calls)
}

func TestGetOrCompute_TTLExpiryRecomputes(t *testing.T) {
	tests := []struct {
		name    string
		advance []time.Duration
	}{
		{name: "write ttl", advance: []time.Duration{110 * time.Second, 110 * time.Second, 110 * time.Second}},
		{name: "access ttl", advance: []time.Duration{2*time.Minute + time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			m := NewManager(DefaultConfig(), WithClock(clock.Now))
			ctx := context.Background()
			compute, calls := countingCompute([]post{{ID: 1}}, nil)

			_, err := GetOrCompute(ctx, m, NamespacePosts, KeyAllPosts, compute)
			require.NoError(t, err)

			for i, d := range tt.advance {
				clock.Advance(d)
				if i < len(tt.advance)-1 {
					_, err = GetOrCompute(ctx, m, NamespacePosts, KeyAllPosts, compute)
					require.NoError(t, err)
				}
			}
			require.Equal(t, 1, *calls)

			_, err = GetOrCompute(ctx, m, NamespacePosts, KeyAllPosts, compute)
			require.NoError(t, err)
			assert.Equal(t, 2, *calls)
		})
	}
}

func TestManager_EvictPost(t *testing.T) {
	m := NewManager(DefaultConfig())
	ctx := context.Background()
	m.Store(NamespacePosts).Set(IDKey(1), &post{ID: 1})
	m.Store(NamespacePosts).Set(IDKey(2), &post{ID: 2})
	m.Store(NamespacePostsWithComments).Set(IDKey(1), &post{ID: 1})

	m.EvictPost(ctx, 1)

	_, ok := m.Store(NamespacePosts).Get(IDKey(1))
	assert.False(t, ok)
	_, ok = m.Store(NamespacePosts).Get(IDKey(2))
	assert.True(t, ok)
	_, ok = m.Store(NamespacePostsWithComments).Get(IDKey(1))
	assert.True(t, ok, "other namespaces are untouched")
}

func TestManager_EvictAllPosts(t *testing.T) {
	m := NewManager(DefaultConfig())
	ctx := context.Background()
	m.Store(NamespacePosts).Set(KeyAllPosts, []post{{ID: 1}})
	m.Store(NamespacePostsWithComments).Set(IDKey(1), &post{ID: 1})
	m.Store(NamespaceComments).Set(IDKey(1), []string{"c"})

	m.EvictAllPosts(ctx)

	assert.Equal(t, 0, m.Store(NamespacePosts).Len())
	assert.Equal(t, 0, m.Store(NamespacePostsWithComments).Len())
	assert.Equal(t, 1, m.Store(NamespaceComments).Len())
}

func TestManager_Clear(t *testing.T) {
	m := NewManager(DefaultConfig())
	for _, ns := range Namespaces() {
		m.Store(ns).Set("k", 1)
	}

	m.Clear(context.Background())

	for ns, stats := range m.Stats() {
		assert.Equal(t, 0, stats.Entries, ns)
	}
}

func TestManager_StartClearSchedule(t *testing.T) {
	m := NewManager(DefaultConfig())
	m.Store(NamespacePosts).Set(KeyAllPosts, []post{{ID: 1}})

	stop, err := m.StartClearSchedule("@every 1s")
	require.NoError(t, err)
	defer stop()

	_, err = m.StartClearSchedule("@every 1s")
	assert.Error(t, err, "second schedule must be rejected")

	assert.Eventually(t, func() bool {
		return m.Store(NamespacePosts).Len() == 0
	}, 3*time.Second, 50*time.Millisecond)
}

func TestManager_StartClearSchedule_InvalidSpec(t *testing.T) {
	m := NewManager(DefaultConfig())

	_, err := m.StartClearSchedule("not a schedule")
	assert.Error(t, err)
}

// memoryRemote is an in-process Remote for tests. With now set, entries
// expire after the TTL they were written with, like Redis keys.
type memoryRemote struct {
	mu      sync.Mutex
	data    map[string][]byte
	expires map[string]time.Time
	ttls    map[string]time.Duration
	now     func() time.Time
	gets    int
	fail    error
}

func newMemoryRemote() *memoryRemote {
	return &memoryRemote{
		data:    make(map[string][]byte),
		expires: make(map[string]time.Time),
		ttls:    make(map[string]time.Duration),
	}
}

func (r *memoryRemote) Get(_ context.Context, key CacheKey, out any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gets++
	if r.fail != nil {
		return r.fail
	}
	k := key.String()
	if exp, ok := r.expires[k]; ok && r.now != nil && !r.now().Before(exp) {
		delete(r.data, k)
		delete(r.expires, k)
	}
	data, ok := r.data[k]
	if !ok {
		return ErrCacheMiss
	}
	return json.Unmarshal(data, out)
}

func (r *memoryRemote) Set(_ context.Context, key CacheKey, value any, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	k := key.String()
	r.data[k] = data
	r.ttls[k] = ttl
	if r.now != nil {
		r.expires[k] = r.now().Add(ttl)
	}
	return nil
}

func (r *memoryRemote) Delete(_ context.Context, key CacheKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, key.String())
	return nil
}

func (r *memoryRemote) ClearNamespace(_ context.Context, namespace string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prefix := CacheKey{Namespace: namespace}.String() + ":"
	for k := range r.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(r.data, k)
		}
	}
	return nil
}

func (r *memoryRemote) ttl(key CacheKey) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ttls[key.String()]
}

func (r *memoryRemote) has(key CacheKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.data[key.String()]
	return ok
}

func TestGetOrCompute_SharedTier(t *testing.T) {
	remote := newMemoryRemote()
	ctx := context.Background()
	want := []post{{ID: 1, Title: "shared"}}

	// first instance computes and writes through
	a := NewManager(DefaultConfig(), WithRemote(remote))
	compute, calls := countingCompute(want, nil)
	_, err := GetOrCompute(ctx, a, NamespacePosts, KeyAllPosts, compute)
	require.NoError(t, err)
	assert.True(t, remote.has(CacheKey{Namespace: NamespacePosts, Key: KeyAllPosts}))

	// second instance is served by the shared tier and promotes locally
	b := NewManager(DefaultConfig(), WithRemote(remote))
	got, err := GetOrCompute(ctx, b, NamespacePosts, KeyAllPosts, compute)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, 1, *calls)
	assert.Equal(t, 1, b.Store(NamespacePosts).Len())
}

func TestGetOrCompute_SharedTierHonoursAccessTTL(t *testing.T) {
	clock := newFakeClock()
	remote := newMemoryRemote()
	remote.now = clock.Now
	m := NewManager(DefaultConfig(), WithClock(clock.Now), WithRemote(remote))
	ctx := context.Background()
	compute, calls := countingCompute([]post{{ID: 1}}, nil)

	_, err := GetOrCompute(ctx, m, NamespacePosts, KeyAllPosts, compute)
	require.NoError(t, err)

	clock.Advance(2*time.Minute + time.Second)
	_, err = GetOrCompute(ctx, m, NamespacePosts, KeyAllPosts, compute)
	require.NoError(t, err)

	assert.Equal(t, 2, *calls)
}

func TestGetOrCompute_SharedTierKeepsWriteTime(t *testing.T) {
	clock := newFakeClock()
	remote := newMemoryRemote()
	remote.now = clock.Now
	ctx := context.Background()
	key := CacheKey{Namespace: NamespacePosts, Key: KeyAllPosts}
	compute, calls := countingCompute([]post{{ID: 1}}, nil)

	a := NewManager(DefaultConfig(), WithClock(clock.Now), WithRemote(remote))
	_, err := GetOrCompute(ctx, a, NamespacePosts, KeyAllPosts, compute)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, remote.ttl(key))

	// promoted copy keeps the original write time; the shared copy is
	// rewritten with only the time left on it
	clock.Advance(time.Minute)
	b := NewManager(DefaultConfig(), WithClock(clock.Now), WithRemote(remote))
	_, err = GetOrCompute(ctx, b, NamespacePosts, KeyAllPosts, compute)
	require.NoError(t, err)
	require.Equal(t, 1, *calls)
	assert.Equal(t, 4*time.Minute, remote.ttl(key))

	// a refreshed access time lets a third instance use the shared copy
	clock.Advance(90 * time.Second)
	c := NewManager(DefaultConfig(), WithClock(clock.Now), WithRemote(remote))
	_, err = GetOrCompute(ctx, c, NamespacePosts, KeyAllPosts, compute)
	require.NoError(t, err)
	require.Equal(t, 1, *calls)

	// t=4m10s and t=4m50s: still within the write TTL of the t=0 value
	for _, d := range []time.Duration{100 * time.Second, 40 * time.Second} {
		clock.Advance(d)
		_, err = GetOrCompute(ctx, b, NamespacePosts, KeyAllPosts, compute)
		require.NoError(t, err)
	}
	require.Equal(t, 1, *calls)

	// t=5m50s: past the write TTL everywhere
	clock.Advance(time.Minute)
	_, err = GetOrCompute(ctx, b, NamespacePosts, KeyAllPosts, compute)
	require.NoError(t, err)
	assert.Equal(t, 2, *calls)
}

func TestGetOrCompute_StaleSharedEntryIsDropped(t *testing.T) {
	clock := newFakeClock()
	remote := newMemoryRemote()
	ctx := context.Background()
	key := CacheKey{Namespace: NamespacePosts, Key: KeyAllPosts}

	old := clock.Now().Add(-10 * time.Minute)
	require.NoError(t, remote.Set(ctx, key, sharedEntry[[]post]{
		Value:      []post{{ID: 9}},
		WrittenAt:  old,
		AccessedAt: old,
	}, time.Hour))

	m := NewManager(DefaultConfig(), WithClock(clock.Now), WithRemote(remote))
	compute, calls := countingCompute([]post{{ID: 1}}, nil)
	got, err := GetOrCompute(ctx, m, NamespacePosts, KeyAllPosts, compute)

	require.NoError(t, err)
	assert.Equal(t, []post{{ID: 1}}, got)
	assert.Equal(t, 1, *calls)
}

func TestGetOrCompute_SharedTierErrorFallsThrough(t *testing.T) {
	remote := newMemoryRemote()
	remote.fail = errors.New("connection refused")
	m := NewManager(DefaultConfig(), WithRemote(remote))
	compute, calls := countingCompute([]post{{ID: 1}}, nil)

	got, err := GetOrCompute(context.Background(), m, NamespacePosts, KeyAllPosts, compute)

	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 1, *calls)
}

func TestManager_EvictionsReachSharedTier(t *testing.T) {
	remote := newMemoryRemote()
	m := NewManager(DefaultConfig(), WithRemote(remote))
	ctx := context.Background()

	for _, key := range []CacheKey{
		{Namespace: NamespacePosts, Key: IDKey(1)},
		{Namespace: NamespacePosts, Key: KeyAllPosts},
		{Namespace: NamespacePostsWithComments, Key: IDKey(1)},
		{Namespace: NamespaceComments, Key: IDKey(1)},
	} {
		require.NoError(t, remote.Set(ctx, key, []int{1}, time.Minute))
	}

	m.EvictPost(ctx, 1)
	assert.False(t, remote.has(CacheKey{Namespace: NamespacePosts, Key: IDKey(1)}))
	assert.True(t, remote.has(CacheKey{Namespace: NamespacePosts, Key: KeyAllPosts}))

	m.EvictAllPosts(ctx)
	assert.False(t, remote.has(CacheKey{Namespace: NamespacePosts, Key: KeyAllPosts}))
	assert.False(t, remote.has(CacheKey{Namespace: NamespacePostsWithComments, Key: IDKey(1)}))
	assert.True(t, remote.has(CacheKey{Namespace: NamespaceComments, Key: IDKey(1)}))

	m.Clear(ctx)
	assert.False(t, remote.has(CacheKey{Namespace: NamespaceComments, Key: IDKey(1)}))
}

func TestIsEmpty(t *testing.T) {
	var nilPost *post
	var nilSlice []post

	tests := []struct {
		name string
		v    any
		want bool
	}{
		{name: "nil", v: nil, want: true},
		{name: "nil pointer", v: nilPost, want: true},
		{name: "nil slice", v: nilSlice, want: true},
		{name: "empty slice", v: []post{}, want: true},
		{name: "empty map", v: map[string]int{}, want: true},
		{name: "empty string", v: "", want: true},
		{name: "pointer", v: &post{}, want: false},
		{name: "slice", v: []post{{}}, want: false},
		{name: "zero int", v: 0, want: false},
		{name: "struct", v: post{}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isEmpty(tt.v); got != tt.want {
				t.Errorf("isEmpty(%#v) = %v, want %v", tt.v, got, tt.want)
			}
		})
	}
}
