package cache

import "testing"

func TestCacheKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  CacheKey
		want string
	}{
		{
			name: "all posts",
			key:  CacheKey{Namespace: NamespacePosts, Key: KeyAllPosts},
			want: "posts-proxy:posts:all-posts",
		},
		{
			name: "post with comments",
			key:  CacheKey{Namespace: NamespacePostsWithComments, Key: IDKey(42)},
			want: "posts-proxy:posts-with-comments:42",
		},
		{
			name: "comments",
			key:  CacheKey{Namespace: NamespaceComments, Key: IDKey(7)},
			want: "posts-proxy:comments:7",
		},
		{
			name: "namespace only",
			key:  CacheKey{Namespace: NamespacePosts},
			want: "posts-proxy:posts",
		},
		{
			name: "blank parts are skipped",
			key:  CacheKey{Namespace: " ", Key: "1"},
			want: "posts-proxy:1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCacheKey_Deterministic(t *testing.T) {
	key := CacheKey{Namespace: NamespaceComments, Key: IDKey(3)}

	first := key.String()
	for i := 0; i < 10; i++ {
		if got := key.String(); got != first {
			t.Errorf("String() = %q, want %q", got, first)
		}
	}
}

func TestNamespacePattern(t *testing.T) {
	if got := namespacePattern(NamespacePosts); got != "posts-proxy:posts:*" {
		t.Errorf("namespacePattern() = %q, want %q", got, "posts-proxy:posts:*")
	}
}

func TestNamespaces(t *testing.T) {
	got := Namespaces()
	if len(got) != 3 {
		t.Fatalf("len(Namespaces()) = %d, want 3", len(got))
	}
	seen := map[string]bool{}
	for _, ns := range got {
		if seen[ns] {
			t.Errorf("duplicate namespace %q", ns)
		}
		seen[ns] = true
	}
}
