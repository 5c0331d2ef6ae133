package cache

import (
	"strconv"
	"strings"
)

// Namespaces.
const (
	NamespacePosts             = "posts"
	NamespacePostsWithComments = "posts-with-comments"
	NamespaceComments          = "comments"
)

// KeyAllPosts is the posts-namespace key of the full post list.
const KeyAllPosts = "all-posts"

// Namespaces lists every namespace the Manager owns.
func Namespaces() []string {
	return []string{NamespacePosts, NamespacePostsWithComments, NamespaceComments}
}

// IDKey returns the key of a single post or of a post's comments.
func IDKey(id int) string {
	return strconv.Itoa(id)
}

// CacheKey identifies an entry across namespaces.
type CacheKey struct {
	// Namespace is one of the Namespace constants
	Namespace string

	// Key is the key within the namespace (e.g. "all-posts", "42")
	Key string
}

// String generates the shared tier key.
// Format: posts-proxy:namespace:key
//
// Example:
//
//	posts-proxy:posts-with-comments:42
func (k CacheKey) String() string {
	parts := []string{keyPrefix}
	if ns := strings.TrimSpace(k.Namespace); ns != "" {
		parts = append(parts, ns)
	}
	if key := strings.TrimSpace(k.Key); key != "" {
		parts = append(parts, key)
	}
	return strings.Join(parts, ":")
}

const keyPrefix = "posts-proxy"

// namespacePattern matches every shared tier key of a namespace.
func namespacePattern(namespace string) string {
	return CacheKey{Namespace: namespace}.String() + ":*"
}
