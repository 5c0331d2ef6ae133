package cache

import "time"

// entry is a cached value with its bookkeeping.
type entry struct {
	key   string
	value any

	// writtenAt is when the value was stored
	writtenAt time.Time

	// accessedAt is when the value was last read or written
	accessedAt time.Time
}

// expiry reports why e is stale at now, or "" if it is still fresh.
// A zero TTL disables that bound.
func (e *entry) expiry(now time.Time, writeTTL, accessTTL time.Duration) string {
	if writeTTL > 0 && now.Sub(e.writtenAt) > writeTTL {
		return reasonWriteTTL
	}
	if accessTTL > 0 && now.Sub(e.accessedAt) > accessTTL {
		return reasonAccessTTL
	}
	return ""
}

// Eviction reasons, used as metric labels.
const (
	reasonWriteTTL  = "write_ttl"
	reasonAccessTTL = "access_ttl"
	reasonCapacity  = "capacity"
	reasonExplicit  = "explicit"
	reasonClear     = "clear"
)
