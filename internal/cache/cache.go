package cache

import "time"

// Cache is a key-value store whose entries may carry a TTL.
type Cache[K comparable, V any] interface {
	// Get returns the value if present and not expired.
	Get(key K) (V, bool)

	// Set stores the value. A ttl <= 0 never expires.
	Set(key K, value V, ttl time.Duration)

	Delete(key K)

	// Len counts live entries only.
	Len() int

	// PurgeExpired removes expired entries.
	PurgeExpired()
}
