// ABOUTME: TTL and size bounded set of seen transport event ids
// ABOUTME: Lets the Matrix bridge drop events the homeserver delivers more than once

package dedupe

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Defaults used when New is given non-positive values.
const (
	DefaultTTL     = 10 * time.Minute
	DefaultMaxSize = 10000
)

// Cache remembers keys for a bounded time. The oldest key is evicted when full.
type Cache struct {
	mu   sync.Mutex
	seen *expirable.LRU[string, struct{}]
}

// New creates a cache holding up to maxSize keys for ttl each.
func New(ttl time.Duration, maxSize int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Cache{
		seen: expirable.NewLRU[string, struct{}](maxSize, nil, ttl),
	}
}

// CheckAndMark reports whether key was already seen and marks it otherwise.
// The check and the mark happen under one lock so two concurrent deliveries of the
// same event cannot both pass.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.seen.Get(key); ok {
		return true
	}
	c.seen.Add(key, struct{}{})
	return false
}

// Len returns the number of remembered keys, including ones not yet purged.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seen.Len()
}
