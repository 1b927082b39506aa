package network

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Default network message cache settings.
const (
	DefaultCacheSize = 256
	DefaultCacheTTL  = 30 * time.Second
)

// Cache remembers recently received network PDUs so that relayed copies
// are processed once.
type Cache struct {
	lru *expirable.LRU[string, struct{}]
}

// NewCache creates a cache of size entries that expire after ttl.
func NewCache(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{lru: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

// Seen reports whether pdu was already received, recording it otherwise.
func (c *Cache) Seen(pdu []byte) bool {
	key := string(pdu)
	if c.lru.Contains(key) {
		return true
	}
	c.lru.Add(key, struct{}{})
	return false
}

func (c *Cache) Len() int { return c.lru.Len() }

func (c *Cache) Purge() { c.lru.Purge() }
