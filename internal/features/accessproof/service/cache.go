package service

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"cid-escrow-backend/internal/features/accessproof/models"
)

const (
	DefaultCacheTTL  = 30 * time.Second
	DefaultCacheSize = 10_000
)

// Cache remembers successful verifications per wallet, collection and
// credential for a bounded time. It lives only in process memory.
type Cache struct {
	entries *lru.Cache[string, models.CacheEntry]

	mu  sync.RWMutex
	ttl time.Duration
}

func NewCache(size int, ttl time.Duration) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	entries, err := lru.New[string, models.CacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &Cache{entries: entries, ttl: ttl}, nil
}

func cacheKey(walletAddress, collectionID, credentialID string) string {
	return walletAddress + ":" + collectionID + ":" + credentialID
}

// Get returns a live entry. Expired entries are dropped on read.
func (c *Cache) Get(walletAddress, collectionID, credentialID string, now time.Time) (models.CacheEntry, bool) {
	key := cacheKey(walletAddress, collectionID, credentialID)
	entry, ok := c.entries.Get(key)
	if !ok {
		return models.CacheEntry{}, false
	}
	if !now.Before(entry.ExpiresAt) {
		c.entries.Remove(key)
		return models.CacheEntry{}, false
	}
	return entry, true
}

// PutValid records a successful verification at now.
func (c *Cache) PutValid(walletAddress, collectionID, credentialID string, now time.Time) {
	c.entries.Add(cacheKey(walletAddress, collectionID, credentialID), models.CacheEntry{
		Valid:     true,
		ExpiresAt: now.Add(c.TTL()),
	})
}

func (c *Cache) Clear() {
	c.entries.Purge()
}

func (c *Cache) Len() int {
	return c.entries.Len()
}

func (c *Cache) TTL() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ttl
}

// SetTTL changes the lifetime of entries written from now on.
func (c *Cache) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.ttl = ttl
	c.mu.Unlock()
}
