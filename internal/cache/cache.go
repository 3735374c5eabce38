package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/kjstillabower/crop-advisor/internal/models"
)

// Cache stores geocoded locations keyed by normalized city query.
// Get reports a miss for absent or expired entries.
type Cache interface {
	Get(ctx context.Context, key string) (models.Location, bool, error)
	Set(ctx context.Context, key string, value models.Location, ttl time.Duration) error
}

// Key normalizes a city query so "Nairobi" and " nairobi " share an entry.
func Key(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

// InMemoryCache implements Cache with a mutex-guarded map. Expired entries
// are dropped on access.
type InMemoryCache struct {
	mu   sync.Mutex
	data map[string]cacheEntry
	now  func() time.Time
}

type cacheEntry struct {
	value     models.Location
	expiresAt time.Time
}

func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
		now:  time.Now,
	}
}

// Get returns (loc, true, nil) on a hit and (zero, false, nil) on a miss.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.Location, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return models.Location{}, false, nil
	}
	if c.now().After(entry.expiresAt) {
		delete(c.data, key)
		return models.Location{}, false, nil
	}
	return entry.value, true, nil
}

// Set stores value until ttl elapses.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.Location, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = cacheEntry{
		value:     value,
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}
