package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/kjstillabower/crop-advisor/internal/models"
)

const keyPrefix = "geocode:"

// maxRelativeExp is the largest expiration memcached treats as relative.
const maxRelativeExp = 30 * 24 * 60 * 60

// MemcachedCache implements Cache using memcached, so several instances
// share one set of geocoding results.
type MemcachedCache struct {
	client *memcache.Client
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated
// list such as "host1:11211,host2:11211". Zero timeout or maxIdleConns keep
// the client defaults.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{client: client}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// key hashes k: city names may hold spaces or exceed memcached's 250-byte
// key limit.
func (c *MemcachedCache) key(k string) string {
	sum := sha256.Sum256([]byte(k))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// Get implements Cache.Get. A miss is (zero, false, nil).
func (c *MemcachedCache) Get(ctx context.Context, key string) (models.Location, bool, error) {
	if ctx.Err() != nil {
		return models.Location{}, false, ctx.Err()
	}
	item, err := c.client.Get(c.key(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return models.Location{}, false, nil
		}
		return models.Location{}, false, err
	}
	var loc models.Location
	if err := json.Unmarshal(item.Value, &loc); err != nil {
		return models.Location{}, false, err
	}
	return loc, true, nil
}

// Set implements Cache.Set.
func (c *MemcachedCache) Set(ctx context.Context, key string, value models.Location, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(&memcache.Item{
		Key:        c.key(key),
		Value:      raw,
		Expiration: expiration(ttl),
	})
}

// expiration converts ttl to memcached seconds, clamping to the relative
// range. Out-of-range values fall back to one day.
func expiration(ttl time.Duration) int32 {
	sec := int64(ttl / time.Second)
	if sec <= 0 || sec > maxRelativeExp {
		return 24 * 60 * 60
	}
	return int32(sec)
}

// Ping checks that memcached is reachable. Used by /health.
func (c *MemcachedCache) Ping() error {
	return c.client.Ping()
}

// Close releases idle connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}
