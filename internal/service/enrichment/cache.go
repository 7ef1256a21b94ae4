package enrichment

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/keiracom/agency-os/internal/domain"
)

// Cache is the versioned enrichment cache. Bumping the version prefix
// invalidates every entry without deleting anything.
type Cache struct {
	rdb     *redis.Client
	version string
	ttl     time.Duration
}

// NewCache wraps a Redis client with the configured version and TTL.
func NewCache(rdb *redis.Client, version string, ttlDays int) *Cache {
	if version == "" {
		version = "v1"
	}
	if ttlDays <= 0 {
		ttlDays = 90
	}
	return &Cache{rdb: rdb, version: version, ttl: time.Duration(ttlDays) * 24 * time.Hour}
}

// Key derives the cache key for a query: enrich:{version}:{md5 of the
// normalized input}.
func (c *Cache) Key(q Query) string {
	input := domain.NormalizeEmail(q.Email) + "|" + q.Domain + "|" + q.LinkedInURL
	sum := md5.Sum([]byte(input))
	return fmt.Sprintf("enrich:%s:%s", c.version, hex.EncodeToString(sum[:]))
}

// Get returns the cached lead for a query, or nil on miss. Partial
// entries are returned as-is; the caller decides whether to upgrade.
func (c *Cache) Get(ctx context.Context, q Query) (*domain.PoolLead, error) {
	raw, err := c.rdb.Get(ctx, c.Key(q)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}
	var lead domain.PoolLead
	if err := json.Unmarshal(raw, &lead); err != nil {
		return nil, fmt.Errorf("cache decode: %w", err)
	}
	return &lead, nil
}

// Put stores a normalized lead under the query's versioned key.
func (c *Cache) Put(ctx context.Context, q Query, lead *domain.PoolLead) error {
	raw, err := json.Marshal(lead)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	if err := c.rdb.Set(ctx, c.Key(q), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}
