// Package distlock provides distributed leases for touch claims and
// singleton background jobs. Redis is the preferred backend (cross-host,
// TTL-expiring); PostgreSQL advisory locks are the fallback so a worker
// deployment without Redis still serialises correctly.
package distlock

import (
	"context"
	"database/sql"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lease is a single-owner lock with a bounded lifetime. A Lease instance
// must not be shared across goroutines; each claimant creates its own.
type Lease interface {
	// Acquire tries to take the lease. Returns true on success.
	Acquire(ctx context.Context) (bool, error)
	// Release gives the lease back if this instance still owns it.
	Release(ctx context.Context) error
}

// New creates a lease using the best available backend.
func New(redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) Lease {
	if redisClient != nil {
		return NewRedisLease(redisClient, key, ttl)
	}
	return NewAdvisoryLease(db, key)
}

// AdvisoryLease implements Lease on pg_try_advisory_lock. The lock is
// session-scoped: a dropped connection releases it, which mirrors Redis
// TTL expiry for crash safety.
type AdvisoryLease struct {
	db     *sql.DB
	lockID int64
}

// NewAdvisoryLease derives a deterministic advisory lock ID from key.
func NewAdvisoryLease(db *sql.DB, key string) *AdvisoryLease {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &AdvisoryLease{db: db, lockID: int64(h.Sum64())}
}

// Acquire tries the advisory lock without blocking.
func (l *AdvisoryLease) Acquire(ctx context.Context) (bool, error) {
	var ok bool
	err := l.db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&ok)
	return ok, err
}

// Release unlocks the advisory lock.
func (l *AdvisoryLease) Release(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}
