// Package postgres implements the Agency OS store against PostgreSQL.
//
// All cross-worker coordination goes through this store: the touch queue,
// assignment exclusivity, rate-limit mirrors, and webhook dedup all live
// in one schema so multiple worker processes can run against it safely.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/keiracom/agency-os/internal/errs"
)

// Store bundles the repositories over one connection pool.
type Store struct {
	db *sql.DB

	Clients      *ClientRepo
	PoolLeads    *PoolLeadRepo
	Assignments  *AssignmentRepo
	LeadViews    *LeadViewRepo
	Campaigns    *CampaignRepo
	Activities   *ActivityRepo
	Threads      *ThreadRepo
	Suppressions *SuppressionRepo
	Patterns     *PatternRepo
	Signals      *BuyerSignalRepo
	Queue        *TouchQueueRepo
	RateLimits   *RateLimitRepo
	Webhooks     *WebhookEventRepo
	Costs        *EnrichmentCostRepo
	Reports      *ReportsRepo
}

// Open connects to Postgres and returns a Store with a tuned pool.
func Open(dsn string, maxOpen, maxIdle int) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if maxOpen <= 0 {
		maxOpen = 50
	}
	if maxIdle <= 0 {
		maxIdle = 10
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return New(db), nil
}

// New wraps an existing connection pool. Used by tests with sqlmock.
func New(db *sql.DB) *Store {
	return &Store{
		db:           db,
		Clients:      &ClientRepo{db: db},
		PoolLeads:    &PoolLeadRepo{db: db},
		Assignments:  &AssignmentRepo{db: db},
		LeadViews:    &LeadViewRepo{db: db},
		Campaigns:    &CampaignRepo{db: db},
		Activities:   &ActivityRepo{db: db},
		Threads:      &ThreadRepo{db: db},
		Suppressions: &SuppressionRepo{db: db},
		Patterns:     &PatternRepo{db: db},
		Signals:      &BuyerSignalRepo{db: db},
		Queue:        &TouchQueueRepo{db: db},
		RateLimits:   &RateLimitRepo{db: db},
		Webhooks:     &WebhookEventRepo{db: db},
		Costs:        &EnrichmentCostRepo{db: db},
		Reports:      &ReportsRepo{db: db},
	}
}

// DB exposes the underlying pool for advisory locks and health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// serializable runs fn inside a SERIALIZABLE transaction, retrying up to
// three times on serialisation conflicts (SQLSTATE 40001).
func serializable(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	const maxAttempts = 3
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			if isSerializationFailure(err) {
				lastErr = err
				continue
			}
			return err
		}
		if err := tx.Commit(); err != nil {
			if isSerializationFailure(err) {
				lastErr = err
				continue
			}
			return fmt.Errorf("commit: %w", err)
		}
		return nil
	}
	return errs.Wrap(errs.Consistency, "store.serialization_retries_exhausted", lastErr)
}

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if asPQError(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if asPQError(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func isCheckViolation(err error) bool {
	var pqErr *pq.Error
	if asPQError(err, &pqErr) {
		return pqErr.Code == "23514"
	}
	return false
}

func asPQError(err error, target **pq.Error) bool {
	for err != nil {
		if pe, ok := err.(*pq.Error); ok {
			*target = pe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// OperationResult records the outcome of an idempotent operation keyed by
// a client-supplied operation key.
func (s *Store) OperationResult(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT result FROM operation_keys WHERE operation_key = $1`, key,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("operation result: %w", err)
	}
	return raw, true, nil
}

// SaveOperationResult stores the result for an operation key; the first
// writer wins and duplicates are ignored.
func (s *Store) SaveOperationResult(ctx context.Context, key string, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal operation result: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO operation_keys (operation_key, result)
		VALUES ($1, $2)
		ON CONFLICT (operation_key) DO NOTHING
	`, key, raw)
	if err != nil {
		return fmt.Errorf("save operation result: %w", err)
	}
	return nil
}
