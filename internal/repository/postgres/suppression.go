package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/keiracom/agency-os/internal/domain"
)

// SuppressionRepo persists "must not contact" entries. Nothing here
// deletes rows; a permanent entry may replace an expiring one for the
// same value, never the other way around.
type SuppressionRepo struct{ db *sql.DB }

const suppressionCols = `
	id, COALESCE(client_id::text, ''), scope, value, reason, source,
	customer_id, expires_at, created_at`

func scanSuppression(row interface{ Scan(...any) error }) (*domain.SuppressionEntry, error) {
	e := &domain.SuppressionEntry{}
	err := row.Scan(&e.ID, &e.ClientID, &e.Scope, &e.Value, &e.Reason,
		&e.Source, &e.CustomerID, &e.ExpiresAt, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Add inserts an entry. A duplicate (client, value) pair only takes
// effect when the new entry is permanent and the existing one expires:
// an unsubscribe arriving during a cooling-off window must outlive it.
// Returns true when a row was written.
func (r *SuppressionRepo) Add(ctx context.Context, e *domain.SuppressionEntry) (bool, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.Value = strings.ToLower(strings.TrimSpace(e.Value))
	var clientID any
	if e.ClientID != "" {
		clientID = e.ClientID
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO suppressions
			(id, client_id, scope, value, reason, source, customer_id, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (COALESCE(client_id, '00000000-0000-0000-0000-000000000000'::uuid), LOWER(value))
		DO UPDATE SET reason = EXCLUDED.reason, source = EXCLUDED.source, expires_at = NULL
		WHERE suppressions.expires_at IS NOT NULL AND EXCLUDED.expires_at IS NULL
	`, e.ID, clientID, e.Scope, e.Value, e.Reason, e.Source, e.CustomerID, e.ExpiresAt)
	if err != nil {
		return false, fmt.Errorf("add suppression: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Match returns every live entry that covers the email for this tenant:
// tenant-scoped and global rows, on the exact address or its domain.
// Expired cooling-off entries do not match.
func (r *SuppressionRepo) Match(ctx context.Context, clientID, email string) ([]domain.SuppressionEntry, error) {
	email = domain.NormalizeEmail(email)
	dom := domain.DomainOfEmail(email)

	rows, err := r.db.QueryContext(ctx, `
		SELECT`+suppressionCols+` FROM suppressions
		WHERE (client_id = $1 OR client_id IS NULL)
		  AND ((scope = 'email' AND LOWER(value) = $2)
		    OR (scope = 'domain' AND LOWER(value) = $3))
		  AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY created_at
	`, clientID, email, dom)
	if err != nil {
		return nil, fmt.Errorf("match suppressions: %w", err)
	}
	defer rows.Close()

	var out []domain.SuppressionEntry
	for rows.Next() {
		e, err := scanSuppression(rows)
		if err != nil {
			return nil, fmt.Errorf("scan suppression: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// BulkAdd inserts a batch of entries in one transaction, skipping
// duplicates. Returns how many new rows were written.
func (r *SuppressionRepo) BulkAdd(ctx context.Context, entries []domain.SuppressionEntry) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	added := 0
	for i := range entries {
		e := &entries[i]
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		e.Value = strings.ToLower(strings.TrimSpace(e.Value))
		var clientID any
		if e.ClientID != "" {
			clientID = e.ClientID
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO suppressions
				(id, client_id, scope, value, reason, source, customer_id, expires_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			ON CONFLICT (COALESCE(client_id, '00000000-0000-0000-0000-000000000000'::uuid), LOWER(value))
			DO UPDATE SET reason = EXCLUDED.reason, source = EXCLUDED.source, expires_at = NULL
			WHERE suppressions.expires_at IS NOT NULL AND EXCLUDED.expires_at IS NULL
		`, e.ID, clientID, e.Scope, e.Value, e.Reason, e.Source, e.CustomerID, e.ExpiresAt)
		if err != nil {
			return 0, fmt.Errorf("bulk add entry %d: %w", i, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return added, nil
}

// AllValues streams every live suppressed value for a tenant (plus
// globals) into fn. The bloom filter warm-up uses this.
func (r *SuppressionRepo) AllValues(ctx context.Context, clientID string, fn func(scope domain.SuppressionScope, value string) error) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT scope, LOWER(value) FROM suppressions
		WHERE (client_id = $1 OR client_id IS NULL)
		  AND (expires_at IS NULL OR expires_at > NOW())
	`, clientID)
	if err != nil {
		return fmt.Errorf("all suppression values: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var scope domain.SuppressionScope
		var value string
		if err := rows.Scan(&scope, &value); err != nil {
			return fmt.Errorf("scan value: %w", err)
		}
		if err := fn(scope, value); err != nil {
			return err
		}
	}
	return rows.Err()
}

// CoolingOffUntil returns the latest cooling-off expiry covering the
// email, if any. Used to explain skip decisions.
func (r *SuppressionRepo) CoolingOffUntil(ctx context.Context, clientID, email string) (*time.Time, error) {
	var until *time.Time
	err := r.db.QueryRowContext(ctx, `
		SELECT MAX(expires_at) FROM suppressions
		WHERE (client_id = $1 OR client_id IS NULL)
		  AND reason = 'cooling_off'
		  AND scope = 'email' AND LOWER(value) = $2
		  AND expires_at > NOW()
	`, clientID, domain.NormalizeEmail(email)).Scan(&until)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("cooling off until: %w", err)
	}
	return until, nil
}
