package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/keiracom/agency-os/internal/domain"
)

// RateLimitRepo is the durable mirror of the Redis send counters. The
// fast path lives in Redis; this table survives a Redis flush so the
// safety-net sweep can rebuild or cross-check counts.
type RateLimitRepo struct{ db *sql.DB }

// Increment bumps the (channel, resource, day) counter and reports the
// new value. It never rejects; the Redis limiter is the gate and this is
// the ledger.
func (r *RateLimitRepo) Increment(ctx context.Context, channel domain.Channel, resource string, day time.Time) (int, error) {
	var used int
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO rate_limit_counters (channel, resource, day, used)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (channel, resource, day) DO UPDATE
			SET used = rate_limit_counters.used + 1
		RETURNING used
	`, channel, resource, day.UTC().Format("2006-01-02")).Scan(&used)
	if err != nil {
		return 0, fmt.Errorf("increment rate counter: %w", err)
	}
	return used, nil
}

// Used returns the counter for (channel, resource, day); zero when the
// row does not exist yet.
func (r *RateLimitRepo) Used(ctx context.Context, channel domain.Channel, resource string, day time.Time) (int, error) {
	var used int
	err := r.db.QueryRowContext(ctx, `
		SELECT used FROM rate_limit_counters
		WHERE channel = $1 AND resource = $2 AND day = $3
	`, channel, resource, day.UTC().Format("2006-01-02")).Scan(&used)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("rate counter used: %w", err)
	}
	return used, nil
}

// UsageForDay returns every counter for a day, keyed channel:resource.
// The dashboard and the sweep's cross-check consume this.
func (r *RateLimitRepo) UsageForDay(ctx context.Context, day time.Time) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT channel, resource, used FROM rate_limit_counters WHERE day = $1
	`, day.UTC().Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("usage for day: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var channel, resource string
		var used int
		if err := rows.Scan(&channel, &resource, &used); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		out[channel+":"+resource] = used
	}
	return out, rows.Err()
}

// PurgeBefore drops counters older than the cutoff day.
func (r *RateLimitRepo) PurgeBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM rate_limit_counters WHERE day < $1`,
		cutoff.UTC().Format("2006-01-02"))
	if err != nil {
		return 0, fmt.Errorf("purge rate counters: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
