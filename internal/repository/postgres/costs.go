package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnrichmentCostRepo tracks enrichment spend per client so the daily
// budget circuit can trip before the bill does.
type EnrichmentCostRepo struct{ db *sql.DB }

// Record logs one provider call's cost.
func (r *EnrichmentCostRepo) Record(ctx context.Context, clientID, provider string, costAUD float64, credits int) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO enrichment_costs (id, client_id, provider, cost_aud, credits)
		VALUES ($1,$2,$3,$4,$5)
	`, uuid.New().String(), clientID, provider, costAUD, credits)
	if err != nil {
		return fmt.Errorf("record enrichment cost: %w", err)
	}
	return nil
}

// SpentToday returns a client's enrichment spend for the UTC day.
func (r *EnrichmentCostRepo) SpentToday(ctx context.Context, clientID string, now time.Time) (float64, error) {
	var spent float64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(cost_aud), 0) FROM enrichment_costs
		WHERE client_id = $1
		  AND spent_at >= $2::date AND spent_at < $2::date + INTERVAL '1 day'
	`, clientID, now.UTC().Format("2006-01-02")).Scan(&spent)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("spent today: %w", err)
	}
	return spent, nil
}

// SpendByProvider breaks a client's spend down per provider for a
// window; the dashboard renders this.
func (r *EnrichmentCostRepo) SpendByProvider(ctx context.Context, clientID string, since time.Time) (map[string]float64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT provider, COALESCE(SUM(cost_aud), 0)
		FROM enrichment_costs
		WHERE client_id = $1 AND spent_at >= $2
		GROUP BY provider
	`, clientID, since)
	if err != nil {
		return nil, fmt.Errorf("spend by provider: %w", err)
	}
	defer rows.Close()

	out := map[string]float64{}
	for rows.Next() {
		var provider string
		var spent float64
		if err := rows.Scan(&provider, &spent); err != nil {
			return nil, fmt.Errorf("scan spend: %w", err)
		}
		out[provider] = spent
	}
	return out, rows.Err()
}
