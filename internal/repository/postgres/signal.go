package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/errs"
)

// BuyerSignalRepo persists the anonymized cross-tenant buyer ledger keyed
// by company domain. No client or lead identity is ever stored here.
type BuyerSignalRepo struct{ db *sql.DB }

// RecordPurchase folds one conversion into the domain's aggregate. The
// buyer score saturates with repeat purchases.
func (r *BuyerSignalRepo) RecordPurchase(ctx context.Context, dom string, value float64, service string) error {
	dom = strings.ToLower(strings.TrimSpace(dom))
	if dom == "" {
		return errs.New(errs.Validation, "signal.empty_domain", "")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO buyer_signals (domain, times_bought, avg_value, services_bought, buyer_score, updated_at)
		VALUES ($1, 1, $2, $3, 40, NOW())
		ON CONFLICT (domain) DO UPDATE SET
			times_bought = buyer_signals.times_bought + 1,
			avg_value = (buyer_signals.avg_value * buyer_signals.times_bought + EXCLUDED.avg_value)
			            / (buyer_signals.times_bought + 1),
			services_bought = (
				SELECT ARRAY(SELECT DISTINCT unnest(buyer_signals.services_bought || EXCLUDED.services_bought))
			),
			buyer_score = LEAST(100, 40 + (buyer_signals.times_bought) * 20),
			updated_at = NOW()
	`, dom, value, pq.Array([]string{service}))
	if err != nil {
		return fmt.Errorf("record purchase: %w", err)
	}
	return nil
}

// Get returns the signal for a domain, or NotFound.
func (r *BuyerSignalRepo) Get(ctx context.Context, dom string) (*domain.BuyerSignal, error) {
	s := &domain.BuyerSignal{}
	err := r.db.QueryRowContext(ctx, `
		SELECT domain, times_bought, avg_value, services_bought, buyer_score, updated_at
		FROM buyer_signals WHERE domain = $1
	`, strings.ToLower(dom)).Scan(&s.Domain, &s.TimesBought, &s.AvgValue,
		pq.Array(&s.ServicesBought), &s.BuyerScore, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotFound, "signal.not_found", dom)
	}
	if err != nil {
		return nil, fmt.Errorf("get buyer signal: %w", err)
	}
	return s, nil
}

// Scores returns buyer scores for a set of domains in one round trip,
// used at scoring time. Missing domains simply do not appear.
func (r *BuyerSignalRepo) Scores(ctx context.Context, domains []string) (map[string]int, error) {
	if len(domains) == 0 {
		return map[string]int{}, nil
	}
	lowered := make([]string, len(domains))
	for i, d := range domains {
		lowered[i] = strings.ToLower(d)
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT domain, buyer_score FROM buyer_signals WHERE domain = ANY($1)`,
		pq.Array(lowered))
	if err != nil {
		return nil, fmt.Errorf("buyer scores: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int, len(domains))
	for rows.Next() {
		var d string
		var score int
		if err := rows.Scan(&d, &score); err != nil {
			return nil, fmt.Errorf("scan buyer score: %w", err)
		}
		out[d] = score
	}
	return out, rows.Err()
}
