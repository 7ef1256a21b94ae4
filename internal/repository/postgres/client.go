package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/errs"
)

// ClientRepo persists tenants.
type ClientRepo struct{ db *sql.DB }

func (r *ClientRepo) Get(ctx context.Context, id string) (*domain.Client, error) {
	c := &domain.Client{}
	var caps, weights []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, tier, subscription_status, credits_remaining,
		       permission_mode, daily_channel_caps, score_weights,
		       monthly_enhanced_budget, daily_enrich_budget_aud,
		       attribution_window_days, timezone, target_industries,
		       target_countries, target_employee_min, target_employee_max,
		       outbound_webhook_url, outbound_webhook_secret,
		       created_at, updated_at
		FROM clients WHERE id = $1
	`, id).Scan(
		&c.ID, &c.Name, &c.Tier, &c.SubscriptionStatus, &c.CreditsRemaining,
		&c.PermissionMode, &caps, &weights,
		&c.MonthlyEnhancedBudget, &c.DailyEnrichBudgetAUD,
		&c.AttributionWindowDays, &c.Timezone,
		pq.Array(&c.TargetIndustries), pq.Array(&c.TargetCountries),
		&c.TargetEmployeeMin, &c.TargetEmployeeMax,
		&c.OutboundWebhookURL, &c.OutboundWebhookSecret,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotFound, "client.not_found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get client: %w", err)
	}
	if len(caps) > 0 {
		json.Unmarshal(caps, &c.DailyChannelCaps)
	}
	if len(weights) > 0 {
		c.ScoreWeights = &domain.ScoreWeights{}
		json.Unmarshal(weights, c.ScoreWeights)
	}
	return c, nil
}

func (r *ClientRepo) Create(ctx context.Context, c *domain.Client) (string, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	caps, _ := json.Marshal(c.DailyChannelCaps)
	var weights any
	if c.ScoreWeights != nil {
		weights, _ = json.Marshal(c.ScoreWeights)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO clients
			(id, name, tier, subscription_status, credits_remaining,
			 permission_mode, daily_channel_caps, score_weights,
			 monthly_enhanced_budget, daily_enrich_budget_aud,
			 attribution_window_days, timezone, target_industries,
			 target_countries, target_employee_min, target_employee_max,
			 outbound_webhook_url, outbound_webhook_secret,
			 created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,NOW(),NOW())
	`, c.ID, c.Name, c.Tier, c.SubscriptionStatus, c.CreditsRemaining,
		c.PermissionMode, caps, weights,
		c.MonthlyEnhancedBudget, c.DailyEnrichBudgetAUD,
		c.AttributionWindowDays, c.Timezone,
		pq.Array(c.TargetIndustries), pq.Array(c.TargetCountries),
		c.TargetEmployeeMin, c.TargetEmployeeMax,
		c.OutboundWebhookURL, c.OutboundWebhookSecret)
	if err != nil {
		return "", fmt.Errorf("create client: %w", err)
	}
	return c.ID, nil
}

// SetSubscriptionStatus updates billing state; the release worker reacts
// to cancellations.
func (r *ClientRepo) SetSubscriptionStatus(ctx context.Context, id string, status domain.SubscriptionStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE clients SET subscription_status = $2, updated_at = NOW() WHERE id = $1`,
		id, status)
	if err != nil {
		return fmt.Errorf("set subscription status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.New(errs.NotFound, "client.not_found", id)
	}
	return nil
}

// ConsumeCredit decrements credits_remaining, refusing at zero.
func (r *ClientRepo) ConsumeCredit(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE clients SET credits_remaining = credits_remaining - 1, updated_at = NOW()
		WHERE id = $1 AND credits_remaining > 0
	`, id)
	if err != nil {
		return fmt.Errorf("consume credit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.New(errs.BudgetExhausted, "client.no_credits", id)
	}
	return nil
}

// CancelledWithActiveAssignments lists tenants whose subscription is
// cancelled but still hold active assignments.
func (r *ClientRepo) CancelledWithActiveAssignments(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT c.id
		FROM clients c
		JOIN assignments a ON a.client_id = c.id AND a.state = 'active'
		WHERE c.subscription_status = 'cancelled'
	`)
	if err != nil {
		return nil, fmt.Errorf("cancelled clients: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// EnhancedUsed returns the enhanced-content counter for a month (format
// "2006-01").
func (r *ClientRepo) EnhancedUsed(ctx context.Context, clientID, month string) (int, error) {
	var used int
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(used, 0) FROM enhanced_usage WHERE client_id = $1 AND month = $2`,
		clientID, month).Scan(&used)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("enhanced used: %w", err)
	}
	return used, nil
}

// IncrementEnhanced bumps the monthly enhanced-content counter.
func (r *ClientRepo) IncrementEnhanced(ctx context.Context, clientID, month string, n int) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO enhanced_usage (client_id, month, used)
		VALUES ($1, $2, $3)
		ON CONFLICT (client_id, month) DO UPDATE SET used = enhanced_usage.used + $3
	`, clientID, month, n)
	if err != nil {
		return fmt.Errorf("increment enhanced: %w", err)
	}
	return nil
}
