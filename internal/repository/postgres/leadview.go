package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/errs"
)

// LeadViewRepo persists tenant-scoped lead state.
type LeadViewRepo struct{ db *sql.DB }

const leadViewCols = `
	id, client_id, pool_lead_id, assignment_id, campaign_id,
	als_score, als_tier, score_data_quality, score_authority,
	score_company_fit, score_timing, score_risk, score_linkedin_boost,
	score_buyer_bonus, status, sequence_position, next_scheduled_at,
	created_at, updated_at`

func scanLeadView(row interface{ Scan(...any) error }) (*domain.LeadView, error) {
	v := &domain.LeadView{}
	err := row.Scan(
		&v.ID, &v.ClientID, &v.PoolLeadID, &v.AssignmentID, &v.CampaignID,
		&v.Score, &v.ScoreTier, &v.Components.DataQuality,
		&v.Components.Authority, &v.Components.CompanyFit,
		&v.Components.Timing, &v.Components.Risk,
		&v.Components.LinkedInBoost, &v.Components.BuyerBonus,
		&v.Status, &v.SequencePosition, &v.NextScheduledAt,
		&v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (r *LeadViewRepo) Create(ctx context.Context, v *domain.LeadView) (string, error) {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.Status == "" {
		v.Status = domain.LeadNew
	}
	if v.ScoreTier == "" {
		v.ScoreTier = domain.TierDead
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO lead_views
			(id, client_id, pool_lead_id, assignment_id, campaign_id,
			 als_score, als_tier, status, sequence_position, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW(),NOW())
	`, v.ID, v.ClientID, v.PoolLeadID, v.AssignmentID, v.CampaignID,
		v.Score, v.ScoreTier, v.Status, v.SequencePosition)
	if err != nil {
		return "", fmt.Errorf("create lead view: %w", err)
	}
	return v.ID, nil
}

func (r *LeadViewRepo) Get(ctx context.Context, clientID, id string) (*domain.LeadView, error) {
	v, err := scanLeadView(r.db.QueryRowContext(ctx,
		`SELECT`+leadViewCols+` FROM lead_views WHERE id = $1 AND client_id = $2`, id, clientID))
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotFound, "leadview.not_found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get lead view: %w", err)
	}
	return v, nil
}

func (r *LeadViewRepo) GetByLead(ctx context.Context, clientID, poolLeadID string) (*domain.LeadView, error) {
	v, err := scanLeadView(r.db.QueryRowContext(ctx,
		`SELECT`+leadViewCols+` FROM lead_views WHERE client_id = $1 AND pool_lead_id = $2`,
		clientID, poolLeadID))
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotFound, "leadview.not_found", poolLeadID)
	}
	if err != nil {
		return nil, fmt.Errorf("get lead view by lead: %w", err)
	}
	return v, nil
}

// ListFilter controls pagination and filtering for the lead list API.
type ListFilter struct {
	CampaignID string
	Tier       string
	Status     string
	Limit      int
	Offset     int
}

func (r *LeadViewRepo) List(ctx context.Context, clientID string, f ListFilter) ([]domain.LeadView, int, error) {
	where := " WHERE client_id = $1"
	args := []any{clientID}
	idx := 2
	if f.CampaignID != "" {
		where += fmt.Sprintf(" AND campaign_id = $%d", idx)
		args = append(args, f.CampaignID)
		idx++
	}
	if f.Tier != "" {
		where += fmt.Sprintf(" AND als_tier = $%d", idx)
		args = append(args, f.Tier)
		idx++
	}
	if f.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM lead_views`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count lead views: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT` + leadViewCols + ` FROM lead_views` + where +
		fmt.Sprintf(" ORDER BY als_score DESC, created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list lead views: %w", err)
	}
	defer rows.Close()

	var out []domain.LeadView
	for rows.Next() {
		v, err := scanLeadView(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan lead view: %w", err)
		}
		out = append(out, *v)
	}
	return out, total, rows.Err()
}

// SaveScore writes the ALS result and advances status to scored.
func (r *LeadViewRepo) SaveScore(ctx context.Context, id string, score int, tier domain.Tier, c domain.ScoreComponents) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE lead_views SET
			als_score = $2, als_tier = $3,
			score_data_quality = $4, score_authority = $5,
			score_company_fit = $6, score_timing = $7, score_risk = $8,
			score_linkedin_boost = $9, score_buyer_bonus = $10,
			status = CASE WHEN status IN ('new','enriched') THEN 'scored' ELSE status END,
			updated_at = NOW()
		WHERE id = $1
	`, id, score, tier, c.DataQuality, c.Authority, c.CompanyFit,
		c.Timing, c.Risk, c.LinkedInBoost, c.BuyerBonus)
	if err != nil {
		return fmt.Errorf("save score: %w", err)
	}
	return nil
}

// SetStatus transitions the lead's sequencing status. Terminal states
// never move again.
func (r *LeadViewRepo) SetStatus(ctx context.Context, clientID, poolLeadID string, status domain.LeadStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE lead_views SET status = $3, updated_at = NOW()
		WHERE client_id = $1 AND pool_lead_id = $2
		  AND status NOT IN ('converted','unsubscribed','bounced','dead')
	`, clientID, poolLeadID, status)
	if err != nil {
		return fmt.Errorf("set lead status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.New(errs.NotFound, "leadview.not_mutable", poolLeadID)
	}
	return nil
}

// AdvanceSequence bumps the sequence cursor after a durable send.
func (r *LeadViewRepo) AdvanceSequence(ctx context.Context, clientID, poolLeadID string, position int, next *time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE lead_views SET sequence_position = $3, next_scheduled_at = $4, updated_at = NOW()
		WHERE client_id = $1 AND pool_lead_id = $2
	`, clientID, poolLeadID, position, next)
	if err != nil {
		return fmt.Errorf("advance sequence: %w", err)
	}
	return nil
}
