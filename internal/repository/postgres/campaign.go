package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/errs"
)

// CampaignRepo persists campaigns and their sequence templates.
type CampaignRepo struct{ db *sql.DB }

func (r *CampaignRepo) Get(ctx context.Context, clientID, id string) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	var alloc []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, client_id, name, status, allocation_pct, daily_cap,
		       permission_mode, cancelled, created_at, updated_at
		FROM campaigns WHERE id = $1 AND client_id = $2
	`, id, clientID).Scan(
		&c.ID, &c.ClientID, &c.Name, &c.Status, &alloc, &c.DailyCap,
		&c.PermissionMode, &c.Cancelled, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotFound, "campaign.not_found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	if len(alloc) > 0 {
		json.Unmarshal(alloc, &c.AllocationPct)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT channel, offset_days, template_ref
		FROM campaign_steps WHERE campaign_id = $1 ORDER BY position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("get campaign steps: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var s domain.SequenceStep
		if err := rows.Scan(&s.Channel, &s.OffsetDays, &s.TemplateRef); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		c.Sequence = append(c.Sequence, s)
	}
	return c, rows.Err()
}

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) (string, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = domain.CampaignDraft
	}
	alloc, _ := json.Marshal(c.AllocationPct)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO campaigns
			(id, client_id, name, status, allocation_pct, daily_cap,
			 permission_mode, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,NOW(),NOW())
	`, c.ID, c.ClientID, c.Name, c.Status, alloc, c.DailyCap, c.PermissionMode)
	if err != nil {
		return "", fmt.Errorf("create campaign: %w", err)
	}

	for i, s := range c.Sequence {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO campaign_steps (campaign_id, position, channel, offset_days, template_ref)
			VALUES ($1,$2,$3,$4,$5)
		`, c.ID, i, s.Channel, s.OffsetDays, s.TemplateRef)
		if err != nil {
			return "", fmt.Errorf("create step %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return c.ID, nil
}

// SetStatus transitions campaign status; pausing also raises the
// cancellation flag observed by dispatch workers.
func (r *CampaignRepo) SetStatus(ctx context.Context, clientID, id string, status domain.CampaignStatus) error {
	cancelled := status == domain.CampaignPaused
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET status = $3, cancelled = $4, updated_at = NOW()
		WHERE id = $1 AND client_id = $2
	`, id, clientID, status, cancelled)
	if err != nil {
		return fmt.Errorf("set campaign status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.New(errs.NotFound, "campaign.not_found", id)
	}
	return nil
}

// IsCancelled reads the cancellation flag; workers call this at yield
// points.
func (r *CampaignRepo) IsCancelled(ctx context.Context, id string) (bool, error) {
	var cancelled bool
	err := r.db.QueryRowContext(ctx,
		`SELECT cancelled FROM campaigns WHERE id = $1`, id).Scan(&cancelled)
	if err == sql.ErrNoRows {
		return true, nil // a deleted campaign cancels its touches
	}
	if err != nil {
		return false, fmt.Errorf("is cancelled: %w", err)
	}
	return cancelled, nil
}

func (r *CampaignRepo) List(ctx context.Context, clientID string) ([]domain.Campaign, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, client_id, name, status, allocation_pct, daily_cap,
		       permission_mode, cancelled, created_at, updated_at
		FROM campaigns WHERE client_id = $1 ORDER BY created_at DESC
	`, clientID)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		var c domain.Campaign
		var alloc []byte
		if err := rows.Scan(&c.ID, &c.ClientID, &c.Name, &c.Status, &alloc,
			&c.DailyCap, &c.PermissionMode, &c.Cancelled, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		if len(alloc) > 0 {
			json.Unmarshal(alloc, &c.AllocationPct)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
