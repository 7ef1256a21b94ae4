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

// TouchQueueRepo is the durable dispatch queue. Touches move
// pending -> claimed -> sent|skipped, with cancelled and dead_letter as
// the failure exits. Claims use SKIP LOCKED so worker processes never
// block each other.
type TouchQueueRepo struct{ db *sql.DB }

const touchCols = `
	id, client_id, campaign_id, pool_lead_id, channel, resource,
	touch_number, template_ref, enhanced, due_at, status, attempts,
	requeues, claimed_by, claimed_at, created_at`

func scanTouch(row interface{ Scan(...any) error }) (*domain.ScheduledTouch, error) {
	t := &domain.ScheduledTouch{}
	err := row.Scan(
		&t.ID, &t.ClientID, &t.CampaignID, &t.PoolLeadID, &t.Channel,
		&t.Resource, &t.TouchNumber, &t.TemplateRef, &t.Enhanced, &t.DueAt,
		&t.Status, &t.Attempts, &t.Requeues, &t.ClaimedBy, &t.ClaimedAt,
		&t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Enqueue inserts a batch of pending touches in one transaction.
func (r *TouchQueueRepo) Enqueue(ctx context.Context, touches []domain.ScheduledTouch) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for i := range touches {
		t := &touches[i]
		if t.ID == "" {
			t.ID = uuid.New().String()
		}
		if t.Status == "" {
			t.Status = domain.TouchPending
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO scheduled_touches
				(id, client_id, campaign_id, pool_lead_id, channel, resource,
				 touch_number, template_ref, enhanced, due_at, status)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, t.ID, t.ClientID, t.CampaignID, t.PoolLeadID, t.Channel, t.Resource,
			t.TouchNumber, t.TemplateRef, t.Enhanced, t.DueAt, t.Status)
		if err != nil {
			return fmt.Errorf("enqueue touch %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// ClaimBatch atomically claims up to limit due touches for a worker.
// SKIP LOCKED keeps concurrent claimers disjoint, and a lead with a
// touch already claimed is passed over so per-lead order holds.
func (r *TouchQueueRepo) ClaimBatch(ctx context.Context, workerID string, limit int) ([]domain.ScheduledTouch, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		WITH claimed AS (
			UPDATE scheduled_touches SET
				status = 'claimed', claimed_by = $1, claimed_at = NOW(),
				attempts = attempts + 1
			WHERE id IN (
				SELECT st.id FROM scheduled_touches st
				WHERE st.status = 'pending' AND st.due_at <= NOW()
				  AND NOT EXISTS (
					SELECT 1 FROM scheduled_touches c
					WHERE c.client_id = st.client_id
					  AND c.pool_lead_id = st.pool_lead_id
					  AND c.status = 'claimed'
				  )
				ORDER BY st.due_at
				LIMIT $2
				FOR UPDATE SKIP LOCKED
			)
			RETURNING `+touchCols+`
		)
		SELECT * FROM claimed ORDER BY due_at
	`, workerID, limit)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	defer rows.Close()

	var out []domain.ScheduledTouch
	for rows.Next() {
		t, err := scanTouch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed touch: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// MarkSent finishes a claimed touch after a durable send.
func (r *TouchQueueRepo) MarkSent(ctx context.Context, id, workerID string) error {
	return r.finish(ctx, id, workerID, domain.TouchSent)
}

// MarkSkipped finishes a claimed touch without sending; validation
// failures and suppression hits land here.
func (r *TouchQueueRepo) MarkSkipped(ctx context.Context, id, workerID string) error {
	return r.finish(ctx, id, workerID, domain.TouchSkipped)
}

func (r *TouchQueueRepo) finish(ctx context.Context, id, workerID string, to domain.TouchStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_touches SET status = $3, claimed_by = '', claimed_at = NULL
		WHERE id = $1 AND claimed_by = $2 AND status = 'claimed'
	`, id, workerID, to)
	if err != nil {
		return fmt.Errorf("finish touch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.New(errs.Consistency, "queue.claim_lost", id)
	}
	return nil
}

// Retry returns a claimed touch to pending with a backoff delay, or to
// dead_letter once attempts are exhausted.
func (r *TouchQueueRepo) Retry(ctx context.Context, id, workerID string, delay time.Duration, maxAttempts int) (domain.TouchStatus, error) {
	var status domain.TouchStatus
	err := r.db.QueryRowContext(ctx, `
		UPDATE scheduled_touches SET
			status = CASE WHEN attempts >= $4 THEN 'dead_letter' ELSE 'pending' END,
			due_at = CASE WHEN attempts >= $4 THEN due_at ELSE NOW() + $3::interval END,
			claimed_by = '', claimed_at = NULL
		WHERE id = $1 AND claimed_by = $2 AND status = 'claimed'
		RETURNING status
	`, id, workerID, fmt.Sprintf("%d seconds", int(delay.Seconds())), maxAttempts).Scan(&status)
	if err == sql.ErrNoRows {
		return "", errs.New(errs.Consistency, "queue.claim_lost", id)
	}
	if err != nil {
		return "", fmt.Errorf("retry touch: %w", err)
	}
	return status, nil
}

// RequeueNextWindow pushes a rate-limited touch to the next day's window.
// After maxRequeues the touch is skipped rather than starved forever.
func (r *TouchQueueRepo) RequeueNextWindow(ctx context.Context, id, workerID string, nextWindow time.Time, maxRequeues int) (domain.TouchStatus, error) {
	var status domain.TouchStatus
	err := r.db.QueryRowContext(ctx, `
		UPDATE scheduled_touches SET
			status = CASE WHEN requeues >= $4 THEN 'skipped' ELSE 'pending' END,
			requeues = requeues + 1,
			due_at = CASE WHEN requeues >= $4 THEN due_at ELSE $3 END,
			attempts = 0,
			claimed_by = '', claimed_at = NULL
		WHERE id = $1 AND claimed_by = $2 AND status = 'claimed'
		RETURNING status
	`, id, workerID, nextWindow, maxRequeues).Scan(&status)
	if err == sql.ErrNoRows {
		return "", errs.New(errs.Consistency, "queue.claim_lost", id)
	}
	if err != nil {
		return "", fmt.Errorf("requeue touch: %w", err)
	}
	return status, nil
}

// CancelForLead cancels every undelivered touch for (client, lead).
// Replies, unsubscribes, and conversions all route through here.
func (r *TouchQueueRepo) CancelForLead(ctx context.Context, clientID, poolLeadID string) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_touches SET status = 'cancelled', claimed_by = '', claimed_at = NULL
		WHERE client_id = $1 AND pool_lead_id = $2 AND status IN ('pending', 'claimed')
	`, clientID, poolLeadID)
	if err != nil {
		return 0, fmt.Errorf("cancel for lead: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CancelForCampaign cancels every undelivered touch in a campaign.
func (r *TouchQueueRepo) CancelForCampaign(ctx context.Context, campaignID string) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_touches SET status = 'cancelled', claimed_by = '', claimed_at = NULL
		WHERE campaign_id = $1 AND status IN ('pending', 'claimed')
	`, campaignID)
	if err != nil {
		return 0, fmt.Errorf("cancel for campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ReclaimExpired returns touches whose claim outlived the lease TTL to
// pending. Recovers work from crashed workers.
func (r *TouchQueueRepo) ReclaimExpired(ctx context.Context, leaseTTL time.Duration) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_touches SET status = 'pending', claimed_by = '', claimed_at = NULL
		WHERE status = 'claimed' AND claimed_at < $1
	`, time.Now().UTC().Add(-leaseTTL))
	if err != nil {
		return 0, fmt.Errorf("reclaim expired: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DeadLetters lists dead-lettered touches for operator review.
func (r *TouchQueueRepo) DeadLetters(ctx context.Context, limit int) ([]domain.ScheduledTouch, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT`+touchCols+` FROM scheduled_touches
		 WHERE status = 'dead_letter' ORDER BY due_at LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("dead letters: %w", err)
	}
	defer rows.Close()

	var out []domain.ScheduledTouch
	for rows.Next() {
		t, err := scanTouch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// PendingStats returns queue depth per status for the dashboard.
func (r *TouchQueueRepo) PendingStats(ctx context.Context) (map[domain.TouchStatus]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM scheduled_touches GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("pending stats: %w", err)
	}
	defer rows.Close()

	out := map[domain.TouchStatus]int{}
	for rows.Next() {
		var s domain.TouchStatus
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, fmt.Errorf("scan stat: %w", err)
		}
		out[s] = n
	}
	return out, rows.Err()
}

// PurgeFinished removes sent/skipped/cancelled rows older than the
// retention window. The cleanup worker calls this.
func (r *TouchQueueRepo) PurgeFinished(ctx context.Context, olderThan time.Duration) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM scheduled_touches
		WHERE status IN ('sent', 'skipped', 'cancelled')
		  AND due_at < $1
	`, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("purge finished: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
