package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/errs"
)

// ActivityRepo persists the append-only touch/event log.
type ActivityRepo struct{ db *sql.DB }

const activityCols = `
	id, client_id, campaign_id, pool_lead_id, channel, resource, action,
	provider_message_id, thread_id, touch_number, sent_at,
	content_snapshot, led_to_booking, failure_reason`

func scanActivity(row interface{ Scan(...any) error }) (*domain.Activity, error) {
	a := &domain.Activity{}
	var snapshot []byte
	var threadID sql.NullString
	err := row.Scan(
		&a.ID, &a.ClientID, &a.CampaignID, &a.PoolLeadID, &a.Channel,
		&a.Resource, &a.Action, &a.ProviderMessageID, &threadID,
		&a.TouchNumber, &a.SentAt, &snapshot, &a.LedToBooking, &a.FailureReason)
	if err != nil {
		return nil, err
	}
	a.ThreadID = threadID.String
	if len(snapshot) > 0 {
		json.Unmarshal(snapshot, &a.Content)
	}
	return a, nil
}

// Insert appends one activity. The store's trigger refuses the write if
// no active assignment exists for (client, pool lead); that surfaces as
// a Consistency error.
func (r *ActivityRepo) Insert(ctx context.Context, a *domain.Activity) (string, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.SentAt.IsZero() {
		a.SentAt = time.Now().UTC()
	}
	snapshot, _ := json.Marshal(a.Content)
	var threadID any
	if a.ThreadID != "" {
		threadID = a.ThreadID
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO activities
			(id, client_id, campaign_id, pool_lead_id, channel, resource,
			 action, provider_message_id, thread_id, touch_number, sent_at,
			 content_snapshot, led_to_booking, failure_reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, a.ID, a.ClientID, a.CampaignID, a.PoolLeadID, a.Channel, a.Resource,
		a.Action, a.ProviderMessageID, threadID, a.TouchNumber, a.SentAt,
		snapshot, a.LedToBooking, a.FailureReason)
	if err != nil {
		if isCheckViolation(err) {
			return "", errs.Wrap(errs.Consistency, "activity.no_active_assignment", err)
		}
		return "", fmt.Errorf("insert activity: %w", err)
	}
	return a.ID, nil
}

// Get returns one activity by ID.
func (r *ActivityRepo) Get(ctx context.Context, id string) (*domain.Activity, error) {
	a, err := scanActivity(r.db.QueryRowContext(ctx,
		`SELECT`+activityCols+` FROM activities WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotFound, "activity.not_found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get activity: %w", err)
	}
	return a, nil
}

// ByProviderMessageID resolves an outbound activity from a provider id,
// the join point for webhook ingestion.
func (r *ActivityRepo) ByProviderMessageID(ctx context.Context, providerMessageID string) (*domain.Activity, error) {
	a, err := scanActivity(r.db.QueryRowContext(ctx,
		`SELECT`+activityCols+` FROM activities
		 WHERE provider_message_id = $1 AND action = 'sent'
		 ORDER BY sent_at DESC LIMIT 1`, providerMessageID))
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotFound, "activity.unknown_provider_message", providerMessageID)
	}
	if err != nil {
		return nil, fmt.Errorf("activity by provider id: %w", err)
	}
	return a, nil
}

// ForLead returns the activity timeline for one lead, oldest first.
func (r *ActivityRepo) ForLead(ctx context.Context, clientID, poolLeadID string) ([]domain.Activity, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT`+activityCols+` FROM activities
		 WHERE client_id = $1 AND pool_lead_id = $2 ORDER BY sent_at`,
		clientID, poolLeadID)
	if err != nil {
		return nil, fmt.Errorf("activities for lead: %w", err)
	}
	defer rows.Close()
	return collectActivities(rows)
}

// LastOutboundInThread returns the most recent sent activity in a thread.
func (r *ActivityRepo) LastOutboundInThread(ctx context.Context, threadID string) (*domain.Activity, error) {
	a, err := scanActivity(r.db.QueryRowContext(ctx,
		`SELECT`+activityCols+` FROM activities
		 WHERE thread_id = $1 AND action = 'sent'
		 ORDER BY sent_at DESC LIMIT 1`, threadID))
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotFound, "activity.no_outbound", threadID)
	}
	if err != nil {
		return nil, fmt.Errorf("last outbound: %w", err)
	}
	return a, nil
}

// UnansweredOutbound lists sent activities older than the window with no
// inbound event recorded for the same thread; the safety-net sweep
// re-polls providers for these.
func (r *ActivityRepo) UnansweredOutbound(ctx context.Context, window time.Duration, limit int) ([]domain.Activity, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT`+activityCols+` FROM activities a
		 WHERE a.action = 'sent'
		   AND a.sent_at < $1
		   AND a.sent_at > $1 - INTERVAL '7 days'
		   AND NOT EXISTS (
			SELECT 1 FROM activities b
			WHERE b.provider_message_id = a.provider_message_id
			  AND b.action IN ('delivered','opened','clicked','replied','bounced','complained')
		 )
		 ORDER BY a.sent_at LIMIT $2`,
		time.Now().UTC().Add(-window), limit)
	if err != nil {
		return nil, fmt.Errorf("unanswered outbound: %w", err)
	}
	defer rows.Close()
	return collectActivities(rows)
}

// RecordConversion marks the assignment converted, terminates the lead
// view, and back-fills led_to_booking on every outbound activity in the
// converting thread within the attribution window. Runs SERIALIZABLE.
func (r *ActivityRepo) RecordConversion(ctx context.Context, clientID, poolLeadID, threadID string, window time.Duration) error {
	return serializable(ctx, r.db, func(tx *sql.Tx) error {
		if err := markConvertedTx(ctx, tx, clientID, poolLeadID); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE lead_views SET status = 'converted', updated_at = NOW()
			WHERE client_id = $1 AND pool_lead_id = $2
		`, clientID, poolLeadID); err != nil {
			return fmt.Errorf("terminate lead view: %w", err)
		}

		// Attribution: every outbound touch in the converting thread
		// within the window led to this booking.
		if _, err := tx.ExecContext(ctx, `
			UPDATE activities SET led_to_booking = TRUE
			WHERE thread_id = $1 AND action = 'sent'
			  AND sent_at > NOW() - $2::interval
		`, threadID, fmt.Sprintf("%d seconds", int(window.Seconds()))); err != nil {
			return fmt.Errorf("backfill attribution: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE threads SET outcome = 'converted', status = 'resolved', updated_at = NOW()
			WHERE id = $1
		`, threadID); err != nil {
			return fmt.Errorf("resolve thread: %w", err)
		}
		return nil
	})
}

// DetectorScan streams activities for one client into fn, oldest first.
// Used by the CIS detectors so a large activity log never loads at once.
func (r *ActivityRepo) DetectorScan(ctx context.Context, clientID string, fn func(*domain.Activity) error) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT`+activityCols+` FROM activities
		 WHERE client_id = $1 AND action = 'sent'
		 ORDER BY pool_lead_id, sent_at`, clientID)
	if err != nil {
		return fmt.Errorf("detector scan: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return fmt.Errorf("scan activity: %w", err)
		}
		if err := fn(a); err != nil {
			return err
		}
	}
	return rows.Err()
}

// CountOnResource returns how many sends hit a (channel, resource) on a
// UTC day; invariant checks and the dashboard use it.
func (r *ActivityRepo) CountOnResource(ctx context.Context, channel domain.Channel, resource string, day time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM activities
		WHERE channel = $1 AND resource = $2 AND action = 'sent'
		  AND sent_at >= $3::date AND sent_at < $3::date + INTERVAL '1 day'
	`, channel, resource, day.UTC().Format("2006-01-02")).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count on resource: %w", err)
	}
	return n, nil
}

func collectActivities(rows *sql.Rows) ([]domain.Activity, error) {
	var out []domain.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}
