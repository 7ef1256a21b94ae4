package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// ReportsRepo aggregates the tenant dashboard in a handful of grouped
// queries rather than loading rows into Go.
type ReportsRepo struct{ db *sql.DB }

// DashboardReport is the tenant-facing rollup.
type DashboardReport struct {
	LeadsByStatus  map[string]int `json:"leads_by_status"`
	LeadsByTier    map[string]int `json:"leads_by_tier"`
	QueueByStatus  map[string]int `json:"queue_by_status"`
	SentLast7Days  int            `json:"sent_last_7_days"`
	RepliesLast7   int            `json:"replies_last_7_days"`
	Conversions    int            `json:"conversions"`
	ActiveThreads  int            `json:"active_threads"`
	CreditsRemain  int            `json:"credits_remaining"`
	OpenRatePct    float64        `json:"open_rate_pct"`
	ReplyRatePct   float64        `json:"reply_rate_pct"`
	BounceRatePct  float64        `json:"bounce_rate_pct"`
}

// Dashboard builds the rollup for one tenant.
func (r *ReportsRepo) Dashboard(ctx context.Context, clientID string) (*DashboardReport, error) {
	report := &DashboardReport{
		LeadsByStatus: map[string]int{},
		LeadsByTier:   map[string]int{},
		QueueByStatus: map[string]int{},
	}

	if err := r.groupCount(ctx, report.LeadsByStatus,
		`SELECT status, COUNT(*) FROM lead_views WHERE client_id = $1 GROUP BY status`, clientID); err != nil {
		return nil, fmt.Errorf("leads by status: %w", err)
	}
	if err := r.groupCount(ctx, report.LeadsByTier,
		`SELECT als_tier, COUNT(*) FROM lead_views WHERE client_id = $1 AND als_tier <> '' GROUP BY als_tier`, clientID); err != nil {
		return nil, fmt.Errorf("leads by tier: %w", err)
	}
	if err := r.groupCount(ctx, report.QueueByStatus,
		`SELECT status, COUNT(*) FROM scheduled_touches WHERE client_id = $1 GROUP BY status`, clientID); err != nil {
		return nil, fmt.Errorf("queue by status: %w", err)
	}

	var sent, opened, replied, bounced int
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE action = 'sent' AND sent_at > now() - interval '7 days'),
			COUNT(*) FILTER (WHERE action = 'replied' AND sent_at > now() - interval '7 days'),
			COUNT(*) FILTER (WHERE action = 'sent'),
			COUNT(*) FILTER (WHERE action = 'opened'),
			COUNT(*) FILTER (WHERE action = 'replied'),
			COUNT(*) FILTER (WHERE action = 'bounced')
		FROM activities
		WHERE client_id = $1
	`, clientID).Scan(&report.SentLast7Days, &report.RepliesLast7, &sent, &opened, &replied, &bounced)
	if err != nil {
		return nil, fmt.Errorf("activity rollup: %w", err)
	}
	if sent > 0 {
		report.OpenRatePct = pct(opened, sent)
		report.ReplyRatePct = pct(replied, sent)
		report.BounceRatePct = pct(bounced, sent)
	}

	err = r.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM threads WHERE client_id = $1 AND status = 'active'),
			(SELECT COUNT(*) FROM lead_views WHERE client_id = $1 AND status = 'converted'),
			(SELECT COALESCE(credits_remaining, 0) FROM clients WHERE id = $1)
	`, clientID).Scan(&report.ActiveThreads, &report.Conversions, &report.CreditsRemain)
	if err != nil {
		return nil, fmt.Errorf("tenant rollup: %w", err)
	}

	return report, nil
}

func pct(part, whole int) float64 {
	return float64(part) / float64(whole) * 100
}

func (r *ReportsRepo) groupCount(ctx context.Context, into map[string]int, query, clientID string) error {
	rows, err := r.db.QueryContext(ctx, query, clientID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		into[key] = n
	}
	return rows.Err()
}
