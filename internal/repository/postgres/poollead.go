package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/errs"
)

// PoolLeadRepo persists platform-owned prospects.
type PoolLeadRepo struct{ db *sql.DB }

const poolLeadCols = `
	id, email, domain, first_name, last_name, title, company, phone,
	linkedin_url, industry, employee_count, country, revenue_band,
	email_verified, enrichment_source, enrichment_cost, partial,
	new_in_role_days, open_roles, funded_days_ago, linkedin_posts,
	linkedin_recent, linkedin_network, linkedin_engage, tech_match,
	referral_source, pool_status, first_seen_at, last_refreshed_at`

func scanPoolLead(row interface{ Scan(...any) error }) (*domain.PoolLead, error) {
	l := &domain.PoolLead{}
	err := row.Scan(
		&l.ID, &l.Email, &l.Domain, &l.FirstName, &l.LastName, &l.Title,
		&l.Company, &l.Phone, &l.LinkedInURL, &l.Industry, &l.EmployeeCount,
		&l.Country, &l.RevenueBand, &l.EmailVerified, &l.EnrichmentSource,
		&l.EnrichmentCost, &l.Partial, &l.NewInRoleDays, &l.OpenRoles,
		&l.FundedDaysAgo, &l.LinkedInPosts, &l.LinkedInRecent,
		&l.LinkedInNetwork, &l.LinkedInEngage, &l.TechMatch,
		&l.ReferralSource, &l.PoolStatus, &l.FirstSeenAt, &l.LastRefreshedAt,
	)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (r *PoolLeadRepo) Get(ctx context.Context, id string) (*domain.PoolLead, error) {
	l, err := scanPoolLead(r.db.QueryRowContext(ctx,
		`SELECT`+poolLeadCols+` FROM pool_leads WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotFound, "poollead.not_found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get pool lead: %w", err)
	}
	return l, nil
}

func (r *PoolLeadRepo) GetByEmail(ctx context.Context, email string) (*domain.PoolLead, error) {
	l, err := scanPoolLead(r.db.QueryRowContext(ctx,
		`SELECT`+poolLeadCols+` FROM pool_leads WHERE LOWER(email) = $1`,
		domain.NormalizeEmail(email)))
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotFound, "poollead.not_found", email)
	}
	if err != nil {
		return nil, fmt.Errorf("get pool lead by email: %w", err)
	}
	return l, nil
}

// Upsert inserts a new pool lead or refreshes an existing one keyed by
// normalized email. Enrichment only upgrades data: a full record is not
// replaced by a partial one.
func (r *PoolLeadRepo) Upsert(ctx context.Context, l *domain.PoolLead) (string, error) {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	l.Email = domain.NormalizeEmail(l.Email)
	if l.Domain == "" {
		l.Domain = domain.DomainOfEmail(l.Email)
	}
	if l.PoolStatus == "" {
		l.PoolStatus = domain.PoolUnassigned
	}

	var id string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO pool_leads (`+strings.TrimSpace(poolLeadCols)+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,
		        $18,$19,$20,$21,$22,$23,$24,$25,$26,$27,NOW(),NOW())
		ON CONFLICT ((LOWER(email))) DO UPDATE SET
			first_name = COALESCE(NULLIF(EXCLUDED.first_name, ''), pool_leads.first_name),
			last_name  = COALESCE(NULLIF(EXCLUDED.last_name, ''), pool_leads.last_name),
			title      = COALESCE(NULLIF(EXCLUDED.title, ''), pool_leads.title),
			company    = COALESCE(NULLIF(EXCLUDED.company, ''), pool_leads.company),
			phone      = COALESCE(NULLIF(EXCLUDED.phone, ''), pool_leads.phone),
			linkedin_url = COALESCE(NULLIF(EXCLUDED.linkedin_url, ''), pool_leads.linkedin_url),
			industry   = COALESCE(NULLIF(EXCLUDED.industry, ''), pool_leads.industry),
			employee_count = GREATEST(EXCLUDED.employee_count, pool_leads.employee_count),
			email_verified = pool_leads.email_verified OR EXCLUDED.email_verified,
			partial    = pool_leads.partial AND EXCLUDED.partial,
			enrichment_source = EXCLUDED.enrichment_source,
			enrichment_cost   = pool_leads.enrichment_cost + EXCLUDED.enrichment_cost,
			last_refreshed_at = NOW()
		RETURNING id
	`, l.ID, l.Email, l.Domain, l.FirstName, l.LastName, l.Title, l.Company,
		l.Phone, l.LinkedInURL, l.Industry, l.EmployeeCount, l.Country,
		l.RevenueBand, l.EmailVerified, l.EnrichmentSource, l.EnrichmentCost,
		l.Partial, l.NewInRoleDays, l.OpenRoles, l.FundedDaysAgo,
		l.LinkedInPosts, l.LinkedInRecent, l.LinkedInNetwork, l.LinkedInEngage,
		l.TechMatch, l.ReferralSource, l.PoolStatus).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert pool lead: %w", err)
	}
	l.ID = id
	return id, nil
}

// Candidates returns unassigned pool leads matching the filter, oldest
// first so stale inventory drains before fresh acquisitions.
func (r *PoolLeadRepo) Candidates(ctx context.Context, f domain.ICPFilter) ([]domain.PoolLead, error) {
	q := `SELECT` + poolLeadCols + ` FROM pool_leads WHERE pool_status = 'unassigned'`
	args := []any{}
	idx := 1

	if len(f.Industries) > 0 {
		q += fmt.Sprintf(" AND industry = ANY($%d)", idx)
		args = append(args, pq.Array(f.Industries))
		idx++
	}
	if len(f.Countries) > 0 {
		q += fmt.Sprintf(" AND country = ANY($%d)", idx)
		args = append(args, pq.Array(f.Countries))
		idx++
	}
	if f.EmployeeMin > 0 {
		q += fmt.Sprintf(" AND employee_count >= $%d", idx)
		args = append(args, f.EmployeeMin)
		idx++
	}
	if f.EmployeeMax > 0 {
		q += fmt.Sprintf(" AND employee_count <= $%d", idx)
		args = append(args, f.EmployeeMax)
		idx++
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 200
	}
	q += fmt.Sprintf(" ORDER BY first_seen_at ASC LIMIT $%d", idx)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("candidates: %w", err)
	}
	defer rows.Close()

	var out []domain.PoolLead
	for rows.Next() {
		l, err := scanPoolLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// SetPoolStatus moves a lead between unassigned/assigned/retired.
func (r *PoolLeadRepo) SetPoolStatus(ctx context.Context, id string, status domain.PoolStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE pool_leads SET pool_status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("set pool status: %w", err)
	}
	return nil
}
