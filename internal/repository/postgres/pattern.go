package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/errs"
)

// PatternRepo persists CIS detector artifacts. Runs are append-only;
// readers take the latest per (client, type).
type PatternRepo struct{ db *sql.DB }

func (r *PatternRepo) Save(ctx context.Context, p *domain.ConversionPattern) (string, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO conversion_patterns
			(id, client_id, pattern_type, payload, sample_size, confidence, computed_at)
		VALUES ($1,$2,$3,$4,$5,$6,NOW())
	`, p.ID, p.ClientID, p.Type, []byte(p.Payload), p.SampleSize, p.Confidence)
	if err != nil {
		return "", fmt.Errorf("save pattern: %w", err)
	}
	return p.ID, nil
}

// Latest returns the most recent artifact for (client, type).
func (r *PatternRepo) Latest(ctx context.Context, clientID string, t domain.PatternType) (*domain.ConversionPattern, error) {
	p := &domain.ConversionPattern{}
	var payload []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, client_id, pattern_type, payload, sample_size, confidence, computed_at
		FROM conversion_patterns
		WHERE client_id = $1 AND pattern_type = $2
		ORDER BY computed_at DESC LIMIT 1
	`, clientID, t).Scan(&p.ID, &p.ClientID, &p.Type, &payload,
		&p.SampleSize, &p.Confidence, &p.ComputedAt)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotFound, "pattern.not_found", string(t))
	}
	if err != nil {
		return nil, fmt.Errorf("latest pattern: %w", err)
	}
	p.Payload = payload
	return p, nil
}

// LatestAll returns the newest artifact of every type for a client.
func (r *PatternRepo) LatestAll(ctx context.Context, clientID string) ([]domain.ConversionPattern, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT ON (pattern_type)
			id, client_id, pattern_type, payload, sample_size, confidence, computed_at
		FROM conversion_patterns
		WHERE client_id = $1
		ORDER BY pattern_type, computed_at DESC
	`, clientID)
	if err != nil {
		return nil, fmt.Errorf("latest patterns: %w", err)
	}
	defer rows.Close()

	var out []domain.ConversionPattern
	for rows.Next() {
		var p domain.ConversionPattern
		var payload []byte
		if err := rows.Scan(&p.ID, &p.ClientID, &p.Type, &payload,
			&p.SampleSize, &p.Confidence, &p.ComputedAt); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		p.Payload = payload
		out = append(out, p)
	}
	return out, rows.Err()
}
