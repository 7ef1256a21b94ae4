package cis

import (
	"context"

	"github.com/keiracom/agency-os/internal/domain"
)

// Repository defines the store access the detectors need. Detectors only
// read activity and lead data; the single write is the pattern artifact.
type Repository interface {
	// DetectorScan streams a tenant's sent activities into fn, ordered by
	// (pool_lead_id, sent_at).
	DetectorScan(ctx context.Context, clientID string, fn func(*domain.Activity) error) error

	// GetPoolLead resolves lead attributes for the who detector.
	GetPoolLead(ctx context.Context, id string) (*domain.PoolLead, error)

	// SavePattern appends one detector artifact.
	SavePattern(ctx context.Context, p *domain.ConversionPattern) error

	// LatestPatterns returns the most recent artifact per detector type.
	LatestPatterns(ctx context.Context, clientID string) (map[domain.PatternType]*domain.ConversionPattern, error)
}

// Archiver stores a run's artifacts outside the hot path, for audit and
// offline analysis.
type Archiver interface {
	Archive(ctx context.Context, clientID string, patterns []domain.ConversionPattern) error
}
