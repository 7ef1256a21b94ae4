package enrichment

import (
	"context"
	"time"

	"github.com/keiracom/agency-os/internal/domain"
)

// Repository defines the persistence the waterfall needs.
type Repository interface {
	// GetClient returns the tenant and its enrichment budget.
	GetClient(ctx context.Context, clientID string) (*domain.Client, error)

	// UpsertPoolLead inserts or upgrades a pool lead keyed by email.
	UpsertPoolLead(ctx context.Context, l *domain.PoolLead) (string, error)

	// RecordCost logs one provider invocation's spend.
	RecordCost(ctx context.Context, clientID, provider string, costAUD float64, credits int) error

	// SpentToday returns the tenant's enrichment spend for the UTC day.
	SpentToday(ctx context.Context, clientID string, now time.Time) (float64, error)
}
