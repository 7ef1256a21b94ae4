package scoring

import (
	"context"

	"github.com/keiracom/agency-os/internal/domain"
)

// Repository defines the data access the service wrapper needs.
type Repository interface {
	// GetClient returns the tenant and its policy knobs.
	GetClient(ctx context.Context, clientID string) (*domain.Client, error)

	// GetPoolLead returns the platform lead record.
	GetPoolLead(ctx context.Context, poolLeadID string) (*domain.PoolLead, error)

	// GetLeadView returns the tenant-scoped lead state.
	GetLeadView(ctx context.Context, clientID, poolLeadID string) (*domain.LeadView, error)

	// BuyerScore returns the known-buyer score for a domain; zero when
	// the domain has never bought.
	BuyerScore(ctx context.Context, dom string) (int, error)

	// SaveScore persists the score, components, and tier on the view.
	SaveScore(ctx context.Context, viewID string, score int, tier domain.Tier, c domain.ScoreComponents) error
}

// HistoryLookup reports risk flags for a (client, lead) pair. Satisfied
// by the suppression service.
type HistoryLookup interface {
	RiskFlags(ctx context.Context, clientID, email string) (bounced, unsubscribed, competitor bool, err error)
}
