package pool

import (
	"context"

	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/service/suppression"
)

// Repository defines the ledger and inventory access the manager needs.
type Repository interface {
	// TryAssign runs the serialisable exclusivity transaction.
	TryAssign(ctx context.Context, clientID, poolLeadID, campaignID string) (*domain.AssignResult, error)

	// Terminate moves an active assignment to a terminal state.
	Terminate(ctx context.Context, clientID, poolLeadID string, to domain.AssignmentState) error

	// ReleaseAllForClient releases every active assignment for a tenant.
	ReleaseAllForClient(ctx context.Context, clientID string) (int, error)

	// Candidates returns unassigned pool leads matching an ICP filter.
	Candidates(ctx context.Context, f domain.ICPFilter) ([]domain.PoolLead, error)

	// GetPoolLead returns one pool lead.
	GetPoolLead(ctx context.Context, id string) (*domain.PoolLead, error)

	// CreateLeadView creates the tenant-scoped view after assignment.
	CreateLeadView(ctx context.Context, v *domain.LeadView) (string, error)

	// CancelledClients lists tenants whose subscription is cancelled but
	// still hold active assignments.
	CancelledClients(ctx context.Context) ([]string, error)
}

// SuppressionChecker answers "may this tenant contact this address".
type SuppressionChecker interface {
	Check(ctx context.Context, clientID, email string) (*suppression.Hit, error)
}

// Enricher tops the pool up when supply runs short.
type Enricher interface {
	// Acquire sources up to n new pool leads matching the filter,
	// respecting the tenant's enrichment budget. Returns the leads added.
	Acquire(ctx context.Context, clientID string, f domain.ICPFilter, n int) ([]domain.PoolLead, error)
}
