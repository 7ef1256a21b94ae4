package pool

import (
	"context"

	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/pkg/logger"
)

// Manager runs the assignment lifecycle.
type Manager struct {
	repo        Repository
	suppression SuppressionChecker
	enricher    Enricher
	log         *logger.Logger
}

// New constructs the manager. enricher may be nil; supply then stops at
// pool exhaustion instead of acquiring.
func New(repo Repository, suppression SuppressionChecker, enricher Enricher) *Manager {
	return &Manager{
		repo:        repo,
		suppression: suppression,
		enricher:    enricher,
		log:         logger.For("pool"),
	}
}

// TryAssign attempts to bind one pool lead to a tenant. Suppression is
// checked first; a hit returns suppressed without touching the ledger.
func (m *Manager) TryAssign(ctx context.Context, clientID, poolLeadID, campaignID string) (*domain.AssignResult, error) {
	lead, err := m.repo.GetPoolLead(ctx, poolLeadID)
	if err != nil {
		return nil, err
	}

	hit, err := m.suppression.Check(ctx, clientID, lead.Email)
	if err != nil {
		return nil, err
	}
	if hit != nil {
		return &domain.AssignResult{
			Outcome:           domain.AssignSuppressed,
			SuppressionReason: hit.Reason,
		}, nil
	}

	result, err := m.repo.TryAssign(ctx, clientID, poolLeadID, campaignID)
	if err != nil {
		return nil, err
	}

	if result.Outcome == domain.AssignOK {
		_, err = m.repo.CreateLeadView(ctx, &domain.LeadView{
			ClientID:     clientID,
			PoolLeadID:   poolLeadID,
			AssignmentID: result.AssignmentID,
			CampaignID:   campaignID,
			Status:       domain.LeadNew,
		})
		if err != nil {
			return nil, err
		}
		m.log.Info("lead assigned",
			"client_id", clientID, "pool_lead_id", poolLeadID, "campaign_id", campaignID)
	}
	return result, nil
}

// SupplyResult summarises one supply run.
type SupplyResult struct {
	Assigned   int `json:"assigned"`
	Collisions int `json:"collisions"`
	Suppressed int `json:"suppressed"`
	Acquired   int `json:"acquired"`
}

// Supply enrolls up to n pool leads matching the campaign's ICP filter.
// When inventory runs out before n, the enricher acquires more, once.
func (m *Manager) Supply(ctx context.Context, clientID, campaignID string, filter domain.ICPFilter, n int) (*SupplyResult, error) {
	res := &SupplyResult{}
	acquired := false

	for res.Assigned < n {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		filter.Limit = (n - res.Assigned) * 2
		candidates, err := m.repo.Candidates(ctx, filter)
		if err != nil {
			return res, err
		}

		if len(candidates) == 0 {
			if acquired || m.enricher == nil {
				break
			}
			fresh, err := m.enricher.Acquire(ctx, clientID, filter, n-res.Assigned)
			if err != nil {
				m.log.Warn("supply acquisition failed", "client_id", clientID, "error", err.Error())
				break
			}
			acquired = true
			res.Acquired = len(fresh)
			if len(fresh) == 0 {
				break
			}
			continue
		}

		before := res.Assigned
		for i := range candidates {
			if res.Assigned >= n {
				break
			}
			r, err := m.TryAssign(ctx, clientID, candidates[i].ID, campaignID)
			if err != nil {
				return res, err
			}
			switch r.Outcome {
			case domain.AssignOK:
				res.Assigned++
			case domain.AssignCollision:
				res.Collisions++
			case domain.AssignSuppressed:
				res.Suppressed++
			}
		}

		// A page that produced no assignments will not improve on retry;
		// every remaining candidate is suppressed or contested.
		if res.Assigned == before && res.Assigned < n {
			if acquired || m.enricher == nil {
				break
			}
			fresh, err := m.enricher.Acquire(ctx, clientID, filter, n-res.Assigned)
			if err != nil {
				m.log.Warn("supply acquisition failed", "client_id", clientID, "error", err.Error())
				break
			}
			acquired = true
			res.Acquired = len(fresh)
			if len(fresh) == 0 {
				break
			}
			continue
		}

		// Exhausted this candidate page without reaching n; the next
		// Candidates call sees only leads still unassigned.
		if res.Assigned < n && len(candidates) < filter.Limit {
			if acquired || m.enricher == nil {
				break
			}
			fresh, err := m.enricher.Acquire(ctx, clientID, filter, n-res.Assigned)
			if err != nil {
				m.log.Warn("supply acquisition failed", "client_id", clientID, "error", err.Error())
				break
			}
			acquired = true
			res.Acquired = len(fresh)
			if len(fresh) == 0 {
				break
			}
		}
	}

	m.log.Info("supply run complete", "client_id", clientID, "campaign_id", campaignID,
		"requested", n, "assigned", res.Assigned,
		"collisions", res.Collisions, "suppressed", res.Suppressed)
	return res, nil
}

// Release returns a lead to the pool. Used on sequence exhaustion or by
// operator action.
func (m *Manager) Release(ctx context.Context, clientID, poolLeadID string) error {
	return m.repo.Terminate(ctx, clientID, poolLeadID, domain.AssignmentReleased)
}

// Suppress retires an assignment after a bounce or complaint. The
// suppression entry itself is written by the caller.
func (m *Manager) Suppress(ctx context.Context, clientID, poolLeadID string) error {
	return m.repo.Terminate(ctx, clientID, poolLeadID, domain.AssignmentSuppressed)
}

// ReleaseCancelled releases all assignments held by cancelled tenants.
// The release worker runs this on an interval.
func (m *Manager) ReleaseCancelled(ctx context.Context) (int, error) {
	clients, err := m.repo.CancelledClients(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, clientID := range clients {
		n, err := m.repo.ReleaseAllForClient(ctx, clientID)
		if err != nil {
			return total, err
		}
		if n > 0 {
			m.log.Info("released cancelled tenant", "client_id", clientID, "assignments", n)
		}
		total += n
	}
	return total, nil
}
