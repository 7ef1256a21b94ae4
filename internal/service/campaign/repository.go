package campaign

import (
	"context"

	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/repository/postgres"
	"github.com/keiracom/agency-os/internal/service/allocation"
	"github.com/keiracom/agency-os/internal/service/pool"
)

// Repository is campaign persistence.
type Repository interface {
	Get(ctx context.Context, clientID, id string) (*domain.Campaign, error)
	Create(ctx context.Context, c *domain.Campaign) (string, error)
	SetStatus(ctx context.Context, clientID, id string, status domain.CampaignStatus) error
	List(ctx context.Context, clientID string) ([]domain.Campaign, error)
}

// ClientStore resolves tenants.
type ClientStore interface {
	Get(ctx context.Context, id string) (*domain.Client, error)
}

// Supplier enrolls pool leads into a campaign.
type Supplier interface {
	Supply(ctx context.Context, clientID, campaignID string, filter domain.ICPFilter, n int) (*pool.SupplyResult, error)
}

// LeadStore reads and advances tenant lead views.
type LeadStore interface {
	List(ctx context.Context, clientID string, f postgres.ListFilter) ([]domain.LeadView, int, error)
	SaveScore(ctx context.Context, id string, score int, tier domain.Tier, c domain.ScoreComponents) error
	SetStatus(ctx context.Context, clientID, poolLeadID string, status domain.LeadStatus) error
	GetPoolLead(ctx context.Context, id string) (*domain.PoolLead, error)
}

// Planner produces the per-lead touch schedule.
type Planner interface {
	Plan(ctx context.Context, client *domain.Client, tier domain.Tier, lead *domain.PoolLead, opts allocation.Options) (domain.TouchSchedule, error)
}

// Queue is the durable dispatch queue.
type Queue interface {
	Enqueue(ctx context.Context, touches []domain.ScheduledTouch) error
	CancelForCampaign(ctx context.Context, campaignID string) (int, error)
}

// ScoreContext supplies the scorer inputs that live outside the lead
// record: the tenant's history with the address, the cross-tenant buyer
// score for its domain, and the webmail-domain check.
type ScoreContext interface {
	LeadFlags(ctx context.Context, clientID, email string) (bounced, unsubscribed bool, err error)
	BuyerScore(ctx context.Context, dom string) (int, error)
	IsPersonalDomain(dom string) bool
}

// leadStoreShim joins the two concrete repos behind LeadStore.
type leadStoreShim struct {
	*postgres.LeadViewRepo
	*postgres.PoolLeadRepo
}

func (s *leadStoreShim) GetPoolLead(ctx context.Context, id string) (*domain.PoolLead, error) {
	return s.PoolLeadRepo.Get(ctx, id)
}

// NewLeadStore adapts the concrete repos to the LeadStore contract.
func NewLeadStore(views *postgres.LeadViewRepo, leads *postgres.PoolLeadRepo) LeadStore {
	return &leadStoreShim{LeadViewRepo: views, PoolLeadRepo: leads}
}
