package allocation

import (
	"context"
	"time"

	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/pkg/logger"
)

// Service applies the enhanced content budget on top of Allocate.
type Service struct {
	repo Repository
	log  *logger.Logger
}

// New constructs the service.
func New(repo Repository) *Service {
	return &Service{repo: repo, log: logger.For("allocation")}
}

// Plan allocates the lead's schedule and downgrades enhanced touches to
// standard once the tenant's monthly budget is spent. A zero budget means
// unlimited.
func (s *Service) Plan(ctx context.Context, client *domain.Client, tier domain.Tier, lead *domain.PoolLead, opts Options) (domain.TouchSchedule, error) {
	schedule := Allocate(tier, lead, opts)
	if client.MonthlyEnhancedBudget <= 0 {
		return schedule, nil
	}

	month := time.Now().UTC().Format("2006-01")
	used, err := s.repo.EnhancedUsed(ctx, client.ID, month)
	if err != nil {
		return domain.TouchSchedule{}, err
	}

	remaining := client.MonthlyEnhancedBudget - used
	requested, granted := 0, 0
	for i := range schedule.Touches {
		if !schedule.Touches[i].Enhanced {
			continue
		}
		requested++
		if granted < remaining {
			granted++
			continue
		}
		schedule.Touches[i].Enhanced = false
	}
	if granted > 0 {
		if err := s.repo.IncrementEnhanced(ctx, client.ID, month, granted); err != nil {
			return domain.TouchSchedule{}, err
		}
	}
	if granted < requested {
		s.log.Info("enhanced budget exhausted",
			"client_id", client.ID, "month", month, "requested", requested, "granted", granted)
	}
	return schedule, nil
}
