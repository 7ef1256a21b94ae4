package scoring

import (
	"context"

	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/pkg/logger"
)

// Service fetches scorer inputs, runs Score, and persists the result.
type Service struct {
	repo    Repository
	history HistoryLookup
	log     *logger.Logger

	personalDomains map[string]bool
}

// New constructs the service. history may be nil when no risk lookups
// are wired (tests, backfills).
func New(repo Repository, history HistoryLookup, personalDomains []string) *Service {
	pd := make(map[string]bool, len(personalDomains))
	for _, d := range personalDomains {
		pd[d] = true
	}
	return &Service{
		repo:            repo,
		history:         history,
		log:             logger.For("scoring"),
		personalDomains: pd,
	}
}

// ScoreLead scores one lead for one tenant and writes the result to its
// view. Returns the computed result.
func (s *Service) ScoreLead(ctx context.Context, clientID, poolLeadID string) (*Result, error) {
	client, err := s.repo.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	lead, err := s.repo.GetPoolLead(ctx, poolLeadID)
	if err != nil {
		return nil, err
	}
	view, err := s.repo.GetLeadView(ctx, clientID, poolLeadID)
	if err != nil {
		return nil, err
	}

	buyerScore, err := s.repo.BuyerScore(ctx, lead.Domain)
	if err != nil {
		return nil, err
	}

	in := Input{
		TargetIndustries:  client.TargetIndustries,
		TargetCountries:   client.TargetCountries,
		TargetEmployeeMin: client.TargetEmployeeMin,
		TargetEmployeeMax: client.TargetEmployeeMax,
		Weights:           client.ScoreWeights,
		BuyerScore:        buyerScore,
		PersonalDomain:    s.personalDomains[lead.Domain],
	}
	if s.history != nil {
		bounced, unsub, competitor, err := s.history.RiskFlags(ctx, clientID, lead.Email)
		if err != nil {
			return nil, err
		}
		in.Bounced = bounced
		in.Unsubscribed = unsub
		in.Competitor = competitor
	}

	res := Score(lead, in)
	if err := s.repo.SaveScore(ctx, view.ID, res.Score, res.Tier, res.Components); err != nil {
		return nil, err
	}
	s.log.Info("lead scored",
		"client_id", clientID, "pool_lead_id", poolLeadID,
		"score", res.Score, "tier", string(res.Tier))
	return &res, nil
}

// ScoreBatch scores many leads, skipping individual failures so one bad
// record never stalls a campaign activation. Returns per-tier counts.
func (s *Service) ScoreBatch(ctx context.Context, clientID string, poolLeadIDs []string) (map[domain.Tier]int, error) {
	counts := map[domain.Tier]int{}
	for _, id := range poolLeadIDs {
		if err := ctx.Err(); err != nil {
			return counts, err
		}
		res, err := s.ScoreLead(ctx, clientID, id)
		if err != nil {
			s.log.Warn("score failed", "client_id", clientID, "pool_lead_id", id, "error", err.Error())
			continue
		}
		counts[res.Tier]++
	}
	return counts, nil
}
