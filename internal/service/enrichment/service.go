package enrichment

import (
	"context"
	"sort"
	"time"

	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/errs"
	"github.com/keiracom/agency-os/internal/pkg/logger"
)

// Service runs the waterfall: cache, then providers in tier order, under
// the tenant's daily budget.
type Service struct {
	repo      Repository
	cache     *Cache
	providers []Provider // sorted by tier ascending
	source    Source
	log       *logger.Logger
}

// New constructs the service. Providers are ordered by tier; source may
// be nil when discovery is not wired.
func New(repo Repository, cache *Cache, providers []Provider, source Source) *Service {
	sorted := make([]Provider, len(providers))
	copy(sorted, providers)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Tier() < sorted[j].Tier() })
	return &Service{
		repo:      repo,
		cache:     cache,
		providers: sorted,
		source:    source,
		log:       logger.For("enrichment"),
	}
}

// maxTierForTier caps the waterfall depth by the lead's ALS tier: cold
// and cool stop at the bulk tier, warm unlocks the full waterfall, and
// premium reveal is hot-only.
func maxTierForTier(t domain.Tier) int {
	switch t {
	case domain.TierHot:
		return 3
	case domain.TierWarm:
		return 2
	default:
		return 1
	}
}

// Enrich resolves a query into a pool lead for a tenant. alsTier bounds
// how deep the waterfall may go; pass TierCold for unscored leads.
func (s *Service) Enrich(ctx context.Context, clientID string, q Query, alsTier domain.Tier) (*domain.PoolLead, error) {
	if q.Empty() {
		return nil, errs.New(errs.Validation, "enrich.empty_query", "")
	}

	// Tier 0: the versioned cache. A sufficient hit ends the waterfall;
	// a partial hit may still be upgraded below.
	var cached *domain.PoolLead
	if s.cache != nil {
		hit, err := s.cache.Get(ctx, q)
		if err != nil {
			s.log.Warn("cache read failed", "error", err.Error())
		} else if hit != nil {
			if !hit.Partial {
				return hit, nil
			}
			cached = hit
		}
	}

	client, err := s.repo.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}

	maxTier := maxTierForTier(alsTier)
	best := cached

	for _, p := range s.providers {
		if p.Tier() > maxTier {
			break
		}
		if err := ctx.Err(); err != nil {
			return best, err
		}

		if err := s.checkBudget(ctx, client, p.CostAUD()); err != nil {
			if errs.IsKind(err, errs.BudgetExhausted) {
				s.log.Warn("enrichment budget exhausted",
					"client_id", clientID, "provider", p.Name())
				break
			}
			return best, err
		}

		lead, err := p.Lookup(ctx, q)
		s.recordCost(ctx, clientID, p)
		if err != nil {
			if errs.IsKind(err, errs.NotFound) {
				continue
			}
			s.log.Warn("provider lookup failed",
				"provider", p.Name(), "error", err.Error())
			continue
		}

		best = merge(best, lead)
		if !best.Partial {
			break
		}
	}

	if best == nil {
		return nil, errs.New(errs.NotFound, "enrich.exhausted", q.Email+q.Domain)
	}

	if _, err := s.repo.UpsertPoolLead(ctx, best); err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Put(ctx, q, best); err != nil {
			s.log.Warn("cache write failed", "error", err.Error())
		}
	}
	return best, nil
}

// Acquire discovers and enriches up to n new pool leads for a tenant.
// Satisfies the pool manager's supply contract.
func (s *Service) Acquire(ctx context.Context, clientID string, f domain.ICPFilter, n int) ([]domain.PoolLead, error) {
	if s.source == nil {
		return nil, nil
	}
	discovered, err := s.source.Discover(ctx, f, n)
	if err != nil {
		return nil, errs.Wrap(errs.ProviderTransient, "enrich.discover_failed", err)
	}

	var out []domain.PoolLead
	for i := range discovered {
		lead := &discovered[i]
		enriched, err := s.Enrich(ctx, clientID,
			Query{Email: lead.Email, Domain: lead.Domain, LinkedInURL: lead.LinkedInURL},
			domain.TierCold)
		if err != nil {
			if errs.IsKind(err, errs.NotFound) {
				// Keep the bare discovery record; scoring will rank it low.
				if _, err := s.repo.UpsertPoolLead(ctx, lead); err == nil {
					out = append(out, *lead)
				}
				continue
			}
			s.log.Warn("acquire enrich failed", "email_domain", lead.Domain, "error", err.Error())
			continue
		}
		out = append(out, *enriched)
	}
	s.log.Info("pool acquisition", "client_id", clientID, "requested", n, "acquired", len(out))
	return out, nil
}

// checkBudget trips once today's spend plus the next call would exceed
// the tenant's daily enrichment budget. A zero budget means unlimited.
func (s *Service) checkBudget(ctx context.Context, client *domain.Client, nextCost float64) error {
	if client.DailyEnrichBudgetAUD <= 0 {
		return nil
	}
	spent, err := s.repo.SpentToday(ctx, client.ID, time.Now())
	if err != nil {
		return err
	}
	if spent+nextCost > client.DailyEnrichBudgetAUD {
		return errs.New(errs.BudgetExhausted, "enrich.daily_budget", client.ID)
	}
	return nil
}

func (s *Service) recordCost(ctx context.Context, clientID string, p Provider) {
	if err := s.repo.RecordCost(ctx, clientID, p.Name(), p.CostAUD(), 1); err != nil {
		s.log.Error("cost record failed", "provider", p.Name(), "error", err.Error())
	}
}

// merge overlays b onto a, keeping a's non-empty fields. Enrichment only
// upgrades data.
func merge(a, b *domain.PoolLead) *domain.PoolLead {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	out := *a
	if out.Email == "" {
		out.Email = b.Email
		out.Domain = b.Domain
	}
	if out.FirstName == "" {
		out.FirstName = b.FirstName
	}
	if out.LastName == "" {
		out.LastName = b.LastName
	}
	if out.Title == "" {
		out.Title = b.Title
	}
	if out.Company == "" {
		out.Company = b.Company
	}
	if out.Phone == "" {
		out.Phone = b.Phone
	}
	if out.LinkedInURL == "" {
		out.LinkedInURL = b.LinkedInURL
	}
	if out.Industry == "" {
		out.Industry = b.Industry
	}
	if out.EmployeeCount == 0 {
		out.EmployeeCount = b.EmployeeCount
	}
	if out.Country == "" {
		out.Country = b.Country
	}
	if out.RevenueBand == "" {
		out.RevenueBand = b.RevenueBand
	}
	out.EmailVerified = out.EmailVerified || b.EmailVerified
	if b.NewInRoleDays > 0 {
		out.NewInRoleDays = b.NewInRoleDays
	}
	if b.OpenRoles > 0 {
		out.OpenRoles = b.OpenRoles
	}
	if b.FundedDaysAgo > 0 {
		out.FundedDaysAgo = b.FundedDaysAgo
	}
	if b.TechMatch > out.TechMatch {
		out.TechMatch = b.TechMatch
	}
	out.EnrichmentSource = b.EnrichmentSource
	out.EnrichmentCost = a.EnrichmentCost + b.EnrichmentCost
	out.Partial = !sufficient(&out)
	return &out
}
