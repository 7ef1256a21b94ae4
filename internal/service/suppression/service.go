package suppression

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/errs"
	"github.com/keiracom/agency-os/internal/pkg/logger"
)

// Hit is the result of a positive suppression check.
type Hit struct {
	Reason domain.SuppressionReason
	Scope  domain.SuppressionScope
	Value  string
}

// Service answers suppression checks and maintains the entry set.
type Service struct {
	repo Repository
	log  *logger.Logger

	// personalDomains are excluded from domain-level suppression so one
	// gmail.com customer never blocks the whole provider.
	personalDomains map[string]bool

	mu      sync.RWMutex
	filters map[string]*bloomFilter // client id -> warm filter
}

// New constructs the service with the configured personal-domain list.
func New(repo Repository, personalDomains []string) *Service {
	pd := make(map[string]bool, len(personalDomains))
	for _, d := range personalDomains {
		pd[strings.ToLower(d)] = true
	}
	return &Service{
		repo:            repo,
		log:             logger.For("suppression"),
		personalDomains: pd,
		filters:         map[string]*bloomFilter{},
	}
}

// IsPersonalDomain reports whether the domain is a webmail provider.
func (s *Service) IsPersonalDomain(dom string) bool {
	return s.personalDomains[strings.ToLower(dom)]
}

// Check returns the suppression hit covering (client, email), or nil.
// A domain-level entry shadows every address within the domain unless the
// domain is a personal-email provider.
func (s *Service) Check(ctx context.Context, clientID, email string) (*Hit, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return nil, errs.New(errs.Validation, "suppression.empty_email", "")
	}
	dom := domain.DomainOfEmail(email)

	if f := s.filter(clientID); f != nil {
		if !f.MayContain(email) && !f.MayContain(dom) {
			return nil, nil
		}
	}

	entries, err := s.repo.Match(ctx, clientID, email)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	for i := range entries {
		e := &entries[i]
		if e.Expired(now) {
			continue
		}
		if e.Scope == domain.ScopeDomain && s.personalDomains[e.Value] {
			continue
		}
		return &Hit{Reason: e.Reason, Scope: e.Scope, Value: e.Value}, nil
	}
	return nil, nil
}

// Add records one entry. Domain-scope entries for personal-email
// providers are refused; suppress the individual address instead.
func (s *Service) Add(ctx context.Context, e *domain.SuppressionEntry) error {
	e.Value = strings.ToLower(strings.TrimSpace(e.Value))
	if e.Value == "" {
		return errs.New(errs.Validation, "suppression.empty_value", "")
	}
	if e.Scope == domain.ScopeDomain && s.personalDomains[e.Value] {
		return errs.New(errs.Validation, "suppression.personal_domain", e.Value)
	}
	created, err := s.repo.Add(ctx, e)
	if err != nil {
		return err
	}
	if created {
		s.addToFilter(e.ClientID, e.Value)
		s.log.Info("suppression added", "client_id", e.ClientID, "scope", string(e.Scope), "reason", string(e.Reason))
	}
	return nil
}

// Import bulk-loads entries, typically from a customer CSV. Rows with a
// personal domain at domain scope are dropped per entry rather than
// failing the batch.
func (s *Service) Import(ctx context.Context, clientID string, entries []domain.SuppressionEntry) (int, error) {
	valid := make([]domain.SuppressionEntry, 0, len(entries))
	for _, e := range entries {
		e.ClientID = clientID
		e.Value = strings.ToLower(strings.TrimSpace(e.Value))
		if e.Value == "" {
			continue
		}
		if e.Scope == domain.ScopeDomain && s.personalDomains[e.Value] {
			continue
		}
		valid = append(valid, e)
	}
	added, err := s.repo.BulkAdd(ctx, valid)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	delete(s.filters, clientID) // cold filter rebuilds on next warm-up
	s.mu.Unlock()
	s.log.Info("suppression import", "client_id", clientID, "received", len(entries), "added", added)
	return added, nil
}

// RecordBounce inserts a permanent tenant-scoped email entry. Bounces
// never expire.
func (s *Service) RecordBounce(ctx context.Context, clientID, email string) error {
	return s.Add(ctx, &domain.SuppressionEntry{
		ClientID: clientID,
		Scope:    domain.ScopeEmail,
		Value:    email,
		Reason:   domain.ReasonBounce,
		Source:   "webhook",
	})
}

// RecordUnsubscribe inserts a tenant-scoped entry. Pass an empty clientID
// for a platform-wide unsubscribe.
func (s *Service) RecordUnsubscribe(ctx context.Context, clientID, email string) error {
	return s.Add(ctx, &domain.SuppressionEntry{
		ClientID: clientID,
		Scope:    domain.ScopeEmail,
		Value:    email,
		Reason:   domain.ReasonUnsubscribe,
		Source:   "reply",
	})
}

// RecordCoolingOff inserts a tenant-scoped entry that expires after the
// cooling-off period. Used when a lead replies "not interested".
func (s *Service) RecordCoolingOff(ctx context.Context, clientID, email string, months int) error {
	expires := time.Now().UTC().AddDate(0, months, 0)
	return s.Add(ctx, &domain.SuppressionEntry{
		ClientID:  clientID,
		Scope:     domain.ScopeEmail,
		Value:     email,
		Reason:    domain.ReasonCoolingOff,
		Source:    "reply",
		ExpiresAt: &expires,
	})
}

// RiskFlags reports the tenant's suppression history with the address
// for scoring. Expiry is ignored: a lapsed cooling-off entry no longer
// blocks sends but the history still informs the score.
func (s *Service) RiskFlags(ctx context.Context, clientID, email string) (bounced, unsubscribed, competitor bool, err error) {
	entries, err := s.repo.Match(ctx, clientID, domain.NormalizeEmail(email))
	if err != nil {
		return false, false, false, err
	}
	for i := range entries {
		switch entries[i].Reason {
		case domain.ReasonBounce:
			bounced = true
		case domain.ReasonUnsubscribe:
			unsubscribed = true
		case domain.ReasonCompetitor:
			competitor = true
		}
	}
	return bounced, unsubscribed, competitor, nil
}

// Warm builds the bloom filter for a tenant from the store. Called at
// campaign activation and after bulk imports.
func (s *Service) Warm(ctx context.Context, clientID string, expected int) error {
	f := newBloomFilter(uint64(expected))
	err := s.repo.AllValues(ctx, clientID, func(_ domain.SuppressionScope, value string) error {
		f.Add(value)
		return nil
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.filters[clientID] = f
	s.mu.Unlock()
	s.log.Info("suppression filter warm", "client_id", clientID, "entries", f.count)
	return nil
}

func (s *Service) filter(clientID string) *bloomFilter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filters[clientID]
}

func (s *Service) addToFilter(clientID, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.filters[clientID]; ok {
		f.Add(value)
	}
	// A global entry must also reach every other tenant's warm filter.
	if clientID == "" {
		for id, f := range s.filters {
			if id != "" {
				f.Add(value)
			}
		}
	}
}
