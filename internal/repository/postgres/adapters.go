package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/errs"
)

// This file adapts the repositories to the narrower interfaces the
// service and worker packages declare. Each facade is a thin method-name
// bridge; no business logic lives here.

// WorkerStore serves the dispatch loops.
type WorkerStore struct{ s *Store }

func (s *Store) WorkerStore() *WorkerStore { return &WorkerStore{s: s} }

func (w *WorkerStore) ClaimBatch(ctx context.Context, workerID string, limit int) ([]domain.ScheduledTouch, error) {
	return w.s.Queue.ClaimBatch(ctx, workerID, limit)
}

func (w *WorkerStore) MarkSent(ctx context.Context, id, workerID string) error {
	return w.s.Queue.MarkSent(ctx, id, workerID)
}

func (w *WorkerStore) MarkSkipped(ctx context.Context, id, workerID string) error {
	return w.s.Queue.MarkSkipped(ctx, id, workerID)
}

func (w *WorkerStore) Retry(ctx context.Context, id, workerID string, delay time.Duration, maxAttempts int) (domain.TouchStatus, error) {
	return w.s.Queue.Retry(ctx, id, workerID, delay, maxAttempts)
}

func (w *WorkerStore) RequeueNextWindow(ctx context.Context, id, workerID string, nextWindow time.Time, maxRequeues int) (domain.TouchStatus, error) {
	return w.s.Queue.RequeueNextWindow(ctx, id, workerID, nextWindow, maxRequeues)
}

func (w *WorkerStore) ReclaimExpired(ctx context.Context, leaseTTL time.Duration) (int, error) {
	return w.s.Queue.ReclaimExpired(ctx, leaseTTL)
}

func (w *WorkerStore) GetClient(ctx context.Context, id string) (*domain.Client, error) {
	return w.s.Clients.Get(ctx, id)
}

func (w *WorkerStore) ConsumeCredit(ctx context.Context, id string) error {
	return w.s.Clients.ConsumeCredit(ctx, id)
}

func (w *WorkerStore) CampaignCancelled(ctx context.Context, campaignID string) (bool, error) {
	return w.s.Campaigns.IsCancelled(ctx, campaignID)
}

func (w *WorkerStore) GetLeadView(ctx context.Context, clientID, poolLeadID string) (*domain.LeadView, error) {
	return w.s.LeadViews.GetByLead(ctx, clientID, poolLeadID)
}

func (w *WorkerStore) AdvanceSequence(ctx context.Context, clientID, poolLeadID string, position int, next *time.Time) error {
	return w.s.LeadViews.AdvanceSequence(ctx, clientID, poolLeadID, position, next)
}

func (w *WorkerStore) GetPoolLead(ctx context.Context, id string) (*domain.PoolLead, error) {
	return w.s.PoolLeads.Get(ctx, id)
}

func (w *WorkerStore) InsertActivity(ctx context.Context, a *domain.Activity) (string, error) {
	return w.s.Activities.Insert(ctx, a)
}

func (w *WorkerStore) LastOutboundInThread(ctx context.Context, threadID string) (*domain.Activity, error) {
	return w.s.Activities.LastOutboundInThread(ctx, threadID)
}

func (w *WorkerStore) GetOrCreateThread(ctx context.Context, clientID, poolLeadID string, channel domain.Channel) (*domain.Thread, error) {
	return w.s.Threads.GetOrCreate(ctx, clientID, poolLeadID, channel)
}

func (w *WorkerStore) AppendMessage(ctx context.Context, m *domain.Message) error {
	return w.s.Threads.AppendMessage(ctx, m)
}

// RetentionStore serves the janitor.
type RetentionStore struct{ s *Store }

func (s *Store) RetentionStore() *RetentionStore { return &RetentionStore{s: s} }

func (r *RetentionStore) PurgeFinished(ctx context.Context, olderThan time.Duration) (int, error) {
	return r.s.Queue.PurgeFinished(ctx, olderThan)
}

func (r *RetentionStore) PurgeRateCounters(ctx context.Context, cutoff time.Time) (int, error) {
	return r.s.RateLimits.PurgeBefore(ctx, cutoff)
}

func (r *RetentionStore) PurgeWebhookEvents(ctx context.Context, cutoff time.Time) (int, error) {
	return r.s.Webhooks.PurgeBefore(ctx, cutoff)
}

// ThreadStore serves the thread state machine and the event ingestor.
type ThreadStore struct{ s *Store }

func (s *Store) ThreadStore() *ThreadStore { return &ThreadStore{s: s} }

func (t *ThreadStore) GetOrCreate(ctx context.Context, clientID, poolLeadID string, channel domain.Channel) (*domain.Thread, error) {
	return t.s.Threads.GetOrCreate(ctx, clientID, poolLeadID, channel)
}

func (t *ThreadStore) AppendMessage(ctx context.Context, m *domain.Message) error {
	return t.s.Threads.AppendMessage(ctx, m)
}

func (t *ThreadStore) Messages(ctx context.Context, threadID string) ([]domain.Message, error) {
	return t.s.Threads.Messages(ctx, threadID)
}

func (t *ThreadStore) Resolve(ctx context.Context, threadID string, outcome domain.ThreadOutcome) error {
	return t.s.Threads.Resolve(ctx, threadID, outcome)
}

func (t *ThreadStore) MarkStale(ctx context.Context, window time.Duration) (int, error) {
	return t.s.Threads.MarkStale(ctx, window)
}

func (t *ThreadStore) SetLeadStatus(ctx context.Context, clientID, poolLeadID string, status domain.LeadStatus) error {
	return t.s.LeadViews.SetStatus(ctx, clientID, poolLeadID, status)
}

func (t *ThreadStore) CancelTouches(ctx context.Context, clientID, poolLeadID string) (int, error) {
	return t.s.Queue.CancelForLead(ctx, clientID, poolLeadID)
}

func (t *ThreadStore) LeadEmail(ctx context.Context, poolLeadID string) (string, error) {
	lead, err := t.s.PoolLeads.Get(ctx, poolLeadID)
	if err != nil {
		return "", err
	}
	return lead.Email, nil
}

func (t *ThreadStore) AttributionDays(ctx context.Context, clientID string) (int, error) {
	c, err := t.s.Clients.Get(ctx, clientID)
	if err != nil {
		return 0, err
	}
	return c.AttributionWindowDays, nil
}

func (t *ThreadStore) RecordConversion(ctx context.Context, clientID, poolLeadID, threadID string, attribution time.Duration) error {
	return t.s.Activities.RecordConversion(ctx, clientID, poolLeadID, threadID, attribution)
}

// PoolStore serves the assignment ledger manager.
type PoolStore struct{ s *Store }

func (s *Store) PoolStore() *PoolStore { return &PoolStore{s: s} }

func (p *PoolStore) TryAssign(ctx context.Context, clientID, poolLeadID, campaignID string) (*domain.AssignResult, error) {
	return p.s.Assignments.TryAssign(ctx, clientID, poolLeadID, campaignID)
}

func (p *PoolStore) Terminate(ctx context.Context, clientID, poolLeadID string, to domain.AssignmentState) error {
	return p.s.Assignments.Terminate(ctx, clientID, poolLeadID, to)
}

func (p *PoolStore) ReleaseAllForClient(ctx context.Context, clientID string) (int, error) {
	return p.s.Assignments.ReleaseAllForClient(ctx, clientID)
}

func (p *PoolStore) Candidates(ctx context.Context, f domain.ICPFilter) ([]domain.PoolLead, error) {
	return p.s.PoolLeads.Candidates(ctx, f)
}

func (p *PoolStore) GetPoolLead(ctx context.Context, id string) (*domain.PoolLead, error) {
	return p.s.PoolLeads.Get(ctx, id)
}

func (p *PoolStore) CreateLeadView(ctx context.Context, v *domain.LeadView) (string, error) {
	return p.s.LeadViews.Create(ctx, v)
}

func (p *PoolStore) CancelledClients(ctx context.Context) ([]string, error) {
	return p.s.Clients.CancelledWithActiveAssignments(ctx)
}

// DetectorStore serves the learning-loop detectors.
type DetectorStore struct{ s *Store }

func (s *Store) DetectorStore() *DetectorStore { return &DetectorStore{s: s} }

func (d *DetectorStore) DetectorScan(ctx context.Context, clientID string, fn func(*domain.Activity) error) error {
	return d.s.Activities.DetectorScan(ctx, clientID, fn)
}

func (d *DetectorStore) GetPoolLead(ctx context.Context, id string) (*domain.PoolLead, error) {
	return d.s.PoolLeads.Get(ctx, id)
}

func (d *DetectorStore) SavePattern(ctx context.Context, p *domain.ConversionPattern) error {
	_, err := d.s.Patterns.Save(ctx, p)
	return err
}

func (d *DetectorStore) LatestPatterns(ctx context.Context, clientID string) (map[domain.PatternType]*domain.ConversionPattern, error) {
	all, err := d.s.Patterns.LatestAll(ctx, clientID)
	if err != nil {
		return nil, err
	}
	out := make(map[domain.PatternType]*domain.ConversionPattern, len(all))
	for i := range all {
		out[all[i].Type] = &all[i]
	}
	return out, nil
}

// ScoringStore serves standalone re-scoring outside campaign activation.
type ScoringStore struct{ s *Store }

func (s *Store) ScoringStore() *ScoringStore { return &ScoringStore{s: s} }

func (sc *ScoringStore) GetClient(ctx context.Context, clientID string) (*domain.Client, error) {
	return sc.s.Clients.Get(ctx, clientID)
}

func (sc *ScoringStore) GetPoolLead(ctx context.Context, poolLeadID string) (*domain.PoolLead, error) {
	return sc.s.PoolLeads.Get(ctx, poolLeadID)
}

func (sc *ScoringStore) GetLeadView(ctx context.Context, clientID, poolLeadID string) (*domain.LeadView, error) {
	return sc.s.LeadViews.GetByLead(ctx, clientID, poolLeadID)
}

func (sc *ScoringStore) BuyerScore(ctx context.Context, dom string) (int, error) {
	sig, err := sc.s.Signals.Get(ctx, dom)
	if err != nil {
		if errs.IsKind(err, errs.NotFound) {
			return 0, nil
		}
		return 0, err
	}
	return sig.BuyerScore, nil
}

func (sc *ScoringStore) SaveScore(ctx context.Context, viewID string, score int, tier domain.Tier, c domain.ScoreComponents) error {
	return sc.s.LeadViews.SaveScore(ctx, viewID, score, tier, c)
}

// EnrichmentStore serves the waterfall's persistence needs.
type EnrichmentStore struct{ s *Store }

func (s *Store) EnrichmentStore() *EnrichmentStore { return &EnrichmentStore{s: s} }

func (e *EnrichmentStore) GetClient(ctx context.Context, clientID string) (*domain.Client, error) {
	return e.s.Clients.Get(ctx, clientID)
}

func (e *EnrichmentStore) UpsertPoolLead(ctx context.Context, l *domain.PoolLead) (string, error) {
	return e.s.PoolLeads.Upsert(ctx, l)
}

func (e *EnrichmentStore) RecordCost(ctx context.Context, clientID, provider string, costAUD float64, credits int) error {
	return e.s.Costs.Record(ctx, clientID, provider, costAUD, credits)
}

func (e *EnrichmentStore) SpentToday(ctx context.Context, clientID string, now time.Time) (float64, error) {
	return e.s.Costs.SpentToday(ctx, clientID, now)
}

// ClientIDForKey resolves an API key to its tenant.
func (r *ClientRepo) ClientIDForKey(ctx context.Context, key string) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx,
		`SELECT id FROM clients WHERE api_key = $1`, key,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", errs.New(errs.NotFound, "auth.unknown_key", "")
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// ActiveClientIDs lists tenants eligible for sending and detector runs.
func (s *Store) ActiveClientIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM clients WHERE subscription_status IN ('active', 'trialing') ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ScoreContext supplies scorer inputs from the store plus the platform's
// webmail domain list.
type ScoreContext struct {
	s               *Store
	personalDomains map[string]bool
}

func (s *Store) ScoreContext(personalDomains []string) *ScoreContext {
	set := make(map[string]bool, len(personalDomains))
	for _, d := range personalDomains {
		set[strings.ToLower(d)] = true
	}
	return &ScoreContext{s: s, personalDomains: set}
}

func (c *ScoreContext) LeadFlags(ctx context.Context, clientID, email string) (bool, bool, error) {
	entries, err := c.s.Suppressions.Match(ctx, clientID, email)
	if err != nil {
		return false, false, err
	}
	var bounced, unsubscribed bool
	for _, e := range entries {
		switch e.Reason {
		case domain.ReasonBounce:
			bounced = true
		case domain.ReasonUnsubscribe:
			unsubscribed = true
		}
	}
	return bounced, unsubscribed, nil
}

func (c *ScoreContext) BuyerScore(ctx context.Context, dom string) (int, error) {
	sig, err := c.s.Signals.Get(ctx, dom)
	if err != nil {
		if errs.IsKind(err, errs.NotFound) {
			return 0, nil
		}
		return 0, err
	}
	return sig.BuyerScore, nil
}

func (c *ScoreContext) IsPersonalDomain(dom string) bool {
	return c.personalDomains[strings.ToLower(dom)]
}
