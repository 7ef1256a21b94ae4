package worker

import (
	"context"
	"time"

	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/errs"
	"github.com/keiracom/agency-os/internal/service/suppression"
)

// Store is the slice of persistence the dispatch loops use. The
// concrete implementation lives in the postgres package.
type Store interface {
	ClaimBatch(ctx context.Context, workerID string, limit int) ([]domain.ScheduledTouch, error)
	MarkSent(ctx context.Context, id, workerID string) error
	MarkSkipped(ctx context.Context, id, workerID string) error
	Retry(ctx context.Context, id, workerID string, delay time.Duration, maxAttempts int) (domain.TouchStatus, error)
	RequeueNextWindow(ctx context.Context, id, workerID string, nextWindow time.Time, maxRequeues int) (domain.TouchStatus, error)
	ReclaimExpired(ctx context.Context, leaseTTL time.Duration) (int, error)

	GetClient(ctx context.Context, id string) (*domain.Client, error)
	ConsumeCredit(ctx context.Context, id string) error
	CampaignCancelled(ctx context.Context, campaignID string) (bool, error)
	GetLeadView(ctx context.Context, clientID, poolLeadID string) (*domain.LeadView, error)
	AdvanceSequence(ctx context.Context, clientID, poolLeadID string, position int, next *time.Time) error
	GetPoolLead(ctx context.Context, id string) (*domain.PoolLead, error)

	InsertActivity(ctx context.Context, a *domain.Activity) (string, error)
	LastOutboundInThread(ctx context.Context, threadID string) (*domain.Activity, error)
	GetOrCreateThread(ctx context.Context, clientID, poolLeadID string, channel domain.Channel) (*domain.Thread, error)
	AppendMessage(ctx context.Context, m *domain.Message) error
}

// Suppressor is the dispatch-side suppression check.
type Suppressor interface {
	Check(ctx context.Context, clientID, email string) (*suppression.Hit, error)
}

// TokenSource grants per-resource send tokens.
type TokenSource interface {
	Acquire(ctx context.Context, channel domain.Channel, resource string, now time.Time) (bool, error)
}

// skipError marks a touch that must not be sent or retried. reason lands
// on the skipped Activity row.
type skipError struct {
	code   string
	reason string
}

func (e *skipError) Error() string { return e.code + ": " + e.reason }

// validator runs the pre-send checks, in order. The order is load-bearing:
// cheap tenant-level checks come before per-lead lookups, and the rate
// token is taken last so a dropped touch never burns quota.
type validator struct {
	store      Store
	suppressor Suppressor
	tokens     TokenSource
}

// preSendState carries what validation already fetched so the send path
// does not re-query.
type preSendState struct {
	client *domain.Client
	view   *domain.LeadView
	lead   *domain.PoolLead
}

// validate returns nil when the touch may be sent. A *skipError means
// drop without retry; a rate-limit error means re-queue for the next
// window; anything else is a transient store failure.
func (v *validator) validate(ctx context.Context, t *domain.ScheduledTouch, now time.Time) (*preSendState, error) {
	client, err := v.store.GetClient(ctx, t.ClientID)
	if err != nil {
		return nil, err
	}
	if !client.CanSend() {
		return nil, &skipError{"jit.subscription", string(client.SubscriptionStatus)}
	}
	if client.CreditsRemaining <= 0 {
		return nil, &skipError{"jit.credits", "credits exhausted"}
	}

	cancelled, err := v.store.CampaignCancelled(ctx, t.CampaignID)
	if err != nil {
		return nil, err
	}
	if cancelled {
		return nil, &skipError{"jit.campaign", "campaign not active"}
	}

	view, err := v.store.GetLeadView(ctx, t.ClientID, t.PoolLeadID)
	if err != nil {
		return nil, err
	}
	if view.Status.IsTerminal() {
		return nil, &skipError{"jit.lead_status", string(view.Status)}
	}

	lead, err := v.store.GetPoolLead(ctx, t.PoolLeadID)
	if err != nil {
		return nil, err
	}
	hit, err := v.suppressor.Check(ctx, t.ClientID, lead.Email)
	if err != nil {
		return nil, err
	}
	if hit != nil {
		return nil, &skipError{"jit.suppressed", string(hit.Reason)}
	}

	granted, err := v.tokens.Acquire(ctx, t.Channel, t.Resource, now)
	if err != nil {
		return nil, err
	}
	if !granted {
		return nil, errs.New(errs.RateLimited, "jit.rate_limited", t.Resource)
	}

	return &preSendState{client: client, view: view, lead: lead}, nil
}
