package thread

import (
	"context"
	"time"

	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/errs"
	"github.com/keiracom/agency-os/internal/pkg/logger"
)

const (
	coolingOffMonths       = 12
	defaultAttributionDays = 90
	staleThreadWindow      = 30 * 24 * time.Hour
)

// Service drives thread transitions off classified inbound replies.
type Service struct {
	repo            Repository
	suppressor      Suppressor
	classifier      Classifier
	attributionDays int
	log             *logger.Logger
}

// New builds the state machine. attributionDays is the tenant-default
// conversion attribution window; zero falls back to 90 days, and a
// client's own attribution_window_days overrides both.
func New(repo Repository, suppressor Suppressor, classifier Classifier, attributionDays int) *Service {
	if attributionDays <= 0 {
		attributionDays = defaultAttributionDays
	}
	return &Service{
		repo:            repo,
		suppressor:      suppressor,
		classifier:      classifier,
		attributionDays: attributionDays,
		log:             logger.For("thread"),
	}
}

// Reply is one inbound message, already resolved to a tenant and lead by
// the webhook receiver.
type Reply struct {
	ClientID   string
	PoolLeadID string
	Channel    domain.Channel
	Body       string
}

// Result reports what the state machine did with a reply.
type Result struct {
	ThreadID        string
	Classification  domain.Classification
	TouchesCanceled int
	// NeedsReview is set when classification stayed below threshold; the
	// message is persisted but no automated transition ran.
	NeedsReview bool
}

// HandleReply appends an inbound reply to its thread and runs the
// transition its intent demands. The message is always persisted, even
// when classification is ambiguous.
func (s *Service) HandleReply(ctx context.Context, r Reply) (*Result, error) {
	if r.ClientID == "" || r.PoolLeadID == "" || r.Body == "" {
		return nil, errs.New(errs.Validation, "thread.incomplete_reply", "")
	}

	th, err := s.repo.GetOrCreate(ctx, r.ClientID, r.PoolLeadID, r.Channel)
	if err != nil {
		return nil, err
	}

	prior, err := s.repo.Messages(ctx, th.ID)
	if err != nil {
		return nil, err
	}

	cls, clsErr := s.classifier.Classify(ctx, r.Body, prior)
	needsReview := false
	if clsErr != nil {
		if !errs.IsKind(clsErr, errs.ClassifierAmbig) {
			return nil, clsErr
		}
		needsReview = true
		// An ambiguous classifier may return no classification at all; the
		// message still has to land, so park it as out of scope.
		if cls == nil {
			cls = &domain.Classification{Intent: domain.IntentOutOfScope}
		}
	}

	msg := &domain.Message{
		ThreadID:      th.ID,
		Direction:     domain.DirectionInbound,
		Content:       r.Body,
		Sentiment:     cls.Sentiment,
		Intent:        cls.Intent,
		ObjectionType: cls.ObjectionType,
	}
	if err := s.repo.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}

	res := &Result{ThreadID: th.ID, Classification: *cls, NeedsReview: needsReview}
	if needsReview {
		s.log.Warn("reply parked for review",
			"thread_id", th.ID, "intent", string(cls.Intent), "confidence", cls.Confidence)
		return res, nil
	}

	if err := s.transition(ctx, r, th.ID, cls.Intent, res); err != nil {
		return res, err
	}
	s.log.Info("reply handled",
		"thread_id", th.ID, "intent", string(cls.Intent), "cancelled", res.TouchesCanceled)
	return res, nil
}

func (s *Service) transition(ctx context.Context, r Reply, threadID string, intent domain.Intent, res *Result) error {
	switch intent {
	case domain.IntentUnsubscribe:
		email, err := s.repo.LeadEmail(ctx, r.PoolLeadID)
		if err != nil {
			return err
		}
		if err := s.suppressor.RecordUnsubscribe(ctx, r.ClientID, email); err != nil {
			return err
		}
		if err := s.repo.SetLeadStatus(ctx, r.ClientID, r.PoolLeadID, domain.LeadUnsubscribed); err != nil {
			return err
		}
		if err := s.repo.Resolve(ctx, threadID, domain.OutcomeRejected); err != nil {
			return err
		}
		return s.cancelTouches(ctx, r, res)

	case domain.IntentNotInterested:
		email, err := s.repo.LeadEmail(ctx, r.PoolLeadID)
		if err != nil {
			return err
		}
		if err := s.suppressor.RecordCoolingOff(ctx, r.ClientID, email, coolingOffMonths); err != nil {
			return err
		}
		if err := s.repo.SetLeadStatus(ctx, r.ClientID, r.PoolLeadID, domain.LeadDead); err != nil {
			return err
		}
		if err := s.repo.Resolve(ctx, threadID, domain.OutcomeRejected); err != nil {
			return err
		}
		return s.cancelTouches(ctx, r, res)

	case domain.IntentInterested:
		// A human takes over; the automated sequence stops but the thread
		// stays open until a meeting is booked or the lead goes quiet.
		return s.cancelTouches(ctx, r, res)

	case domain.IntentQuestion, domain.IntentObjection, domain.IntentOutOfScope:
		return nil
	}
	return nil
}

func (s *Service) cancelTouches(ctx context.Context, r Reply, res *Result) error {
	n, err := s.repo.CancelTouches(ctx, r.ClientID, r.PoolLeadID)
	if err != nil {
		return err
	}
	res.TouchesCanceled = n
	return nil
}

// Meeting records a booked meeting: the lead converts, recent touches are
// credited, and the purchase feeds the buyer signal network.
type Meeting struct {
	ClientID   string
	PoolLeadID string
	ThreadID   string
	LeadDomain string
	Service    string
	ValueAUD   float64
}

// RecordMeeting converts the lead. Conversion binds the lead to the
// tenant permanently; the assignment never returns to the pool.
func (s *Service) RecordMeeting(ctx context.Context, m Meeting, signals PurchaseRecorder) error {
	days, err := s.repo.AttributionDays(ctx, m.ClientID)
	if err != nil {
		return err
	}
	if days <= 0 {
		days = s.attributionDays
	}
	window := time.Duration(days) * 24 * time.Hour
	if err := s.repo.RecordConversion(ctx, m.ClientID, m.PoolLeadID, m.ThreadID, window); err != nil {
		return err
	}
	if _, err := s.repo.CancelTouches(ctx, m.ClientID, m.PoolLeadID); err != nil {
		return err
	}
	if signals != nil && m.LeadDomain != "" {
		if err := signals.RecordPurchase(ctx, m.LeadDomain, m.ValueAUD, m.Service); err != nil {
			// Signal capture is best effort; the conversion already landed.
			s.log.Warn("buyer signal record failed", "lead_domain", m.LeadDomain, "error", err.Error())
		}
	}
	s.log.Info("conversion recorded",
		"client_id", m.ClientID, "pool_lead_id", m.PoolLeadID, "thread_id", m.ThreadID)
	return nil
}

// SweepStale resolves threads with no traffic in the window as
// no_response. Run periodically by the maintenance worker.
func (s *Service) SweepStale(ctx context.Context) (int, error) {
	n, err := s.repo.MarkStale(ctx, staleThreadWindow)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("stale threads swept", "count", n)
	}
	return n, nil
}
