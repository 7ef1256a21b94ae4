package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/keiracom/agency-os/internal/channel"
	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/errs"
	"github.com/keiracom/agency-os/internal/pkg/logger"
	"github.com/keiracom/agency-os/internal/service/thread"
)

// Deduper records a provider event and reports whether it is new.
type Deduper interface {
	Record(ctx context.Context, provider, eventID, eventType, providerMessageID string, payload json.RawMessage) (bool, error)
}

// ActivityStore resolves provider message IDs to outbound activities and
// appends event rows.
type ActivityStore interface {
	ByProviderMessageID(ctx context.Context, providerMessageID string) (*domain.Activity, error)
	Insert(ctx context.Context, a *domain.Activity) (string, error)
}

// ReplyHandler advances the thread state machine for an inbound reply.
type ReplyHandler interface {
	HandleReply(ctx context.Context, r thread.Reply) (*thread.Result, error)
}

// BounceRecorder suppresses and terminates a lead after a hard bounce
// or complaint.
type BounceRecorder interface {
	RecordBounce(ctx context.Context, clientID, email string) error
}

// LeadTerminator ends sequencing for a lead.
type LeadTerminator interface {
	SetLeadStatus(ctx context.Context, clientID, poolLeadID string, status domain.LeadStatus) error
	CancelTouches(ctx context.Context, clientID, poolLeadID string) (int, error)
	LeadEmail(ctx context.Context, poolLeadID string) (string, error)
}

// AssignmentSuppressor takes the lead's pool assignment out of rotation
// so a bounced address never returns to the shared pool.
type AssignmentSuppressor interface {
	Suppress(ctx context.Context, clientID, poolLeadID string) error
}

// Notifier pushes events to the owning tenant's webhook. Implementations
// must be non-blocking or fast; delivery is best effort.
type Notifier interface {
	ReplyReceived(ctx context.Context, clientID, poolLeadID, body string)
	LeadBounced(ctx context.Context, clientID, poolLeadID string)
}

// Service is the single entry point for provider events.
type Service struct {
	dedupe      Deduper
	activity    ActivityStore
	threads     ReplyHandler
	bounces     BounceRecorder
	leads       LeadTerminator
	assignments AssignmentSuppressor
	notify      Notifier
	log         *logger.Logger
	now         func() time.Time
}

// New wires the ingestor. notify may be nil.
func New(dedupe Deduper, activity ActivityStore, threads ReplyHandler, bounces BounceRecorder, leads LeadTerminator, assignments AssignmentSuppressor, notify Notifier) *Service {
	return &Service{
		dedupe:      dedupe,
		activity:    activity,
		threads:     threads,
		bounces:     bounces,
		leads:       leads,
		assignments: assignments,
		notify:      notify,
		log:         logger.For("ingest"),
		now:         time.Now,
	}
}

// Ingest applies one event. A duplicate is a silent no-op. An event
// whose provider message ID resolves to nothing is a Validation error;
// the webhook layer answers 4xx so the provider stops retrying it.
func (s *Service) Ingest(ctx context.Context, ch domain.Channel, ev *channel.Event) error {
	fresh, err := s.dedupe.Record(ctx, ev.Provider, ev.ProviderEventID, string(ev.Type), ev.ProviderMessageID, ev.Raw)
	if err != nil {
		return errs.Wrap(errs.Consistency, "ingest.dedupe_failed", err)
	}
	if !fresh {
		s.log.Debug("duplicate event dropped",
			"provider", ev.Provider, "event_id", ev.ProviderEventID, "type", string(ev.Type))
		return nil
	}

	source, err := s.activity.ByProviderMessageID(ctx, ev.ProviderMessageID)
	if err != nil {
		if errs.IsKind(err, errs.NotFound) {
			return errs.New(errs.Validation, "ingest.unknown_message", ev.ProviderMessageID)
		}
		return err
	}

	switch ev.Type {
	case channel.EventReplied:
		return s.applyReply(ctx, ch, ev, source)
	case channel.EventBounced, channel.EventComplaint:
		return s.applyBounce(ctx, ev, source)
	case channel.EventDelivered, channel.EventOpened, channel.EventClicked:
		return s.appendEvent(ctx, ev, source, actionForEvent(ev.Type))
	default:
		return errs.New(errs.Validation, "ingest.unknown_event_type", string(ev.Type))
	}
}

func (s *Service) applyReply(ctx context.Context, ch domain.Channel, ev *channel.Event, source *domain.Activity) error {
	res, err := s.threads.HandleReply(ctx, thread.Reply{
		ClientID:   source.ClientID,
		PoolLeadID: source.PoolLeadID,
		Channel:    ch,
		Body:       ev.Body,
	})
	if err != nil {
		return err
	}

	if err := s.appendEvent(ctx, ev, source, domain.ActionReplied); err != nil {
		return err
	}

	s.log.Info("reply ingested",
		"client_id", source.ClientID, "pool_lead_id", source.PoolLeadID,
		"thread_id", res.ThreadID, "intent", string(res.Classification.Intent),
		"needs_review", res.NeedsReview)

	if s.notify != nil {
		s.notify.ReplyReceived(ctx, source.ClientID, source.PoolLeadID, ev.Body)
	}
	return nil
}

// applyBounce writes the suppression entry before touching anything
// else; if a later step fails and the provider redelivers, suppression
// Add is idempotent.
func (s *Service) applyBounce(ctx context.Context, ev *channel.Event, source *domain.Activity) error {
	email, err := s.leads.LeadEmail(ctx, source.PoolLeadID)
	if err != nil {
		return err
	}
	if err := s.bounces.RecordBounce(ctx, source.ClientID, email); err != nil {
		return err
	}
	if err := s.leads.SetLeadStatus(ctx, source.ClientID, source.PoolLeadID, domain.LeadBounced); err != nil {
		return err
	}
	cancelled, err := s.leads.CancelTouches(ctx, source.ClientID, source.PoolLeadID)
	if err != nil {
		return err
	}

	action := domain.ActionBounced
	if ev.Type == channel.EventComplaint {
		action = domain.ActionComplained
	}
	if err := s.appendEvent(ctx, ev, source, action); err != nil {
		return err
	}

	// Last: activity inserts require a live assignment, so the
	// assignment leaves rotation only after the bounce row lands.
	if err := s.assignments.Suppress(ctx, source.ClientID, source.PoolLeadID); err != nil {
		return err
	}

	s.log.Warn("lead terminated on bounce",
		"client_id", source.ClientID, "pool_lead_id", source.PoolLeadID,
		"event", string(ev.Type), "touches_cancelled", cancelled)

	if s.notify != nil {
		s.notify.LeadBounced(ctx, source.ClientID, source.PoolLeadID)
	}
	return nil
}

// appendEvent writes the event as an activity row carried on the
// outbound activity's identifiers.
func (s *Service) appendEvent(ctx context.Context, ev *channel.Event, source *domain.Activity, action domain.ActivityAction) error {
	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = s.now()
	}
	_, err := s.activity.Insert(ctx, &domain.Activity{
		ClientID:          source.ClientID,
		CampaignID:        source.CampaignID,
		PoolLeadID:        source.PoolLeadID,
		Channel:           source.Channel,
		Resource:          source.Resource,
		Action:            action,
		ProviderMessageID: ev.ProviderMessageID,
		ThreadID:          source.ThreadID,
		TouchNumber:       source.TouchNumber,
		SentAt:            occurred,
	})
	return err
}

func actionForEvent(t channel.EventType) domain.ActivityAction {
	switch t {
	case channel.EventDelivered:
		return domain.ActionDelivered
	case channel.EventOpened:
		return domain.ActionOpened
	case channel.EventClicked:
		return domain.ActionClicked
	case channel.EventReplied:
		return domain.ActionReplied
	case channel.EventBounced:
		return domain.ActionBounced
	case channel.EventComplaint:
		return domain.ActionComplained
	}
	return domain.ActionFailed
}
