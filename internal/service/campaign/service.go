package campaign

import (
	"context"
	"strings"
	"time"

	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/errs"
	"github.com/keiracom/agency-os/internal/pkg/logger"
	"github.com/keiracom/agency-os/internal/repository/postgres"
	"github.com/keiracom/agency-os/internal/service/allocation"
	"github.com/keiracom/agency-os/internal/service/pool"
	"github.com/keiracom/agency-os/internal/service/scoring"
)

// Service drives the campaign lifecycle.
type Service struct {
	repo    Repository
	clients ClientStore
	supply  Supplier
	leads   LeadStore
	planner Planner
	queue   Queue
	score   ScoreContext

	// resources maps channel to the sending identity used for touches:
	// mailbox, phone number, or seat.
	resources map[domain.Channel]string

	// sendHour is the local hour touches are due at.
	sendHour int

	log *logger.Logger
	now func() time.Time
}

// New wires the orchestrator. score may be nil; scoring then sees a
// clean history and no buyer signal for every lead.
func New(repo Repository, clients ClientStore, supply Supplier, leads LeadStore, planner Planner, queue Queue, score ScoreContext, resources map[domain.Channel]string, sendHour int) *Service {
	return &Service{
		repo:      repo,
		clients:   clients,
		supply:    supply,
		leads:     leads,
		planner:   planner,
		queue:     queue,
		score:     score,
		resources: resources,
		sendHour:  sendHour,
		log:       logger.For("campaign"),
		now:       time.Now,
	}
}

// CreateInput is the operator-facing shape of a new campaign.
type CreateInput struct {
	Name          string                 `json:"name"`
	AllocationPct map[domain.Channel]int `json:"allocation_pct"`
	DailyCap      int                    `json:"daily_cap"`
	Sequence      []domain.SequenceStep  `json:"sequence"`
}

// Create persists a draft campaign.
func (s *Service) Create(ctx context.Context, clientID string, in CreateInput) (*domain.Campaign, error) {
	if in.Name == "" {
		return nil, errs.New(errs.Validation, "campaign.name_required", "")
	}
	for ch := range in.AllocationPct {
		if !ch.Valid() {
			return nil, errs.New(errs.Validation, "campaign.bad_channel", string(ch))
		}
	}
	for _, step := range in.Sequence {
		if !step.Channel.Valid() {
			return nil, errs.New(errs.Validation, "campaign.bad_channel", string(step.Channel))
		}
	}

	c := &domain.Campaign{
		ClientID:      clientID,
		Name:          in.Name,
		Status:        domain.CampaignDraft,
		AllocationPct: in.AllocationPct,
		DailyCap:      in.DailyCap,
		Sequence:      in.Sequence,
	}
	if len(c.AllocationPct) > 0 && !c.AllocationValid() {
		return nil, errs.New(errs.Validation, "campaign.allocation_sum", "channel shares must sum to 100")
	}

	id, err := s.repo.Create(ctx, c)
	if err != nil {
		return nil, err
	}
	c.ID = id
	s.log.Info("campaign created", "client_id", clientID, "campaign_id", id, "name", in.Name)
	return c, nil
}

// ActivationResult summarises an activation run.
type ActivationResult struct {
	Supply   *pool.SupplyResult `json:"supply"`
	Enrolled int                `json:"enrolled"`
	Touches  int                `json:"touches"`
	Skipped  int                `json:"skipped"`
}

// Activate supplies the campaign with leads, scores and allocates each
// one, and enqueues the touch schedule. Leads scoring into the dead
// tier are enrolled but get no touches; they stay visible for manual
// review instead of silently vanishing.
func (s *Service) Activate(ctx context.Context, clientID, campaignID string, leadCount int) (*ActivationResult, error) {
	client, err := s.clients.Get(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if !client.CanSend() {
		return nil, errs.New(errs.Validation, "campaign.subscription", string(client.SubscriptionStatus))
	}

	c, err := s.repo.Get(ctx, clientID, campaignID)
	if err != nil {
		return nil, err
	}
	if c.Status == domain.CampaignCompleted {
		return nil, errs.New(errs.Validation, "campaign.completed", campaignID)
	}
	// A draft may be created without an allocation, but nothing goes
	// active until the channel shares sum to 100.
	if !c.AllocationValid() {
		return nil, errs.New(errs.Validation, "campaign.allocation_sum", campaignID)
	}

	filter := domain.ICPFilter{
		Industries:  client.TargetIndustries,
		Countries:   client.TargetCountries,
		EmployeeMin: client.TargetEmployeeMin,
		EmployeeMax: client.TargetEmployeeMax,
	}
	supplied, err := s.supply.Supply(ctx, clientID, campaignID, filter, leadCount)
	if err != nil {
		return nil, err
	}

	res := &ActivationResult{Supply: supplied}
	views, _, err := s.leads.List(ctx, clientID, postgres.ListFilter{
		CampaignID: campaignID,
		Status:     string(domain.LeadNew),
	})
	if err != nil {
		return nil, err
	}

	for i := range views {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := s.enroll(ctx, client, c, &views[i], res); err != nil {
			s.log.Warn("lead enrollment failed",
				"client_id", clientID, "pool_lead_id", views[i].PoolLeadID, "error", err.Error())
			res.Skipped++
		}
	}

	if err := s.repo.SetStatus(ctx, clientID, campaignID, domain.CampaignActive); err != nil {
		return res, err
	}
	s.log.Info("campaign activated",
		"client_id", clientID, "campaign_id", campaignID,
		"enrolled", res.Enrolled, "touches", res.Touches, "skipped", res.Skipped)
	return res, nil
}

// enroll scores one lead, plans its schedule, and enqueues the touches.
func (s *Service) enroll(ctx context.Context, client *domain.Client, c *domain.Campaign, view *domain.LeadView, res *ActivationResult) error {
	lead, err := s.leads.GetPoolLead(ctx, view.PoolLeadID)
	if err != nil {
		return err
	}

	in := scoring.Input{
		TargetIndustries:  client.TargetIndustries,
		TargetCountries:   client.TargetCountries,
		TargetEmployeeMin: client.TargetEmployeeMin,
		TargetEmployeeMax: client.TargetEmployeeMax,
		Weights:           client.ScoreWeights,
	}
	if s.score != nil {
		bounced, unsubscribed, err := s.score.LeadFlags(ctx, client.ID, lead.Email)
		if err != nil {
			return err
		}
		in.Bounced, in.Unsubscribed = bounced, unsubscribed

		if dom := emailDomain(lead.Email); dom != "" {
			in.PersonalDomain = s.score.IsPersonalDomain(dom)
			buyer, err := s.score.BuyerScore(ctx, dom)
			if err != nil {
				return err
			}
			in.BuyerScore = buyer
		}
	}

	scored := scoring.Score(lead, in)
	if err := s.leads.SaveScore(ctx, view.ID, scored.Score, scored.Tier, scored.Components); err != nil {
		return err
	}

	if scored.Tier == domain.TierDead {
		return s.leads.SetStatus(ctx, client.ID, view.PoolLeadID, domain.LeadScored)
	}

	opts := allocation.Options{SignalGate: true}
	if len(c.Sequence) > 0 {
		opts.Sequence = c.Sequence
	}
	schedule, err := s.planner.Plan(ctx, client, scored.Tier, lead, opts)
	if err != nil {
		return err
	}

	touches := s.buildTouches(client, c, view, schedule)
	if len(touches) > 0 {
		if err := s.queue.Enqueue(ctx, touches); err != nil {
			return err
		}
	}
	if err := s.leads.SetStatus(ctx, client.ID, view.PoolLeadID, domain.LeadInSequence); err != nil {
		return err
	}

	res.Enrolled++
	res.Touches += len(touches)
	return nil
}

// buildTouches converts a schedule into queue rows due at the client's
// local send-window start.
func (s *Service) buildTouches(client *domain.Client, c *domain.Campaign, view *domain.LeadView, schedule domain.TouchSchedule) []domain.ScheduledTouch {
	loc, err := time.LoadLocation(client.Timezone)
	if err != nil || client.Timezone == "" {
		loc = time.UTC
	}
	base := s.now().In(loc)

	touches := make([]domain.ScheduledTouch, 0, len(schedule.Touches))
	for i, planned := range schedule.Touches {
		day := base.AddDate(0, 0, planned.OffsetDays)
		due := time.Date(day.Year(), day.Month(), day.Day(), s.sendHour, 0, 0, 0, loc)
		if !due.After(base) {
			// The first touch of a mid-morning activation goes out now,
			// not tomorrow.
			due = base
		}
		touches = append(touches, domain.ScheduledTouch{
			ClientID:    client.ID,
			CampaignID:  c.ID,
			PoolLeadID:  view.PoolLeadID,
			Channel:     planned.Channel,
			Resource:    s.resources[planned.Channel],
			TouchNumber: i + 1,
			TemplateRef: planned.TemplateRef,
			Enhanced:    planned.Enhanced,
			DueAt:       due.UTC(),
			Status:      domain.TouchPending,
		})
	}
	return touches
}

// Pause stops a campaign: status flips and every pending touch is
// cancelled. Touches a worker has already claimed fall to the JIT
// campaign check.
func (s *Service) Pause(ctx context.Context, clientID, campaignID string) (int, error) {
	if _, err := s.repo.Get(ctx, clientID, campaignID); err != nil {
		return 0, err
	}
	if err := s.repo.SetStatus(ctx, clientID, campaignID, domain.CampaignPaused); err != nil {
		return 0, err
	}
	cancelled, err := s.queue.CancelForCampaign(ctx, campaignID)
	if err != nil {
		return 0, err
	}
	s.log.Info("campaign paused",
		"client_id", clientID, "campaign_id", campaignID, "touches_cancelled", cancelled)
	return cancelled, nil
}

// Get returns one campaign.
func (s *Service) Get(ctx context.Context, clientID, id string) (*domain.Campaign, error) {
	return s.repo.Get(ctx, clientID, id)
}

// List returns the tenant's campaigns.
func (s *Service) List(ctx context.Context, clientID string) ([]domain.Campaign, error) {
	return s.repo.List(ctx, clientID)
}

func emailDomain(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}
