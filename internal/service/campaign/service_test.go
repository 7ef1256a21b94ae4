package campaign

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/errs"
	"github.com/keiracom/agency-os/internal/repository/postgres"
	"github.com/keiracom/agency-os/internal/service/allocation"
	"github.com/keiracom/agency-os/internal/service/pool"
)

type mockRepo struct {
	mu        sync.Mutex
	campaigns map[string]*domain.Campaign
	nextID    int
}

func (m *mockRepo) Get(_ context.Context, clientID, id string) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok || c.ClientID != clientID {
		return nil, errs.New(errs.NotFound, "campaign.not_found", id)
	}
	cp := *c
	return &cp, nil
}

func (m *mockRepo) Create(_ context.Context, c *domain.Campaign) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.campaigns == nil {
		m.campaigns = map[string]*domain.Campaign{}
	}
	m.nextID++
	c.ID = "cmp-1"
	m.campaigns[c.ID] = c
	return c.ID, nil
}

func (m *mockRepo) SetStatus(_ context.Context, _, id string, status domain.CampaignStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.campaigns[id].Status = status
	return nil
}

func (m *mockRepo) List(_ context.Context, clientID string) ([]domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Campaign
	for _, c := range m.campaigns {
		if c.ClientID == clientID {
			out = append(out, *c)
		}
	}
	return out, nil
}

type mockClients struct{ client *domain.Client }

func (m *mockClients) Get(context.Context, string) (*domain.Client, error) { return m.client, nil }

type mockSupplier struct {
	result *pool.SupplyResult
	calls  int
}

func (m *mockSupplier) Supply(context.Context, string, string, domain.ICPFilter, int) (*pool.SupplyResult, error) {
	m.calls++
	return m.result, nil
}

type mockLeads struct {
	views    []domain.LeadView
	leads    map[string]*domain.PoolLead
	scores   map[string]int
	statuses map[string]domain.LeadStatus
}

func (m *mockLeads) List(_ context.Context, _ string, f postgres.ListFilter) ([]domain.LeadView, int, error) {
	var out []domain.LeadView
	for _, v := range m.views {
		if f.Status != "" && string(v.Status) != f.Status {
			continue
		}
		out = append(out, v)
	}
	return out, len(out), nil
}

func (m *mockLeads) SaveScore(_ context.Context, id string, score int, _ domain.Tier, _ domain.ScoreComponents) error {
	if m.scores == nil {
		m.scores = map[string]int{}
	}
	m.scores[id] = score
	return nil
}

func (m *mockLeads) SetStatus(_ context.Context, _, poolLeadID string, status domain.LeadStatus) error {
	if m.statuses == nil {
		m.statuses = map[string]domain.LeadStatus{}
	}
	m.statuses[poolLeadID] = status
	return nil
}

func (m *mockLeads) GetPoolLead(_ context.Context, id string) (*domain.PoolLead, error) {
	l, ok := m.leads[id]
	if !ok {
		return nil, errs.New(errs.NotFound, "pool.lead_not_found", id)
	}
	return l, nil
}

type mockPlanner struct{ schedule domain.TouchSchedule }

func (m *mockPlanner) Plan(_ context.Context, _ *domain.Client, tier domain.Tier, _ *domain.PoolLead, _ allocation.Options) (domain.TouchSchedule, error) {
	s := m.schedule
	s.Tier = tier
	return s, nil
}

type mockQueue struct {
	enqueued  []domain.ScheduledTouch
	cancelled []string
}

func (m *mockQueue) Enqueue(_ context.Context, touches []domain.ScheduledTouch) error {
	m.enqueued = append(m.enqueued, touches...)
	return nil
}

func (m *mockQueue) CancelForCampaign(_ context.Context, campaignID string) (int, error) {
	m.cancelled = append(m.cancelled, campaignID)
	return 4, nil
}

func strongLead(id string) *domain.PoolLead {
	return &domain.PoolLead{
		ID: id, Email: id + "@corp.example", EmailVerified: true,
		Phone: "+61455555555", LinkedInURL: "https://linkedin.com/in/" + id,
		Title: "CEO", Company: "Corp", Industry: "SaaS", Country: "Australia",
		EmployeeCount: 30,
	}
}

func activeClient() *domain.Client {
	return &domain.Client{
		ID: "c1", Name: "Acme Agency",
		SubscriptionStatus: domain.SubscriptionActive,
		CreditsRemaining:   100,
		Timezone:           "Australia/Sydney",
		TargetIndustries:   []string{"SaaS"},
		TargetCountries:    []string{"Australia"},
		TargetEmployeeMin:  10, TargetEmployeeMax: 200,
	}
}

func fixture(client *domain.Client) (*Service, *mockRepo, *mockSupplier, *mockLeads, *mockQueue) {
	repo := &mockRepo{}
	supplier := &mockSupplier{result: &pool.SupplyResult{Assigned: 2}}
	leads := &mockLeads{
		views: []domain.LeadView{
			{ID: "v1", ClientID: "c1", PoolLeadID: "p1", CampaignID: "cmp-1", Status: domain.LeadNew},
			{ID: "v2", ClientID: "c1", PoolLeadID: "p2", CampaignID: "cmp-1", Status: domain.LeadNew},
		},
		leads: map[string]*domain.PoolLead{
			"p1": strongLead("p1"),
			"p2": strongLead("p2"),
		},
	}
	planner := &mockPlanner{schedule: domain.TouchSchedule{Touches: []domain.PlannedTouch{
		{Channel: domain.ChannelEmail, OffsetDays: 0, TemplateRef: "intro"},
		{Channel: domain.ChannelEmail, OffsetDays: 5, TemplateRef: "value"},
	}}}
	queue := &mockQueue{}
	resources := map[domain.Channel]string{domain.ChannelEmail: "out@agency.example"}

	svc := New(repo, &mockClients{client: client}, supplier, leads, planner, queue, nil, resources, 8)
	svc.now = func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) }
	return svc, repo, supplier, leads, queue
}

func TestCreateValidatesInput(t *testing.T) {
	svc, _, _, _, _ := fixture(activeClient())

	_, err := svc.Create(context.Background(), "c1", CreateInput{})
	require.Error(t, err)
	assert.Equal(t, "campaign.name_required", errs.CodeOf(err))

	_, err = svc.Create(context.Background(), "c1", CreateInput{
		Name:          "Q2 outbound",
		AllocationPct: map[domain.Channel]int{domain.ChannelEmail: 50},
	})
	require.Error(t, err)
	assert.Equal(t, "campaign.allocation_sum", errs.CodeOf(err))

	_, err = svc.Create(context.Background(), "c1", CreateInput{
		Name:          "Q2 outbound",
		AllocationPct: map[domain.Channel]int{domain.Channel("fax"): 100},
	})
	require.Error(t, err)
	assert.Equal(t, "campaign.bad_channel", errs.CodeOf(err))

	c, err := svc.Create(context.Background(), "c1", CreateInput{
		Name:          "Q2 outbound",
		AllocationPct: map[domain.Channel]int{domain.ChannelEmail: 60, domain.ChannelSMS: 40},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignDraft, c.Status)
}

func TestActivateEnrollsScoresAndEnqueues(t *testing.T) {
	svc, repo, supplier, leads, queue := fixture(activeClient())
	created, err := svc.Create(context.Background(), "c1", CreateInput{
		Name:          "Q2 outbound",
		AllocationPct: map[domain.Channel]int{domain.ChannelEmail: 100},
	})
	require.NoError(t, err)

	res, err := svc.Activate(context.Background(), "c1", created.ID, 25)
	require.NoError(t, err)

	assert.Equal(t, 1, supplier.calls)
	assert.Equal(t, 2, res.Enrolled)
	assert.Equal(t, 4, res.Touches)
	assert.Zero(t, res.Skipped)

	// Both leads scored and moved into sequence.
	assert.Len(t, leads.scores, 2)
	assert.Equal(t, domain.LeadInSequence, leads.statuses["p1"])
	assert.Equal(t, domain.LeadInSequence, leads.statuses["p2"])

	require.Len(t, queue.enqueued, 4)
	first := queue.enqueued[0]
	assert.Equal(t, "out@agency.example", first.Resource)
	assert.Equal(t, 1, first.TouchNumber)
	assert.Equal(t, domain.TouchPending, first.Status)
	// A same-day touch due in the past goes out immediately.
	assert.False(t, first.DueAt.After(svc.now().Add(time.Minute)))

	got, err := repo.Get(context.Background(), "c1", created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignActive, got.Status)
}

func TestActivateSkipsDeadTierLeads(t *testing.T) {
	svc, _, _, leads, queue := fixture(activeClient())
	// No title, no contact data, no fit: scores into the dead tier.
	leads.leads["p1"] = &domain.PoolLead{ID: "p1", Email: "p1@corp.example"}
	leads.leads["p2"] = &domain.PoolLead{ID: "p2", Email: "p2@corp.example"}

	created, err := svc.Create(context.Background(), "c1", CreateInput{
		Name:          "Q2 outbound",
		AllocationPct: map[domain.Channel]int{domain.ChannelEmail: 100},
	})
	require.NoError(t, err)

	res, err := svc.Activate(context.Background(), "c1", created.ID, 25)
	require.NoError(t, err)

	assert.Zero(t, res.Enrolled)
	assert.Empty(t, queue.enqueued)
	// Dead leads stay scored, not in sequence.
	assert.Equal(t, domain.LeadScored, leads.statuses["p1"])
}

func TestActivateRejectsDriftedAllocation(t *testing.T) {
	svc, repo, supplier, _, _ := fixture(activeClient())
	created, err := svc.Create(context.Background(), "c1", CreateInput{
		Name:          "Q2 outbound",
		AllocationPct: map[domain.Channel]int{domain.ChannelEmail: 60, domain.ChannelSMS: 40},
	})
	require.NoError(t, err)

	// The stored row no longer sums to 100.
	repo.campaigns[created.ID].AllocationPct = map[domain.Channel]int{domain.ChannelEmail: 60}

	_, err = svc.Activate(context.Background(), "c1", created.ID, 25)
	require.Error(t, err)
	assert.Equal(t, "campaign.allocation_sum", errs.CodeOf(err))
	assert.Zero(t, supplier.calls)

	// A draft created without any allocation cannot go active either.
	bare, err := svc.Create(context.Background(), "c1", CreateInput{Name: "Bare draft"})
	require.NoError(t, err)
	_, err = svc.Activate(context.Background(), "c1", bare.ID, 25)
	require.Error(t, err)
	assert.Equal(t, "campaign.allocation_sum", errs.CodeOf(err))
}

func TestActivateRejectsInactiveSubscription(t *testing.T) {
	client := activeClient()
	client.SubscriptionStatus = domain.SubscriptionPastDue
	svc, _, _, _, _ := fixture(client)
	created, err := svc.Create(context.Background(), "c1", CreateInput{Name: "Q2 outbound"})
	require.NoError(t, err)

	_, err = svc.Activate(context.Background(), "c1", created.ID, 25)
	require.Error(t, err)
	assert.Equal(t, "campaign.subscription", errs.CodeOf(err))
}

func TestPauseCancelsQueue(t *testing.T) {
	svc, repo, _, _, queue := fixture(activeClient())
	created, err := svc.Create(context.Background(), "c1", CreateInput{
		Name:          "Q2 outbound",
		AllocationPct: map[domain.Channel]int{domain.ChannelEmail: 100},
	})
	require.NoError(t, err)
	_, err = svc.Activate(context.Background(), "c1", created.ID, 25)
	require.NoError(t, err)

	cancelled, err := svc.Pause(context.Background(), "c1", created.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, cancelled)
	assert.Equal(t, []string{created.ID}, queue.cancelled)

	got, err := repo.Get(context.Background(), "c1", created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignPaused, got.Status)
}

func TestEmailDomain(t *testing.T) {
	assert.Equal(t, "corp.example", emailDomain("Jane@Corp.example"))
	assert.Equal(t, "", emailDomain("not-an-email"))
	assert.Equal(t, "", emailDomain("trailing@"))
}
