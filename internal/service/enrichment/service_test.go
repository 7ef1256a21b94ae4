package enrichment

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/errs"
)

type mockEnrichRepo struct {
	client   *domain.Client
	upserted []domain.PoolLead
	costs    []float64
	spent    float64
}

func (m *mockEnrichRepo) GetClient(context.Context, string) (*domain.Client, error) {
	return m.client, nil
}

func (m *mockEnrichRepo) UpsertPoolLead(_ context.Context, l *domain.PoolLead) (string, error) {
	m.upserted = append(m.upserted, *l)
	return "id-" + l.Email, nil
}

func (m *mockEnrichRepo) RecordCost(_ context.Context, _, _ string, costAUD float64, _ int) error {
	m.costs = append(m.costs, costAUD)
	m.spent += costAUD
	return nil
}

func (m *mockEnrichRepo) SpentToday(context.Context, string, time.Time) (float64, error) {
	return m.spent, nil
}

type mockProvider struct {
	name   string
	tier   int
	cost   float64
	lead   *domain.PoolLead
	err    error
	called int
}

func (m *mockProvider) Name() string     { return m.name }
func (m *mockProvider) Tier() int        { return m.tier }
func (m *mockProvider) CostAUD() float64 { return m.cost }
func (m *mockProvider) Lookup(context.Context, Query) (*domain.PoolLead, error) {
	m.called++
	if m.err != nil {
		return nil, m.err
	}
	cp := *m.lead
	return &cp, nil
}

func testCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewCache(rdb, "v1", 90), mr
}

func fullRecord(source string) *domain.PoolLead {
	return &domain.PoolLead{
		Email: "jane@corp.com", Domain: "corp.com",
		FirstName: "Jane", LastName: "Doe",
		Title: "CEO", Company: "Corp",
		EnrichmentSource: source, EnrichmentCost: 0.1,
	}
}

func TestCacheHitSkipsProviders(t *testing.T) {
	cache, _ := testCache(t)
	q := Query{Email: "jane@corp.com"}
	require.NoError(t, cache.Put(context.Background(), q, fullRecord("seed")))

	p := &mockProvider{name: "bulk", tier: 1, lead: fullRecord("bulk")}
	repo := &mockEnrichRepo{client: &domain.Client{ID: "c1"}}
	svc := New(repo, cache, []Provider{p}, nil)

	lead, err := svc.Enrich(context.Background(), "c1", q, domain.TierHot)
	require.NoError(t, err)
	assert.Equal(t, "seed", lead.EnrichmentSource)
	assert.Zero(t, p.called)
	assert.Empty(t, repo.costs)
}

func TestWaterfallStopsWhenSufficient(t *testing.T) {
	cache, _ := testCache(t)
	p1 := &mockProvider{name: "bulk", tier: 1, cost: 0.05, lead: fullRecord("bulk")}
	p2 := &mockProvider{name: "full", tier: 2, cost: 0.5, lead: fullRecord("full")}
	repo := &mockEnrichRepo{client: &domain.Client{ID: "c1"}}
	svc := New(repo, cache, []Provider{p2, p1}, nil)

	lead, err := svc.Enrich(context.Background(), "c1", Query{Email: "jane@corp.com"}, domain.TierHot)
	require.NoError(t, err)
	assert.Equal(t, "bulk", lead.EnrichmentSource)
	assert.Equal(t, 1, p1.called)
	assert.Zero(t, p2.called)
}

func TestPartialResultsUpgradeThroughTiers(t *testing.T) {
	cache, _ := testCache(t)
	partial := &domain.PoolLead{
		Email: "jane@corp.com", Domain: "corp.com",
		FirstName: "Jane", EnrichmentSource: "bulk", EnrichmentCost: 0.05,
		Partial: true,
	}
	p1 := &mockProvider{name: "bulk", tier: 1, cost: 0.05, lead: partial}
	p2 := &mockProvider{name: "full", tier: 2, cost: 0.5, lead: fullRecord("full")}
	repo := &mockEnrichRepo{client: &domain.Client{ID: "c1"}}
	svc := New(repo, cache, []Provider{p1, p2}, nil)

	lead, err := svc.Enrich(context.Background(), "c1", Query{Email: "jane@corp.com"}, domain.TierWarm)
	require.NoError(t, err)
	assert.False(t, lead.Partial)
	assert.Equal(t, "Jane", lead.FirstName)
	assert.Equal(t, "CEO", lead.Title)
	assert.Equal(t, 1, p1.called)
	assert.Equal(t, 1, p2.called)
	// Costs accumulate across the cascade.
	assert.InDelta(t, 0.15, lead.EnrichmentCost, 0.001)
}

func TestTierCapsWaterfallDepth(t *testing.T) {
	cache, _ := testCache(t)
	partial := &domain.PoolLead{Email: "jane@corp.com", Domain: "corp.com", Partial: true}
	p1 := &mockProvider{name: "bulk", tier: 1, lead: partial}
	p2 := &mockProvider{name: "full", tier: 2, lead: fullRecord("full")}
	p3 := &mockProvider{name: "premium", tier: 3, lead: fullRecord("premium")}
	repo := &mockEnrichRepo{client: &domain.Client{ID: "c1"}}
	svc := New(repo, cache, []Provider{p1, p2, p3}, nil)

	_, err := svc.Enrich(context.Background(), "c1", Query{Email: "jane@corp.com"}, domain.TierCool)
	require.NoError(t, err)
	assert.Equal(t, 1, p1.called)
	assert.Zero(t, p2.called)
	assert.Zero(t, p3.called)
}

func TestBudgetCircuitTripsAboveDailyLimit(t *testing.T) {
	cache, _ := testCache(t)
	partial := &domain.PoolLead{Email: "jane@corp.com", Domain: "corp.com", Partial: true}
	p1 := &mockProvider{name: "bulk", tier: 1, cost: 0.4, lead: partial}
	p2 := &mockProvider{name: "full", tier: 2, cost: 0.8, lead: fullRecord("full")}
	repo := &mockEnrichRepo{client: &domain.Client{ID: "c1", DailyEnrichBudgetAUD: 1.0}}
	svc := New(repo, cache, []Provider{p1, p2}, nil)

	lead, err := svc.Enrich(context.Background(), "c1", Query{Email: "jane@corp.com"}, domain.TierHot)
	require.NoError(t, err)
	// Tier 1 ran (0.4 spent); tier 2 would push past 1.0 and is refused.
	assert.Equal(t, 1, p1.called)
	assert.Zero(t, p2.called)
	assert.True(t, lead.Partial)
}

func TestProviderMissFallsThrough(t *testing.T) {
	cache, _ := testCache(t)
	p1 := &mockProvider{name: "bulk", tier: 1, err: errs.New(errs.NotFound, "enrich.no_match", "bulk")}
	p2 := &mockProvider{name: "full", tier: 2, lead: fullRecord("full")}
	repo := &mockEnrichRepo{client: &domain.Client{ID: "c1"}}
	svc := New(repo, cache, []Provider{p1, p2}, nil)

	lead, err := svc.Enrich(context.Background(), "c1", Query{Email: "jane@corp.com"}, domain.TierWarm)
	require.NoError(t, err)
	assert.Equal(t, "full", lead.EnrichmentSource)
}

func TestEnrichWritesCache(t *testing.T) {
	cache, mr := testCache(t)
	p := &mockProvider{name: "bulk", tier: 1, lead: fullRecord("bulk")}
	repo := &mockEnrichRepo{client: &domain.Client{ID: "c1"}}
	svc := New(repo, cache, []Provider{p}, nil)

	q := Query{Email: "jane@corp.com"}
	_, err := svc.Enrich(context.Background(), "c1", q, domain.TierHot)
	require.NoError(t, err)
	assert.True(t, mr.Exists(cache.Key(q)))

	// Second call answers from cache.
	_, err = svc.Enrich(context.Background(), "c1", q, domain.TierHot)
	require.NoError(t, err)
	assert.Equal(t, 1, p.called)
}

func TestVersionBumpInvalidatesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	v1 := NewCache(rdb, "v1", 90)
	v2 := NewCache(rdb, "v2", 90)

	q := Query{Email: "jane@corp.com"}
	require.NoError(t, v1.Put(context.Background(), q, fullRecord("seed")))

	hit, err := v2.Get(context.Background(), q)
	require.NoError(t, err)
	assert.Nil(t, hit)
}
