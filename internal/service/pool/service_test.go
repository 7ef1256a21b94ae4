package pool

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/service/suppression"
)

// mockRepo is an in-memory ledger for testing.
type mockRepo struct {
	mu          sync.Mutex
	leads       map[string]*domain.PoolLead
	assignments map[string]*domain.Assignment // keyed by pool_lead_id, non-terminal
	converted   map[string]string             // pool_lead_id -> client_id
	views       []domain.LeadView
	cancelled   []string
	released    map[string]int
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		leads:       map[string]*domain.PoolLead{},
		assignments: map[string]*domain.Assignment{},
		converted:   map[string]string{},
		released:    map[string]int{},
	}
}

func (m *mockRepo) addLead(id, email string) {
	m.leads[id] = &domain.PoolLead{ID: id, Email: email, Domain: domain.DomainOfEmail(email), PoolStatus: domain.PoolUnassigned}
}

func (m *mockRepo) TryAssign(_ context.Context, clientID, poolLeadID, campaignID string) (*domain.AssignResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if owner, ok := m.converted[poolLeadID]; ok {
		return &domain.AssignResult{Outcome: domain.AssignCollision, OtherClientID: owner}, nil
	}
	if a, ok := m.assignments[poolLeadID]; ok {
		if a.ClientID == clientID {
			return &domain.AssignResult{Outcome: domain.AssignAlreadyOurs}, nil
		}
		return &domain.AssignResult{Outcome: domain.AssignCollision, OtherClientID: a.ClientID}, nil
	}
	id := fmt.Sprintf("a-%s-%s", clientID, poolLeadID)
	m.assignments[poolLeadID] = &domain.Assignment{
		ID: id, ClientID: clientID, PoolLeadID: poolLeadID,
		CampaignID: campaignID, State: domain.AssignmentActive,
	}
	m.leads[poolLeadID].PoolStatus = domain.PoolAssigned
	return &domain.AssignResult{Outcome: domain.AssignOK, AssignmentID: id}, nil
}

func (m *mockRepo) Terminate(_ context.Context, clientID, poolLeadID string, to domain.AssignmentState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[poolLeadID]
	if !ok || a.ClientID != clientID {
		return fmt.Errorf("not active")
	}
	delete(m.assignments, poolLeadID)
	if to == domain.AssignmentConverted {
		m.converted[poolLeadID] = clientID
	}
	if to == domain.AssignmentReleased {
		m.leads[poolLeadID].PoolStatus = domain.PoolUnassigned
	}
	return nil
}

func (m *mockRepo) ReleaseAllForClient(_ context.Context, clientID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for leadID, a := range m.assignments {
		if a.ClientID == clientID {
			delete(m.assignments, leadID)
			m.leads[leadID].PoolStatus = domain.PoolUnassigned
			n++
		}
	}
	m.released[clientID] += n
	return n, nil
}

func (m *mockRepo) Candidates(_ context.Context, f domain.ICPFilter) ([]domain.PoolLead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PoolLead
	for _, l := range m.leads {
		if l.PoolStatus != domain.PoolUnassigned {
			continue
		}
		out = append(out, *l)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (m *mockRepo) GetPoolLead(_ context.Context, id string) (*domain.PoolLead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leads[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	cp := *l
	return &cp, nil
}

func (m *mockRepo) CreateLeadView(_ context.Context, v *domain.LeadView) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.views = append(m.views, *v)
	return fmt.Sprintf("v-%d", len(m.views)), nil
}

func (m *mockRepo) CancelledClients(context.Context) ([]string, error) {
	return m.cancelled, nil
}

// mockSuppression suppresses a fixed set of emails.
type mockSuppression struct{ suppressed map[string]domain.SuppressionReason }

func (m *mockSuppression) Check(_ context.Context, _, email string) (*suppression.Hit, error) {
	if reason, ok := m.suppressed[email]; ok {
		return &suppression.Hit{Reason: reason, Scope: domain.ScopeEmail, Value: email}, nil
	}
	return nil, nil
}

func TestTryAssignChecksSuppressionFirst(t *testing.T) {
	repo := newMockRepo()
	repo.addLead("l1", "alice@corp.com")
	sup := &mockSuppression{suppressed: map[string]domain.SuppressionReason{
		"alice@corp.com": domain.ReasonExistingCustomer,
	}}
	mgr := New(repo, sup, nil)

	res, err := mgr.TryAssign(context.Background(), "c1", "l1", "camp1")
	require.NoError(t, err)
	assert.Equal(t, domain.AssignSuppressed, res.Outcome)
	assert.Equal(t, domain.ReasonExistingCustomer, res.SuppressionReason)

	// The ledger was never touched.
	assert.Empty(t, repo.assignments)
	assert.Empty(t, repo.views)
}

func TestTryAssignCreatesView(t *testing.T) {
	repo := newMockRepo()
	repo.addLead("l1", "alice@corp.com")
	mgr := New(repo, &mockSuppression{}, nil)

	res, err := mgr.TryAssign(context.Background(), "c1", "l1", "camp1")
	require.NoError(t, err)
	assert.Equal(t, domain.AssignOK, res.Outcome)
	require.Len(t, repo.views, 1)
	assert.Equal(t, "c1", repo.views[0].ClientID)
	assert.Equal(t, res.AssignmentID, repo.views[0].AssignmentID)
}

func TestTryAssignCollision(t *testing.T) {
	repo := newMockRepo()
	repo.addLead("l1", "alice@corp.com")
	mgr := New(repo, &mockSuppression{}, nil)

	first, err := mgr.TryAssign(context.Background(), "c1", "l1", "camp1")
	require.NoError(t, err)
	require.Equal(t, domain.AssignOK, first.Outcome)

	second, err := mgr.TryAssign(context.Background(), "c2", "l1", "camp2")
	require.NoError(t, err)
	assert.Equal(t, domain.AssignCollision, second.Outcome)
	assert.Equal(t, "c1", second.OtherClientID)

	again, err := mgr.TryAssign(context.Background(), "c1", "l1", "camp1")
	require.NoError(t, err)
	assert.Equal(t, domain.AssignAlreadyOurs, again.Outcome)
}

func TestConvertedLeadAlwaysCollides(t *testing.T) {
	repo := newMockRepo()
	repo.addLead("l1", "alice@corp.com")
	mgr := New(repo, &mockSuppression{}, nil)

	_, err := mgr.TryAssign(context.Background(), "c1", "l1", "camp1")
	require.NoError(t, err)
	require.NoError(t, repo.Terminate(context.Background(), "c1", "l1", domain.AssignmentConverted))

	res, err := mgr.TryAssign(context.Background(), "c2", "l1", "camp2")
	require.NoError(t, err)
	assert.Equal(t, domain.AssignCollision, res.Outcome)
	assert.Equal(t, "c1", res.OtherClientID)
}

// mockEnricher adds fresh leads to the repo on demand.
type mockEnricher struct {
	repo  *mockRepo
	calls int
}

func (m *mockEnricher) Acquire(_ context.Context, _ string, _ domain.ICPFilter, n int) ([]domain.PoolLead, error) {
	m.calls++
	var out []domain.PoolLead
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("fresh-%d-%d", m.calls, i)
		m.repo.addLead(id, id+"@new.com")
		out = append(out, *m.repo.leads[id])
	}
	return out, nil
}

func TestSupplyStopsAtN(t *testing.T) {
	repo := newMockRepo()
	for i := 0; i < 10; i++ {
		repo.addLead(fmt.Sprintf("l%d", i), fmt.Sprintf("lead%d@corp%d.com", i, i))
	}
	mgr := New(repo, &mockSuppression{}, nil)

	res, err := mgr.Supply(context.Background(), "c1", "camp1", domain.ICPFilter{}, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Assigned)
	assert.Len(t, repo.views, 4)
}

func TestSupplyInvokesEnricherOnExhaustion(t *testing.T) {
	repo := newMockRepo()
	repo.addLead("l1", "only@corp.com")
	enricher := &mockEnricher{repo: repo}
	mgr := New(repo, &mockSuppression{}, enricher)

	res, err := mgr.Supply(context.Background(), "c1", "camp1", domain.ICPFilter{}, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Assigned)
	assert.Equal(t, 1, enricher.calls)
	assert.Equal(t, 2, res.Acquired)
}

func TestSupplyCountsSkips(t *testing.T) {
	repo := newMockRepo()
	repo.addLead("l1", "good@corp.com")
	repo.addLead("l2", "blocked@corp.com")
	sup := &mockSuppression{suppressed: map[string]domain.SuppressionReason{
		"blocked@corp.com": domain.ReasonDoNotContact,
	}}
	mgr := New(repo, sup, nil)

	res, err := mgr.Supply(context.Background(), "c1", "camp1", domain.ICPFilter{}, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Assigned)
	assert.Equal(t, 1, res.Suppressed)
}

func TestReleaseCancelled(t *testing.T) {
	repo := newMockRepo()
	repo.addLead("l1", "a@x.com")
	repo.addLead("l2", "b@y.com")
	repo.cancelled = []string{"c1"}
	mgr := New(repo, &mockSuppression{}, nil)

	_, err := mgr.TryAssign(context.Background(), "c1", "l1", "camp1")
	require.NoError(t, err)
	_, err = mgr.TryAssign(context.Background(), "c1", "l2", "camp1")
	require.NoError(t, err)

	n, err := mgr.ReleaseCancelled(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, domain.PoolUnassigned, repo.leads["l1"].PoolStatus)
}
