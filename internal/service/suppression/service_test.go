package suppression

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/errs"
)

type memRepo struct {
	mu      sync.Mutex
	entries []domain.SuppressionEntry
	matches int
}

func (m *memRepo) Add(ctx context.Context, e *domain.SuppressionEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.entries {
		if x.ClientID == e.ClientID && x.Value == e.Value {
			return false, nil
		}
	}
	m.entries = append(m.entries, *e)
	return true, nil
}

func (m *memRepo) BulkAdd(ctx context.Context, entries []domain.SuppressionEntry) (int, error) {
	added := 0
	for i := range entries {
		ok, _ := m.Add(ctx, &entries[i])
		if ok {
			added++
		}
	}
	return added, nil
}

func (m *memRepo) Match(ctx context.Context, clientID, email string) ([]domain.SuppressionEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matches++
	dom := domain.DomainOfEmail(email)
	var out []domain.SuppressionEntry
	for _, e := range m.entries {
		if e.ClientID != clientID && e.ClientID != "" {
			continue
		}
		if (e.Scope == domain.ScopeEmail && e.Value == email) ||
			(e.Scope == domain.ScopeDomain && e.Value == dom) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memRepo) AllValues(ctx context.Context, clientID string, fn func(domain.SuppressionScope, string) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ClientID != clientID && e.ClientID != "" {
			continue
		}
		if err := fn(e.Scope, e.Value); err != nil {
			return err
		}
	}
	return nil
}

var webmail = []string{"gmail.com", "outlook.com", "yahoo.com"}

func TestCheckMatchesEmailAndDomain(t *testing.T) {
	repo := &memRepo{}
	svc := New(repo, webmail)
	ctx := context.Background()

	require.NoError(t, svc.Add(ctx, &domain.SuppressionEntry{
		ClientID: "c1", Scope: domain.ScopeEmail, Value: "jane@corp.example",
		Reason: domain.ReasonUnsubscribe, Source: "reply",
	}))
	require.NoError(t, svc.Add(ctx, &domain.SuppressionEntry{
		ClientID: "c1", Scope: domain.ScopeDomain, Value: "blocked.example",
		Reason: domain.ReasonExistingCustomer, Source: "customer_import",
	}))

	hit, err := svc.Check(ctx, "c1", "Jane@Corp.example")
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, domain.ReasonUnsubscribe, hit.Reason)

	hit, err = svc.Check(ctx, "c1", "anyone@blocked.example")
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, domain.ScopeDomain, hit.Scope)

	hit, err = svc.Check(ctx, "c1", "fresh@other.example")
	require.NoError(t, err)
	assert.Nil(t, hit)
}

func TestCheckIsTenantScoped(t *testing.T) {
	repo := &memRepo{}
	svc := New(repo, webmail)
	ctx := context.Background()

	require.NoError(t, svc.Add(ctx, &domain.SuppressionEntry{
		ClientID: "c1", Scope: domain.ScopeEmail, Value: "jane@corp.example",
		Reason: domain.ReasonDoNotContact, Source: "api",
	}))

	hit, err := svc.Check(ctx, "c2", "jane@corp.example")
	require.NoError(t, err)
	assert.Nil(t, hit, "another tenant's entry must not suppress")
}

func TestGlobalEntryCoversEveryTenant(t *testing.T) {
	repo := &memRepo{}
	svc := New(repo, webmail)
	ctx := context.Background()

	require.NoError(t, svc.Add(ctx, &domain.SuppressionEntry{
		ClientID: "", Scope: domain.ScopeEmail, Value: "never@corp.example",
		Reason: domain.ReasonUnsubscribe, Source: "reply",
	}))

	for _, client := range []string{"c1", "c2"} {
		hit, err := svc.Check(ctx, client, "never@corp.example")
		require.NoError(t, err)
		require.NotNil(t, hit, "global entry must cover tenant %s", client)
	}
}

func TestPersonalDomainNeverSuppressedAtDomainScope(t *testing.T) {
	repo := &memRepo{}
	svc := New(repo, webmail)
	ctx := context.Background()

	err := svc.Add(ctx, &domain.SuppressionEntry{
		ClientID: "c1", Scope: domain.ScopeDomain, Value: "gmail.com",
		Reason: domain.ReasonExistingCustomer, Source: "customer_import",
	})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.Validation))

	// An individual webmail address is still suppressible.
	require.NoError(t, svc.Add(ctx, &domain.SuppressionEntry{
		ClientID: "c1", Scope: domain.ScopeEmail, Value: "buyer@gmail.com",
		Reason: domain.ReasonExistingCustomer, Source: "customer_import",
	}))
	hit, err := svc.Check(ctx, "c1", "buyer@gmail.com")
	require.NoError(t, err)
	require.NotNil(t, hit)

	hit, err = svc.Check(ctx, "c1", "someone-else@gmail.com")
	require.NoError(t, err)
	assert.Nil(t, hit)
}

func TestExpiredCoolingOffEntryIsIgnored(t *testing.T) {
	repo := &memRepo{}
	svc := New(repo, webmail)
	ctx := context.Background()

	past := time.Now().UTC().Add(-24 * time.Hour)
	require.NoError(t, svc.Add(ctx, &domain.SuppressionEntry{
		ClientID: "c1", Scope: domain.ScopeEmail, Value: "back@corp.example",
		Reason: domain.ReasonCoolingOff, Source: "reply", ExpiresAt: &past,
	}))

	hit, err := svc.Check(ctx, "c1", "back@corp.example")
	require.NoError(t, err)
	assert.Nil(t, hit, "expired cooling-off must not block")
}

func TestImportSkipsPersonalDomainsPerRow(t *testing.T) {
	repo := &memRepo{}
	svc := New(repo, webmail)
	ctx := context.Background()

	added, err := svc.Import(ctx, "c1", []domain.SuppressionEntry{
		{Scope: domain.ScopeEmail, Value: "a@corp.example", Reason: domain.ReasonExistingCustomer},
		{Scope: domain.ScopeDomain, Value: "gmail.com", Reason: domain.ReasonExistingCustomer},
		{Scope: domain.ScopeDomain, Value: "corp.example", Reason: domain.ReasonExistingCustomer},
		{Scope: domain.ScopeEmail, Value: "", Reason: domain.ReasonExistingCustomer},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, added, "personal-domain and empty rows dropped, batch succeeds")
}

func TestWarmFilterShortCircuitsCleanAddresses(t *testing.T) {
	repo := &memRepo{}
	svc := New(repo, webmail)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		require.NoError(t, svc.Add(ctx, &domain.SuppressionEntry{
			ClientID: "c1", Scope: domain.ScopeEmail,
			Value:  fmt.Sprintf("blocked%d@corp.example", i),
			Reason: domain.ReasonBounce, Source: "webhook",
		}))
	}
	require.NoError(t, svc.Warm(ctx, "c1", 100))

	repo.mu.Lock()
	before := repo.matches
	repo.mu.Unlock()

	hit, err := svc.Check(ctx, "c1", "clean@elsewhere.example")
	require.NoError(t, err)
	assert.Nil(t, hit)

	repo.mu.Lock()
	after := repo.matches
	repo.mu.Unlock()
	assert.Equal(t, before, after, "negative filter answer must skip the store")

	// A suppressed value always reaches the store and hits.
	hit, err = svc.Check(ctx, "c1", "blocked7@corp.example")
	require.NoError(t, err)
	require.NotNil(t, hit)
}

func TestAddAfterWarmReachesFilter(t *testing.T) {
	repo := &memRepo{}
	svc := New(repo, webmail)
	ctx := context.Background()

	require.NoError(t, svc.Warm(ctx, "c1", 10))
	require.NoError(t, svc.RecordBounce(ctx, "c1", "new@corp.example"))

	hit, err := svc.Check(ctx, "c1", "new@corp.example")
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, domain.ReasonBounce, hit.Reason)
}

func TestBloomFilterNoFalseNegatives(t *testing.T) {
	f := newBloomFilter(1000)
	for i := 0; i < 1000; i++ {
		f.Add(fmt.Sprintf("member%d@corp.example", i))
	}
	for i := 0; i < 1000; i++ {
		assert.True(t, f.MayContain(fmt.Sprintf("member%d@corp.example", i)))
	}

	falsePositives := 0
	for i := 0; i < 1000; i++ {
		if f.MayContain(fmt.Sprintf("stranger%d@other.example", i)) {
			falsePositives++
		}
	}
	assert.Less(t, falsePositives, 20, "false positive rate far above target")
}
