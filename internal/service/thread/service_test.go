package thread

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/errs"
)

type mockRepo struct {
	mu              sync.Mutex
	threads         map[string]*domain.Thread
	messages        map[string][]domain.Message
	leadStatus      map[string]domain.LeadStatus
	cancelled       map[string]int
	conversions     int
	leadEmail       string
	attributionDays int
	lastWindow      time.Duration
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		threads:    make(map[string]*domain.Thread),
		messages:   make(map[string][]domain.Message),
		leadStatus: make(map[string]domain.LeadStatus),
		cancelled:  make(map[string]int),
		leadEmail:  "jane@corp.com",
	}
}

func (m *mockRepo) GetOrCreate(_ context.Context, clientID, poolLeadID string, channel domain.Channel) (*domain.Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := clientID + "/" + poolLeadID + "/" + string(channel)
	if th, ok := m.threads[key]; ok {
		return th, nil
	}
	th := &domain.Thread{
		ID: key, ClientID: clientID, PoolLeadID: poolLeadID,
		Channel: channel, Status: domain.ThreadActive, Outcome: domain.OutcomeOngoing,
	}
	m.threads[key] = th
	return th, nil
}

func (m *mockRepo) AppendMessage(_ context.Context, msg *domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.Position = len(m.messages[msg.ThreadID])
	m.messages[msg.ThreadID] = append(m.messages[msg.ThreadID], *msg)
	return nil
}

func (m *mockRepo) Messages(_ context.Context, threadID string) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Message(nil), m.messages[threadID]...), nil
}

func (m *mockRepo) Resolve(_ context.Context, threadID string, outcome domain.ThreadOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	th, ok := m.threads[threadID]
	if !ok {
		return errs.New(errs.NotFound, "thread.missing", threadID)
	}
	if th.Status == domain.ThreadResolved {
		return errs.New(errs.Consistency, "thread.not_open", threadID)
	}
	th.Status = domain.ThreadResolved
	th.Outcome = outcome
	return nil
}

func (m *mockRepo) MarkStale(context.Context, time.Duration) (int, error) { return 0, nil }

func (m *mockRepo) SetLeadStatus(_ context.Context, clientID, poolLeadID string, status domain.LeadStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leadStatus[clientID+"/"+poolLeadID] = status
	return nil
}

func (m *mockRepo) CancelTouches(_ context.Context, clientID, poolLeadID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled[clientID+"/"+poolLeadID]++
	return 3, nil
}

func (m *mockRepo) LeadEmail(context.Context, string) (string, error) {
	return m.leadEmail, nil
}

func (m *mockRepo) AttributionDays(context.Context, string) (int, error) {
	return m.attributionDays, nil
}

func (m *mockRepo) RecordConversion(_ context.Context, clientID, poolLeadID, _ string, window time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversions++
	m.lastWindow = window
	m.leadStatus[clientID+"/"+poolLeadID] = domain.LeadConverted
	return nil
}

type mockSuppressor struct {
	unsubscribed []string
	coolingOff   []string
	months       int
}

func (m *mockSuppressor) RecordUnsubscribe(_ context.Context, _, email string) error {
	m.unsubscribed = append(m.unsubscribed, email)
	return nil
}

func (m *mockSuppressor) RecordCoolingOff(_ context.Context, _, email string, months int) error {
	m.coolingOff = append(m.coolingOff, email)
	m.months = months
	return nil
}

type mockSignals struct {
	domains []string
	values  []float64
}

func (m *mockSignals) RecordPurchase(_ context.Context, dom string, valueAUD float64, _ string) error {
	m.domains = append(m.domains, dom)
	m.values = append(m.values, valueAUD)
	return nil
}

// fixedClassifier returns a canned classification regardless of input.
type fixedClassifier struct {
	cls *domain.Classification
	err error
}

func (f *fixedClassifier) Classify(context.Context, string, []domain.Message) (*domain.Classification, error) {
	return f.cls, f.err
}

func newService(repo *mockRepo, sup *mockSuppressor, cls Classifier) *Service {
	if cls == nil {
		cls = &Cascade{}
	}
	return New(repo, sup, cls, 0)
}

func reply(body string) Reply {
	return Reply{ClientID: "c1", PoolLeadID: "l1", Channel: domain.ChannelEmail, Body: body}
}

func TestUnsubscribeSuppressesAndRejects(t *testing.T) {
	repo := newMockRepo()
	sup := &mockSuppressor{}
	svc := newService(repo, sup, nil)

	res, err := svc.HandleReply(context.Background(), reply("Please unsubscribe me from this list"))
	require.NoError(t, err)

	assert.Equal(t, domain.IntentUnsubscribe, res.Classification.Intent)
	assert.Equal(t, []string{"jane@corp.com"}, sup.unsubscribed)
	assert.Equal(t, domain.LeadUnsubscribed, repo.leadStatus["c1/l1"])
	th := repo.threads["c1/l1/email"]
	assert.Equal(t, domain.ThreadResolved, th.Status)
	assert.Equal(t, domain.OutcomeRejected, th.Outcome)
	assert.Equal(t, 3, res.TouchesCanceled)
}

func TestNotInterestedStartsCoolingOff(t *testing.T) {
	repo := newMockRepo()
	sup := &mockSuppressor{}
	svc := newService(repo, sup, nil)

	_, err := svc.HandleReply(context.Background(), reply("Thanks but we're not interested right now"))
	require.NoError(t, err)

	assert.Equal(t, []string{"jane@corp.com"}, sup.coolingOff)
	assert.Equal(t, 12, sup.months)
	assert.Equal(t, domain.LeadDead, repo.leadStatus["c1/l1"])
	assert.Equal(t, domain.OutcomeRejected, repo.threads["c1/l1/email"].Outcome)
}

func TestInterestedStopsSequenceKeepsThreadOpen(t *testing.T) {
	repo := newMockRepo()
	sup := &mockSuppressor{}
	svc := newService(repo, sup, nil)

	res, err := svc.HandleReply(context.Background(), reply("Sounds good, let's talk next week"))
	require.NoError(t, err)

	assert.Equal(t, domain.IntentInterested, res.Classification.Intent)
	assert.Equal(t, 3, res.TouchesCanceled)
	assert.Equal(t, domain.ThreadActive, repo.threads["c1/l1/email"].Status)
	assert.Empty(t, sup.unsubscribed)
	assert.Empty(t, sup.coolingOff)
}

func TestQuestionLeavesEverythingRunning(t *testing.T) {
	repo := newMockRepo()
	svc := newService(repo, &mockSuppressor{}, nil)

	res, err := svc.HandleReply(context.Background(), reply("How much does the retainer cost?"))
	require.NoError(t, err)

	assert.Equal(t, domain.IntentQuestion, res.Classification.Intent)
	assert.Zero(t, res.TouchesCanceled)
	assert.Zero(t, repo.cancelled["c1/l1"])
	assert.Equal(t, domain.ThreadActive, repo.threads["c1/l1/email"].Status)
}

func TestAmbiguousReplyPersistedAndParked(t *testing.T) {
	repo := newMockRepo()
	low := &fixedClassifier{
		cls: &domain.Classification{Sentiment: "neutral", Intent: domain.IntentOutOfScope, Confidence: 0.2},
		err: errs.New(errs.ClassifierAmbig, "thread.low_confidence", "oos"),
	}
	svc := newService(repo, &mockSuppressor{}, low)

	res, err := svc.HandleReply(context.Background(), reply("per my last email, see attached"))
	require.NoError(t, err)

	assert.True(t, res.NeedsReview)
	require.Len(t, repo.messages[res.ThreadID], 1)
	assert.Zero(t, repo.cancelled["c1/l1"])
}

func TestClassifierHardFailureSurfaces(t *testing.T) {
	repo := newMockRepo()
	broken := &fixedClassifier{err: errs.New(errs.ProviderTransient, "thread.openai_failed", "")}
	svc := newService(repo, &mockSuppressor{}, broken)

	_, err := svc.HandleReply(context.Background(), reply("hello"))
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.ProviderTransient))
}

func TestRecordMeetingConvertsAndFeedsSignals(t *testing.T) {
	repo := newMockRepo()
	svc := newService(repo, &mockSuppressor{}, nil)
	signals := &mockSignals{}

	err := svc.RecordMeeting(context.Background(), Meeting{
		ClientID: "c1", PoolLeadID: "l1", ThreadID: "t1",
		LeadDomain: "corp.com", Service: "seo_retainer", ValueAUD: 2500,
	}, signals)
	require.NoError(t, err)

	assert.Equal(t, 1, repo.conversions)
	assert.Equal(t, domain.LeadConverted, repo.leadStatus["c1/l1"])
	assert.Equal(t, []string{"corp.com"}, signals.domains)
	assert.Equal(t, []float64{2500}, signals.values)
	assert.Equal(t, 1, repo.cancelled["c1/l1"])
}

func TestAttributionWindowDefaultsToNinetyDays(t *testing.T) {
	repo := newMockRepo()
	svc := newService(repo, &mockSuppressor{}, nil)

	err := svc.RecordMeeting(context.Background(), Meeting{
		ClientID: "c1", PoolLeadID: "l1", ThreadID: "t1",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 90*24*time.Hour, repo.lastWindow)
}

func TestAttributionWindowUsesClientOverride(t *testing.T) {
	repo := newMockRepo()
	repo.attributionDays = 45
	svc := newService(repo, &mockSuppressor{}, nil)

	err := svc.RecordMeeting(context.Background(), Meeting{
		ClientID: "c1", PoolLeadID: "l1", ThreadID: "t1",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 45*24*time.Hour, repo.lastWindow)
}

func TestAmbiguousReplyWithoutClassificationStillPersists(t *testing.T) {
	repo := newMockRepo()
	bare := &fixedClassifier{err: errs.New(errs.ClassifierAmbig, "thread.low_confidence", "")}
	svc := newService(repo, &mockSuppressor{}, bare)

	res, err := svc.HandleReply(context.Background(), reply("??"))
	require.NoError(t, err)

	assert.True(t, res.NeedsReview)
	assert.Equal(t, domain.IntentOutOfScope, res.Classification.Intent)
	require.Len(t, repo.messages[res.ThreadID], 1)
	assert.Zero(t, repo.cancelled["c1/l1"])
}

func TestSecondReplyAppendsToSameThread(t *testing.T) {
	repo := newMockRepo()
	svc := newService(repo, &mockSuppressor{}, nil)

	r1, err := svc.HandleReply(context.Background(), reply("How much does it cost?"))
	require.NoError(t, err)
	r2, err := svc.HandleReply(context.Background(), reply("Ok, sounds good, book a call"))
	require.NoError(t, err)

	assert.Equal(t, r1.ThreadID, r2.ThreadID)
	msgs := repo.messages[r1.ThreadID]
	require.Len(t, msgs, 2)
	assert.Equal(t, 0, msgs[0].Position)
	assert.Equal(t, 1, msgs[1].Position)
}

func TestKeywordClassifierPriorities(t *testing.T) {
	cases := []struct {
		body   string
		intent domain.Intent
	}{
		{"please remove me from your list", domain.IntentUnsubscribe},
		{"STOP EMAILING me", domain.IntentUnsubscribe},
		{"not interested, thanks", domain.IntentNotInterested},
		{"we already have an agency under contract", domain.IntentObjection},
		{"what does onboarding look like?", domain.IntentQuestion},
		{"interested, send over times", domain.IntentInterested},
	}
	for _, tc := range cases {
		got := keywordClassify(tc.body)
		assert.Equal(t, tc.intent, got.Intent, tc.body)
	}
}

func TestCascadePrefersCheapWhenConfident(t *testing.T) {
	cheap := &fixedClassifier{cls: &domain.Classification{Intent: domain.IntentQuestion, Confidence: 0.9}}
	premium := &fixedClassifier{cls: &domain.Classification{Intent: domain.IntentObjection, Confidence: 0.95}}
	c := &Cascade{Cheap: cheap, Premium: premium}

	got, err := c.Classify(context.Background(), "what is the pricing like", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentQuestion, got.Intent)
}

func TestCascadeEscalatesOnLowConfidence(t *testing.T) {
	cheap := &fixedClassifier{cls: &domain.Classification{Intent: domain.IntentOutOfScope, Confidence: 0.3}}
	premium := &fixedClassifier{cls: &domain.Classification{Intent: domain.IntentObjection, Confidence: 0.85}}
	c := &Cascade{Cheap: cheap, Premium: premium}

	got, err := c.Classify(context.Background(), "we have retained counsel on vendor selection", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentObjection, got.Intent)
}

func TestCascadeUnsubscribeBypassesModels(t *testing.T) {
	broken := &fixedClassifier{err: errs.New(errs.ProviderTransient, "thread.openai_failed", "")}
	c := &Cascade{Cheap: broken, Premium: broken}

	got, err := c.Classify(context.Background(), "unsubscribe", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentUnsubscribe, got.Intent)
}

func TestOpenAIClassifierDefaultModel(t *testing.T) {
	c := NewOpenAIClassifier(nil, "")
	assert.Equal(t, "gpt-4o-mini", c.model)

	c = NewOpenAIClassifier(nil, "gpt-4o")
	assert.Equal(t, "gpt-4o", c.model)
}

func TestParseModelClassificationToleratesProse(t *testing.T) {
	raw := "Here is the label:\n{\"sentiment\":\"negative\",\"intent\":\"objection\",\"objection_type\":\"price\",\"confidence\":0.82}\nDone."
	got, err := parseModelClassification(raw)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentObjection, got.Intent)
	assert.Equal(t, "price", got.ObjectionType)
	assert.InDelta(t, 0.82, got.Confidence, 0.001)
}

func TestParseModelClassificationRejectsUnknownIntent(t *testing.T) {
	got, err := parseModelClassification(`{"sentiment":"neutral","intent":"banana","confidence":0.9}`)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentOutOfScope, got.Intent)
}
