package ingest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keiracom/agency-os/internal/channel"
	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/errs"
	"github.com/keiracom/agency-os/internal/service/thread"
)

type mockDedupe struct {
	seen map[string]bool
}

func (m *mockDedupe) Record(_ context.Context, provider, eventID, eventType, _ string, _ json.RawMessage) (bool, error) {
	key := provider + ":" + eventID + ":" + eventType
	if m.seen[key] {
		return false, nil
	}
	if m.seen == nil {
		m.seen = map[string]bool{}
	}
	m.seen[key] = true
	return true, nil
}

type mockActivities struct {
	outbound *domain.Activity
	inserted []domain.Activity
}

func (m *mockActivities) ByProviderMessageID(_ context.Context, pmid string) (*domain.Activity, error) {
	if m.outbound == nil || m.outbound.ProviderMessageID != pmid {
		return nil, errs.New(errs.NotFound, "activity.not_found", pmid)
	}
	return m.outbound, nil
}

func (m *mockActivities) Insert(_ context.Context, a *domain.Activity) (string, error) {
	m.inserted = append(m.inserted, *a)
	return "a-new", nil
}

type mockThreads struct {
	replies []thread.Reply
	result  *thread.Result
}

func (m *mockThreads) HandleReply(_ context.Context, r thread.Reply) (*thread.Result, error) {
	m.replies = append(m.replies, r)
	if m.result != nil {
		return m.result, nil
	}
	return &thread.Result{ThreadID: "th1"}, nil
}

type mockBounces struct{ recorded []string }

func (m *mockBounces) RecordBounce(_ context.Context, clientID, email string) error {
	m.recorded = append(m.recorded, clientID+":"+email)
	return nil
}

type mockLeads struct {
	statuses  map[string]domain.LeadStatus
	cancelled int
}

func (m *mockLeads) SetLeadStatus(_ context.Context, _, poolLeadID string, status domain.LeadStatus) error {
	if m.statuses == nil {
		m.statuses = map[string]domain.LeadStatus{}
	}
	m.statuses[poolLeadID] = status
	return nil
}

func (m *mockLeads) CancelTouches(context.Context, string, string) (int, error) {
	m.cancelled++
	return 2, nil
}

func (m *mockLeads) LeadEmail(context.Context, string) (string, error) {
	return "jane@corp.example", nil
}

type mockAssignments struct{ suppressed []string }

func (m *mockAssignments) Suppress(_ context.Context, clientID, poolLeadID string) error {
	m.suppressed = append(m.suppressed, clientID+":"+poolLeadID)
	return nil
}

type mockNotify struct {
	replies []string
	bounces []string
}

func (m *mockNotify) ReplyReceived(_ context.Context, clientID, poolLeadID, _ string) {
	m.replies = append(m.replies, clientID+":"+poolLeadID)
}

func (m *mockNotify) LeadBounced(_ context.Context, clientID, poolLeadID string) {
	m.bounces = append(m.bounces, clientID+":"+poolLeadID)
}

func outboundActivity() *domain.Activity {
	return &domain.Activity{
		ID: "a1", ClientID: "c1", CampaignID: "cmp1", PoolLeadID: "p1",
		Channel: domain.ChannelEmail, Resource: "out@agency.example",
		Action: domain.ActionSent, ProviderMessageID: "pm-1",
		ThreadID: "th1", TouchNumber: 2,
	}
}

type fixture struct {
	svc         *Service
	dedupe      *mockDedupe
	acts        *mockActivities
	threads     *mockThreads
	bounces     *mockBounces
	leads       *mockLeads
	assignments *mockAssignments
	notify      *mockNotify
}

func newFixture() *fixture {
	f := &fixture{
		dedupe:      &mockDedupe{},
		acts:        &mockActivities{outbound: outboundActivity()},
		threads:     &mockThreads{},
		bounces:     &mockBounces{},
		leads:       &mockLeads{},
		assignments: &mockAssignments{},
		notify:      &mockNotify{},
	}
	f.svc = New(f.dedupe, f.acts, f.threads, f.bounces, f.leads, f.assignments, f.notify)
	f.svc.now = func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) }
	return f
}

func TestIngestReplyFeedsThreadMachine(t *testing.T) {
	f := newFixture()

	err := f.svc.Ingest(context.Background(), domain.ChannelEmail, &channel.Event{
		Provider: "ses", ProviderEventID: "e1", Type: channel.EventReplied,
		ProviderMessageID: "pm-1", Body: "yes, let's talk",
	})
	require.NoError(t, err)

	require.Len(t, f.threads.replies, 1)
	assert.Equal(t, "c1", f.threads.replies[0].ClientID)
	assert.Equal(t, "yes, let's talk", f.threads.replies[0].Body)

	require.Len(t, f.acts.inserted, 1)
	assert.Equal(t, domain.ActionReplied, f.acts.inserted[0].Action)
	assert.Equal(t, "th1", f.acts.inserted[0].ThreadID)
	assert.Equal(t, 2, f.acts.inserted[0].TouchNumber)

	assert.Equal(t, []string{"c1:p1"}, f.notify.replies)
	assert.Empty(t, f.assignments.suppressed)
}

func TestIngestDuplicateEventIsNoOp(t *testing.T) {
	f := newFixture()
	ev := &channel.Event{
		Provider: "ses", ProviderEventID: "e1", Type: channel.EventReplied,
		ProviderMessageID: "pm-1", Body: "hello",
	}

	require.NoError(t, f.svc.Ingest(context.Background(), domain.ChannelEmail, ev))
	require.NoError(t, f.svc.Ingest(context.Background(), domain.ChannelEmail, ev))

	assert.Len(t, f.threads.replies, 1)
	assert.Len(t, f.acts.inserted, 1)
}

func TestIngestBounceSuppressesAndTerminates(t *testing.T) {
	f := newFixture()

	err := f.svc.Ingest(context.Background(), domain.ChannelEmail, &channel.Event{
		Provider: "ses", ProviderEventID: "e2", Type: channel.EventBounced,
		ProviderMessageID: "pm-1",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"c1:jane@corp.example"}, f.bounces.recorded)
	assert.Equal(t, domain.LeadBounced, f.leads.statuses["p1"])
	assert.Equal(t, 1, f.leads.cancelled)

	require.Len(t, f.acts.inserted, 1)
	assert.Equal(t, domain.ActionBounced, f.acts.inserted[0].Action)
	assert.Equal(t, []string{"c1:p1"}, f.assignments.suppressed)
	assert.Equal(t, []string{"c1:p1"}, f.notify.bounces)
}

func TestIngestComplaintRemovesAssignmentFromRotation(t *testing.T) {
	f := newFixture()

	err := f.svc.Ingest(context.Background(), domain.ChannelEmail, &channel.Event{
		Provider: "ses", ProviderEventID: "e3", Type: channel.EventComplaint,
		ProviderMessageID: "pm-1",
	})
	require.NoError(t, err)

	require.Len(t, f.acts.inserted, 1)
	assert.Equal(t, domain.ActionComplained, f.acts.inserted[0].Action)
	assert.Equal(t, []string{"c1:p1"}, f.assignments.suppressed)
}

func TestIngestEngagementEventAppendsActivity(t *testing.T) {
	f := newFixture()

	occurred := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	err := f.svc.Ingest(context.Background(), domain.ChannelEmail, &channel.Event{
		Provider: "ses", ProviderEventID: "e4", Type: channel.EventOpened,
		ProviderMessageID: "pm-1", OccurredAt: occurred,
	})
	require.NoError(t, err)

	assert.Empty(t, f.threads.replies)
	require.Len(t, f.acts.inserted, 1)
	assert.Equal(t, domain.ActionOpened, f.acts.inserted[0].Action)
	assert.Equal(t, occurred, f.acts.inserted[0].SentAt)
}

func TestIngestUnknownMessageIsValidationError(t *testing.T) {
	f := newFixture()

	err := f.svc.Ingest(context.Background(), domain.ChannelEmail, &channel.Event{
		Provider: "ses", ProviderEventID: "e5", Type: channel.EventOpened,
		ProviderMessageID: "pm-unknown",
	})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.Validation))
	assert.Equal(t, "ingest.unknown_message", errs.CodeOf(err))
}

func TestIngestUnknownEventTypeRejected(t *testing.T) {
	f := newFixture()

	err := f.svc.Ingest(context.Background(), domain.ChannelEmail, &channel.Event{
		Provider: "ses", ProviderEventID: "e6", Type: channel.EventType("mystery"),
		ProviderMessageID: "pm-1",
	})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.Validation))
}
