package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keiracom/agency-os/internal/channel"
	"github.com/keiracom/agency-os/internal/config"
	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/errs"
	"github.com/keiracom/agency-os/internal/service/suppression"
)

type mockStore struct {
	mu sync.Mutex

	client    *domain.Client
	view      *domain.LeadView
	lead      *domain.PoolLead
	cancelled bool

	sent       []string
	skipped    []string
	retried    []time.Duration
	requeued   []time.Time
	activities []domain.Activity
	messages   []domain.Message
	credits    int
	advanced   []int

	retryStatus   domain.TouchStatus
	requeueStatus domain.TouchStatus
}

func newMockStore() *mockStore {
	return &mockStore{
		client: &domain.Client{
			ID: "c1", Name: "Acme Agency",
			SubscriptionStatus: domain.SubscriptionActive,
			CreditsRemaining:   10,
		},
		view: &domain.LeadView{
			ClientID: "c1", PoolLeadID: "p1",
			Status: domain.LeadInSequence,
		},
		lead: &domain.PoolLead{
			ID: "p1", Email: "jane@corp.example",
			Phone: "+61455555555", FirstName: "Jane", Company: "Corp",
		},
		retryStatus:   domain.TouchClaimed,
		requeueStatus: domain.TouchPending,
	}
}

func (m *mockStore) ClaimBatch(context.Context, string, int) ([]domain.ScheduledTouch, error) {
	return nil, nil
}

func (m *mockStore) MarkSent(_ context.Context, id, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, id)
	return nil
}

func (m *mockStore) MarkSkipped(_ context.Context, id, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skipped = append(m.skipped, id)
	return nil
}

func (m *mockStore) Retry(_ context.Context, _, _ string, delay time.Duration, _ int) (domain.TouchStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retried = append(m.retried, delay)
	return m.retryStatus, nil
}

func (m *mockStore) RequeueNextWindow(_ context.Context, _, _ string, next time.Time, _ int) (domain.TouchStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requeued = append(m.requeued, next)
	return m.requeueStatus, nil
}

func (m *mockStore) ReclaimExpired(context.Context, time.Duration) (int, error) { return 0, nil }

func (m *mockStore) GetClient(context.Context, string) (*domain.Client, error) {
	return m.client, nil
}

func (m *mockStore) ConsumeCredit(context.Context, string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credits++
	return nil
}

func (m *mockStore) CampaignCancelled(context.Context, string) (bool, error) {
	return m.cancelled, nil
}

func (m *mockStore) GetLeadView(context.Context, string, string) (*domain.LeadView, error) {
	return m.view, nil
}

func (m *mockStore) AdvanceSequence(_ context.Context, _, _ string, position int, _ *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.advanced = append(m.advanced, position)
	return nil
}

func (m *mockStore) GetPoolLead(context.Context, string) (*domain.PoolLead, error) {
	return m.lead, nil
}

func (m *mockStore) InsertActivity(_ context.Context, a *domain.Activity) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activities = append(m.activities, *a)
	return "a1", nil
}

func (m *mockStore) LastOutboundInThread(context.Context, string) (*domain.Activity, error) {
	return nil, errs.New(errs.NotFound, "activity.not_found", "")
}

func (m *mockStore) GetOrCreateThread(_ context.Context, clientID, poolLeadID string, ch domain.Channel) (*domain.Thread, error) {
	return &domain.Thread{ID: "th1", ClientID: clientID, PoolLeadID: poolLeadID, Channel: ch, MessageCount: 1}, nil
}

func (m *mockStore) AppendMessage(_ context.Context, msg *domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, *msg)
	return nil
}

type mockSuppressor struct{ hit *suppression.Hit }

func (m *mockSuppressor) Check(context.Context, string, string) (*suppression.Hit, error) {
	return m.hit, nil
}

type mockTokens struct {
	granted bool
}

func (m *mockTokens) Acquire(context.Context, domain.Channel, string, time.Time) (bool, error) {
	return m.granted, nil
}

type mockAdapter struct {
	ch    domain.Channel
	err   error
	sends []channel.Envelope
}

func (m *mockAdapter) Channel() domain.Channel { return m.ch }

func (m *mockAdapter) Send(_ context.Context, env *channel.Envelope) (*channel.SendResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.sends = append(m.sends, *env)
	return &channel.SendResult{ProviderMessageID: "pm-1", DeliverabilityHint: "queued"}, nil
}

func (m *mockAdapter) ParseWebhook([]byte, string) ([]channel.Event, error) { return nil, nil }

func testTouch() *domain.ScheduledTouch {
	return &domain.ScheduledTouch{
		ID: "t1", ClientID: "c1", CampaignID: "cmp1", PoolLeadID: "p1",
		Channel: domain.ChannelEmail, Resource: "out@agency.example",
		TouchNumber: 1, TemplateRef: "intro",
		Status: domain.TouchClaimed,
	}
}

func testDispatcher(store *mockStore, adapter *mockAdapter, tokens *mockTokens, sup *mockSuppressor) *Dispatcher {
	cfg := config.Default().Dispatch
	d := NewDispatcher(store, sup, tokens,
		map[domain.Channel]channel.Adapter{adapter.ch: adapter},
		channel.NewRenderer(), cfg)
	d.now = func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) }
	return d
}

func TestProcessSendsAndRecords(t *testing.T) {
	store := newMockStore()
	adapter := &mockAdapter{ch: domain.ChannelEmail}
	d := testDispatcher(store, adapter, &mockTokens{granted: true}, &mockSuppressor{})

	d.process(context.Background(), testTouch())

	require.Len(t, adapter.sends, 1)
	env := adapter.sends[0]
	assert.Equal(t, "jane@corp.example", env.To)
	assert.Equal(t, "Acme Agency", env.FromName)
	assert.Equal(t, "Quick question about Corp", env.Subject)
	assert.NotEmpty(t, env.IdempotencyKey)

	assert.Equal(t, []string{"t1"}, store.sent)
	assert.Equal(t, 1, store.credits)
	assert.Equal(t, []int{1}, store.advanced)

	require.Len(t, store.activities, 1)
	assert.Equal(t, domain.ActionSent, store.activities[0].Action)
	assert.Equal(t, "pm-1", store.activities[0].ProviderMessageID)
	assert.Equal(t, "th1", store.activities[0].ThreadID)

	require.Len(t, store.messages, 1)
	assert.Equal(t, domain.DirectionOutbound, store.messages[0].Direction)
	assert.Equal(t, 1, store.messages[0].Position)
}

func TestProcessSkipsSuppressedLead(t *testing.T) {
	store := newMockStore()
	adapter := &mockAdapter{ch: domain.ChannelEmail}
	sup := &mockSuppressor{hit: &suppression.Hit{Reason: domain.ReasonUnsubscribe}}
	d := testDispatcher(store, adapter, &mockTokens{granted: true}, sup)

	d.process(context.Background(), testTouch())

	assert.Empty(t, adapter.sends)
	assert.Equal(t, []string{"t1"}, store.skipped)
	require.Len(t, store.activities, 1)
	assert.Equal(t, domain.ActionSkipped, store.activities[0].Action)
	assert.Contains(t, store.activities[0].FailureReason, "jit.suppressed")
	assert.Contains(t, store.activities[0].FailureReason, string(domain.ReasonUnsubscribe))
}

func TestProcessSkipsTerminalLead(t *testing.T) {
	store := newMockStore()
	store.view.Status = domain.LeadUnsubscribed
	adapter := &mockAdapter{ch: domain.ChannelEmail}
	d := testDispatcher(store, adapter, &mockTokens{granted: true}, &mockSuppressor{})

	d.process(context.Background(), testTouch())

	assert.Empty(t, adapter.sends)
	assert.Equal(t, []string{"t1"}, store.skipped)
}

func TestProcessRequeuesWhenRateLimited(t *testing.T) {
	store := newMockStore()
	adapter := &mockAdapter{ch: domain.ChannelEmail}
	d := testDispatcher(store, adapter, &mockTokens{granted: false}, &mockSuppressor{})

	d.process(context.Background(), testTouch())

	assert.Empty(t, adapter.sends)
	assert.Empty(t, store.skipped)
	require.Len(t, store.requeued, 1)
	// Processed at 10:00; the next 08:00 window is tomorrow.
	assert.Equal(t, time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC), store.requeued[0])
}

func TestProcessRetriesTransientProviderFailure(t *testing.T) {
	store := newMockStore()
	adapter := &mockAdapter{
		ch:  domain.ChannelEmail,
		err: errs.New(errs.ProviderTransient, "channel.timeout", "read timeout"),
	}
	d := testDispatcher(store, adapter, &mockTokens{granted: true}, &mockSuppressor{})

	touch := testTouch()
	touch.Attempts = 2
	d.process(context.Background(), touch)

	assert.Empty(t, store.sent)
	require.Len(t, store.retried, 1)
	// 30s base doubled twice.
	assert.Equal(t, 2*time.Minute, store.retried[0])
}

func TestProcessSkipsOnPermanentProviderRejection(t *testing.T) {
	store := newMockStore()
	adapter := &mockAdapter{
		ch:  domain.ChannelEmail,
		err: errs.New(errs.ProviderPermanent, "channel.bad_address", "rejected"),
	}
	d := testDispatcher(store, adapter, &mockTokens{granted: true}, &mockSuppressor{})

	d.process(context.Background(), testTouch())

	assert.Equal(t, []string{"t1"}, store.skipped)
	assert.Empty(t, store.retried)
}

func TestProcessSkipsWhenNoAdapter(t *testing.T) {
	store := newMockStore()
	adapter := &mockAdapter{ch: domain.ChannelSMS}
	d := testDispatcher(store, adapter, &mockTokens{granted: true}, &mockSuppressor{})

	d.process(context.Background(), testTouch())

	assert.Equal(t, []string{"t1"}, store.skipped)
}

func TestBackoffDelayCapped(t *testing.T) {
	base, max := 30*time.Second, time.Hour
	assert.Equal(t, 30*time.Second, backoffDelay(0, base, max))
	assert.Equal(t, time.Minute, backoffDelay(1, base, max))
	assert.Equal(t, 8*time.Minute, backoffDelay(4, base, max))
	assert.Equal(t, time.Hour, backoffDelay(10, base, max))
}

func TestNextSendWindow(t *testing.T) {
	early := time.Date(2026, 3, 2, 6, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC), nextSendWindow(early, 8))

	late := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC), nextSendWindow(late, 8))
}

func TestIdempotencyKeyStable(t *testing.T) {
	assert.Equal(t, idempotencyKey("t1"), idempotencyKey("t1"))
	assert.NotEqual(t, idempotencyKey("t1"), idempotencyKey("t2"))
}

type countingMirror struct {
	mu     sync.Mutex
	grants int
}

func (m *countingMirror) Increment(context.Context, domain.Channel, string, time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grants++
	return m.grants, nil
}

func TestRateLimiterEnforcesDailyCap(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mirror := &countingMirror{}
	rl := NewRateLimiter(rdb, map[domain.Channel]int{domain.ChannelEmail: 3}, mirror)

	ctx := context.Background()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		ok, err := rl.Acquire(ctx, domain.ChannelEmail, "out@agency.example", now)
		require.NoError(t, err)
		assert.True(t, ok, "grant %d", i)
	}

	ok, err := rl.Acquire(ctx, domain.ChannelEmail, "out@agency.example", now)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 3, mirror.grants)

	// A different mailbox has its own budget.
	ok, err = rl.Acquire(ctx, domain.ChannelEmail, "other@agency.example", now)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRateLimiterUnboundedChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rl := NewRateLimiter(rdb, map[domain.Channel]int{}, nil)

	for i := 0; i < 200; i++ {
		ok, err := rl.Acquire(context.Background(), domain.ChannelMail, "mailhouse-1", time.Now())
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

type mockSweepStore struct{ pending []domain.Activity }

func (m *mockSweepStore) UnansweredOutbound(context.Context, time.Duration, int) ([]domain.Activity, error) {
	return m.pending, nil
}

type mockPoller struct{ events []channel.Event }

func (m *mockPoller) PollMessage(context.Context, string) ([]channel.Event, error) {
	return m.events, nil
}

type mockSink struct {
	mu     sync.Mutex
	events []channel.Event
}

func (m *mockSink) Ingest(_ context.Context, _ domain.Channel, ev *channel.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *ev)
	return nil
}

func TestSweepReconcilesMissedEvents(t *testing.T) {
	store := &mockSweepStore{pending: []domain.Activity{
		{Channel: domain.ChannelEmail, ProviderMessageID: "pm-1"},
		{Channel: domain.ChannelEmail, ProviderMessageID: ""},
		{Channel: domain.ChannelVoice, ProviderMessageID: "pm-2"},
	}}
	poller := &mockPoller{events: []channel.Event{
		{ProviderEventID: "e1", Type: channel.EventBounced, ProviderMessageID: "pm-1"},
	}}
	sink := &mockSink{}

	s := NewSweeper(store, map[domain.Channel]Poller{domain.ChannelEmail: poller}, sink, config.Default().Dispatch)
	require.NoError(t, s.Sweep(context.Background()))

	// Only the email activity with a provider id gets polled; the voice
	// channel has no poller.
	require.Len(t, sink.events, 1)
	assert.Equal(t, channel.EventBounced, sink.events[0].Type)
}

func TestNotifierSignsPayload(t *testing.T) {
	var gotSig, gotEvent string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Agency-Signature")
		gotEvent = r.Header.Get("X-Agency-Event")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := &domain.Client{
		ID:                    "c1",
		OutboundWebhookURL:    srv.URL,
		OutboundWebhookSecret: "hush",
	}
	event := NewNotification(NotifyMeetingBooked, "c1", "th1", time.Now(), map[string]any{"thread_id": "th1"})

	n := NewNotifier(srv.Client())
	require.NoError(t, n.Notify(context.Background(), client, event))

	assert.Equal(t, NotifyMeetingBooked, gotEvent)
	assert.True(t, channel.VerifyHMAC(gotBody, gotSig, "hush"))

	var decoded Notification
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	assert.Equal(t, event.EventID, decoded.EventID)
}

func TestNotifierSkipsClientWithoutURL(t *testing.T) {
	n := NewNotifier(nil)
	err := n.Notify(context.Background(), &domain.Client{ID: "c1"}, NewNotification(NotifyReplyReceived, "c1", "x", time.Now(), nil))
	require.NoError(t, err)
}

func TestNotificationIDDeterministic(t *testing.T) {
	a := NewNotification(NotifyLeadConverted, "c1", "p1", time.Now(), nil)
	b := NewNotification(NotifyLeadConverted, "c1", "p1", time.Now().Add(time.Hour), nil)
	assert.Equal(t, a.EventID, b.EventID)

	c := NewNotification(NotifyLeadConverted, "c1", "p2", time.Now(), nil)
	assert.NotEqual(t, a.EventID, c.EventID)
}

type mockDetector struct {
	mu  sync.Mutex
	ran []string
	err error
}

func (m *mockDetector) Detect(_ context.Context, clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ran = append(m.ran, clientID)
	return m.err
}

type mockTenants struct{ ids []string }

func (m *mockTenants) ActiveClientIDs(context.Context) ([]string, error) { return m.ids, nil }

type mockLease struct {
	acquired bool
	held     bool
}

func (m *mockLease) Acquire(context.Context) (bool, error) {
	if m.acquired {
		m.held = true
	}
	return m.acquired, nil
}

func (m *mockLease) Release(context.Context) error {
	m.held = false
	return nil
}

func TestDetectorScheduleRunsAllTenants(t *testing.T) {
	det := &mockDetector{}
	lease := &mockLease{acquired: true}
	s := NewDetectorSchedule(det, &mockTenants{ids: []string{"c1", "c2", "c3"}}, lease, time.Hour)

	require.NoError(t, s.Pass(context.Background()))
	assert.Equal(t, []string{"c1", "c2", "c3"}, det.ran)
	assert.False(t, lease.held)
}

func TestDetectorScheduleSkipsWithoutLease(t *testing.T) {
	det := &mockDetector{}
	s := NewDetectorSchedule(det, &mockTenants{ids: []string{"c1"}}, &mockLease{acquired: false}, time.Hour)

	require.NoError(t, s.Pass(context.Background()))
	assert.Empty(t, det.ran)
}

func TestDetectorScheduleContinuesPastTenantFailure(t *testing.T) {
	det := &mockDetector{err: errors.New("bad data")}
	s := NewDetectorSchedule(det, &mockTenants{ids: []string{"c1", "c2"}}, &mockLease{acquired: true}, time.Hour)

	require.NoError(t, s.Pass(context.Background()))
	assert.Len(t, det.ran, 2)
}

type mockRetention struct{ finished, counters, webhooks bool }

func (m *mockRetention) PurgeFinished(context.Context, time.Duration) (int, error) {
	m.finished = true
	return 5, nil
}

func (m *mockRetention) PurgeRateCounters(context.Context, time.Time) (int, error) {
	m.counters = true
	return 2, nil
}

func (m *mockRetention) PurgeWebhookEvents(context.Context, time.Time) (int, error) {
	m.webhooks = true
	return 1, nil
}

type mockReleaser struct{ released bool }

func (m *mockReleaser) ReleaseCancelled(context.Context) (int, error) {
	m.released = true
	return 1, nil
}

type mockThreadSweep struct{ swept bool }

func (m *mockThreadSweep) SweepStale(context.Context) (int, error) {
	m.swept = true
	return 3, nil
}

func TestJanitorPassRunsEveryStep(t *testing.T) {
	store := &mockRetention{}
	pool := &mockReleaser{}
	threads := &mockThreadSweep{}

	NewJanitor(store, pool, threads).Pass(context.Background())

	assert.True(t, store.finished)
	assert.True(t, store.counters)
	assert.True(t, store.webhooks)
	assert.True(t, pool.released)
	assert.True(t, threads.swept)
}
