package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/errs"
)

func testLead() *domain.PoolLead {
	return &domain.PoolLead{
		FirstName: "Jane", LastName: "Doe",
		Title: "CEO", Company: "Corp", Industry: "SaaS",
	}
}

func TestRendererFillsDefaults(t *testing.T) {
	r := NewRenderer()

	out, err := r.Render("intro", testLead(), "Alex")
	require.NoError(t, err)
	assert.Equal(t, "Quick question about Corp", out.Subject)
	assert.Contains(t, out.Body, "Hi Jane,")
	assert.Contains(t, out.Body, "Alex")

	// Missing fields degrade via the default filter.
	out, err = r.Render("intro", &domain.PoolLead{}, "Alex")
	require.NoError(t, err)
	assert.Equal(t, "Quick question about your company", out.Subject)
	assert.Contains(t, out.Body, "Hi there,")
}

func TestRendererAllSequenceRefsRegistered(t *testing.T) {
	r := NewRenderer()
	for _, ref := range []string{"intro", "connect", "value", "call", "nudge", "breakup"} {
		assert.True(t, r.Has(ref), ref)
	}
	assert.False(t, r.Has("missing"))
}

func TestRendererCustomOverride(t *testing.T) {
	r := NewRenderer()
	require.NoError(t, r.Register("intro", "Hello {{ first_name }}", "Body for {{ company }}"))

	out, err := r.Render("intro", testLead(), "Alex")
	require.NoError(t, err)
	assert.Equal(t, "Hello Jane", out.Subject)
	assert.Equal(t, "Body for Corp", out.Body)
}

func TestRendererRejectsBadTemplate(t *testing.T) {
	r := NewRenderer()
	// An if tag with no endif fails at parse time.
	err := r.Register("broken", "{% if first_name %}Hi", "body")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.Validation))
}

func TestHMACRoundTrip(t *testing.T) {
	payload := []byte(`{"event":"delivered"}`)
	sig := SignHMAC(payload, "secret")
	assert.True(t, VerifyHMAC(payload, sig, "secret"))
	assert.False(t, VerifyHMAC(payload, sig, "other"))
	assert.False(t, VerifyHMAC([]byte("tampered"), sig, "secret"))
}

func newTestAdapter(t *testing.T, baseURL string, testMode bool) *HTTPAdapter {
	t.Helper()
	a, err := NewHTTPAdapter(HTTPOptions{
		Channel:       domain.ChannelSMS,
		Provider:      "smsgate",
		BaseURL:       baseURL,
		APIKey:        "key",
		WebhookSecret: "secret",
		TestMode:      testMode,
		OperatorDest:  "+61400000000",
	})
	require.NoError(t, err)
	return a
}

func TestHTTPAdapterSend(t *testing.T) {
	var gotIdem atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdem.Store(r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req sendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "+61455555555", req.To)
		assert.Equal(t, "t1", req.Metadata.TouchID)

		json.NewEncoder(w).Encode(sendResponse{MessageID: "pm-1", Status: "queued"})
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL, false)
	res, err := a.Send(context.Background(), &Envelope{
		TouchID: "t1", To: "+61455555555", Resource: "+61411111111",
		Body: "hello", IdempotencyKey: "idem-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "pm-1", res.ProviderMessageID)
	assert.Equal(t, "queued", res.DeliverabilityHint)
	assert.Equal(t, "idem-1", gotIdem.Load())
}

func TestHTTPAdapterTestModeReroutesRecipient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req sendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "+61400000000", req.To)
		json.NewEncoder(w).Encode(sendResponse{MessageID: "pm-2", Status: "queued"})
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL, true)
	_, err := a.Send(context.Background(), &Envelope{TouchID: "t1", To: "+61455555555", Body: "hi"})
	require.NoError(t, err)
}

func TestHTTPAdapterTestModeRequiresOperator(t *testing.T) {
	_, err := NewHTTPAdapter(HTTPOptions{
		Channel: domain.ChannelSMS, Provider: "smsgate",
		BaseURL: "http://example.invalid", TestMode: true,
	})
	require.Error(t, err)
	assert.Equal(t, "channel.test_mode_no_operator", errs.CodeOf(err))
}

func TestHTTPAdapterPermanentRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid number"}`, http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL, false)
	_, err := a.Send(context.Background(), &Envelope{TouchID: "t1", To: "bad", Body: "hi"})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.ProviderPermanent))
}

func TestHTTPAdapterParseWebhookVerifiesSignature(t *testing.T) {
	a := newTestAdapter(t, "http://example.invalid", false)
	payload := []byte(`{"event_id":"e1","event_type":"reply","message_id":"pm-1","from":"+614","body":"yes please"}`)

	events, err := a.ParseWebhook(payload, SignHMAC(payload, "secret"))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventReplied, events[0].Type)
	assert.Equal(t, "pm-1", events[0].ProviderMessageID)
	assert.Equal(t, "yes please", events[0].Body)

	_, err = a.ParseWebhook(payload, "bad-signature")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.Validation))
}

func TestHTTPAdapterParseWebhookRejectsUnknownEvent(t *testing.T) {
	a := newTestAdapter(t, "http://example.invalid", false)
	payload := []byte(`{"event_id":"e1","event_type":"mystery","message_id":"pm-1"}`)
	_, err := a.ParseWebhook(payload, SignHMAC(payload, "secret"))
	require.Error(t, err)
}

func TestSESParseWebhook(t *testing.T) {
	a := &EmailAdapter{log: nil}
	payload := []byte(`{"eventType":"Bounce","mail":{"messageId":"m-1","timestamp":"2026-03-02T09:00:00Z"},"bounce":{"bounceType":"Permanent","feedbackId":"fb-1"}}`)

	events, err := a.ParseWebhook(payload, "")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventBounced, events[0].Type)
	assert.Equal(t, "fb-1", events[0].ProviderEventID)
	assert.Equal(t, "m-1", events[0].ProviderMessageID)
	assert.Equal(t, 2026, events[0].OccurredAt.Year())
}

func TestSESParseWebhookMalformed(t *testing.T) {
	a := &EmailAdapter{}
	_, err := a.ParseWebhook([]byte(`{"eventType":"Delivery"}`), "")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.Validation))
}
