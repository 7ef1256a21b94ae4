package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/errs"
	"github.com/keiracom/agency-os/internal/pkg/httpretry"
	"github.com/keiracom/agency-os/internal/pkg/logger"
)

// HTTPAdapter drives a JSON-over-HTTP channel provider. The SMS,
// LinkedIn, voice, and mail providers all share this wire shape; only
// the endpoint, credentials, and channel label differ.
type HTTPAdapter struct {
	channel      domain.Channel
	provider     string
	baseURL      string
	apiKey       string
	secret       string
	client       *httpretry.Client
	breaker      *gobreaker.CircuitBreaker
	testMode     bool
	operatorDest string
	log          *logger.Logger
}

// HTTPOptions configures one provider adapter.
type HTTPOptions struct {
	Channel  domain.Channel
	Provider string
	BaseURL  string
	APIKey   string

	// WebhookSecret verifies inbound event signatures.
	WebhookSecret string

	TestMode bool
	// OperatorDest receives every send in test mode: a phone number for
	// sms and voice, a profile URL for linkedin, an address for mail.
	OperatorDest string
}

func NewHTTPAdapter(opts HTTPOptions) (*HTTPAdapter, error) {
	if opts.BaseURL == "" {
		return nil, errs.New(errs.Validation, "channel.no_base_url", string(opts.Channel))
	}
	if opts.TestMode && opts.OperatorDest == "" {
		return nil, errs.New(errs.Validation, "channel.test_mode_no_operator", string(opts.Channel))
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: opts.Provider,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		Timeout: 60 * time.Second,
	})

	return &HTTPAdapter{
		channel:      opts.Channel,
		provider:     opts.Provider,
		baseURL:      opts.BaseURL,
		apiKey:       opts.APIKey,
		secret:       opts.WebhookSecret,
		client:       httpretry.New(nil, 3),
		breaker:      breaker,
		testMode:     opts.TestMode,
		operatorDest: opts.OperatorDest,
		log:          logger.For("channel." + string(opts.Channel)),
	}, nil
}

func (a *HTTPAdapter) Channel() domain.Channel { return a.channel }

// sendRequest is the provider wire format for an outbound message.
type sendRequest struct {
	To       string `json:"to"`
	From     string `json:"from"`
	FromName string `json:"from_name,omitempty"`
	Subject  string `json:"subject,omitempty"`
	Body     string `json:"body"`
	Metadata struct {
		TouchID    string `json:"touch_id"`
		CampaignID string `json:"campaign_id"`
	} `json:"metadata"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	Error     string `json:"error"`
}

func (a *HTTPAdapter) Send(ctx context.Context, env *Envelope) (*SendResult, error) {
	to := env.To
	if a.testMode {
		to = a.operatorDest
	}

	req := sendRequest{
		To:       to,
		From:     env.Resource,
		FromName: env.FromName,
		Subject:  env.Subject,
		Body:     env.Body,
	}
	req.Metadata.TouchID = env.TouchID
	req.Metadata.CampaignID = env.CampaignID

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "channel.marshal_failed", err)
	}

	out, err := a.breaker.Execute(func() (interface{}, error) {
		return a.post(ctx, "/v1/messages", payload, env.IdempotencyKey)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, errs.Wrap(errs.ProviderTransient, "channel.breaker_open", err)
		}
		return nil, err
	}

	resp := out.(*sendResponse)
	a.log.Info("message sent",
		"provider", a.provider, "resource", env.Resource, "message_id", resp.MessageID)
	return &SendResult{ProviderMessageID: resp.MessageID, DeliverabilityHint: resp.Status}, nil
}

func (a *HTTPAdapter) post(ctx context.Context, path string, payload []byte, idempotencyKey string) (*sendResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "channel.request_build", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	if idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	}
	httpReq.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, errs.Wrap(errs.ProviderTransient, "channel.send_failed", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, errs.Wrap(errs.ProviderTransient, "channel.read_failed", err)
	}

	switch {
	case httpResp.StatusCode == http.StatusTooManyRequests:
		return nil, errs.New(errs.RateLimited, "channel.provider_throttled", a.provider)
	case httpResp.StatusCode >= 500:
		return nil, errs.New(errs.ProviderTransient, "channel.provider_error", httpResp.Status)
	case httpResp.StatusCode >= 400:
		return nil, errs.New(errs.ProviderPermanent, "channel.provider_rejected", string(body))
	}

	var resp sendResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errs.Wrap(errs.ProviderTransient, "channel.bad_response", err)
	}
	if resp.MessageID == "" {
		return nil, errs.New(errs.ProviderPermanent, "channel.no_message_id", resp.Error)
	}
	return &resp, nil
}

// providerEvent is the shared webhook shape of the HTTP providers.
type providerEvent struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	MessageID string `json:"message_id"`
	From      string `json:"from"`
	Body      string `json:"body"`
	Timestamp string `json:"timestamp"`
}

// ParseWebhook verifies the HMAC signature and normalises the event.
func (a *HTTPAdapter) ParseWebhook(payload []byte, signature string) ([]Event, error) {
	if a.secret != "" && !VerifyHMAC(payload, signature, a.secret) {
		return nil, errs.New(errs.Validation, "channel.bad_signature", a.provider)
	}

	var ev providerEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, errs.Wrap(errs.Validation, "channel.webhook_malformed", err)
	}
	if ev.EventID == "" || ev.MessageID == "" {
		return nil, errs.New(errs.Validation, "channel.webhook_incomplete", ev.EventType)
	}
	out, err := a.normalize(ev, payload)
	if err != nil {
		return nil, err
	}
	return []Event{*out}, nil
}

// PollMessage fetches a message's event history from the provider. The
// sweep uses it to reconcile events whose webhook delivery was missed.
func (a *HTTPAdapter) PollMessage(ctx context.Context, providerMessageID string) ([]Event, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		a.baseURL+"/v1/messages/"+providerMessageID+"/events", nil)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "channel.request_build", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, errs.Wrap(errs.ProviderTransient, "channel.poll_failed", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, errs.Wrap(errs.ProviderTransient, "channel.read_failed", err)
	}
	switch {
	case httpResp.StatusCode == http.StatusNotFound:
		return nil, nil
	case httpResp.StatusCode == http.StatusTooManyRequests:
		return nil, errs.New(errs.RateLimited, "channel.provider_throttled", a.provider)
	case httpResp.StatusCode >= 400:
		return nil, errs.New(errs.ProviderTransient, "channel.provider_error", httpResp.Status)
	}

	var list struct {
		Events []providerEvent `json:"events"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, errs.Wrap(errs.ProviderTransient, "channel.bad_response", err)
	}

	out := make([]Event, 0, len(list.Events))
	for _, ev := range list.Events {
		if ev.EventID == "" || ev.MessageID == "" {
			continue
		}
		raw, _ := json.Marshal(ev)
		norm, err := a.normalize(ev, raw)
		if err != nil {
			// Unknown event types in the history are the provider's
			// business, not ours.
			continue
		}
		out = append(out, *norm)
	}
	return out, nil
}

func (a *HTTPAdapter) normalize(ev providerEvent, payload []byte) (*Event, error) {
	var typ EventType
	switch ev.EventType {
	case "delivered":
		typ = EventDelivered
	case "reply", "inbound":
		typ = EventReplied
	case "opened":
		typ = EventOpened
	case "clicked":
		typ = EventClicked
	case "failed", "bounced", "undeliverable":
		typ = EventBounced
	case "opt_out", "complaint":
		typ = EventComplaint
	default:
		return nil, errs.New(errs.Validation, "channel.webhook_unknown_event", ev.EventType)
	}

	occurred, _ := time.Parse(time.RFC3339, ev.Timestamp)
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	return &Event{
		Provider:          a.provider,
		ProviderEventID:   ev.EventID,
		Type:              typ,
		ProviderMessageID: ev.MessageID,
		From:              ev.From,
		Body:              ev.Body,
		OccurredAt:        occurred,
		Raw:               json.RawMessage(payload),
	}, nil
}
