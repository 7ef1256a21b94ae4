package worker

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/keiracom/agency-os/internal/channel"
	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/errs"
	"github.com/keiracom/agency-os/internal/pkg/httpretry"
	"github.com/keiracom/agency-os/internal/pkg/logger"
)

// Notification event types pushed to client webhooks.
const (
	NotifyReplyReceived = "reply.received"
	NotifyMeetingBooked = "meeting.booked"
	NotifyLeadConverted = "lead.converted"
	NotifyLeadBounced   = "lead.bounced"
)

// Notification is one outbound webhook payload. EventID is derived from
// the event's content, so a redelivery carries the same ID and the
// client can dedupe.
type Notification struct {
	EventID    string         `json:"event_id"`
	EventType  string         `json:"event_type"`
	ClientID   string         `json:"client_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data,omitempty"`
}

// Notifier pushes platform events to a tenant's webhook URL, signed with
// the tenant's secret. Delivery is best effort with retries; a tenant
// that never configured a URL is silently skipped.
type Notifier struct {
	client *httpretry.Client
	log    *logger.Logger
}

const notifierRetries = 3

func NewNotifier(inner httpretry.Doer) *Notifier {
	if inner == nil {
		inner = &http.Client{Timeout: 10 * time.Second}
	}
	return &Notifier{
		client: httpretry.New(inner, notifierRetries),
		log:    logger.For("notifier"),
	}
}

// NewNotification builds a payload with a deterministic event ID.
func NewNotification(eventType, clientID, subjectID string, occurredAt time.Time, data map[string]any) *Notification {
	sum := sha256.Sum256([]byte(eventType + ":" + clientID + ":" + subjectID))
	return &Notification{
		EventID:    hex.EncodeToString(sum[:16]),
		EventType:  eventType,
		ClientID:   clientID,
		OccurredAt: occurredAt.UTC(),
		Data:       data,
	}
}

// ClientSource resolves tenants for webhook delivery.
type ClientSource interface {
	GetClient(ctx context.Context, id string) (*domain.Client, error)
}

// EventNotifier bridges ingest callbacks onto the Notifier. Delivery
// runs in the background so the ingest path never waits on a tenant's
// endpoint.
type EventNotifier struct {
	clients  ClientSource
	notifier *Notifier
	log      *logger.Logger
}

func NewEventNotifier(clients ClientSource, notifier *Notifier) *EventNotifier {
	return &EventNotifier{clients: clients, notifier: notifier, log: logger.For("notifier")}
}

func (e *EventNotifier) ReplyReceived(ctx context.Context, clientID, poolLeadID, body string) {
	e.deliver(ctx, NotifyReplyReceived, clientID, poolLeadID,
		map[string]any{"pool_lead_id": poolLeadID, "body": body})
}

func (e *EventNotifier) LeadBounced(ctx context.Context, clientID, poolLeadID string) {
	e.deliver(ctx, NotifyLeadBounced, clientID, poolLeadID,
		map[string]any{"pool_lead_id": poolLeadID})
}

func (e *EventNotifier) deliver(ctx context.Context, eventType, clientID, subjectID string, data map[string]any) {
	client, err := e.clients.GetClient(ctx, clientID)
	if err != nil {
		e.log.Warn("notification client lookup failed",
			"client_id", clientID, "event_type", eventType, "error", err.Error())
		return
	}
	if client.OutboundWebhookURL == "" {
		return
	}
	ev := NewNotification(eventType, clientID, subjectID, time.Now().UTC(), data)
	go func() {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
		defer cancel()
		if err := e.notifier.Notify(dctx, client, ev); err != nil {
			e.log.Warn("notification delivery failed",
				"client_id", clientID, "event_type", eventType, "error", err.Error())
		}
	}()
}

// Notify delivers one event to the client's webhook. The body is signed
// with the client's outbound secret in X-Agency-Signature.
func (n *Notifier) Notify(ctx context.Context, client *domain.Client, event *Notification) error {
	if client.OutboundWebhookURL == "" {
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return errs.Wrap(errs.Internal, "notify.marshal", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, client.OutboundWebhookURL, bytes.NewReader(body))
	if err != nil {
		return errs.Wrap(errs.Validation, "notify.bad_url", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Agency-Event", event.EventType)
	req.Header.Set("X-Agency-Signature", channel.SignHMAC(body, client.OutboundWebhookSecret))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return errs.Wrap(errs.ProviderTransient, "notify.unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.log.Warn("client webhook rejected event",
			"client_id", client.ID, "event_type", event.EventType, "status", resp.StatusCode)
		return errs.New(errs.ProviderPermanent, "notify.rejected", resp.Status)
	}

	n.log.Debug("client webhook delivered",
		"client_id", client.ID, "event_type", event.EventType, "event_id", event.EventID)
	return nil
}
