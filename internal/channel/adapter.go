// Package channel holds the provider adapters for the five outreach
// channels. An adapter turns an Envelope into a provider send and turns
// provider webhooks into normalised events; everything above it (queueing,
// rate limits, validation) lives in the dispatch worker.
package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/keiracom/agency-os/internal/domain"
)

// Envelope is one fully-resolved outbound message, ready for a provider.
type Envelope struct {
	TouchID    string
	ClientID   string
	CampaignID string
	PoolLeadID string

	// Resource is the sending identity: mailbox, phone number, or seat.
	Resource string

	To          string
	FromName    string
	FromAddress string
	Subject     string
	Body        string
	HTMLBody    string

	// InReplyTo carries the previous outbound provider message id so
	// email follow-ups collapse into one thread for the recipient.
	InReplyTo string

	// IdempotencyKey is stable per touch; providers that support it will
	// drop duplicate sends after a worker crash.
	IdempotencyKey string
}

// SendResult is what a successful provider send returns.
type SendResult struct {
	ProviderMessageID  string
	DeliverabilityHint string
}

// EventType normalises provider webhook event names.
type EventType string

const (
	EventDelivered EventType = "delivered"
	EventOpened    EventType = "opened"
	EventClicked   EventType = "clicked"
	EventReplied   EventType = "replied"
	EventBounced   EventType = "bounced"
	EventComplaint EventType = "complained"
)

// Event is one normalised inbound provider event. ProviderEventID plus
// Type dedupes at-least-once webhook delivery.
type Event struct {
	Provider          string
	ProviderEventID   string
	Type              EventType
	ProviderMessageID string
	From              string
	Body              string
	OccurredAt        time.Time
	Raw               json.RawMessage
}

// Adapter is the per-channel provider contract. Send must be safe to
// retry with the same idempotency key.
type Adapter interface {
	Channel() domain.Channel
	Send(ctx context.Context, env *Envelope) (*SendResult, error)
	ParseWebhook(payload []byte, signature string) ([]Event, error)
}

// VerifyHMAC checks a hex-encoded HMAC-SHA256 signature over the payload.
func VerifyHMAC(payload []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// SignHMAC produces the hex HMAC-SHA256 signature for a payload.
func SignHMAC(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
