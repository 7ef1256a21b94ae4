package domain

import "time"

// ActivityAction enumerates the events recorded against a touch.
type ActivityAction string

const (
	ActionSent         ActivityAction = "sent"
	ActionDelivered    ActivityAction = "delivered"
	ActionOpened       ActivityAction = "opened"
	ActionClicked      ActivityAction = "clicked"
	ActionReplied      ActivityAction = "replied"
	ActionBounced      ActivityAction = "bounced"
	ActionComplained   ActivityAction = "complained"
	ActionUnsubscribed ActivityAction = "unsubscribed"
	ActionSkipped      ActivityAction = "skipped"
	ActionFailed       ActivityAction = "failed"
)

// ContentSnapshot is the structured capture of what was actually sent.
// Parsed by the CIS WHAT detector.
type ContentSnapshot struct {
	Subject         string   `json:"subject,omitempty"`
	Body            string   `json:"body"`
	PainPoints      []string `json:"pain_points,omitempty"`
	CTA             string   `json:"cta,omitempty"`
	Personalization []string `json:"personalization,omitempty"`
	Enhanced        bool     `json:"enhanced,omitempty"`
}

// Activity is an immutable, append-only record of a single outreach touch
// or event. LedToBooking is back-filled when the lead converts.
type Activity struct {
	ID                string          `json:"id" db:"id"`
	ClientID          string          `json:"client_id" db:"client_id"`
	CampaignID        string          `json:"campaign_id" db:"campaign_id"`
	PoolLeadID        string          `json:"pool_lead_id" db:"pool_lead_id"`
	Channel           Channel         `json:"channel" db:"channel"`
	Resource          string          `json:"resource" db:"resource"`
	Action            ActivityAction  `json:"action" db:"action"`
	ProviderMessageID string          `json:"provider_message_id" db:"provider_message_id"`
	ThreadID          string          `json:"thread_id" db:"thread_id"`
	TouchNumber       int             `json:"touch_number" db:"touch_number"`
	SentAt            time.Time       `json:"sent_at" db:"sent_at"`
	Content           ContentSnapshot `json:"content_snapshot"`
	LedToBooking      bool            `json:"led_to_booking" db:"led_to_booking"`
	FailureReason     string          `json:"failure_reason,omitempty" db:"failure_reason"`
}
