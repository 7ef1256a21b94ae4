package domain

import "time"

// TouchStatus enumerates the queue lifecycle of a scheduled touch.
type TouchStatus string

const (
	TouchPending    TouchStatus = "pending"
	TouchClaimed    TouchStatus = "claimed"
	TouchSent       TouchStatus = "sent"
	TouchSkipped    TouchStatus = "skipped"
	TouchCancelled  TouchStatus = "cancelled"
	TouchDeadLetter TouchStatus = "dead_letter"
)

// ScheduledTouch is one row in the durable dispatch queue. Touches are
// claimed with a leased lock and processed at most once.
type ScheduledTouch struct {
	ID          string      `json:"id" db:"id"`
	ClientID    string      `json:"client_id" db:"client_id"`
	CampaignID  string      `json:"campaign_id" db:"campaign_id"`
	PoolLeadID  string      `json:"pool_lead_id" db:"pool_lead_id"`
	Channel     Channel     `json:"channel" db:"channel"`
	Resource    string      `json:"resource" db:"resource"`
	TouchNumber int         `json:"touch_number" db:"touch_number"`
	TemplateRef string      `json:"template_ref" db:"template_ref"`
	Enhanced    bool        `json:"enhanced" db:"enhanced"`
	DueAt       time.Time   `json:"due_at" db:"due_at"`
	Status      TouchStatus `json:"status" db:"status"`
	Attempts    int         `json:"attempts" db:"attempts"`
	Requeues    int         `json:"requeues" db:"requeues"`
	ClaimedBy   string      `json:"claimed_by" db:"claimed_by"`
	ClaimedAt   *time.Time  `json:"claimed_at" db:"claimed_at"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
}

// PlannedTouch is one entry in an Allocator-produced TouchSchedule.
type PlannedTouch struct {
	Channel        Channel `json:"channel"`
	OffsetDays     int     `json:"offset_days"`
	TemplateRef    string  `json:"template_ref"`
	Enhanced       bool    `json:"enhanced"`
	RequireSignals bool    `json:"require_signals"`
}

// TouchSchedule is the ordered sequence of planned touches for one lead.
type TouchSchedule struct {
	Tier    Tier           `json:"tier"`
	Touches []PlannedTouch `json:"touches"`
}
