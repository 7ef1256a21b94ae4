package domain

import "time"

// Channel enumerates the outreach channels.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelLinkedIn Channel = "linkedin"
	ChannelVoice    Channel = "voice"
	ChannelMail     Channel = "mail"
)

// AllChannels lists every channel in canonical order.
var AllChannels = []Channel{ChannelEmail, ChannelSMS, ChannelLinkedIn, ChannelVoice, ChannelMail}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelLinkedIn, ChannelVoice, ChannelMail:
		return true
	}
	return false
}

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
)

// SequenceStep is one ordered touch in a campaign's sequence template.
type SequenceStep struct {
	Channel     Channel `json:"channel" db:"channel"`
	OffsetDays  int     `json:"offset_days" db:"offset_days"`
	TemplateRef string  `json:"template_ref" db:"template_ref"`
}

// Campaign is a tenant-scoped outreach campaign.
type Campaign struct {
	ID       string         `json:"id" db:"id"`
	ClientID string         `json:"client_id" db:"client_id"`
	Name     string         `json:"name" db:"name"`
	Status   CampaignStatus `json:"status" db:"status"`

	// AllocationPct maps channel to its share of touches; an active
	// campaign's shares sum to 100.
	AllocationPct map[Channel]int `json:"allocation_pct" db:"allocation_pct"`
	DailyCap      int             `json:"daily_cap" db:"daily_cap"`

	PermissionMode PermissionMode `json:"permission_mode" db:"permission_mode"`
	Sequence       []SequenceStep `json:"sequence"`

	// Cancelled is the dispatch cancellation flag; workers observe it at
	// every yield point.
	Cancelled bool `json:"cancelled" db:"cancelled"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// AllocationValid reports whether the per-channel shares sum to 100.
func (c *Campaign) AllocationValid() bool {
	sum := 0
	for _, pct := range c.AllocationPct {
		sum += pct
	}
	return sum == 100
}
