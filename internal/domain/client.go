package domain

import "time"

// ClientTier enumerates the subscription tiers a tenant can be on.
type ClientTier string

const (
	TierIgnition  ClientTier = "ignition"
	TierVelocity  ClientTier = "velocity"
	TierDominance ClientTier = "dominance"
)

// SubscriptionStatus enumerates billing states for a tenant.
type SubscriptionStatus string

const (
	SubscriptionTrialing  SubscriptionStatus = "trialing"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionPaused    SubscriptionStatus = "paused"
)

// PermissionMode controls how much autonomy the platform has for a tenant.
type PermissionMode string

const (
	ModeAutopilot PermissionMode = "autopilot"
	ModeCopilot   PermissionMode = "copilot"
	ModeManual    PermissionMode = "manual"
)

// Client represents a tenant of the platform.
type Client struct {
	ID                 string             `json:"id" db:"id"`
	Name               string             `json:"name" db:"name"`
	Tier               ClientTier         `json:"tier" db:"tier"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status" db:"subscription_status"`
	CreditsRemaining   int                `json:"credits_remaining" db:"credits_remaining"`
	PermissionMode     PermissionMode     `json:"permission_mode" db:"permission_mode"`

	// Policy knobs
	DailyChannelCaps       map[Channel]int `json:"daily_channel_caps" db:"daily_channel_caps"`
	ScoreWeights           *ScoreWeights   `json:"score_weights,omitempty" db:"score_weights"`
	MonthlyEnhancedBudget  int             `json:"monthly_enhanced_budget" db:"monthly_enhanced_budget"`
	DailyEnrichBudgetAUD   float64         `json:"daily_enrich_budget_aud" db:"daily_enrich_budget_aud"`
	AttributionWindowDays  int             `json:"attribution_window_days" db:"attribution_window_days"`
	Timezone               string          `json:"timezone" db:"timezone"`
	TargetIndustries       []string        `json:"target_industries" db:"target_industries"`
	TargetCountries        []string        `json:"target_countries" db:"target_countries"`
	TargetEmployeeMin      int             `json:"target_employee_min" db:"target_employee_min"`
	TargetEmployeeMax      int             `json:"target_employee_max" db:"target_employee_max"`
	OutboundWebhookURL     string          `json:"outbound_webhook_url" db:"outbound_webhook_url"`
	OutboundWebhookSecret  string          `json:"-" db:"outbound_webhook_secret"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CanSend reports whether the tenant's subscription permits outbound sends.
func (c *Client) CanSend() bool {
	return c.SubscriptionStatus == SubscriptionActive || c.SubscriptionStatus == SubscriptionTrialing
}
