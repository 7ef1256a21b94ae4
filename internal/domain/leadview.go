package domain

import "time"

// LeadStatus enumerates the tenant-scoped sequencing states of a lead.
// in_sequence -> unsubscribed | bounced | converted | dead are terminal.
type LeadStatus string

const (
	LeadNew          LeadStatus = "new"
	LeadEnriched     LeadStatus = "enriched"
	LeadScored       LeadStatus = "scored"
	LeadInSequence   LeadStatus = "in_sequence"
	LeadConverted    LeadStatus = "converted"
	LeadUnsubscribed LeadStatus = "unsubscribed"
	LeadBounced      LeadStatus = "bounced"
	LeadDead         LeadStatus = "dead"
)

// IsTerminal reports whether the status ends sequencing for the lead.
func (s LeadStatus) IsTerminal() bool {
	switch s {
	case LeadConverted, LeadUnsubscribed, LeadBounced, LeadDead:
		return true
	}
	return false
}

// ScoreComponents is the ALS component breakdown. Ranges are fixed:
// data_quality 0-20, authority 0-25, company_fit 0-25, timing 0-15,
// risk -15-0, linkedin_boost 0-10, buyer_bonus 0-15.
type ScoreComponents struct {
	DataQuality   int `json:"data_quality" db:"score_data_quality"`
	Authority     int `json:"authority" db:"score_authority"`
	CompanyFit    int `json:"company_fit" db:"score_company_fit"`
	Timing        int `json:"timing" db:"score_timing"`
	Risk          int `json:"risk" db:"score_risk"`
	LinkedInBoost int `json:"linkedin_boost" db:"score_linkedin_boost"`
	BuyerBonus    int `json:"buyer_bonus" db:"score_buyer_bonus"`
}

// ScoreWeights is a per-client override of component weights. A valid
// vector sums to 100.
type ScoreWeights struct {
	DataQuality int `json:"data_quality" yaml:"data_quality"`
	Authority   int `json:"authority" yaml:"authority"`
	CompanyFit  int `json:"company_fit" yaml:"company_fit"`
	Timing      int `json:"timing" yaml:"timing"`
	Risk        int `json:"risk" yaml:"risk"`
}

// Sum returns the weight total; a valid vector returns 100.
func (w ScoreWeights) Sum() int {
	return w.DataQuality + w.Authority + w.CompanyFit + w.Timing + w.Risk
}

// DefaultScoreWeights is the platform default weight vector.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{DataQuality: 20, Authority: 25, CompanyFit: 25, Timing: 15, Risk: 15}
}

// Tier enumerates ALS score bands. Lower bounds are inclusive:
// hot 85+, warm 60-84, cool 35-59, cold 20-34, dead 0-19.
type Tier string

const (
	TierHot  Tier = "hot"
	TierWarm Tier = "warm"
	TierCool Tier = "cool"
	TierCold Tier = "cold"
	TierDead Tier = "dead"
)

// TierForScore maps an ALS score to its tier. Total over [0,100].
func TierForScore(score int) Tier {
	switch {
	case score >= 85:
		return TierHot
	case score >= 60:
		return TierWarm
	case score >= 35:
		return TierCool
	case score >= 20:
		return TierCold
	default:
		return TierDead
	}
}

// LeadView is a tenant's view of a PoolLead via its Assignment, carrying
// tenant-scoped mutable state.
type LeadView struct {
	ID           string `json:"id" db:"id"`
	ClientID     string `json:"client_id" db:"client_id"`
	PoolLeadID   string `json:"pool_lead_id" db:"pool_lead_id"`
	AssignmentID string `json:"assignment_id" db:"assignment_id"`
	CampaignID   string `json:"campaign_id" db:"campaign_id"`

	Score      int             `json:"als_score" db:"als_score"`
	ScoreTier  Tier            `json:"als_tier" db:"als_tier"`
	Components ScoreComponents `json:"components"`

	Status           LeadStatus `json:"status" db:"status"`
	SequencePosition int        `json:"sequence_position" db:"sequence_position"`
	NextScheduledAt  *time.Time `json:"next_scheduled_at" db:"next_scheduled_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
