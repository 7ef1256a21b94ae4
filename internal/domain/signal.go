package domain

import "time"

// BuyerSignal is the anonymized cross-tenant record of a domain's buying
// behaviour. Contributes a 0..+15 bonus to ALS at scoring time.
type BuyerSignal struct {
	Domain         string    `json:"domain" db:"domain"`
	TimesBought    int       `json:"times_bought" db:"times_bought"`
	AvgValue       float64   `json:"avg_value" db:"avg_value"`
	ServicesBought []string  `json:"services_bought" db:"services_bought"`
	BuyerScore     int       `json:"buyer_score" db:"buyer_score"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// PrioritySignal enumerates the signals that gate enhanced content.
type PrioritySignal string

const (
	SignalRecentFunding      PrioritySignal = "recent_funding"
	SignalHiring             PrioritySignal = "hiring"
	SignalTechMatch          PrioritySignal = "tech_match"
	SignalLinkedInEngagement PrioritySignal = "linkedin_engagement"
	SignalReferral           PrioritySignal = "referral_source"
	SignalEmployeeBand       PrioritySignal = "employee_band"
)

// PrioritySignals derives the set of priority signals present on a lead.
// A touch qualifies for enhanced content when at least one is present.
func PrioritySignals(l *PoolLead) []PrioritySignal {
	var out []PrioritySignal
	if l.FundedDaysAgo > 0 && l.FundedDaysAgo < 90 {
		out = append(out, SignalRecentFunding)
	}
	if l.OpenRoles >= 3 {
		out = append(out, SignalHiring)
	}
	if l.TechMatch > 0.8 {
		out = append(out, SignalTechMatch)
	}
	if l.LinkedInEngage > 70 {
		out = append(out, SignalLinkedInEngagement)
	}
	if l.ReferralSource {
		out = append(out, SignalReferral)
	}
	if l.EmployeeCount >= 50 && l.EmployeeCount <= 500 {
		out = append(out, SignalEmployeeBand)
	}
	return out
}
