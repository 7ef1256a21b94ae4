package domain

import (
	"strings"
	"time"
)

// PoolStatus enumerates the platform-wide lifecycle of a pool lead.
type PoolStatus string

const (
	PoolUnassigned PoolStatus = "unassigned"
	PoolAssigned   PoolStatus = "assigned"
	PoolRetired    PoolStatus = "retired"
)

// PoolLead is a platform-owned prospect record. Email is unique
// platform-wide; domain alone is never exclusive.
type PoolLead struct {
	ID          string `json:"id" db:"id"`
	Email       string `json:"email" db:"email"`
	Domain      string `json:"domain" db:"domain"`
	FirstName   string `json:"first_name" db:"first_name"`
	LastName    string `json:"last_name" db:"last_name"`
	Title       string `json:"title" db:"title"`
	Company     string `json:"company" db:"company"`
	Phone       string `json:"phone" db:"phone"`
	LinkedInURL string `json:"linkedin_url" db:"linkedin_url"`

	Industry      string `json:"industry" db:"industry"`
	EmployeeCount int    `json:"employee_count" db:"employee_count"`
	Country       string `json:"country" db:"country"`
	RevenueBand   string `json:"revenue_band" db:"revenue_band"`

	EmailVerified    bool    `json:"email_verified" db:"email_verified"`
	EnrichmentSource string  `json:"enrichment_source" db:"enrichment_source"`
	EnrichmentCost   float64 `json:"enrichment_cost" db:"enrichment_cost"`
	Partial          bool    `json:"partial" db:"partial"`

	// Timing signals captured at enrichment time.
	NewInRoleDays   int     `json:"new_in_role_days" db:"new_in_role_days"`
	OpenRoles       int     `json:"open_roles" db:"open_roles"`
	FundedDaysAgo   int     `json:"funded_days_ago" db:"funded_days_ago"`
	LinkedInPosts   int     `json:"linkedin_posts" db:"linkedin_posts"`
	LinkedInRecent  bool    `json:"linkedin_recent" db:"linkedin_recent"`
	LinkedInNetwork int     `json:"linkedin_network" db:"linkedin_network"`
	LinkedInEngage  int     `json:"linkedin_engage" db:"linkedin_engage"`
	TechMatch       float64 `json:"tech_match" db:"tech_match"`
	ReferralSource  bool    `json:"referral_source" db:"referral_source"`

	PoolStatus      PoolStatus `json:"pool_status" db:"pool_status"`
	FirstSeenAt     time.Time  `json:"first_seen_at" db:"first_seen_at"`
	LastRefreshedAt time.Time  `json:"last_refreshed_at" db:"last_refreshed_at"`
}

// ICPFilter narrows candidate pool leads to a tenant's ideal customer
// profile. Zero values mean "any".
type ICPFilter struct {
	Industries  []string `json:"industries"`
	Countries   []string `json:"countries"`
	EmployeeMin int      `json:"employee_min"`
	EmployeeMax int      `json:"employee_max"`
	Limit       int      `json:"limit"`
}

// NormalizeEmail lowercases and trims an email for platform-wide uniqueness.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// DomainOfEmail extracts the domain part of an email address, or "" if the
// address is malformed.
func DomainOfEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}
