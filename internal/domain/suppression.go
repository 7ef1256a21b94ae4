package domain

import "time"

// SuppressionReason enumerates why a recipient must not be contacted.
type SuppressionReason string

const (
	ReasonExistingCustomer SuppressionReason = "existing_customer"
	ReasonBounce           SuppressionReason = "bounce"
	ReasonUnsubscribe      SuppressionReason = "unsubscribe"
	ReasonDoNotContact     SuppressionReason = "do_not_contact"
	ReasonCompetitor       SuppressionReason = "competitor"
	ReasonCoolingOff       SuppressionReason = "cooling_off"
)

// SuppressionScope distinguishes email entries from domain entries.
type SuppressionScope string

const (
	ScopeEmail  SuppressionScope = "email"
	ScopeDomain SuppressionScope = "domain"
)

// SuppressionEntry is a single "must not contact" record. ClientID is
// empty for global entries. Expiry is advisory; entries are create-only.
type SuppressionEntry struct {
	ID         string            `json:"id" db:"id"`
	ClientID   string            `json:"client_id,omitempty" db:"client_id"`
	Scope      SuppressionScope  `json:"scope" db:"scope"`
	Value      string            `json:"value" db:"value"`
	Reason     SuppressionReason `json:"reason" db:"reason"`
	Source     string            `json:"source" db:"source"`
	CustomerID string            `json:"customer_id,omitempty" db:"customer_id"`
	ExpiresAt  *time.Time        `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt  time.Time         `json:"created_at" db:"created_at"`
}

// Expired reports whether the entry's advisory expiry has passed.
func (e *SuppressionEntry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}
