package domain

import "time"

// AssignmentState enumerates the lifecycle of a pool lead assignment.
// The only legal transitions are active -> converted | released | suppressed.
type AssignmentState string

const (
	AssignmentActive     AssignmentState = "active"
	AssignmentConverted  AssignmentState = "converted"
	AssignmentReleased   AssignmentState = "released"
	AssignmentSuppressed AssignmentState = "suppressed"
)

// Assignment is the exclusive binding of a PoolLead to a tenant for
// outreach. At most one active assignment may exist per pool lead across
// all tenants. Once converted, the lead is permanently bound to the
// owning tenant.
type Assignment struct {
	ID         string          `json:"id" db:"id"`
	ClientID   string          `json:"client_id" db:"client_id"`
	PoolLeadID string          `json:"pool_lead_id" db:"pool_lead_id"`
	CampaignID string          `json:"campaign_id" db:"campaign_id"`
	State      AssignmentState `json:"state" db:"state"`
	AssignedAt time.Time       `json:"assigned_at" db:"assigned_at"`
	TerminalAt *time.Time      `json:"terminal_at" db:"terminal_at"`
}

// IsTerminal returns true once the assignment has left the active state.
func (a *Assignment) IsTerminal() bool {
	return a.State != AssignmentActive
}

// AssignOutcome is the result of a try_assign attempt.
type AssignOutcome string

const (
	AssignOK          AssignOutcome = "assigned"
	AssignAlreadyOurs AssignOutcome = "already_yours"
	AssignCollision   AssignOutcome = "collision"
	AssignSuppressed  AssignOutcome = "suppressed"
)

// AssignResult carries the outcome of try_assign plus context for the
// collision and suppressed variants.
type AssignResult struct {
	Outcome           AssignOutcome     `json:"outcome"`
	AssignmentID      string            `json:"assignment_id,omitempty"`
	OtherClientID     string            `json:"other_client_id,omitempty"`
	SuppressionReason SuppressionReason `json:"suppression_reason,omitempty"`
}
