package thread

import (
	"context"
	"time"

	"github.com/keiracom/agency-os/internal/domain"
)

// Repository defines the persistence the state machine needs.
type Repository interface {
	// GetOrCreate returns the thread for (client, lead, channel), creating
	// an active one if none exists.
	GetOrCreate(ctx context.Context, clientID, poolLeadID string, channel domain.Channel) (*domain.Thread, error)

	// AppendMessage appends at the next position and updates thread
	// counters. An inbound message reactivates a stale thread.
	AppendMessage(ctx context.Context, m *domain.Message) error

	// Messages returns the thread's messages in position order.
	Messages(ctx context.Context, threadID string) ([]domain.Message, error)

	// Resolve closes an active thread with a terminal outcome.
	Resolve(ctx context.Context, threadID string, outcome domain.ThreadOutcome) error

	// MarkStale moves active threads with no traffic inside the window to
	// stale, outcome no_response. Returns how many moved.
	MarkStale(ctx context.Context, window time.Duration) (int, error)

	// SetLeadStatus updates the tenant-scoped lead status. Terminal
	// statuses are never overwritten.
	SetLeadStatus(ctx context.Context, clientID, poolLeadID string, status domain.LeadStatus) error

	// CancelTouches cancels the lead's pending queue entries. Returns the
	// number cancelled.
	CancelTouches(ctx context.Context, clientID, poolLeadID string) (int, error)

	// LeadEmail resolves the lead's contact email for suppression writes.
	LeadEmail(ctx context.Context, poolLeadID string) (string, error)

	// AttributionDays returns the client's configured conversion
	// attribution window in days; zero means no override.
	AttributionDays(ctx context.Context, clientID string) (int, error)

	// RecordConversion flips the assignment to converted, marks the lead
	// view converted, credits recent touches, and resolves the thread.
	RecordConversion(ctx context.Context, clientID, poolLeadID, threadID string, attribution time.Duration) error
}

// Suppressor is the slice of the suppression service the machine uses.
type Suppressor interface {
	RecordUnsubscribe(ctx context.Context, clientID, email string) error
	RecordCoolingOff(ctx context.Context, clientID, email string, months int) error
}

// PurchaseRecorder feeds conversions into the buyer signal network.
type PurchaseRecorder interface {
	RecordPurchase(ctx context.Context, dom string, valueAUD float64, service string) error
}
