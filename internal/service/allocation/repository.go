package allocation

import "context"

// Repository is the counter surface for the monthly enhanced budget.
type Repository interface {
	// EnhancedUsed returns the tenant's enhanced-touch count for a month
	// ("2026-08" form).
	EnhancedUsed(ctx context.Context, clientID, month string) (int, error)

	// IncrementEnhanced adds n to the month's counter.
	IncrementEnhanced(ctx context.Context, clientID, month string, n int) error
}
