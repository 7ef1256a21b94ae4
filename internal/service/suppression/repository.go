package suppression

import (
	"context"

	"github.com/keiracom/agency-os/internal/domain"
)

// Repository defines the data access contract for suppression entries.
type Repository interface {
	// Add inserts an entry; a duplicate (client, value) is a no-op.
	// Reports whether a new row was written.
	Add(ctx context.Context, e *domain.SuppressionEntry) (bool, error)

	// BulkAdd inserts a batch, skipping duplicates, and reports how many
	// new rows were written.
	BulkAdd(ctx context.Context, entries []domain.SuppressionEntry) (int, error)

	// Match returns every live entry covering the email for this tenant:
	// tenant-scoped and global rows, exact address or its domain.
	Match(ctx context.Context, clientID, email string) ([]domain.SuppressionEntry, error)

	// AllValues streams every live suppressed value for a tenant (plus
	// globals) into fn. Used to warm the bloom filter.
	AllValues(ctx context.Context, clientID string, fn func(scope domain.SuppressionScope, value string) error) error
}
