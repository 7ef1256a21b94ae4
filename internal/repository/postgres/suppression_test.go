package postgres

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keiracom/agency-os/internal/domain"
)

func newSuppressionMock(t *testing.T) (*SuppressionRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &SuppressionRepo{db: db}, mock
}

func TestAddWritesNewEntry(t *testing.T) {
	repo, mock := newSuppressionMock(t)
	mock.ExpectExec(`INSERT INTO suppressions`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	created, err := repo.Add(context.Background(), &domain.SuppressionEntry{
		ClientID: "c1", Scope: domain.ScopeEmail,
		Value: "Jane@Corp.com", Reason: domain.ReasonUnsubscribe, Source: "webhook",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A permanent entry arriving while a cooling-off row covers the same
// value must replace it, or the lead becomes contactable again when the
// cooling-off window lapses.
func TestAddPermanentEntryOverridesCoolingOff(t *testing.T) {
	repo, mock := newSuppressionMock(t)
	mock.ExpectExec(`DO UPDATE SET reason = EXCLUDED.reason, source = EXCLUDED.source, expires_at = NULL`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	created, err := repo.Add(context.Background(), &domain.SuppressionEntry{
		ClientID: "c1", Scope: domain.ScopeEmail,
		Value: "jane@corp.com", Reason: domain.ReasonUnsubscribe, Source: "webhook",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// The conflict guard only fires for expiring rows, so a later
// cooling-off entry never downgrades a permanent one.
func TestAddNeverDowngradesPermanentEntry(t *testing.T) {
	repo, mock := newSuppressionMock(t)
	mock.ExpectExec(`suppressions.expires_at IS NOT NULL AND EXCLUDED.expires_at IS NULL`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	until := time.Now().UTC().AddDate(0, 12, 0)
	created, err := repo.Add(context.Background(), &domain.SuppressionEntry{
		ClientID: "c1", Scope: domain.ScopeEmail,
		Value: "jane@corp.com", Reason: domain.ReasonCoolingOff, Source: "reply",
		ExpiresAt: &until,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkAddCountsOnlyWrittenRows(t *testing.T) {
	repo, mock := newSuppressionMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO suppressions`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO suppressions`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	added, err := repo.BulkAdd(context.Background(), []domain.SuppressionEntry{
		{ClientID: "c1", Scope: domain.ScopeEmail, Value: "a@corp.com", Reason: domain.ReasonExistingCustomer, Source: "customer_import"},
		{ClientID: "c1", Scope: domain.ScopeEmail, Value: "b@corp.com", Reason: domain.ReasonExistingCustomer, Source: "customer_import"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.NoError(t, mock.ExpectationsWereMet())
}
