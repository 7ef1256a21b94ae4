package postgres

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/errs"
)

func newQueueMock(t *testing.T) (*TouchQueueRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &TouchQueueRepo{db: db}, mock
}

func touchRows(ids ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "client_id", "campaign_id", "pool_lead_id", "channel", "resource",
		"touch_number", "template_ref", "enhanced", "due_at", "status",
		"attempts", "requeues", "claimed_by", "claimed_at", "created_at",
	})
	for _, id := range ids {
		rows.AddRow(id, "c1", "camp1", "p1", "email", "out@agency.example",
			1, "t1_intro", false, time.Now(), "claimed", 1, 0, "w1", time.Now(), time.Now())
	}
	return rows
}

func TestClaimBatchScansClaimedTouches(t *testing.T) {
	repo, mock := newQueueMock(t)
	mock.ExpectQuery(`WITH claimed AS`).
		WithArgs("w1", 10).
		WillReturnRows(touchRows("t1", "t2"))

	out, err := repo.ClaimBatch(context.Background(), "w1", 10)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "t1", out[0].ID)
	assert.Equal(t, domain.ChannelEmail, out[0].Channel)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSentLostClaimIsConsistencyError(t *testing.T) {
	repo, mock := newQueueMock(t)
	mock.ExpectExec(`UPDATE scheduled_touches SET status`).
		WithArgs("t1", "w1", string(domain.TouchSent)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkSent(context.Background(), "t1", "w1")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.Consistency))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRetryReportsDeadLetterTransition(t *testing.T) {
	repo, mock := newQueueMock(t)
	mock.ExpectQuery(`UPDATE scheduled_touches SET`).
		WithArgs("t1", "w1", "60 seconds", 5).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("dead_letter"))

	status, err := repo.Retry(context.Background(), "t1", "w1", time.Minute, 5)
	require.NoError(t, err)
	assert.Equal(t, domain.TouchDeadLetter, status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequeueNextWindowSkipsAfterMaxRequeues(t *testing.T) {
	repo, mock := newQueueMock(t)
	next := time.Now().UTC().Add(20 * time.Hour)
	mock.ExpectQuery(`UPDATE scheduled_touches SET`).
		WithArgs("t1", "w1", next, 3).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("skipped"))

	status, err := repo.RequeueNextWindow(context.Background(), "t1", "w1", next, 3)
	require.NoError(t, err)
	assert.Equal(t, domain.TouchSkipped, status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelForLeadCountsAffectedRows(t *testing.T) {
	repo, mock := newQueueMock(t)
	mock.ExpectExec(`UPDATE scheduled_touches SET status = 'cancelled'`).
		WithArgs("c1", "p1").
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := repo.CancelForLead(context.Background(), "c1", "p1")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingStatsGroupsByStatus(t *testing.T) {
	repo, mock := newQueueMock(t)
	mock.ExpectQuery(`SELECT status, COUNT`).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("pending", 12).
			AddRow("dead_letter", 1))

	stats, err := repo.PendingStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, stats[domain.TouchPending])
	assert.Equal(t, 1, stats[domain.TouchDeadLetter])
	assert.NoError(t, mock.ExpectationsWereMet())
}
