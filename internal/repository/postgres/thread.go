package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/errs"
)

// ThreadRepo persists conversation threads and their messages.
type ThreadRepo struct{ db *sql.DB }

const threadCols = `
	id, client_id, pool_lead_id, channel, status, outcome, message_count,
	last_inbound_at, last_outbound_at, created_at, updated_at`

func scanThread(row interface{ Scan(...any) error }) (*domain.Thread, error) {
	t := &domain.Thread{}
	err := row.Scan(
		&t.ID, &t.ClientID, &t.PoolLeadID, &t.Channel, &t.Status, &t.Outcome,
		&t.MessageCount, &t.LastInboundAt, &t.LastOutboundAt,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetOrCreate returns the thread for (client, lead, channel), creating it
// on first contact. One thread per triple is enforced by the store.
func (r *ThreadRepo) GetOrCreate(ctx context.Context, clientID, poolLeadID string, channel domain.Channel) (*domain.Thread, error) {
	id := uuid.New().String()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO threads (id, client_id, pool_lead_id, channel)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (client_id, pool_lead_id, channel) DO NOTHING
	`, id, clientID, poolLeadID, channel)
	if err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}

	t, err := scanThread(r.db.QueryRowContext(ctx,
		`SELECT`+threadCols+` FROM threads
		 WHERE client_id = $1 AND pool_lead_id = $2 AND channel = $3`,
		clientID, poolLeadID, channel))
	if err != nil {
		return nil, fmt.Errorf("get thread: %w", err)
	}
	return t, nil
}

func (r *ThreadRepo) Get(ctx context.Context, id string) (*domain.Thread, error) {
	t, err := scanThread(r.db.QueryRowContext(ctx,
		`SELECT`+threadCols+` FROM threads WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotFound, "thread.not_found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get thread: %w", err)
	}
	return t, nil
}

// AppendMessage adds a message with the next monotonic position and bumps
// the thread counters. An inbound append reactivates a stale thread.
func (r *ThreadRepo) AppendMessage(ctx context.Context, m *domain.Message) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return serializable(ctx, r.db, func(tx *sql.Tx) error {
		var pos int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(position), -1) + 1 FROM messages WHERE thread_id = $1`,
			m.ThreadID).Scan(&pos); err != nil {
			return fmt.Errorf("next position: %w", err)
		}
		m.Position = pos

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages
				(id, thread_id, direction, content, sentiment, intent, objection_type, position)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, m.ID, m.ThreadID, m.Direction, m.Content, m.Sentiment, m.Intent,
			m.ObjectionType, m.Position); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}

		col := "last_outbound_at"
		if m.Direction == domain.DirectionInbound {
			col = "last_inbound_at"
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE threads SET
				message_count = message_count + 1,
				%s = NOW(),
				status = CASE WHEN status = 'stale' AND $2 THEN 'active' ELSE status END,
				updated_at = NOW()
			WHERE id = $1
		`, col), m.ThreadID, m.Direction == domain.DirectionInbound); err != nil {
			return fmt.Errorf("bump thread: %w", err)
		}
		return nil
	})
}

// Messages returns a thread's messages in position order.
func (r *ThreadRepo) Messages(ctx context.Context, threadID string) ([]domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, thread_id, direction, content, sentiment, intent,
		       objection_type, position, created_at
		FROM messages WHERE thread_id = $1 ORDER BY position
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("thread messages: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Direction, &m.Content,
			&m.Sentiment, &m.Intent, &m.ObjectionType, &m.Position, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Resolve closes a thread with a terminal outcome.
func (r *ThreadRepo) Resolve(ctx context.Context, id string, outcome domain.ThreadOutcome) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE threads SET status = 'resolved', outcome = $2, updated_at = NOW()
		WHERE id = $1 AND status <> 'resolved'
	`, id, outcome)
	if err != nil {
		return fmt.Errorf("resolve thread: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.New(errs.NotFound, "thread.not_open", id)
	}
	return nil
}

// MarkStale moves active threads with no inbound activity inside the
// window to stale, labelling them no_response. Returns the count moved.
func (r *ThreadRepo) MarkStale(ctx context.Context, window time.Duration) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE threads SET status = 'stale', outcome = 'no_response', updated_at = NOW()
		WHERE status = 'active'
		  AND COALESCE(last_inbound_at, created_at) < $1
		  AND COALESCE(last_outbound_at, created_at) < $1
	`, time.Now().UTC().Add(-window))
	if err != nil {
		return 0, fmt.Errorf("mark stale: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ForLead lists every thread for one (client, lead) pair.
func (r *ThreadRepo) ForLead(ctx context.Context, clientID, poolLeadID string) ([]domain.Thread, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT`+threadCols+` FROM threads
		 WHERE client_id = $1 AND pool_lead_id = $2 ORDER BY created_at`,
		clientID, poolLeadID)
	if err != nil {
		return nil, fmt.Errorf("threads for lead: %w", err)
	}
	defer rows.Close()

	var out []domain.Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
