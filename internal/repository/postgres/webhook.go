package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WebhookEventRepo deduplicates inbound provider events on
// (provider_event_id, event_type).
type WebhookEventRepo struct{ db *sql.DB }

// Record stores an inbound event and reports whether it is new. A
// duplicate returns false and the caller acknowledges without replaying
// side effects.
func (r *WebhookEventRepo) Record(ctx context.Context, provider, eventID, eventType, providerMessageID string, payload json.RawMessage) (bool, error) {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_events
			(id, provider, provider_event_id, event_type, provider_message_id, payload)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (provider_event_id, event_type) DO NOTHING
	`, uuid.New().String(), provider, eventID, eventType, providerMessageID, []byte(payload))
	if err != nil {
		return false, fmt.Errorf("record webhook event: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// PurgeBefore drops processed events older than the retention cutoff.
func (r *WebhookEventRepo) PurgeBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM webhook_events WHERE received_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge webhook events: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
