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

// AssignmentRepo enforces the exclusivity ledger.
type AssignmentRepo struct{ db *sql.DB }

// TryAssign attempts to bind a pool lead to a client for a campaign.
// Runs SERIALIZABLE: of two concurrent attempts for the same lead exactly
// one returns assigned and the other collision. A lead converted by any
// tenant is permanently bound and always collides.
func (r *AssignmentRepo) TryAssign(ctx context.Context, clientID, poolLeadID, campaignID string) (*domain.AssignResult, error) {
	result := &domain.AssignResult{}

	err := serializable(ctx, r.db, func(tx *sql.Tx) error {
		// A converted assignment binds the lead forever, even though it
		// is terminal.
		var otherClient string
		err := tx.QueryRowContext(ctx, `
			SELECT client_id FROM assignments
			WHERE pool_lead_id = $1 AND state IN ('active', 'converted')
			ORDER BY state = 'converted' DESC
			LIMIT 1
		`, poolLeadID).Scan(&otherClient)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("lookup assignment: %w", err)
		}

		if err == nil {
			if otherClient == clientID {
				// Converted for us also reads as ours.
				var state string
				tx.QueryRowContext(ctx, `
					SELECT state FROM assignments
					WHERE pool_lead_id = $1 AND client_id = $2 AND state IN ('active','converted')
					LIMIT 1
				`, poolLeadID, clientID).Scan(&state)
				if state == string(domain.AssignmentConverted) {
					result.Outcome = domain.AssignCollision
					result.OtherClientID = otherClient
					return nil
				}
				result.Outcome = domain.AssignAlreadyOurs
				return nil
			}
			result.Outcome = domain.AssignCollision
			result.OtherClientID = otherClient
			return nil
		}

		id := uuid.New().String()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO assignments (id, client_id, pool_lead_id, campaign_id, state, assigned_at)
			VALUES ($1, $2, $3, $4, 'active', NOW())
		`, id, clientID, poolLeadID, campaignID)
		if err != nil {
			if isUniqueViolation(err) {
				// Lost the race after our read; report the winner.
				result.Outcome = domain.AssignCollision
				return nil
			}
			return fmt.Errorf("insert assignment: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE pool_leads SET pool_status = 'assigned' WHERE id = $1`, poolLeadID); err != nil {
			return fmt.Errorf("mark pool lead assigned: %w", err)
		}

		result.Outcome = domain.AssignOK
		result.AssignmentID = id
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Outcome == domain.AssignCollision && result.OtherClientID == "" {
		// Filled in outside the failed insert path.
		r.db.QueryRowContext(ctx, `
			SELECT client_id FROM assignments
			WHERE pool_lead_id = $1 AND state IN ('active','converted') LIMIT 1
		`, poolLeadID).Scan(&result.OtherClientID)
	}
	return result, nil
}

// Active returns the active assignment for (client, pool lead), if any.
func (r *AssignmentRepo) Active(ctx context.Context, clientID, poolLeadID string) (*domain.Assignment, error) {
	a := &domain.Assignment{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, client_id, pool_lead_id, campaign_id, state, assigned_at, terminal_at
		FROM assignments
		WHERE client_id = $1 AND pool_lead_id = $2 AND state = 'active'
	`, clientID, poolLeadID).Scan(
		&a.ID, &a.ClientID, &a.PoolLeadID, &a.CampaignID, &a.State,
		&a.AssignedAt, &a.TerminalAt)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotFound, "assignment.not_found", poolLeadID)
	}
	if err != nil {
		return nil, fmt.Errorf("active assignment: %w", err)
	}
	return a, nil
}

// Terminate moves an active assignment to a terminal state. Only
// active -> converted | released | suppressed transitions are legal.
func (r *AssignmentRepo) Terminate(ctx context.Context, clientID, poolLeadID string, to domain.AssignmentState) error {
	if to == domain.AssignmentActive {
		return errs.New(errs.Validation, "assignment.invalid_transition", string(to))
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE assignments SET state = $3, terminal_at = $4
		WHERE client_id = $1 AND pool_lead_id = $2 AND state = 'active'
	`, clientID, poolLeadID, to, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("terminate assignment: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errs.New(errs.NotFound, "assignment.not_active", poolLeadID)
	}

	// Released leads return to the pool; converted and suppressed stay
	// bound/retired.
	if to == domain.AssignmentReleased {
		_, err = r.db.ExecContext(ctx,
			`UPDATE pool_leads SET pool_status = 'unassigned' WHERE id = $1`, poolLeadID)
	}
	return err
}

// ReleaseAllForClient moves every active assignment for a tenant to
// released and returns the pool leads to inventory. Used when the
// subscription is cancelled.
func (r *AssignmentRepo) ReleaseAllForClient(ctx context.Context, clientID string) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		WITH released AS (
			UPDATE assignments SET state = 'released', terminal_at = NOW()
			WHERE client_id = $1 AND state = 'active'
			RETURNING pool_lead_id
		)
		UPDATE pool_leads SET pool_status = 'unassigned'
		WHERE id IN (SELECT pool_lead_id FROM released)
	`, clientID)
	if err != nil {
		return 0, fmt.Errorf("release all: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// MarkConverted transitions the assignment to converted inside the given
// transaction so conversion and attribution back-fill commit atomically.
func markConvertedTx(ctx context.Context, tx *sql.Tx, clientID, poolLeadID string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE assignments SET state = 'converted', terminal_at = NOW()
		WHERE client_id = $1 AND pool_lead_id = $2 AND state = 'active'
	`, clientID, poolLeadID)
	if err != nil {
		return fmt.Errorf("mark converted: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.New(errs.NotFound, "assignment.not_active", poolLeadID)
	}
	return nil
}
