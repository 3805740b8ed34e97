package repository

import (
	"context"
	"errors"
	"time"

	"github.com/fleetdeck/bridge-dispatch/internal/model"
	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("not found")

// DeliveriesRepository persists the dispatch queue rows.
type DeliveriesRepository interface {
	// InsertBatch writes all rows in a single transaction.
	InsertBatch(ctx context.Context, rows []model.Delivery) error
	// SelectDue lists claimable candidates oldest-created-first, joined
	// with their connection.
	SelectDue(ctx context.Context, limit int, deploymentID string, now time.Time) ([]DueDelivery, error)
	// Claim atomically transitions an eligible row to processing.
	// Exactly one concurrent caller wins; the rest get false.
	Claim(ctx context.Context, id string, now time.Time) (bool, error)
	MarkCompleted(ctx context.Context, id, providerMessageID string, result []byte, deliveredAt time.Time) error
	MarkFailed(ctx context.Context, id string, attempts int, lastError string, nextAttemptAt *time.Time) error
	// Prune hard-deletes the oldest terminal rows beyond retain for a deployment.
	Prune(ctx context.Context, deploymentID string, retain int) (int64, error)
	List(ctx context.Context, deploymentID string, status model.DeliveryStatus, limit int) ([]model.Delivery, error)
}

// DueDelivery is a claim candidate joined with its connection row.
type DueDelivery struct {
	model.Delivery
	Connection model.Connection `db:"conn"`
}

type DeliveriesRepositoryImpl struct {
	db *sqlx.DB
}

func NewDeliveriesRepository(db *sqlx.DB) *DeliveriesRepositoryImpl {
	return &DeliveriesRepositoryImpl{db: db}
}

func (r *DeliveriesRepositoryImpl) withTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *DeliveriesRepositoryImpl) InsertBatch(ctx context.Context, rows []model.Delivery) error {
	if len(rows) == 0 {
		return nil
	}
	const q = `
		INSERT INTO deliveries
		    (id, deployment_id, connection_id, source, status, dedupe_key, message,
		     payload, attempts, next_attempt_at, provider_message_id, last_error,
		     created_at, updated_at)
		VALUES
		    (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', '', ?, ?)
	`
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, d := range rows {
			_, err := tx.ExecContext(ctx, q,
				d.ID, d.DeploymentID, d.ConnectionID, d.Source, d.Status.String(),
				d.DedupeKey, d.Message, []byte(d.Payload), d.Attempts, d.NextAttemptAt,
				d.CreatedAt, d.CreatedAt,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

const dueCols = `
	d.id, d.deployment_id, d.connection_id, d.source, d.status, d.dedupe_key,
	d.message, d.payload, d.attempts, d.next_attempt_at, d.provider_message_id,
	d.result, d.last_error, d.created_at, d.delivered_at, d.updated_at,
	c.id AS "conn.id", c.deployment_id AS "conn.deployment_id", c.user_id AS "conn.user_id",
	c.provider AS "conn.provider", c.destination AS "conn.destination",
	c.credentials AS "conn.credentials", c.config AS "conn.config",
	c.enabled AS "conn.enabled", c.auto_relay AS "conn.auto_relay",
	c.last_delivery_at AS "conn.last_delivery_at",
	c.last_delivery_status AS "conn.last_delivery_status",
	c.last_error AS "conn.last_error",
	c.created_at AS "conn.created_at", c.updated_at AS "conn.updated_at"`

func (r *DeliveriesRepositoryImpl) SelectDue(ctx context.Context, limit int, deploymentID string, now time.Time) ([]DueDelivery, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	q := `
		SELECT ` + dueCols + `
		FROM deliveries d
		JOIN connections c ON c.id = d.connection_id
		WHERE (
			(d.status = 'pending' AND (d.next_attempt_at IS NULL OR d.next_attempt_at <= ?))
			OR (d.status = 'failed' AND d.next_attempt_at IS NOT NULL AND d.next_attempt_at <= ?)
		)
	`
	args := []any{now, now}
	if deploymentID != "" {
		q += ` AND d.deployment_id = ?`
		args = append(args, deploymentID)
	}
	q += ` ORDER BY d.created_at ASC LIMIT ?`
	args = append(args, limit)

	var rows []DueDelivery
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

// Claim is the sole mutual-exclusion mechanism between overlapping drain
// invocations: a conditional single-row update whose affected-row count
// decides the winner.
func (r *DeliveriesRepositoryImpl) Claim(ctx context.Context, id string, now time.Time) (bool, error) {
	// Same eligibility predicate as SelectDue: a failed row with no
	// next_attempt_at is terminal and must never be claimed, even when a
	// sibling drain terminally failed it between our SelectDue and here.
	const q = `
		UPDATE deliveries
		SET status = 'processing', updated_at = NOW()
		WHERE id = ?
		  AND (
			(status = 'pending' AND (next_attempt_at IS NULL OR next_attempt_at <= ?))
			OR (status = 'failed' AND next_attempt_at IS NOT NULL AND next_attempt_at <= ?)
		  )
	`
	res, err := r.db.ExecContext(ctx, q, id, now, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *DeliveriesRepositoryImpl) MarkCompleted(ctx context.Context, id, providerMessageID string, result []byte, deliveredAt time.Time) error {
	const q = `
		UPDATE deliveries
		SET status = 'completed', delivered_at = ?, next_attempt_at = NULL,
		    last_error = '', provider_message_id = ?, result = ?, updated_at = NOW()
		WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, q, deliveredAt, providerMessageID, result, id)
	return err
}

func (r *DeliveriesRepositoryImpl) MarkFailed(ctx context.Context, id string, attempts int, lastError string, nextAttemptAt *time.Time) error {
	const q = `
		UPDATE deliveries
		SET status = 'failed', attempts = ?, last_error = ?, next_attempt_at = ?, updated_at = NOW()
		WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, q, attempts, lastError, nextAttemptAt, id)
	return err
}

func (r *DeliveriesRepositoryImpl) Prune(ctx context.Context, deploymentID string, retain int) (int64, error) {
	if retain <= 0 {
		return 0, nil
	}

	const terminal = `deployment_id = ?
		  AND (status = 'completed' OR (status = 'failed' AND next_attempt_at IS NULL))`

	var count int
	if err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM deliveries WHERE `+terminal, deploymentID); err != nil {
		return 0, err
	}
	excess := count - retain
	if excess <= 0 {
		return 0, nil
	}

	// MySQL cannot delete from a table it selects from without a derived table.
	q := `
		DELETE d FROM deliveries d
		JOIN (
			SELECT id FROM deliveries
			WHERE ` + terminal + `
			ORDER BY created_at ASC
			LIMIT ?
		) old ON old.id = d.id
	`
	res, err := r.db.ExecContext(ctx, q, deploymentID, excess)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *DeliveriesRepositoryImpl) List(ctx context.Context, deploymentID string, status model.DeliveryStatus, limit int) ([]model.Delivery, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}

	q := `
		SELECT id, deployment_id, connection_id, source, status, dedupe_key, message,
		       payload, attempts, next_attempt_at, provider_message_id, result,
		       last_error, created_at, delivered_at, updated_at
		FROM deliveries
		WHERE deployment_id = ?
	`
	args := []any{deploymentID}
	if status != "" {
		q += ` AND status = ?`
		args = append(args, status.String())
	}
	q += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	var rows []model.Delivery
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
