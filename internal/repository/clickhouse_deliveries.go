package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// DeliveryReport is one row of the ClickHouse read-side history.
type DeliveryReport struct {
	ID           string     `db:"id"`
	DeploymentID string     `db:"deployment_id"`
	ConnectionID string     `db:"connection_id"`
	Provider     string     `db:"provider"`
	Source       string     `db:"source"`
	Status       string     `db:"status"`
	Attempts     int        `db:"attempts"`
	LastError    string     `db:"last_error"`
	CreatedAt    time.Time  `db:"created_at"`
	DeliveredAt  *time.Time `db:"delivered_at"`
}

// CHDeliveriesRepository lists delivery history from ClickHouse. The table
// is populated by the CDC pipeline; this repo is read-only.
type CHDeliveriesRepository interface {
	ListByDeployment(ctx context.Context, deploymentID, provider, status string, limit, offset int) ([]DeliveryReport, error)
}

type chDeliveriesRepository struct {
	ch *sqlx.DB
}

func NewCHDeliveriesRepository(ch *sqlx.DB) CHDeliveriesRepository {
	return &chDeliveriesRepository{ch: ch}
}

func (r *chDeliveriesRepository) ListByDeployment(ctx context.Context, deploymentID, provider, status string, limit, offset int) ([]DeliveryReport, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT id, deployment_id, connection_id, provider, source, status,
		       attempts, last_error, created_at, delivered_at
		FROM bridge.deliveries_latest
		WHERE deployment_id = ?
	`
	args := []any{deploymentID}

	if provider != "" {
		q += " AND provider = ?"
		args = append(args, provider)
	}
	if status != "" {
		q += " AND status = ?"
		args = append(args, status)
	}

	q += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []DeliveryReport
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
