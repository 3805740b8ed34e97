package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fleetdeck/bridge-dispatch/internal/model"
	"github.com/jmoiron/sqlx"
)

// ConnectionsRepository reads connector rows for fan-out and writes only
// their delivery-health fields. Connection lifecycle belongs to the web API.
type ConnectionsRepository interface {
	GetByID(ctx context.Context, id string) (*model.Connection, error)
	FindMatching(ctx context.Context, f ConnectionFilter) ([]model.Connection, error)
	UpdateHealth(ctx context.Context, id, status, lastError string, at time.Time) error
	UpdateCredentials(ctx context.Context, id string, envelope json.RawMessage) error
}

// ConnectionFilter selects the connections a message fans out to.
type ConnectionFilter struct {
	DeploymentID    string
	ConnectionIDs   []string // optional explicit allowlist (pre-deduplicated)
	AutoRelayOnly   bool
	IncludeDisabled bool
}

type ConnectionsRepositoryImpl struct {
	db *sqlx.DB
}

func NewConnectionsRepository(db *sqlx.DB) *ConnectionsRepositoryImpl {
	return &ConnectionsRepositoryImpl{db: db}
}

const connectionCols = `id, deployment_id, user_id, provider, destination, credentials, config,
	enabled, auto_relay, last_delivery_at, last_delivery_status, last_error, created_at, updated_at`

func (r *ConnectionsRepositoryImpl) GetByID(ctx context.Context, id string) (*model.Connection, error) {
	var conn model.Connection
	q := `SELECT ` + connectionCols + ` FROM connections WHERE id = ?`
	if err := r.db.GetContext(ctx, &conn, q, id); err != nil {
		return nil, err
	}
	return &conn, nil
}

func (r *ConnectionsRepositoryImpl) FindMatching(ctx context.Context, f ConnectionFilter) ([]model.Connection, error) {
	q := `SELECT ` + connectionCols + ` FROM connections WHERE deployment_id = ?`
	args := []any{f.DeploymentID}

	if !f.IncludeDisabled {
		q += ` AND enabled = 1`
	}
	if f.AutoRelayOnly {
		q += ` AND auto_relay = 1`
	}
	if len(f.ConnectionIDs) > 0 {
		in, inArgs, err := sqlx.In(` AND id IN (?)`, f.ConnectionIDs)
		if err != nil {
			return nil, err
		}
		q += in
		args = append(args, inArgs...)
	}
	q += ` ORDER BY created_at ASC`

	var rows []model.Connection
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(q), args...); err != nil {
		return nil, err
	}
	return rows, nil
}

// UpdateHealth stamps the connection's last-delivery summary. Best-effort
// last-write-wins: only the success/terminal-failure path of a delivery
// writes here.
func (r *ConnectionsRepositoryImpl) UpdateHealth(ctx context.Context, id, status, lastError string, at time.Time) error {
	const q = `
		UPDATE connections
		SET last_delivery_at = ?, last_delivery_status = ?, last_error = ?, updated_at = NOW()
		WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, q, at, status, lastError, id)
	return err
}

func (r *ConnectionsRepositoryImpl) UpdateCredentials(ctx context.Context, id string, envelope json.RawMessage) error {
	const q = `UPDATE connections SET credentials = ?, updated_at = NOW() WHERE id = ?`
	res, err := r.db.ExecContext(ctx, q, []byte(envelope), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
