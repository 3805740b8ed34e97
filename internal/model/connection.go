package model

import (
	"encoding/json"
	"time"
)

// Connection is a configured external channel (Telegram/Discord/WhatsApp)
// owned by a deployment. The dispatch core never creates or deletes rows;
// it only updates the delivery-health fields.
type Connection struct {
	ID                 string          `db:"id"`
	DeploymentID       string          `db:"deployment_id"`
	UserID             string          `db:"user_id"` // deployment owner, denormalized for event scoping
	Provider           Provider        `db:"provider"`
	Destination        string          `db:"destination"`
	Credentials        json.RawMessage `db:"credentials"` // StoredCredentials envelope (or legacy raw object)
	Config             json.RawMessage `db:"config"`
	Enabled            bool            `db:"enabled"`
	AutoRelay          bool            `db:"auto_relay"`
	LastDeliveryAt     *time.Time      `db:"last_delivery_at"`
	LastDeliveryStatus string          `db:"last_delivery_status"`
	LastError          string          `db:"last_error"`
	CreatedAt          time.Time       `db:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at"`
}
