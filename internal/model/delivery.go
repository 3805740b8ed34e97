package model

import (
	"encoding/json"
	"time"
)

type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "pending"
	DeliveryProcessing DeliveryStatus = "processing"
	DeliveryCompleted  DeliveryStatus = "completed"
	DeliveryFailed     DeliveryStatus = "failed"
)

func (s DeliveryStatus) String() string { return string(s) }

func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryPending, DeliveryProcessing, DeliveryCompleted, DeliveryFailed:
		return true
	}
	return false
}

// Delivery is one queued attempt to relay a message to one external connector.
type Delivery struct {
	ID                string          `db:"id"`
	DeploymentID      string          `db:"deployment_id"`
	ConnectionID      string          `db:"connection_id"`
	Source            string          `db:"source"`
	Status            DeliveryStatus  `db:"status"`
	DedupeKey         string          `db:"dedupe_key"` // traceability fingerprint, not a duplicate guard
	Message           string          `db:"message"`
	Payload           json.RawMessage `db:"payload"` // immutable snapshot taken at enqueue time
	Attempts          int             `db:"attempts"`
	NextAttemptAt     *time.Time      `db:"next_attempt_at"`
	ProviderMessageID string          `db:"provider_message_id"`
	Result            json.RawMessage `db:"result"`
	LastError         string          `db:"last_error"`
	CreatedAt         time.Time       `db:"created_at"`
	DeliveredAt       *time.Time      `db:"delivered_at"`
	UpdatedAt         time.Time       `db:"updated_at"`
}

// Terminal reports whether the row will never be picked up again.
func (d Delivery) Terminal() bool {
	return d.Status == DeliveryCompleted || (d.Status == DeliveryFailed && d.NextAttemptAt == nil)
}
