// Package dispatch implements the bridge connection dispatch queue: fanning
// messages out to connector deliveries, draining due rows with an atomic
// claim, executing them through a runtime adapter, and retiring them with
// retry/backoff and bounded retention.
package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fleetdeck/bridge-dispatch/internal/config"
	"github.com/fleetdeck/bridge-dispatch/internal/events"
	"github.com/fleetdeck/bridge-dispatch/internal/model"
	"github.com/fleetdeck/bridge-dispatch/internal/repository"
	"github.com/fleetdeck/bridge-dispatch/internal/runtime"
	"github.com/fleetdeck/bridge-dispatch/internal/util"
)

// CredentialResolver is the vault boundary used when executing a delivery.
type CredentialResolver interface {
	Resolve(ctx context.Context, provider model.Provider, connectionID string, env model.StoredCredentials) (map[string]any, error)
}

// Service wires the delivery store, vault, runtime registry, and event sink.
type Service struct {
	connections repository.ConnectionsRepository
	deliveries  repository.DeliveriesRepository
	registry    *runtime.Registry
	vault       CredentialResolver
	publisher   events.Publisher
	cfg         config.DispatchConfig

	now   func() time.Time
	newID func() string
}

func New(
	connections repository.ConnectionsRepository,
	deliveries repository.DeliveriesRepository,
	registry *runtime.Registry,
	vault CredentialResolver,
	publisher events.Publisher,
	cfg config.DispatchConfig,
) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{
		connections: connections,
		deliveries:  deliveries,
		registry:    registry,
		vault:       vault,
		publisher:   publisher,
		cfg:         cfg.Normalized(),
		now:         time.Now,
		newID:       util.NewID,
	}
}

// payloadSnapshot is the immutable JSON written on each delivery at enqueue
// time: the connector's identity and config as they were, plus caller context.
type payloadSnapshot struct {
	Connector  connectorSnapshot `json:"connector"`
	Source     string            `json:"source"`
	RuntimeID  string            `json:"runtimeId,omitempty"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
	Context    map[string]any    `json:"context,omitempty"`
	EnqueuedAt time.Time         `json:"enqueuedAt"`
}

type connectorSnapshot struct {
	ID          string          `json:"id"`
	Provider    string          `json:"provider"`
	Destination string          `json:"destination"`
	Config      json.RawMessage `json:"config,omitempty"`
}

func decodeSnapshot(raw json.RawMessage) payloadSnapshot {
	var snap payloadSnapshot
	_ = json.Unmarshal(raw, &snap)
	return snap
}

func metaString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
