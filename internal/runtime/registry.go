// Package runtime maps a runtime id to the execution backend that talks to
// an external messaging gateway. Only the "openclaw" runtime is registered
// today; unknown ids fail before any network call.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// DefaultID is the runtime used when a delivery payload carries no runtime id.
const DefaultID = "openclaw"

// Request is the metadata bundle handed to an adapter for one delivery.
type Request struct {
	DeliveryID   string
	DeploymentID string
	ConnectionID string
	Source       string
	RuntimeID    string
	Provider     string
	Destination  string
	Message      string
	Config       json.RawMessage
	Credentials  map[string]any
	Station      string
	Namespace    string
	Metadata     map[string]any
	Payload      json.RawMessage
}

// Result is a successful gateway dispatch.
type Result struct {
	ProviderMessageID string
	Payload           json.RawMessage
}

// Adapter executes one delivery against an external gateway.
type Adapter interface {
	Dispatch(ctx context.Context, req Request) (Result, error)
}

// UnsupportedError is raised for a non-empty runtime id with no adapter.
type UnsupportedError struct {
	ID        string
	Supported []string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported runtime %q (supported: %s)", e.ID, strings.Join(e.Supported, ", "))
}

// Registry is a static id -> adapter map.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

func (r *Registry) Register(id string, a Adapter) {
	r.adapters[id] = a
}

func (r *Registry) Supported() []string {
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Resolve returns the adapter for id. Empty/whitespace ids fall back to the
// default runtime; non-empty unknown ids fail fast.
func (r *Registry) Resolve(id string) (Adapter, string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = DefaultID
	}
	a, ok := r.adapters[id]
	if !ok {
		return nil, "", &UnsupportedError{ID: id, Supported: r.Supported()}
	}
	return a, id, nil
}

// RuntimeIDFromPayload extracts the optional "runtimeId" field from a
// delivery payload snapshot. Absent or malformed payloads yield "".
func RuntimeIDFromPayload(payload json.RawMessage) string {
	if len(payload) == 0 {
		return ""
	}
	var probe struct {
		RuntimeID string `json:"runtimeId"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return ""
	}
	return strings.TrimSpace(probe.RuntimeID)
}
