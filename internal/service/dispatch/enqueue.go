package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fleetdeck/bridge-dispatch/internal/events"
	"github.com/fleetdeck/bridge-dispatch/internal/logger"
	"github.com/fleetdeck/bridge-dispatch/internal/metrics"
	"github.com/fleetdeck/bridge-dispatch/internal/model"
	"github.com/fleetdeck/bridge-dispatch/internal/repository"
	"github.com/fleetdeck/bridge-dispatch/internal/util"
	"go.uber.org/zap"
)

// EnqueueInput describes one outbound message to fan out.
type EnqueueInput struct {
	DeploymentID    string
	Source          string
	Message         string
	Context         map[string]any // caller payload, embedded in the snapshot
	Metadata        map[string]any
	RuntimeID       string
	ConnectionIDs   []string // optional explicit allowlist
	AutoRelayOnly   bool
	IncludeDisabled bool
}

// Enqueue writes one pending delivery per matching connection in a single
// transaction and publishes one aggregate event. A blank message or an empty
// match set is a no-op: no rows, no event.
func (s *Service) Enqueue(ctx context.Context, in EnqueueInput) ([]model.Delivery, error) {
	if strings.TrimSpace(in.Message) == "" {
		return nil, nil
	}

	conns, err := s.connections.FindMatching(ctx, repository.ConnectionFilter{
		DeploymentID:    in.DeploymentID,
		ConnectionIDs:   dedupe(in.ConnectionIDs),
		AutoRelayOnly:   in.AutoRelayOnly,
		IncludeDisabled: in.IncludeDisabled,
	})
	if err != nil {
		return nil, fmt.Errorf("select connections: %w", err)
	}
	if len(conns) == 0 {
		return nil, nil
	}

	now := s.now().UTC()
	rows := make([]model.Delivery, 0, len(conns))
	ids := make([]string, 0, len(conns))
	ownerID := conns[0].UserID

	for _, conn := range conns {
		snap := payloadSnapshot{
			Connector: connectorSnapshot{
				ID:          conn.ID,
				Provider:    conn.Provider.String(),
				Destination: conn.Destination,
				Config:      conn.Config,
			},
			Source:     in.Source,
			RuntimeID:  strings.TrimSpace(in.RuntimeID),
			Metadata:   in.Metadata,
			Context:    in.Context,
			EnqueuedAt: now,
		}
		payload, err := json.Marshal(snap)
		if err != nil {
			return nil, fmt.Errorf("marshal payload snapshot: %w", err)
		}

		d := model.Delivery{
			ID:           s.newID(),
			DeploymentID: in.DeploymentID,
			ConnectionID: conn.ID,
			Source:       in.Source,
			Status:       model.DeliveryPending,
			DedupeKey:    util.Fingerprint(in.DeploymentID, conn.ID, in.Source, now, payload, in.Message),
			Message:      in.Message,
			Payload:      payload,
			CreatedAt:    now,
		}
		rows = append(rows, d)
		ids = append(ids, d.ID)
	}

	if err := s.deliveries.InsertBatch(ctx, rows); err != nil {
		return nil, fmt.Errorf("insert deliveries: %w", err)
	}

	for _, d := range rows {
		metrics.DeliveriesTotal.WithLabelValues("enqueued", string(snapProvider(d.Payload))).Inc()
	}

	s.publish(ctx, ownerID, events.KindEnqueued, map[string]any{
		"deploymentId": in.DeploymentID,
		"source":       in.Source,
		"count":        len(rows),
		"deliveryIds":  ids,
	})

	return rows, nil
}

func (s *Service) publish(ctx context.Context, userID, kind string, payload map[string]any) {
	payload["kind"] = kind
	ev := events.Event{Type: events.TypeCommsUpdated, UserID: userID, Payload: payload}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		logger.Log.Warn("event publish failed", zap.String("kind", kind), zap.Error(err))
	}
}

func snapProvider(payload json.RawMessage) model.Provider {
	return model.Provider(decodeSnapshot(payload).Connector.Provider)
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
