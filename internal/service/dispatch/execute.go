package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/fleetdeck/bridge-dispatch/internal/metrics"
	"github.com/fleetdeck/bridge-dispatch/internal/model"
	"github.com/fleetdeck/bridge-dispatch/internal/repository"
	"github.com/fleetdeck/bridge-dispatch/internal/runtime"
)

// execute performs one dispatch attempt for a claimed delivery: resolve
// credentials, pick the runtime, call the gateway.
func (s *Service) execute(ctx context.Context, due repository.DueDelivery) (runtime.Result, error) {
	conn := due.Connection

	env, err := model.ParseStoredCredentials(conn.Credentials)
	if err != nil {
		return runtime.Result{}, fmt.Errorf("parse stored credentials: %w", err)
	}
	creds, err := s.vault.Resolve(ctx, conn.Provider, conn.ID, env)
	if err != nil {
		return runtime.Result{}, fmt.Errorf("resolve credentials: %w", err)
	}

	snap := decodeSnapshot(due.Payload)
	adapter, runtimeID, err := s.registry.Resolve(snap.RuntimeID)
	if err != nil {
		return runtime.Result{}, err
	}

	req := runtime.Request{
		DeliveryID:   due.ID,
		DeploymentID: due.DeploymentID,
		ConnectionID: conn.ID,
		Source:       due.Source,
		RuntimeID:    runtimeID,
		Provider:     conn.Provider.String(),
		Destination:  conn.Destination,
		Message:      due.Message,
		Config:       conn.Config,
		Credentials:  creds,
		Station:      metaString(snap.Metadata, "station"),
		Namespace:    metaString(snap.Metadata, "namespace"),
		Metadata:     snap.Metadata,
		Payload:      due.Payload,
	}

	res, err := adapter.Dispatch(ctx, req)
	metrics.GatewayRequestsTotal.WithLabelValues(runtimeID, gatewayOutcome(err)).Inc()
	return res, err
}

func gatewayOutcome(err error) string {
	if err == nil {
		return "ok"
	}
	var gw *runtime.GatewayError
	if errors.As(err, &gw) && gw.Timeout {
		return "timeout"
	}
	return "error"
}
