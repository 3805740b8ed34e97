package dispatch

import (
	"context"

	"github.com/fleetdeck/bridge-dispatch/internal/events"
	"github.com/fleetdeck/bridge-dispatch/internal/logger"
	"github.com/fleetdeck/bridge-dispatch/internal/metrics"
	"github.com/fleetdeck/bridge-dispatch/internal/repository"
	"github.com/fleetdeck/bridge-dispatch/internal/retry"
	"go.uber.org/zap"
)

// DrainInput bounds one drain invocation.
type DrainInput struct {
	Limit        int
	DeploymentID string // optional filter
}

// Drain claims and executes due deliveries, oldest first. Overlapping
// invocations are safe: the conditional claim update decides ownership of
// each row, and a loser just skips it. Returns the number of deliveries
// completed by this invocation.
func (s *Service) Drain(ctx context.Context, in DrainInput) (int, error) {
	limit := in.Limit
	if limit <= 0 || limit > s.cfg.DrainLimit {
		limit = s.cfg.DrainLimit
	}

	now := s.now().UTC()
	due, err := s.deliveries.SelectDue(ctx, limit, in.DeploymentID, now)
	if err != nil {
		return 0, err
	}

	completed := 0
	for _, cand := range due {
		if ctx.Err() != nil {
			return completed, ctx.Err()
		}

		claimed, err := s.deliveries.Claim(ctx, cand.ID, s.now().UTC())
		if err != nil {
			logger.Log.Error("claim failed", zap.String("delivery", cand.ID), zap.Error(err))
			continue
		}
		if !claimed {
			// Another drain invocation owns this row.
			continue
		}

		if s.processClaimed(ctx, cand) {
			completed++
		}
	}
	return completed, nil
}

// processClaimed executes one claimed delivery and finalizes its state.
// One delivery's failure never aborts its batch siblings.
func (s *Service) processClaimed(ctx context.Context, cand repository.DueDelivery) bool {
	conn := cand.Connection
	provider := conn.Provider.String()

	res, execErr := s.execute(ctx, cand)
	now := s.now().UTC()

	if execErr == nil {
		if err := s.deliveries.MarkCompleted(ctx, cand.ID, res.ProviderMessageID, res.Payload, now); err != nil {
			logger.Log.Error("mark completed failed", zap.String("delivery", cand.ID), zap.Error(err))
			return false
		}
		if err := s.connections.UpdateHealth(ctx, conn.ID, "completed", "", now); err != nil {
			logger.Log.Warn("connection health update failed", zap.String("connection", conn.ID), zap.Error(err))
		}
		metrics.DeliveriesTotal.WithLabelValues("completed", provider).Inc()
		s.publish(ctx, conn.UserID, events.KindCompleted, map[string]any{
			"deploymentId":      cand.DeploymentID,
			"deliveryId":        cand.ID,
			"connectionId":      conn.ID,
			"providerMessageId": res.ProviderMessageID,
		})
		s.prune(ctx, cand.DeploymentID)
		return true
	}

	attempts := cand.Attempts + 1
	decision := retry.Schedule(attempts, now, retry.Options{
		BaseDelay:   s.cfg.RetryBase,
		MaxAttempts: s.cfg.MaxAttempts,
	})

	if err := s.deliveries.MarkFailed(ctx, cand.ID, attempts, execErr.Error(), decision.NextAttemptAt); err != nil {
		logger.Log.Error("mark failed failed", zap.String("delivery", cand.ID), zap.Error(err))
		return false
	}

	if decision.Terminal {
		logger.Log.Warn("delivery terminally failed",
			zap.String("delivery", cand.ID),
			zap.String("connection", conn.ID),
			zap.Int("attempts", attempts),
			zap.Error(execErr))
		if err := s.connections.UpdateHealth(ctx, conn.ID, "failed", execErr.Error(), now); err != nil {
			logger.Log.Warn("connection health update failed", zap.String("connection", conn.ID), zap.Error(err))
		}
		metrics.DeliveriesTotal.WithLabelValues("failed", provider).Inc()
		s.publish(ctx, conn.UserID, events.KindFailed, map[string]any{
			"deploymentId": cand.DeploymentID,
			"deliveryId":   cand.ID,
			"connectionId": conn.ID,
			"attempts":     attempts,
			"error":        execErr.Error(),
		})
		s.prune(ctx, cand.DeploymentID)
	} else {
		logger.Log.Info("delivery scheduled for retry",
			zap.String("delivery", cand.ID),
			zap.Int("attempts", attempts),
			zap.Timep("nextAttemptAt", decision.NextAttemptAt),
			zap.Error(execErr))
		metrics.DeliveriesTotal.WithLabelValues("retried", provider).Inc()
	}
	return false
}

func (s *Service) prune(ctx context.Context, deploymentID string) {
	n, err := s.deliveries.Prune(ctx, deploymentID, s.cfg.RetainCount)
	if err != nil {
		logger.Log.Warn("prune failed", zap.String("deployment", deploymentID), zap.Error(err))
		return
	}
	if n > 0 {
		logger.Log.Debug("pruned terminal deliveries", zap.String("deployment", deploymentID), zap.Int64("removed", n))
	}
}

// DrainSafe is the fire-and-forget variant for opportunistic callers: it
// logs infrastructure failures instead of returning them.
func (s *Service) DrainSafe(ctx context.Context, in DrainInput) int {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Log.Error("drain panicked", zap.Any("panic", rec))
		}
	}()

	n, err := s.Drain(ctx, in)
	if err != nil {
		logger.Log.Error("drain failed", zap.Error(err))
	}
	return n
}
