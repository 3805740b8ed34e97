package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/fleetdeck/bridge-dispatch/internal/model"
	"github.com/fleetdeck/bridge-dispatch/internal/runtime"
	"github.com/fleetdeck/bridge-dispatch/internal/service/dispatch"
	"github.com/fleetdeck/bridge-dispatch/internal/validation"
	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

type enqueueReq struct {
	DeploymentID    string         `json:"deployment_id"`
	Source          string         `json:"source"`
	Message         string         `json:"message"`
	Context         map[string]any `json:"context"`
	Metadata        map[string]any `json:"metadata"`
	RuntimeID       string         `json:"runtime_id"`
	ConnectionIDs   []string       `json:"connection_ids"`
	AutoRelayOnly   bool           `json:"auto_relay_only"`
	IncludeDisabled bool           `json:"include_disabled"`
}

func enqueueHandler(svc *dispatch.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req enqueueReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		if strings.TrimSpace(req.DeploymentID) == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "deployment_id is required"})
		}
		if req.Source == "" {
			req.Source = "api"
		}

		rows, err := svc.Enqueue(c.Request().Context(), dispatch.EnqueueInput{
			DeploymentID:    req.DeploymentID,
			Source:          req.Source,
			Message:         req.Message,
			Context:         req.Context,
			Metadata:        req.Metadata,
			RuntimeID:       req.RuntimeID,
			ConnectionIDs:   req.ConnectionIDs,
			AutoRelayOnly:   req.AutoRelayOnly,
			IncludeDisabled: req.IncludeDisabled,
		})
		if err != nil {
			if status := statusFor(err); status != http.StatusInternalServerError {
				return c.JSON(status, map[string]string{"error": err.Error()})
			}
			log.Errorf("enqueue failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		ids := make([]string, 0, len(rows))
		for _, d := range rows {
			ids = append(ids, d.ID)
		}

		// Opportunistic drain: fire and forget, past the request lifetime.
		if len(rows) > 0 {
			go func(deploymentID string) {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
				defer cancel()
				svc.DrainSafe(ctx, dispatch.DrainInput{DeploymentID: deploymentID})
			}(req.DeploymentID)
		}

		return c.JSON(http.StatusAccepted, map[string]any{
			"enqueued":     len(rows),
			"delivery_ids": ids,
		})
	}
}

type drainReq struct {
	Limit        int    `json:"limit"`
	DeploymentID string `json:"deployment_id"`
}

func drainHandler(svc *dispatch.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req drainReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		completed := svc.DrainSafe(c.Request().Context(), dispatch.DrainInput{
			Limit:        req.Limit,
			DeploymentID: req.DeploymentID,
		})
		return c.JSON(http.StatusOK, map[string]any{"completed": completed})
	}
}

// statusFor maps the dispatch error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	var fieldErr *validation.FieldError
	if errors.As(err, &fieldErr) {
		return http.StatusBadRequest
	}
	var unsupported *runtime.UnsupportedError
	if errors.As(err, &unsupported) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func parseStatusParam(raw string) (model.DeliveryStatus, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", true
	}
	st := model.DeliveryStatus(raw)
	return st, st.Valid()
}
