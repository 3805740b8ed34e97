package http

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fleetdeck/bridge-dispatch/internal/repository"
	"github.com/fleetdeck/bridge-dispatch/internal/validation"
	"github.com/fleetdeck/bridge-dispatch/internal/vault"
	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

type storeCredentialsReq struct {
	Credentials map[string]any `json:"credentials"`
}

// storeCredentialsHandler runs plaintext credentials through the vault and
// persists the resulting envelope on the connection row. This is the only
// write path for secret material.
func storeCredentialsHandler(connections repository.ConnectionsRepository, v *vault.Client) echo.HandlerFunc {
	return func(c echo.Context) error {
		connectionID := c.Param("id")

		var req storeCredentialsReq
		if err := c.Bind(&req); err != nil || len(req.Credentials) == 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "credentials object is required"})
		}

		conn, err := connections.GetByID(c.Request().Context(), connectionID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return c.JSON(http.StatusNotFound, map[string]string{"error": "connection not found"})
			}
			log.Errorf("connection lookup failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		if err := validation.Destination(conn.Provider, conn.Destination); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		if err := validation.Credentials(conn.Provider, req.Credentials); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}

		env, err := v.Store(c.Request().Context(), connectionID, req.Credentials)
		if err != nil {
			var verr *vault.Error
			if errors.As(err, &verr) {
				return c.JSON(verr.Status, map[string]string{"error": verr.Code})
			}
			log.Errorf("credential store failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "vault error"})
		}

		raw, err := json.Marshal(env)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "encode error"})
		}
		if err := connections.UpdateCredentials(c.Request().Context(), connectionID, raw); err != nil {
			log.Errorf("credential persist failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusOK, map[string]any{"mode": env.Mode})
	}
}
