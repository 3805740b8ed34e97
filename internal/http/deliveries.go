package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/fleetdeck/bridge-dispatch/internal/repository"
	echo "github.com/labstack/echo/v4"
)

func listDeliveriesHandler(deliveries repository.DeliveriesRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		deploymentID := strings.TrimSpace(c.QueryParam("deployment_id"))
		if deploymentID == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "deployment_id is required"})
		}

		status, ok := parseStatusParam(c.QueryParam("status"))
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid status"})
		}

		limit := 50
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}

		rows, err := deliveries.List(c.Request().Context(), deploymentID, status, limit)
		if err != nil {
			c.Logger().Errorf("deliveries list failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"count":   len(rows),
			"results": rows,
		})
	}
}

func listDeliveryReportsHandler(chRepo repository.CHDeliveriesRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		deploymentID := strings.TrimSpace(c.QueryParam("deployment_id"))
		if deploymentID == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "deployment_id is required"})
		}

		limit := 50
		offset := 0
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}
		if v := c.QueryParam("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		}

		rows, err := chRepo.ListByDeployment(
			c.Request().Context(),
			deploymentID,
			strings.TrimSpace(c.QueryParam("provider")),
			strings.TrimSpace(c.QueryParam("status")),
			limit,
			offset,
		)
		if err != nil {
			c.Logger().Errorf("clickhouse report failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(rows),
			"results": rows,
		})
	}
}
