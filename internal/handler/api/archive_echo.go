package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"ArbRelay/internal/domain/apperr"
	"ArbRelay/internal/domain/models"
	xhttp "ArbRelay/pkg/http"
	"ArbRelay/pkg/http/middleware"
	xlogger "ArbRelay/pkg/logger"
	"ArbRelay/pkg/util"
)

// OrderHistoryReader is the read side of the archive.
type OrderHistoryReader interface {
	List(ctx context.Context, userID string, from, to time.Time, limit int) ([]*models.OrderEvent, error)
}

type HealthChecker interface {
	Health(ctx context.Context) error
}

// ArchiveEchoHandler serves order history from the archiver process.
type ArchiveEchoHandler struct {
	history OrderHistoryReader
	health  HealthChecker
	apiKeys []string
	logger  *xlogger.Logger
}

func NewArchiveEchoHandler(history OrderHistoryReader, health HealthChecker, apiKeys []string, logger *xlogger.Logger) *ArchiveEchoHandler {
	return &ArchiveEchoHandler{history: history, health: health, apiKeys: apiKeys, logger: logger.Component("archive_api")}
}

func (h *ArchiveEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)
	e.GET("/orders", h.Orders, middleware.APIKey(h.apiKeys))
}

func (h *ArchiveEchoHandler) Health(c echo.Context) error {
	if err := h.health.Health(c.Request().Context()); err != nil {
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
	}
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

// Orders lists a user's order events. from and to accept RFC3339, YYYY-MM-DD or unix seconds.
func (h *ArchiveEchoHandler) Orders(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return xhttp.AppErrorResponse(c, toAppError(apperr.Validation("user_id", "user_id is required")))
	}
	var from, to time.Time
	if raw := c.QueryParam("from"); raw != "" {
		t, ok := util.ParseTime(raw)
		if !ok {
			return xhttp.AppErrorResponse(c, toAppError(apperr.Validation("from", "from is not a recognised time")))
		}
		from = t
	}
	if raw := c.QueryParam("to"); raw != "" {
		t, ok := util.ParseTime(raw)
		if !ok {
			return xhttp.AppErrorResponse(c, toAppError(apperr.Validation("to", "to is not a recognised time")))
		}
		to = t
	}
	limit := util.ParseIntDefault(c.QueryParam("limit"), 0)

	events, err := h.history.List(c.Request().Context(), userID, from, to, limit)
	if err != nil {
		h.logger.Error("order history query failed", xlogger.String("user_id", userID), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.Internal("order history unavailable").WithError(err))
	}
	return xhttp.ListResponse(c, events, len(events))
}
