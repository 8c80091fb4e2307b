package api

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ArbRelay/internal/domain/models"
	"ArbRelay/pkg/logger"
)

type stubHistory struct {
	from, to time.Time
	limit    int
	err      error
}

func (s *stubHistory) List(_ context.Context, userID string, from, to time.Time, limit int) ([]*models.OrderEvent, error) {
	s.from, s.to, s.limit = from, to, limit
	if s.err != nil {
		return nil, s.err
	}
	return []*models.OrderEvent{{UserID: userID, OrderID: 10, State: models.OrderAcknowledged}}, nil
}

type stubHealth struct{ err error }

func (s stubHealth) Health(context.Context) error { return s.err }

func TestOrdersParsesRange(t *testing.T) {
	hist := &stubHistory{}
	e := echo.New()
	NewArchiveEchoHandler(hist, stubHealth{}, nil, logger.Nop()).RegisterRoutes(e)

	rec := do(e, http.MethodGet, "/orders?user_id=alice&from=2026-01-02&to=1767398400&limit=20", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), hist.from)
	assert.Equal(t, int64(1767398400), hist.to.Unix())
	assert.Equal(t, 20, hist.limit)
	assert.Contains(t, rec.Body.String(), `"order_id":10`)
	assert.Contains(t, rec.Body.String(), `"total":1`)
}

func TestOrdersRejectsBadInput(t *testing.T) {
	e := echo.New()
	NewArchiveEchoHandler(&stubHistory{}, stubHealth{}, nil, logger.Nop()).RegisterRoutes(e)

	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodGet, "/orders", "", nil).Code)
	rec := do(e, http.MethodGet, "/orders?user_id=alice&from=yesterday", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"field":"from"`)
}

func TestOrdersStoreFailureIs500(t *testing.T) {
	e := echo.New()
	NewArchiveEchoHandler(&stubHistory{err: errors.New("ch down")}, stubHealth{}, nil, logger.Nop()).RegisterRoutes(e)
	assert.Equal(t, http.StatusInternalServerError, do(e, http.MethodGet, "/orders?user_id=alice", "", nil).Code)
}

func TestArchiveHealth(t *testing.T) {
	e := echo.New()
	NewArchiveEchoHandler(&stubHistory{}, stubHealth{err: errors.New("ch down")}, nil, logger.Nop()).RegisterRoutes(e)
	assert.Equal(t, http.StatusServiceUnavailable, do(e, http.MethodGet, "/healthz", "", nil).Code)
}
