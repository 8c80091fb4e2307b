package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ArbRelay/pkg/logger"
)

type countingAllower struct{ left int }

func (a *countingAllower) Allow(string, float64, float64) bool {
	if a.left <= 0 {
		return false
	}
	a.left--
	return true
}

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestAPIKey(t *testing.T) {
	e := echo.New()
	e.Use(APIKey([]string{"k1", "k2"}))
	e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	assert.Equal(t, http.StatusUnauthorized, serve(e, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(HeaderRelayKey, "k2")
	assert.Equal(t, http.StatusOK, serve(e, req).Code)
}

func TestAPIKeyDisabledWithoutKeys(t *testing.T) {
	e := echo.New()
	e.Use(APIKey(nil))
	e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	assert.Equal(t, http.StatusOK, serve(e, httptest.NewRequest(http.MethodGet, "/x", nil)).Code)
}

func TestRateLimit(t *testing.T) {
	e := echo.New()
	e.Use(RateLimit(&countingAllower{left: 2}, RateLimitConfig{Burst: 2, PerSecond: 1}))
	e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, serve(e, httptest.NewRequest(http.MethodGet, "/x", nil)).Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, serve(e, httptest.NewRequest(http.MethodGet, "/x", nil)).Code)
}

func TestRecoverTurnsPanicInto500(t *testing.T) {
	e := echo.New()
	e.Use(Recover(logger.Nop()))
	e.Use(Metrics(logger.Nop(), 0))
	e.GET("/boom", func(c echo.Context) error { panic("boom") })

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	e := echo.New()
	e.Use(CORS(CORSConfig{AllowOrigins: []string{"https://dash.example"}, AllowMethods: []string{"GET", "POST"}}))
	e.OPTIONS("/x", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set(echo.HeaderOrigin, "https://dash.example")
	rec := serve(e, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://dash.example", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	assert.Equal(t, "GET, POST", rec.Header().Get(echo.HeaderAccessControlAllowMethods))
}
