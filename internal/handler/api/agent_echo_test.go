package api

import (
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"ArbRelay/pkg/logger"
)

type flag bool

func (f flag) Connected() bool { return bool(f) }

func TestAgentHealth(t *testing.T) {
	cases := []struct {
		name          string
		broker, relay bool
		want          int
	}{
		{"all up", true, true, http.StatusOK},
		{"broker down", false, true, http.StatusServiceUnavailable},
		{"relay down", true, false, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := echo.New()
			NewAgentEchoHandler("alice", flag(tc.broker), flag(tc.relay), logger.Nop()).RegisterRoutes(e)
			rec := do(e, http.MethodGet, "/healthz", "", nil)
			assert.Equal(t, tc.want, rec.Code)
			assert.Contains(t, rec.Body.String(), `"user_id":"alice"`)
		})
	}
}
