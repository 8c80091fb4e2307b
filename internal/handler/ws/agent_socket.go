// Package ws exposes the agent websocket endpoint of the relay.
package ws

import (
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"ArbRelay/internal/relay"
	xlogger "ArbRelay/pkg/logger"
)

const ConnectPath = "/agent/connect"

// AgentSocketHandler upgrades agent connections and hands them to the hub.
type AgentSocketHandler struct {
	hub      *relay.Hub
	upgrader websocket.Upgrader
	logger   *xlogger.Logger
}

func NewAgentSocketHandler(hub *relay.Hub, logger *xlogger.Logger) *AgentSocketHandler {
	return &AgentSocketHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 << 10,
			WriteBufferSize: 16 << 10,
			// agents are not browsers; they authenticate in the register frame
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.Component("agent_socket"),
	}
}

func (h *AgentSocketHandler) RegisterRoutes(e *echo.Echo) {
	e.GET(ConnectPath, h.Connect)
}

func (h *AgentSocketHandler) Connect(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("agent upgrade failed", xlogger.String("remote", c.RealIP()), xlogger.Error(err))
		return nil
	}
	if err := h.hub.Attach(c.Request().Context(), ws, c.RealIP()); err != nil &&
		!errors.Is(err, relay.ErrRegistration) && !errors.Is(err, relay.ErrHubClosed) {
		h.logger.Debug("agent attach ended", xlogger.Error(err))
	}
	return nil
}
