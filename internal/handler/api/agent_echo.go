package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	xhttp "ArbRelay/pkg/http"
	xlogger "ArbRelay/pkg/logger"
)

// BrokerStatus reports whether a broker session is live.
type BrokerStatus interface {
	Connected() bool
}

// RelayStatus reports whether the relay link is registered.
type RelayStatus interface {
	Connected() bool
}

// AgentEchoHandler is the agent's local status surface.
type AgentEchoHandler struct {
	userID string
	broker BrokerStatus
	relay  RelayStatus
	logger *xlogger.Logger
}

func NewAgentEchoHandler(userID string, broker BrokerStatus, relay RelayStatus, logger *xlogger.Logger) *AgentEchoHandler {
	return &AgentEchoHandler{userID: userID, broker: broker, relay: relay, logger: logger.Component("agent_api")}
}

func (h *AgentEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)
}

// Health is 200 only when both the broker session and the relay link are up.
func (h *AgentEchoHandler) Health(c echo.Context) error {
	brokerUp, relayUp := h.broker.Connected(), h.relay.Connected()
	body := map[string]interface{}{
		"user_id": h.userID,
		"broker":  brokerUp,
		"relay":   relayUp,
	}
	if !brokerUp || !relayUp {
		body["status"] = "degraded"
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, body)
	}
	body["status"] = "ok"
	return xhttp.SuccessResponse(c, body)
}
