package api

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"ArbRelay/internal/domain/apperr"
	"ArbRelay/internal/domain/models"
	"ArbRelay/internal/protocol"
	"ArbRelay/internal/relay"
	xhttp "ArbRelay/pkg/http"
	"ArbRelay/pkg/http/middleware"
	xlogger "ArbRelay/pkg/logger"
)

type RelayHandlerConfig struct {
	APIKeys       []string
	RateBurst     float64
	RatePerSecond float64
}

// RelayEchoHandler is the dashboard-facing surface of the relay. Every route forwards one
// op through the router; user_id always comes from the query string.
type RelayEchoHandler struct {
	cfg     RelayHandlerConfig
	router  *relay.Router
	limiter middleware.Allower
	logger  *xlogger.Logger
}

func NewRelayEchoHandler(cfg RelayHandlerConfig, router *relay.Router, limiter middleware.Allower, logger *xlogger.Logger) *RelayEchoHandler {
	return &RelayEchoHandler{cfg: cfg, router: router, limiter: limiter, logger: logger.Component("relay_api")}
}

func (h *RelayEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("",
		middleware.APIKey(h.cfg.APIKeys),
		middleware.RateLimit(h.limiter, middleware.RateLimitConfig{
			Burst:     h.cfg.RateBurst,
			PerSecond: h.cfg.RatePerSecond,
			KeyFunc:   userRouteKey,
		}),
	)
	g.GET("/positions", h.Positions)
	g.POST("/place-order", h.PlaceOrder)
	g.POST("/cancel-order", h.CancelOrder)
	g.POST("/fetch-chain", h.FetchChain)
	g.GET("/quote", h.Quote)
	g.GET("/underlying-price", h.UnderlyingPrice)
	g.GET("/agents", h.Agents)
}

func userRouteKey(c echo.Context) string {
	user := c.QueryParam("user_id")
	if user == "" {
		user = "ip:" + c.RealIP()
	}
	return user + "|" + c.Path()
}

type userQuery struct {
	UserID string `query:"user_id" json:"user_id" validate:"required,max=128"`
}

type quoteQuery struct {
	UserID       string  `query:"user_id" json:"user_id" validate:"max=128"`
	Symbol       string  `query:"symbol" json:"symbol" validate:"required,max=16"`
	SecurityType string  `query:"sec_type" json:"sec_type" default:"STK" validate:"oneof=STK OPT FUT IND"`
	Expiry       string  `query:"expiry" json:"expiry" validate:"omitempty,len=8,numeric"`
	Strike       float64 `query:"strike" json:"strike" validate:"gte=0"`
	Right        string  `query:"right" json:"right" validate:"omitempty,oneof=C P"`
}

func (q quoteQuery) contract() models.Contract {
	if models.SecurityType(q.SecurityType) == models.SecOption {
		return models.Option(q.Symbol, q.Expiry, q.Strike, models.Right(q.Right))
	}
	c := models.Stock(q.Symbol)
	c.SecurityType = models.SecurityType(q.SecurityType)
	return c
}

type underlyingQuery struct {
	UserID string `query:"user_id" json:"user_id" validate:"max=128"`
	Symbol string `query:"symbol" json:"symbol" validate:"required,max=16"`
}

func (h *RelayEchoHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"status": "ok",
		"agents": h.router.Registry().Count(),
	})
}

func (h *RelayEchoHandler) Agents(c echo.Context) error {
	regs := h.router.Registry().Registrations()
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"count":  len(regs),
		"agents": regs,
	})
}

func (h *RelayEchoHandler) Positions(c echo.Context) error {
	q := &userQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, q); verr != nil {
		return xhttp.ValidationResponse(c, verr)
	}
	return h.forward(c, relay.Call{UserID: q.UserID, Op: protocol.OpPositions})
}

func (h *RelayEchoHandler) PlaceOrder(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return xhttp.AppErrorResponse(c, toAppError(apperr.Validation("user_id", "user_id is required")))
	}
	req := &models.OrderRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.ValidationResponse(c, verr)
	}
	if err := req.Validate(c.Request().Context()); err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return h.forward(c, relay.Call{UserID: userID, Op: protocol.OpPlaceOrder, Payload: req})
}

func (h *RelayEchoHandler) CancelOrder(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return xhttp.AppErrorResponse(c, toAppError(apperr.Validation("user_id", "user_id is required")))
	}
	req := &models.CancelRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.ValidationResponse(c, verr)
	}
	return h.forward(c, relay.Call{UserID: userID, Op: protocol.OpCancelOrder, Payload: req})
}

func (h *RelayEchoHandler) FetchChain(c echo.Context) error {
	req := &models.ChainRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.ValidationResponse(c, verr)
	}
	return h.forward(c, relay.Call{
		UserID:    c.QueryParam("user_id"),
		Op:        protocol.OpFetchChain,
		Payload:   req,
		Contracts: req.MaxContracts,
	})
}

func (h *RelayEchoHandler) Quote(c echo.Context) error {
	q := &quoteQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, q); verr != nil {
		return xhttp.ValidationResponse(c, verr)
	}
	contract := q.contract()
	if field, msg := contract.CheckOption(); field != "" {
		return xhttp.AppErrorResponse(c, toAppError(apperr.Validation(field, msg)))
	}
	return h.forward(c, relay.Call{UserID: q.UserID, Op: protocol.OpQuote, Payload: models.QuoteRequest{Contract: contract}})
}

func (h *RelayEchoHandler) UnderlyingPrice(c echo.Context) error {
	q := &underlyingQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, q); verr != nil {
		return xhttp.ValidationResponse(c, verr)
	}
	return h.forward(c, relay.Call{UserID: q.UserID, Op: protocol.OpUnderlyingPrice,
		Payload: models.UnderlyingPriceRequest{Symbol: q.Symbol}})
}

func (h *RelayEchoHandler) forward(c echo.Context, call relay.Call) error {
	res, err := h.router.Do(c.Request().Context(), call)
	if err != nil {
		appErr := toAppError(err)
		if appErr.Status >= http.StatusInternalServerError {
			h.logger.Warn("relay call failed",
				xlogger.String("op", string(call.Op)),
				xlogger.String("user_id", call.UserID),
				xlogger.Error(err))
		}
		return xhttp.AppErrorResponse(c, appErr)
	}
	return xhttp.SuccessResponse(c, json.RawMessage(res))
}

// toAppError renders a domain error for HTTP callers.
func toAppError(err error) *xhttp.AppError {
	e := apperr.Wrap(err)
	return xhttp.NewAppError(e.Code, e.Field, e.Message, statusFor(e.Kind)).
		WithError(err).
		WithParam("kind", string(e.Kind)).
		WithParam("order_id", e.OrderID).
		WithParam("request_id", e.RequestID).
		WithParam("broker_code", e.BrokerCode).
		WithParam("details", e.Details)
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindRouting, apperr.KindConnectivity:
		return http.StatusServiceUnavailable
	case apperr.KindBroker:
		return http.StatusBadGateway
	case apperr.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
