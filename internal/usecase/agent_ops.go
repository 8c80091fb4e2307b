package usecase

import (
	"context"
	"encoding/json"
	"time"

	"github.com/creasty/defaults"

	"ArbRelay/internal/domain/apperr"
	"ArbRelay/internal/domain/models"
	"ArbRelay/internal/domain/repository"
	"ArbRelay/internal/protocol"
	"ArbRelay/internal/service/broker"
	"ArbRelay/pkg/logger"
	"ArbRelay/pkg/validate"
)

// SessionSource hands out the live broker session.
type SessionSource interface {
	Session() (*broker.Session, error)
}

// AgentOps serves relay requests on the agent. Every op takes the current session
// explicitly; nothing reaches for a global connection.
type AgentOps struct {
	userID    string
	sessions  SessionSource
	positions *PositionReader
	chains    *ChainScanner
	quotes    *QuoteReader
	orders    *OrderSubmitter
	log       *logger.Logger
	metrics   repository.Metrics
}

func NewAgentOps(userID string, sessions SessionSource, positions *PositionReader, chains *ChainScanner,
	quotes *QuoteReader, orders *OrderSubmitter, log *logger.Logger, m repository.Metrics) *AgentOps {
	return &AgentOps{
		userID:    userID,
		sessions:  sessions,
		positions: positions,
		chains:    chains,
		quotes:    quotes,
		orders:    orders,
		log:       log.Component("ops"),
		metrics:   m,
	}
}

func (a *AgentOps) Handle(ctx context.Context, op protocol.Op, payload json.RawMessage) (interface{}, error) {
	start := time.Now()
	res, err := a.dispatch(ctx, op, payload)

	outcome := "ok"
	if err != nil {
		outcome = string(apperr.KindOf(err))
		a.metrics.RecordError(outcome)
		a.log.Warn("op failed", logger.String("op", string(op)), logger.Error(err))
	}
	a.metrics.RecordRequest(string(op), outcome)
	a.metrics.RecordLatency(string(op), time.Since(start).Seconds())
	return res, err
}

func (a *AgentOps) dispatch(ctx context.Context, op protocol.Op, payload json.RawMessage) (interface{}, error) {
	switch op {
	case protocol.OpPositions:
		sess, err := a.sessions.Session()
		if err != nil {
			return nil, err
		}
		return a.positions.Fetch(ctx, sess)

	case protocol.OpPlaceOrder:
		var req models.OrderRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		if err := req.Validate(ctx); err != nil {
			return nil, err
		}
		sess, err := a.sessions.Session()
		if err != nil {
			return nil, err
		}
		res, err := a.orders.Place(ctx, sess, a.userID, req)
		if err != nil {
			return nil, err
		}
		return res, nil

	case protocol.OpCancelOrder:
		var req models.CancelRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		if err := validate.Struct(ctx, &req); err != nil {
			return nil, apperr.FromValidator(err)
		}
		sess, err := a.sessions.Session()
		if err != nil {
			return nil, err
		}
		return a.orders.Cancel(ctx, sess, req)

	case protocol.OpFetchChain:
		var req models.ChainRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		if err := validate.Struct(ctx, &req); err != nil {
			return nil, apperr.FromValidator(err)
		}
		sess, err := a.sessions.Session()
		if err != nil {
			return nil, err
		}
		return a.chains.Scan(ctx, sess, req)

	case protocol.OpQuote:
		var req models.QuoteRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		sess, err := a.sessions.Session()
		if err != nil {
			return nil, err
		}
		return a.quotes.Quote(ctx, sess, req)

	case protocol.OpUnderlyingPrice:
		var req models.UnderlyingPriceRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		sess, err := a.sessions.Session()
		if err != nil {
			return nil, err
		}
		return a.quotes.UnderlyingPrice(ctx, sess, req)
	}
	return nil, apperr.Validation("op", "unsupported operation "+string(op))
}

func decode(payload json.RawMessage, dst interface{}) error {
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, dst); err != nil {
			return apperr.Validation("payload", "malformed payload: "+err.Error())
		}
	}
	if err := defaults.Set(dst); err != nil {
		return apperr.Internal("apply defaults", err)
	}
	return nil
}
