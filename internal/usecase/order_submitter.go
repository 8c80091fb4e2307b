package usecase

import (
	"context"
	"fmt"
	"time"

	"ArbRelay/internal/domain/apperr"
	"ArbRelay/internal/domain/models"
	"ArbRelay/internal/domain/repository"
	"ArbRelay/internal/service/broker"
	"ArbRelay/pkg/logger"
	"ArbRelay/pkg/validate"
)

type OrderConfig struct {
	AckTimeout     time.Duration
	PreviewTimeout time.Duration
	CancelTimeout  time.Duration
}

func DefaultOrderConfig() OrderConfig {
	return OrderConfig{AckTimeout: 10 * time.Second, PreviewTimeout: 10 * time.Second, CancelTimeout: 10 * time.Second}
}

// OrderSession is the part of a broker session order flows need.
type OrderSession interface {
	NextOrderID() int64
	IDs() *broker.IDSpace
	Submit(ctx context.Context, id int64, req broker.Request) (*broker.Stream, error)
	Watch(id int64) (*broker.Stream, error)
	Fire(ctx context.Context, req broker.Request) error
}

// OrderSubmitter drives Draft -> Validated -> Submitted -> {Acknowledged, Rejected, TimedOut}.
// It never resubmits: a timed-out order may still be live at the broker.
type OrderSubmitter struct {
	cfg     OrderConfig
	sink    OutputSink
	log     *logger.Logger
	metrics repository.Metrics
}

func NewOrderSubmitter(cfg OrderConfig, sink OutputSink, log *logger.Logger, m repository.Metrics) *OrderSubmitter {
	def := DefaultOrderConfig()
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = def.AckTimeout
	}
	if cfg.PreviewTimeout <= 0 {
		cfg.PreviewTimeout = def.PreviewTimeout
	}
	if cfg.CancelTimeout <= 0 {
		cfg.CancelTimeout = def.CancelTimeout
	}
	return &OrderSubmitter{cfg: cfg, sink: sink, log: log.Component("orders"), metrics: m}
}

// Place validates and submits req. On rejection or timeout both the result and an error
// carrying the assigned order id are returned.
func (o *OrderSubmitter) Place(ctx context.Context, sess OrderSession, userID string, req models.OrderRequest) (*models.OrderResult, error) {
	res := models.NewOrderResult(req)
	if err := req.Validate(ctx); err != nil {
		return res, err
	}
	if err := res.Advance(models.OrderValidated); err != nil {
		return res, apperr.Internal("order state", err)
	}

	id := sess.NextOrderID()
	contract := req.Contract
	st, err := sess.Submit(ctx, id, broker.Request{
		Kind:     broker.ReqPlaceOrder,
		OrderID:  id,
		Contract: &contract,
		Order:    broker.TicketFor(req),
	})
	if err != nil {
		return res, err
	}
	defer st.Close()

	res.AssignedOrderID = id
	if err := res.Advance(models.OrderSubmitted); err != nil {
		return res, apperr.Internal("order state", err)
	}
	log := o.log.With(logger.Int64("order_id", id), logger.String("symbol", contract.Symbol), logger.Bool("preview", req.Preview))
	log.Info("order submitted", logger.String("action", string(req.Action)), logger.Float64("quantity", req.Quantity))

	wait := o.cfg.AckTimeout
	if req.Preview {
		wait = o.cfg.PreviewTimeout
	}
	wctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	for {
		ev, err := st.Next(wctx)
		if err != nil {
			return o.timedOut(userID, res, err, wait, log)
		}
		switch ev.Kind {
		case broker.EvOrderStatus:
			res.BrokerStatus = ev.Status
			if deadStatus(ev.Status) {
				return o.rejected(userID, res, apperr.Broker(0, "order became "+ev.Status), log)
			}
			return o.acknowledged(userID, res, log), nil
		case broker.EvOpenOrder:
			if ev.Status != "" {
				res.BrokerStatus = ev.Status
			}
			res.Commission = ev.Commission
			res.InitMargin = ev.InitMargin
			return o.acknowledged(userID, res, log), nil
		case broker.EvError:
			code := broker.Classify(ev.Code, ev.Message)
			switch code.Severity() {
			case broker.SeverityInfo, broker.SeverityWarning:
				res.Warnings = append(res.Warnings, code.Message())
				log.Warn("order warning", logger.Int("code", ev.Code), logger.String("text", ev.Message))
			case broker.SeverityFatal:
				return o.timedOut(userID, res, code.Err(), wait, log)
			default:
				return o.rejected(userID, res, code.Err(), log)
			}
		}
	}
}

func deadStatus(status string) bool {
	switch status {
	case "Cancelled", "ApiCancelled", "Inactive":
		return true
	}
	return false
}

func (o *OrderSubmitter) acknowledged(userID string, res *models.OrderResult, log *logger.Logger) *models.OrderResult {
	_ = res.Advance(models.OrderAcknowledged)
	log.Info("order acknowledged", logger.String("status", res.BrokerStatus))
	o.publish(userID, res)
	return res
}

func (o *OrderSubmitter) rejected(userID string, res *models.OrderResult, cause *apperr.Error, log *logger.Logger) (*models.OrderResult, error) {
	_ = res.Advance(models.OrderRejected)
	res.Message = cause.Message
	o.metrics.RecordError("order_rejected")
	log.Warn("order rejected", logger.Int("broker_code", cause.BrokerCode), logger.String("reason", cause.Message))
	o.publish(userID, res)
	return res, cause.WithOrderID(res.AssignedOrderID)
}

func (o *OrderSubmitter) timedOut(userID string, res *models.OrderResult, cause error, wait time.Duration, log *logger.Logger) (*models.OrderResult, error) {
	_ = res.Advance(models.OrderTimedOut)
	o.metrics.RecordError("order_timeout")

	var out *apperr.Error
	if apperr.Is(cause, apperr.KindConnectivity) {
		out = apperr.NotConnected("broker session lost before the order was acknowledged").WithError(cause)
	} else {
		out = apperr.Timeout(fmt.Sprintf("no acknowledgment within %s", wait)).WithError(cause)
	}
	out.WithOrderID(res.AssignedOrderID)
	res.Message = out.Message
	log.Warn("order outcome unknown", logger.String("reason", out.Message))
	o.publish(userID, res)
	return res, out
}

func (o *OrderSubmitter) publish(userID string, res *models.OrderResult) {
	if o.sink == nil {
		return
	}
	o.sink.Submit(context.Background(), &models.OutputEvent{Kind: models.OutputOrder, Order: models.NewOrderEvent(userID, res)})
}

// Cancel requests cancellation of a previously placed order. It watches the order's
// callbacks, so a placement still awaiting its acknowledgment sees the same events.
func (o *OrderSubmitter) Cancel(ctx context.Context, sess OrderSession, req models.CancelRequest) (*models.CancelResult, error) {
	if err := validate.Struct(ctx, &req); err != nil {
		return nil, apperr.FromValidator(err)
	}
	if sess.IDs().IsDataID(req.OrderID) {
		return nil, apperr.Validation("order_id", fmt.Sprintf("%d is not an order id", req.OrderID))
	}
	st, err := sess.Watch(req.OrderID)
	if err != nil {
		return nil, err
	}
	defer st.Close()
	if err := sess.Fire(ctx, broker.Request{Kind: broker.ReqCancelOrder, OrderID: req.OrderID}); err != nil {
		return nil, err
	}

	wctx, cancel := context.WithTimeout(ctx, o.cfg.CancelTimeout)
	defer cancel()

	res := &models.CancelResult{OrderID: req.OrderID}
	for {
		ev, err := st.Next(wctx)
		if err != nil {
			if apperr.Is(err, apperr.KindConnectivity) {
				return nil, apperr.Wrap(err)
			}
			return nil, apperr.Timeout(fmt.Sprintf("no cancel confirmation within %s", o.cfg.CancelTimeout)).WithOrderID(req.OrderID)
		}
		switch ev.Kind {
		case broker.EvOrderStatus:
			res.BrokerStatus = ev.Status
			if ev.Status == "Cancelled" || ev.Status == "ApiCancelled" {
				res.CancelledAt = time.Now()
				o.log.Info("order cancelled", logger.Int64("order_id", req.OrderID))
				return res, nil
			}
		case broker.EvError:
			code := broker.Classify(ev.Code, ev.Message)
			if code.Kind == broker.OrderCancelled {
				res.BrokerStatus = "Cancelled"
				res.Message = code.Message()
				res.CancelledAt = time.Now()
				return res, nil
			}
			if code.Severity() < broker.SeverityError {
				continue
			}
			return nil, code.Err().WithOrderID(req.OrderID)
		}
	}
}
