package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ArbRelay/internal/domain/apperr"
	"ArbRelay/pkg/validate"
)

type OrderAction string

const (
	ActionBuy   OrderAction = "BUY"
	ActionSell  OrderAction = "SELL"
	ActionShort OrderAction = "SHORT"
)

type OrderType string

const (
	OrderMarket    OrderType = "MKT"
	OrderLimit     OrderType = "LMT"
	OrderStop      OrderType = "STP"
	OrderStopLimit OrderType = "STP_LMT"
)

// LimitStyle reports whether the order carries a limit price.
func (t OrderType) LimitStyle() bool {
	return t == OrderLimit || t == OrderStopLimit
}

type OrderState string

const (
	OrderDraft        OrderState = "draft"
	OrderValidated    OrderState = "validated"
	OrderSubmitted    OrderState = "submitted"
	OrderAcknowledged OrderState = "acknowledged"
	OrderRejected     OrderState = "rejected"
	OrderTimedOut     OrderState = "timed_out"
)

var ErrInvalidTransition = errors.New("invalid order state transition")

var orderTransitions = map[OrderState][]OrderState{
	OrderDraft:     {OrderValidated},
	OrderValidated: {OrderSubmitted},
	OrderSubmitted: {OrderAcknowledged, OrderRejected, OrderTimedOut},
}

// Terminal reports whether no further transition is possible.
func (s OrderState) Terminal() bool {
	return len(orderTransitions[s]) == 0
}

func (s OrderState) CanTransition(to OrderState) bool {
	for _, next := range orderTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// OrderRequest is a single-leg order as submitted by the dashboard.
type OrderRequest struct {
	Contract    Contract    `json:"contract"`
	Action      OrderAction `json:"action" validate:"required,oneof=BUY SELL SHORT"`
	Quantity    float64     `json:"quantity" validate:"gt=0"`
	OrderType   OrderType   `json:"order_type" default:"LMT" validate:"required,oneof=MKT LMT STP STP_LMT"`
	LimitPrice  float64     `json:"limit_price"`
	StopPrice   float64     `json:"stop_price"`
	TimeInForce string      `json:"tif" default:"DAY" validate:"oneof=DAY GTC IOC"`
	Account     string      `json:"account,omitempty"`
	Preview     bool        `json:"preview"`
}

// Validate runs the struct rules, then the rules that depend on other fields.
func (r *OrderRequest) Validate(ctx context.Context) error {
	if err := validate.Struct(ctx, r); err != nil {
		return apperr.FromValidator(err)
	}
	if field, msg := r.Contract.CheckOption(); field != "" {
		return apperr.Validation(field, msg)
	}
	if r.OrderType.LimitStyle() && r.LimitPrice < 0 {
		return apperr.Validation("limit_price", "limit_price must be non-negative for limit orders")
	}
	if (r.OrderType == OrderStop || r.OrderType == OrderStopLimit) && r.StopPrice <= 0 {
		return apperr.Validation("stop_price", "stop_price must be greater than 0 for stop orders")
	}
	return nil
}

// OrderResult tracks one order through its lifecycle.
type OrderResult struct {
	Request         OrderRequest `json:"request"`
	AssignedOrderID int64        `json:"assigned_order_id,omitempty"`
	State           OrderState   `json:"state"`
	BrokerStatus    string       `json:"broker_status,omitempty"`
	Commission      float64      `json:"commission,omitempty"`
	InitMargin      float64      `json:"init_margin,omitempty"`
	Warnings        []string     `json:"warnings,omitempty"`
	Message         string       `json:"message,omitempty"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

func NewOrderResult(req OrderRequest) *OrderResult {
	return &OrderResult{Request: req, State: OrderDraft, UpdatedAt: time.Now()}
}

// Advance moves the order to the next state or returns ErrInvalidTransition.
func (r *OrderResult) Advance(to OrderState) error {
	if !r.State.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.State, to)
	}
	r.State = to
	r.UpdatedAt = time.Now()
	return nil
}

type CancelRequest struct {
	OrderID int64 `json:"order_id" validate:"gt=0"`
}

type CancelResult struct {
	OrderID      int64     `json:"order_id"`
	BrokerStatus string    `json:"broker_status"`
	Message      string    `json:"message,omitempty"`
	CancelledAt  time.Time `json:"cancelled_at"`
}

// OrderEvent is published on the output bus for every terminal order outcome.
type OrderEvent struct {
	UserID       string      `json:"user_id"`
	OrderID      int64       `json:"order_id"`
	State        OrderState  `json:"state"`
	BrokerStatus string      `json:"broker_status,omitempty"`
	Symbol       string      `json:"symbol"`
	ContractKey  string      `json:"contract_key"`
	Action       OrderAction `json:"action"`
	Quantity     float64     `json:"quantity"`
	LimitPrice   float64     `json:"limit_price"`
	Preview      bool        `json:"preview"`
	Message      string      `json:"message,omitempty"`
	At           time.Time   `json:"at"`
}

func NewOrderEvent(userID string, res *OrderResult) *OrderEvent {
	return &OrderEvent{
		UserID:       userID,
		OrderID:      res.AssignedOrderID,
		State:        res.State,
		BrokerStatus: res.BrokerStatus,
		Symbol:       res.Request.Contract.Symbol,
		ContractKey:  res.Request.Contract.Key(),
		Action:       res.Request.Action,
		Quantity:     res.Request.Quantity,
		LimitPrice:   res.Request.LimitPrice,
		Preview:      res.Request.Preview,
		Message:      res.Message,
		At:           res.UpdatedAt,
	}
}
