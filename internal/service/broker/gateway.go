// Package broker owns the agent's single long-lived broker session: request-id allocation,
// per-request callback routing, connection-loss detection and reconnection.
package broker

import (
	"context"

	"ArbRelay/internal/domain/models"
)

type RequestKind string

const (
	ReqStartAPI        RequestKind = "start_api"
	ReqCurrentTime     RequestKind = "req_current_time"
	ReqPositions       RequestKind = "req_positions"
	ReqCancelPositions RequestKind = "cancel_positions"
	ReqContractDetails RequestKind = "req_contract_details"
	ReqOptionParams    RequestKind = "req_sec_def_opt_params"
	ReqMarketData      RequestKind = "req_mkt_data"
	ReqCancelMktData   RequestKind = "cancel_mkt_data"
	ReqPlaceOrder      RequestKind = "place_order"
	ReqCancelOrder     RequestKind = "cancel_order"
)

// Request is one outbound gateway call. ReqID is a data id, OrderID an order id; never both.
type Request struct {
	Kind         RequestKind      `json:"type"`
	ClientID     int              `json:"client_id,omitempty"`
	ReqID        int64            `json:"req_id,omitempty"`
	OrderID      int64            `json:"order_id,omitempty"`
	Contract     *models.Contract `json:"contract,omitempty"`
	UnderlyingID int64            `json:"underlying_id,omitempty"`
	Snapshot     bool             `json:"snapshot,omitempty"`
	Order        *OrderTicket     `json:"order,omitempty"`
}

// OrderTicket is the broker-side order body.
type OrderTicket struct {
	Action      models.OrderAction `json:"action"`
	Quantity    float64            `json:"quantity"`
	OrderType   models.OrderType   `json:"order_type"`
	LimitPrice  float64            `json:"limit_price,omitempty"`
	StopPrice   float64            `json:"stop_price,omitempty"`
	TimeInForce string             `json:"tif"`
	Account     string             `json:"account,omitempty"`
	WhatIf      bool               `json:"what_if,omitempty"`
	Transmit    bool               `json:"transmit"`
}

func TicketFor(req models.OrderRequest) *OrderTicket {
	return &OrderTicket{
		Action:      req.Action,
		Quantity:    req.Quantity,
		OrderType:   req.OrderType,
		LimitPrice:  req.LimitPrice,
		StopPrice:   req.StopPrice,
		TimeInForce: req.TimeInForce,
		Account:     req.Account,
		WhatIf:      req.Preview,
		Transmit:    true,
	}
}

type EventKind string

const (
	EvNextValidID        EventKind = "next_valid_id"
	EvCurrentTime        EventKind = "current_time"
	EvPosition           EventKind = "position"
	EvPositionEnd        EventKind = "position_end"
	EvContractDetails    EventKind = "contract_details"
	EvContractDetailsEnd EventKind = "contract_details_end"
	EvOptionParams       EventKind = "sec_def_opt_params"
	EvOptionParamsEnd    EventKind = "sec_def_opt_params_end"
	EvTickPrice          EventKind = "tick_price"
	EvTickSnapshotEnd    EventKind = "tick_snapshot_end"
	EvOrderStatus        EventKind = "order_status"
	EvOpenOrder          EventKind = "open_order"
	EvError              EventKind = "error"
	EvConnectionClosed   EventKind = "connection_closed"
)

type TickField string

const (
	TickBid   TickField = "bid"
	TickAsk   TickField = "ask"
	TickLast  TickField = "last"
	TickClose TickField = "close"
)

// Event is one inbound gateway callback. Errors carry the failing request or order id in ReqID.
type Event struct {
	Kind        EventKind        `json:"type"`
	ReqID       int64            `json:"req_id,omitempty"`
	OrderID     int64            `json:"order_id,omitempty"`
	Account     string           `json:"account,omitempty"`
	Contract    *models.Contract `json:"contract,omitempty"`
	Position    float64          `json:"position,omitempty"`
	AvgCost     float64          `json:"avg_cost,omitempty"`
	Exchange    string           `json:"exchange,omitempty"`
	Expirations []string         `json:"expirations,omitempty"`
	Strikes     []float64        `json:"strikes,omitempty"`
	Field       TickField        `json:"field,omitempty"`
	Price       float64          `json:"price,omitempty"`
	Status      string           `json:"status,omitempty"`
	Filled      float64          `json:"filled,omitempty"`
	Remaining   float64          `json:"remaining,omitempty"`
	Commission  float64          `json:"commission,omitempty"`
	InitMargin  float64          `json:"init_margin,omitempty"`
	Code        int              `json:"code,omitempty"`
	Message     string           `json:"message,omitempty"`
	Time        int64            `json:"time,omitempty"`
}

// Conn is an established gateway connection.
type Conn interface {
	// NextValidID is the starting sequence the gateway announced at handshake.
	NextValidID() int64
	Send(ctx context.Context, req Request) error
	// Events is closed when the connection ends.
	Events() <-chan Event
	Close() error
}

// Gateway dials the broker under a client id. A client id already in use fails
// with a broker error carrying CodeClientIDInUse.
type Gateway interface {
	Dial(ctx context.Context, clientID int) (Conn, error)
}
