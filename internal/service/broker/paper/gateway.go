// Package paper is an in-process simulated broker gateway. The agent runs against it in
// paper mode, and tests script it to reproduce broker failures.
package paper

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"ArbRelay/internal/domain/models"
	"ArbRelay/internal/service/broker"
)

var ErrClosed = errors.New("paper: connection closed")

type Underlying struct {
	Spot        float64
	Volatility  float64
	Strikes     []float64
	Expirations []string
}

type Config struct {
	Underlyings    map[string]Underlying
	Positions      []models.PositionSnapshot
	StartID        int64
	Latency        time.Duration
	TakenClientIDs []int
}

// DefaultConfig seeds a few symbols with strikes around spot and six monthly expirations after now.
func DefaultConfig(now time.Time) Config {
	exps := MonthlyExpirations(now, 6)
	return Config{
		StartID: 1,
		Underlyings: map[string]Underlying{
			"SPY":  {Spot: 560, Volatility: 0.16, Strikes: StrikeLadder(420, 700, 5), Expirations: exps},
			"AAPL": {Spot: 225, Volatility: 0.25, Strikes: StrikeLadder(150, 300, 2.5), Expirations: exps},
			"X":    {Spot: 38, Volatility: 0.30, Strikes: StrikeLadder(25, 60, 1), Expirations: exps},
		},
		Positions: []models.PositionSnapshot{
			{AccountID: "DU000001", Contract: models.Stock("X"), Quantity: 500, AvgCost: 36.4},
		},
	}
}

// StrikeLadder returns lo, lo+step, ... up to hi inclusive.
func StrikeLadder(lo, hi, step float64) []float64 {
	var out []float64
	for k := lo; k <= hi+step/1000; k += step {
		out = append(out, math.Round(k*100)/100)
	}
	return out
}

// MonthlyExpirations returns the next n third-Friday dates after now in YYYYMMDD form.
func MonthlyExpirations(now time.Time, n int) []string {
	out := make([]string, 0, n)
	y, m, _ := now.Date()
	for len(out) < n {
		first := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
		offset := (int(time.Friday) - int(first.Weekday()) + 7) % 7
		third := first.AddDate(0, 0, offset+14)
		if third.After(now) {
			out = append(out, third.Format(models.ExpiryLayout))
		}
		m++
		if m > time.December {
			m = time.January
			y++
		}
	}
	return out
}

// Gateway implements broker.Gateway.
type Gateway struct {
	cfg Config

	mu          sync.Mutex
	conns       map[*conn]struct{}
	taken       map[int]bool
	silent      map[string]bool
	rejectCode  int
	rejectText  string
	holdOrders  bool
	held        []heldOrder
	dropKind    broker.RequestKind
	dropAt      int64
	counts      map[broker.RequestKind]int64
	orders      map[int64]broker.Request
	failDials   int
	dials       int
	nextStartID int64
}

func New(cfg Config) *Gateway {
	if cfg.StartID < 1 {
		cfg.StartID = 1
	}
	g := &Gateway{
		cfg:         cfg,
		conns:       make(map[*conn]struct{}),
		taken:       make(map[int]bool),
		silent:      make(map[string]bool),
		counts:      make(map[broker.RequestKind]int64),
		orders:      make(map[int64]broker.Request),
		nextStartID: cfg.StartID,
	}
	for _, id := range cfg.TakenClientIDs {
		g.taken[id] = true
	}
	return g
}

// --- scripting hooks ---

// Silence makes the gateway ignore details and market-data requests for these contract keys.
func (g *Gateway) Silence(keys ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, k := range keys {
		g.silent[k] = true
	}
}

// DropAt closes every connection when the nth request of kind arrives; that request is never answered.
func (g *Gateway) DropAt(kind broker.RequestKind, n int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dropKind, g.dropAt = kind, n
}

// RejectOrders answers every order with an error callback carrying code.
func (g *Gateway) RejectOrders(code int, text string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rejectCode, g.rejectText = code, text
}

type heldOrder struct {
	c   *conn
	req broker.Request
}

// HoldOrders stops the gateway from acknowledging orders. Releasing the hold acknowledges
// the orders held so far on connections that are still open.
func (g *Gateway) HoldOrders(hold bool) {
	g.mu.Lock()
	g.holdOrders = hold
	var release []heldOrder
	if !hold {
		release, g.held = g.held, nil
	}
	g.mu.Unlock()
	for _, h := range release {
		h.c.placeOrder(h.req)
	}
}

func (g *Gateway) TakeClientID(id int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.taken[id] = true
}

// FailDials makes the next n dials fail as if the gateway were down.
func (g *Gateway) FailDials(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failDials = n
}

// Kill drops every open connection.
func (g *Gateway) Kill() {
	g.mu.Lock()
	conns := make([]*conn, 0, len(g.conns))
	for c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()
	for _, c := range conns {
		c.drop()
	}
}

// Count returns how many requests of kind have been received.
func (g *Gateway) Count(kind broker.RequestKind) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.counts[kind]
}

func (g *Gateway) Dials() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dials
}

// --- broker.Gateway ---

func (g *Gateway) Dial(ctx context.Context, clientID int) (broker.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dials++
	if g.failDials > 0 {
		g.failDials--
		return nil, broker.Classify(broker.CodeCouldNotConnect, "paper gateway unavailable").Err()
	}
	if g.taken[clientID] {
		return nil, broker.Classify(broker.CodeClientIDInUse, "Unable to connect as the client id is already in use").Err()
	}

	c := &conn{
		g:        g,
		clientID: clientID,
		start:    g.nextStartID,
		events:   make(chan broker.Event, 1024),
	}
	// every session gets a fresh id range so reuse across sessions is observable
	g.nextStartID += 10000
	g.conns[c] = struct{}{}
	return c, nil
}

// record counts req and reports whether the connection should drop instead of answering.
func (g *Gateway) record(req broker.Request) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counts[req.Kind]++
	if req.Kind == broker.ReqPlaceOrder && req.Order != nil && !req.Order.WhatIf {
		g.orders[req.OrderID] = req
	}
	return g.dropAt > 0 && req.Kind == g.dropKind && g.counts[req.Kind] == g.dropAt
}

func (g *Gateway) isSilent(c *models.Contract) bool {
	if c == nil {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.silent[c.Key()]
}

func (g *Gateway) underlying(symbol string) (Underlying, bool) {
	u, ok := g.cfg.Underlyings[strings.ToUpper(symbol)]
	return u, ok
}

// resolve confirms c against the configured universe.
func (g *Gateway) resolve(c models.Contract) (models.Contract, bool) {
	u, ok := g.underlying(c.Symbol)
	if !ok {
		return c, false
	}
	switch c.SecurityType {
	case models.SecStock, "":
		c.SecurityType = models.SecStock
	case models.SecOption:
		if c.Right != models.RightCall && c.Right != models.RightPut {
			return c, false
		}
		if !containsString(u.Expirations, c.Expiry) || !containsFloat(u.Strikes, c.Strike) {
			return c, false
		}
		c.Multiplier = "100"
	default:
		return c, false
	}
	if c.Exchange == "" {
		c.Exchange = "SMART"
	}
	if c.Currency == "" {
		c.Currency = "USD"
	}
	c.ResolvedID = contractID(c.Key())
	return c, true
}

func (g *Gateway) quote(c models.Contract, now time.Time) (bid, ask, last float64, ok bool) {
	u, ok := g.underlying(c.Symbol)
	if !ok {
		return 0, 0, 0, false
	}
	if c.SecurityType != models.SecOption {
		return roundCents(u.Spot - 0.01), roundCents(u.Spot + 0.01), u.Spot, true
	}
	exp, err := c.ExpiryTime()
	if err != nil {
		return 0, 0, 0, false
	}
	days := exp.Sub(now).Hours() / 24
	theo := Theo(u.Spot, c.Strike, days, u.Volatility, c.Right)
	half := math.Max(0.05, theo*0.02)
	bid = roundCents(math.Max(theo-half, 0))
	ask = roundCents(theo + half)
	return bid, ask, roundCents(theo), true
}

// Theo is a toy option value: intrinsic plus a bell-shaped time value.
func Theo(spot, strike, days, vol float64, right models.Right) float64 {
	if vol <= 0 {
		vol = 0.2
	}
	t := math.Max(days, 1) / 365
	sd := vol * math.Sqrt(t)
	intrinsic := math.Max(spot-strike, 0)
	if right == models.RightPut {
		intrinsic = math.Max(strike-spot, 0)
	}
	m := math.Log(strike/spot) / sd
	return intrinsic + 0.4*spot*sd*math.Exp(-0.5*m*m)
}

func roundCents(x float64) float64 {
	return decimal.NewFromFloat(x).Round(2).InexactFloat64()
}

func contractID(key string) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum32())
}

func containsString(xs []string, v string) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func containsFloat(xs []float64, v float64) bool {
	for _, x := range xs {
		if math.Abs(x-v) < 1e-6 {
			return true
		}
	}
	return false
}

type conn struct {
	g        *Gateway
	clientID int
	start    int64

	mu     sync.RWMutex
	closed bool
	events chan broker.Event
}

func (c *conn) NextValidID() int64          { return c.start }
func (c *conn) Events() <-chan broker.Event { return c.events }

func (c *conn) Send(ctx context.Context, req broker.Request) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if c.g.record(req) {
		go c.g.Kill()
		return nil
	}
	go func() {
		if c.g.cfg.Latency > 0 {
			time.Sleep(c.g.cfg.Latency)
		}
		c.respond(req)
	}()
	return nil
}

func (c *conn) emit(ev broker.Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	c.events <- ev
}

func (c *conn) Close() error {
	c.shutdown(false)
	return nil
}

func (c *conn) drop() {
	c.shutdown(true)
}

func (c *conn) shutdown(announce bool) {
	c.g.mu.Lock()
	delete(c.g.conns, c)
	c.g.mu.Unlock()

	if announce {
		c.emit(broker.Event{Kind: broker.EvConnectionClosed})
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.events)
}

func (c *conn) respond(req broker.Request) {
	now := time.Now()
	switch req.Kind {
	case broker.ReqCurrentTime:
		c.emit(broker.Event{Kind: broker.EvCurrentTime, ReqID: req.ReqID, Time: now.Unix()})

	case broker.ReqPositions:
		for _, p := range c.g.cfg.Positions {
			contract := p.Contract
			c.emit(broker.Event{Kind: broker.EvPosition, Account: p.AccountID, Contract: &contract, Position: p.Quantity, AvgCost: p.AvgCost})
		}
		c.emit(broker.Event{Kind: broker.EvPositionEnd})

	case broker.ReqContractDetails:
		if req.Contract == nil || c.g.isSilent(req.Contract) {
			return
		}
		resolved, ok := c.g.resolve(*req.Contract)
		if !ok {
			c.emit(c.errorEvent(req.ReqID, broker.CodeNoSecurityDefinition, "No security definition has been found for the request"))
			return
		}
		c.emit(broker.Event{Kind: broker.EvContractDetails, ReqID: req.ReqID, Contract: &resolved})
		c.emit(broker.Event{Kind: broker.EvContractDetailsEnd, ReqID: req.ReqID})

	case broker.ReqOptionParams:
		if req.Contract == nil {
			return
		}
		u, ok := c.g.underlying(req.Contract.Symbol)
		if !ok {
			c.emit(c.errorEvent(req.ReqID, broker.CodeRequestValidation, "Error validating request: unknown underlying"))
			return
		}
		c.emit(broker.Event{
			Kind:        broker.EvOptionParams,
			ReqID:       req.ReqID,
			Exchange:    "SMART",
			Expirations: append([]string(nil), u.Expirations...),
			Strikes:     append([]float64(nil), u.Strikes...),
		})
		c.emit(broker.Event{Kind: broker.EvOptionParamsEnd, ReqID: req.ReqID})

	case broker.ReqMarketData:
		if req.Contract == nil || c.g.isSilent(req.Contract) {
			return
		}
		bid, ask, last, ok := c.g.quote(*req.Contract, now)
		if !ok {
			c.emit(c.errorEvent(req.ReqID, broker.CodeMarketDataRequest, "Requested market data is not subscribed"))
			return
		}
		if bid > 0 {
			c.emit(broker.Event{Kind: broker.EvTickPrice, ReqID: req.ReqID, Field: broker.TickBid, Price: bid})
		}
		c.emit(broker.Event{Kind: broker.EvTickPrice, ReqID: req.ReqID, Field: broker.TickAsk, Price: ask})
		c.emit(broker.Event{Kind: broker.EvTickPrice, ReqID: req.ReqID, Field: broker.TickLast, Price: last})
		c.emit(broker.Event{Kind: broker.EvTickSnapshotEnd, ReqID: req.ReqID})

	case broker.ReqPlaceOrder:
		c.placeOrder(req)

	case broker.ReqCancelOrder:
		c.g.mu.Lock()
		_, known := c.g.orders[req.OrderID]
		delete(c.g.orders, req.OrderID)
		c.g.mu.Unlock()
		if !known {
			c.emit(c.errorEvent(req.OrderID, broker.CodeOrderNotFound, "OrderId that needs to be cancelled is not found"))
			return
		}
		c.emit(broker.Event{Kind: broker.EvOrderStatus, OrderID: req.OrderID, Status: "Cancelled"})
		c.emit(c.errorEvent(req.OrderID, broker.CodeOrderCancelled, "Order Canceled - reason:"))
	}
}

func (c *conn) placeOrder(req broker.Request) {
	if req.Order == nil {
		return
	}
	c.g.mu.Lock()
	hold, code, text := c.g.holdOrders, c.g.rejectCode, c.g.rejectText
	if hold {
		c.g.held = append(c.g.held, heldOrder{c: c, req: req})
	}
	c.g.mu.Unlock()
	if hold {
		return
	}
	if code != 0 {
		c.g.mu.Lock()
		delete(c.g.orders, req.OrderID)
		c.g.mu.Unlock()
		c.emit(c.errorEvent(req.OrderID, code, text))
		return
	}
	if req.Order.WhatIf {
		commission := math.Max(1, 0.65*req.Order.Quantity)
		c.emit(broker.Event{
			Kind:       broker.EvOpenOrder,
			OrderID:    req.OrderID,
			Contract:   req.Contract,
			Status:     "PreSubmitted",
			Commission: commission,
			InitMargin: roundCents(req.Order.LimitPrice * req.Order.Quantity * 100),
		})
		return
	}
	c.emit(broker.Event{Kind: broker.EvOrderStatus, OrderID: req.OrderID, Status: "Submitted", Remaining: req.Order.Quantity})
	c.emit(broker.Event{Kind: broker.EvOpenOrder, OrderID: req.OrderID, Contract: req.Contract, Status: "Submitted"})
}

func (c *conn) errorEvent(id int64, code int, text string) broker.Event {
	return broker.Event{Kind: broker.EvError, ReqID: id, Code: code, Message: text}
}
