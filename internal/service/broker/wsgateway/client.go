// Package wsgateway speaks to a broker gateway bridge that exposes the callback API as
// JSON frames over a websocket. Frames are broker.Request outbound and broker.Event inbound.
package wsgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ArbRelay/internal/domain/apperr"
	"ArbRelay/internal/service/broker"
	"ArbRelay/pkg/logger"
)

type Config struct {
	URL              string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	EventBuffer      int
}

// Gateway implements broker.Gateway.
type Gateway struct {
	cfg    Config
	dialer *websocket.Dialer
	log    *logger.Logger
}

func New(cfg Config, log *logger.Logger) *Gateway {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 4096
	}
	return &Gateway{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		log:    log.Component("wsgateway"),
	}
}

// Dial connects, sends start_api with clientID and waits for next_valid_id.
func (g *Gateway) Dial(ctx context.Context, clientID int) (broker.Conn, error) {
	ws, _, err := g.dialer.DialContext(ctx, g.cfg.URL, nil)
	if err != nil {
		return nil, apperr.NotConnected("gateway dial failed").WithError(err)
	}

	c := &conn{
		ws:     ws,
		cfg:    g.cfg,
		log:    g.log.With(logger.Int("client_id", clientID)),
		events: make(chan broker.Event, g.cfg.EventBuffer),
		done:   make(chan struct{}),
	}
	if err := c.handshake(ctx, clientID); err != nil {
		_ = ws.Close()
		return nil, err
	}
	go c.readLoop()
	go c.pingLoop()
	return c, nil
}

type conn struct {
	ws  *websocket.Conn
	cfg Config
	log *logger.Logger

	writeMu   sync.Mutex
	nextID    int64
	events    chan broker.Event
	done      chan struct{}
	closeOnce sync.Once
}

func (c *conn) handshake(ctx context.Context, clientID int) error {
	deadline := time.Now().Add(c.cfg.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.write(broker.Request{Kind: broker.ReqStartAPI, ClientID: clientID}); err != nil {
		return apperr.NotConnected("gateway handshake failed").WithError(err)
	}

	_ = c.ws.SetReadDeadline(deadline)
	defer func() { _ = c.ws.SetReadDeadline(time.Time{}) }()
	for {
		_, b, err := c.ws.ReadMessage()
		if err != nil {
			return apperr.NotConnected("gateway handshake failed").WithError(err)
		}
		var ev broker.Event
		if err := json.Unmarshal(b, &ev); err != nil {
			continue
		}
		switch ev.Kind {
		case broker.EvNextValidID:
			c.nextID = ev.OrderID
			return nil
		case broker.EvError:
			code := broker.Classify(ev.Code, ev.Message)
			if code.Severity() >= broker.SeverityError {
				return code.Err()
			}
			c.log.Debug(code.Message(), logger.Int("code", ev.Code))
		}
	}
}

func (c *conn) NextValidID() int64          { return c.nextID }
func (c *conn) Events() <-chan broker.Event { return c.events }

func (c *conn) Send(ctx context.Context, req broker.Request) error {
	select {
	case <-c.done:
		return fmt.Errorf("wsgateway: connection closed")
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.write(req)
}

func (c *conn) write(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.ws.WriteJSON(v)
}

func (c *conn) readLoop() {
	defer close(c.events)
	for {
		_, b, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.log.Warn("gateway read failed", logger.Error(err))
				c.events <- broker.Event{Kind: broker.EvConnectionClosed, Message: err.Error()}
			}
			c.shutdown()
			return
		}
		var ev broker.Event
		if err := json.Unmarshal(b, &ev); err != nil {
			c.log.Debug("non-event frame ignored", logger.Error(err))
			continue
		}
		c.events <- ev
	}
}

func (c *conn) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.log.Debug("gateway ping failed", logger.Error(err))
			}
		}
	}
}

func (c *conn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *conn) Close() error {
	c.shutdown()
	return nil
}
