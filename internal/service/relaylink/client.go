// Package relaylink keeps the agent's outbound websocket to the relay alive and serves
// the requests that arrive on it.
package relaylink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"ArbRelay/internal/protocol"
	"ArbRelay/pkg/logger"
)

// Handler executes one relayed operation.
type Handler interface {
	Handle(ctx context.Context, op protocol.Op, payload json.RawMessage) (interface{}, error)
}

type Config struct {
	URL              string
	UserID           string
	AuthToken        string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	// StaleAfter without any frame from the relay drops the link and reconnects.
	StaleAfter    time.Duration
	ReconnectMin  time.Duration
	ReconnectMax  time.Duration
	MaxConcurrent int
	// MutatingTimeout bounds order placement and cancellation, which ignore the relay deadline.
	MutatingTimeout time.Duration
}

var ErrRefused = errors.New("relay refused registration")

// Client dials the relay, registers, and reconnects with backoff until Run's ctx ends.
type Client struct {
	cfg     Config
	handler Handler
	dialer  *websocket.Dialer
	log     *logger.Logger

	connected atomic.Bool
	inflight  sync.WaitGroup
}

func New(cfg Config, handler Handler, log *logger.Logger) *Client {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 15 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 3 * cfg.PingInterval
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = 500 * time.Millisecond
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = 30 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 16
	}
	if cfg.MutatingTimeout <= 0 {
		cfg.MutatingTimeout = 2 * time.Minute
	}
	return &Client{
		cfg:     cfg,
		handler: handler,
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		log:     log.Component("relaylink").With(logger.String("user_id", cfg.UserID)),
	}
}

func (c *Client) Connected() bool { return c.connected.Load() }

// Run blocks until ctx ends. Operations still executing are waited for before it returns.
func (c *Client) Run(ctx context.Context) error {
	defer c.inflight.Wait()

	attempt := 0
	for {
		started := time.Now()
		err := c.session(ctx)
		c.connected.Store(false)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(started) > c.cfg.ReconnectMax {
			attempt = 0
		}
		attempt++
		wait := backoff(c.cfg.ReconnectMin, c.cfg.ReconnectMax, attempt)
		if errors.Is(err, ErrRefused) {
			c.log.Error("relay refused registration", logger.Error(err), logger.Duration("retry_in_ms", wait))
		} else {
			c.log.Warn("relay link down", logger.Error(err), logger.Int("attempt", attempt),
				logger.Duration("retry_in_ms", wait))
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// session runs one connection from dial to drop.
func (c *Client) session(ctx context.Context) error {
	ws, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}
	l := &link{ws: ws, writeTimeout: c.cfg.WriteTimeout, done: make(chan struct{})}
	defer l.close()

	if err := c.register(l); err != nil {
		return err
	}
	c.connected.Store(true)
	c.log.Info("registered with relay", logger.String("url", c.cfg.URL))

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sctx.Done()
		l.close()
	}()
	go c.pingLoop(sctx, l)

	sem := make(chan struct{}, c.cfg.MaxConcurrent)
	for {
		_ = ws.SetReadDeadline(time.Now().Add(c.cfg.StaleAfter))
		_, b, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read relay: %w", err)
		}
		f, err := protocol.Decode(b)
		if err != nil {
			c.log.Debug("undecodable frame", logger.Error(err))
			continue
		}
		switch f.Type {
		case protocol.FrameRequest:
			select {
			case sem <- struct{}{}:
			case <-sctx.Done():
				return nil
			}
			c.inflight.Add(1)
			go func() {
				defer c.inflight.Done()
				defer func() { <-sem }()
				c.serve(ctx, sctx, l, f)
			}()
		case protocol.FramePing:
			if err := l.send(protocol.Pong()); err != nil {
				return fmt.Errorf("pong: %w", err)
			}
		case protocol.FramePong:
		default:
			c.log.Debug("ignoring frame", logger.String("type", string(f.Type)))
		}
	}
}

func (c *Client) register(l *link) error {
	if err := l.send(protocol.NewRegister(c.cfg.UserID, c.cfg.AuthToken)); err != nil {
		return fmt.Errorf("send register: %w", err)
	}
	_ = l.ws.SetReadDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
	_, b, err := l.ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("await registered: %w", err)
	}
	f, err := protocol.Decode(b)
	if err != nil {
		return err
	}
	if f.Type != protocol.FrameRegistered {
		return fmt.Errorf("unexpected %s frame during registration", f.Type)
	}
	if f.Error != nil {
		return fmt.Errorf("%w: %v", ErrRefused, f.Error)
	}
	return nil
}

// serve runs one request. Read ops are bound to the relay's deadline and the link;
// mutating ops run to completion on their own budget so a dropped link or relay timeout
// never leaves an order half-submitted.
func (c *Client) serve(runCtx, linkCtx context.Context, l *link, f *protocol.Frame) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if f.Op.Mutating() {
		ctx, cancel = context.WithTimeout(context.WithoutCancel(runCtx), c.cfg.MutatingTimeout)
	} else if d := f.Deadline(); !d.IsZero() {
		ctx, cancel = context.WithDeadline(linkCtx, d)
	} else {
		ctx, cancel = context.WithCancel(linkCtx)
	}
	defer cancel()
	ctx = protocol.WithRequestID(ctx, f.RequestID)

	start := time.Now()
	res, err := c.handler.Handle(ctx, f.Op, f.Payload)
	log := c.log.With(logger.String("request_id", f.RequestID), logger.String("op", string(f.Op)),
		logger.Duration("took_ms", time.Since(start)))

	if d := f.Deadline(); !d.IsZero() && time.Now().After(d) {
		log.Warn("finished after relay deadline", logger.Error(err))
	}
	if sendErr := l.send(protocol.NewResponse(f.RequestID, res, err)); sendErr != nil {
		log.Warn("response lost, relay link gone", logger.Error(sendErr))
	}
}

func (c *Client) pingLoop(ctx context.Context, l *link) {
	t := time.NewTicker(c.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := l.send(protocol.Ping()); err != nil {
				l.close()
				return
			}
		}
	}
}

type link struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
	closeOnce    sync.Once
	done         chan struct{}
}

func (l *link) send(f *protocol.Frame) error {
	b, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	select {
	case <-l.done:
		return errors.New("relay link closed")
	default:
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_ = l.ws.SetWriteDeadline(time.Now().Add(l.writeTimeout))
	return l.ws.WriteMessage(websocket.TextMessage, b)
}

func (l *link) close() {
	l.closeOnce.Do(func() {
		close(l.done)
		l.writeMu.Lock()
		_ = l.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		l.writeMu.Unlock()
		_ = l.ws.Close()
	})
}

func backoff(min, max time.Duration, attempt int) time.Duration {
	d := min << uint(attempt-1)
	if d <= 0 || d > max {
		d = max
	}
	half := int64(d / 2)
	return time.Duration(half + rand.Int63n(half+1))
}
