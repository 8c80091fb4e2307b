package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"ArbRelay/internal/protocol"
)

// Link is one registered agent connection as the router sees it.
type Link interface {
	ID() string
	UserID() string
	RemoteAddr() string
	RegisteredAt() time.Time
	LastSeen() time.Time
	Send(ctx context.Context, f *protocol.Frame) error
	Close() error
}

var ErrLinkClosed = errors.New("agent link closed")

type LinkConfig struct {
	WriteTimeout      time.Duration
	HeartbeatInterval time.Duration
	// StaleAfter without any inbound frame closes the link.
	StaleAfter time.Duration
}

// AgentConn is a Link over a gorilla websocket. Writes are serialized; one goroutine reads.
type AgentConn struct {
	id, userID, remote string
	ws                 *websocket.Conn
	cfg                LinkConfig
	registeredAt       time.Time
	lastSeen           atomic.Int64

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func NewAgentConn(ws *websocket.Conn, userID, remote string, cfg LinkConfig) *AgentConn {
	now := time.Now()
	c := &AgentConn{
		id:           uuid.NewString(),
		userID:       userID,
		remote:       remote,
		ws:           ws,
		cfg:          cfg,
		registeredAt: now,
		done:         make(chan struct{}),
	}
	c.lastSeen.Store(now.UnixNano())
	return c
}

func (c *AgentConn) ID() string              { return c.id }
func (c *AgentConn) UserID() string          { return c.userID }
func (c *AgentConn) RemoteAddr() string      { return c.remote }
func (c *AgentConn) RegisteredAt() time.Time { return c.registeredAt }
func (c *AgentConn) LastSeen() time.Time     { return time.Unix(0, c.lastSeen.Load()) }
func (c *AgentConn) Done() <-chan struct{}   { return c.done }

func (c *AgentConn) Send(ctx context.Context, f *protocol.Frame) error {
	b, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrLinkClosed
	default:
	}

	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(deadline)
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

func (c *AgentConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

// Serve reads frames until the socket fails, the link goes stale or ctx ends, calling
// handle for each one. It pings the agent every HeartbeatInterval.
func (c *AgentConn) Serve(ctx context.Context, handle func(*protocol.Frame)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.heartbeat(ctx)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-c.done:
		}
	}()

	for {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.StaleAfter))
		_, b, err := c.ws.ReadMessage()
		if err != nil {
			_ = c.Close()
			return err
		}
		c.lastSeen.Store(time.Now().UnixNano())
		f, err := protocol.Decode(b)
		if err != nil {
			continue
		}
		handle(f)
	}
}

func (c *AgentConn) heartbeat(ctx context.Context) {
	t := time.NewTicker(c.cfg.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-t.C:
			if err := c.Send(ctx, protocol.Ping()); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}
