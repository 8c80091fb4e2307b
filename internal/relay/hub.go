package relay

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"ArbRelay/internal/domain/apperr"
	"ArbRelay/internal/protocol"
	"ArbRelay/pkg/logger"
)

type HubConfig struct {
	Link            LinkConfig
	RegisterTimeout time.Duration
	MaxFrameBytes   int64
}

func DefaultHubConfig() HubConfig {
	return HubConfig{
		Link: LinkConfig{
			WriteTimeout:      10 * time.Second,
			HeartbeatInterval: 15 * time.Second,
			StaleAfter:        45 * time.Second,
		},
		RegisterTimeout: 10 * time.Second,
		MaxFrameBytes:   8 << 20,
	}
}

// Hub admits agent websockets: it runs the registration handshake, installs the link in
// the registry and pumps its frames into the router until it drops.
type Hub struct {
	cfg      HubConfig
	router   *Router
	verifier *TokenVerifier
	log      *logger.Logger

	// closing ends every attached link on shutdown
	closing context.Context
	close   context.CancelFunc
}

func NewHub(cfg HubConfig, router *Router, verifier *TokenVerifier, log *logger.Logger) *Hub {
	closing, cancel := context.WithCancel(context.Background())
	return &Hub{cfg: cfg, router: router, verifier: verifier, log: log.Component("hub"), closing: closing, close: cancel}
}

// Close disconnects every attached agent. Attach refuses new sockets afterwards.
func (h *Hub) Close() {
	h.close()
}

var (
	ErrRegistration = errors.New("agent registration refused")
	ErrHubClosed    = errors.New("agent hub closed")
)

// Attach blocks for the lifetime of ws.
func (h *Hub) Attach(ctx context.Context, ws *websocket.Conn, remote string) error {
	if h.closing.Err() != nil {
		_ = ws.Close()
		return ErrHubClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(h.closing, cancel)
	defer stop()

	ws.SetReadLimit(h.cfg.MaxFrameBytes)
	reg, err := h.readRegister(ws)
	if err != nil {
		h.log.Warn("registration failed", logger.String("remote", remote), logger.Error(err))
		_ = ws.Close()
		return err
	}

	conn := NewAgentConn(ws, reg.UserID, remote, h.cfg.Link)
	log := h.log.With(logger.String("user_id", reg.UserID), logger.String("link_id", conn.ID()), logger.String("remote", remote))

	if err := conn.Send(ctx, protocol.NewRegistered(reg.UserID, nil)); err != nil {
		_ = conn.Close()
		return err
	}
	if prev := h.router.Registry().Register(conn); prev != nil {
		log.Info("superseding previous agent connection", logger.String("previous_link_id", prev.ID()))
		_ = prev.Close()
	}
	log.Info("agent registered")

	err = conn.Serve(ctx, func(f *protocol.Frame) {
		switch f.Type {
		case protocol.FrameResponse:
			h.router.Deliver(conn, f)
		case protocol.FramePing:
			if err := conn.Send(ctx, protocol.Pong()); err != nil {
				log.Debug("pong failed", logger.Error(err))
			}
		case protocol.FramePong:
		default:
			log.Debug("ignoring frame", logger.String("type", string(f.Type)))
		}
	})
	h.router.Detach(conn)
	log.Info("agent disconnected", logger.Error(err))
	return nil
}

func (h *Hub) readRegister(ws *websocket.Conn) (*protocol.Frame, error) {
	_ = ws.SetReadDeadline(time.Now().Add(h.cfg.RegisterTimeout))
	_, b, err := ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	f, err := protocol.Decode(b)
	if err != nil {
		return nil, err
	}

	var refusal *apperr.Error
	switch {
	case f.Type != protocol.FrameRegister:
		refusal = apperr.Validation("type", "first frame must be register")
	case f.UserID == "":
		refusal = apperr.Validation("user_id", "user_id is required")
	case !h.verifier.Verify(f.UserID, f.AuthToken):
		refusal = apperr.Validation("auth_token", "invalid agent token")
	}
	if refusal != nil {
		if out, encErr := protocol.Encode(protocol.NewRegistered(f.UserID, refusal)); encErr == nil {
			_ = ws.SetWriteDeadline(time.Now().Add(time.Second))
			_ = ws.WriteMessage(websocket.TextMessage, out)
		}
		return nil, errors.Join(ErrRegistration, refusal)
	}
	return f, nil
}
