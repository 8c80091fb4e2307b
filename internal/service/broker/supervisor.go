package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"ArbRelay/internal/domain/apperr"
	"ArbRelay/internal/domain/repository"
	"ArbRelay/pkg/logger"
	"ArbRelay/pkg/metrics"
)

type SupervisorConfig struct {
	ClientIDMin       int
	ClientIDMax       int
	ReconnectBackoff  time.Duration
	HeartbeatInterval time.Duration
	StaleAfter        time.Duration
	Session           SessionOptions
}

func (c *SupervisorConfig) normalize() {
	if c.ClientIDMax < c.ClientIDMin {
		c.ClientIDMax = c.ClientIDMin
	}
	if c.ReconnectBackoff <= 0 {
		c.ReconnectBackoff = 5 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 3 * c.HeartbeatInterval
	}
}

// Supervisor keeps one live session. On loss it discards the session, waits a fixed backoff
// and opens a fresh one, which re-derives order and data ids from the new handshake.
type Supervisor struct {
	gw      Gateway
	cfg     SupervisorConfig
	log     *logger.Logger
	metrics repository.Metrics

	current    atomic.Pointer[Session]
	generation atomic.Int64
	ready      chan struct{}
	readyOnce  sync.Once
}

func NewSupervisor(gw Gateway, cfg SupervisorConfig, log *logger.Logger, m repository.Metrics) *Supervisor {
	cfg.normalize()
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.Noop{}
	}
	return &Supervisor{
		gw:      gw,
		cfg:     cfg,
		log:     log.Component("broker"),
		metrics: m,
		ready:   make(chan struct{}),
	}
}

// Session returns the live session or a connectivity error.
func (s *Supervisor) Session() (*Session, error) {
	sess := s.current.Load()
	if sess == nil {
		return nil, apperr.NotConnected("no broker session")
	}
	if sess.Lost() {
		return nil, apperr.NotConnected("broker session lost: " + sess.LostReason())
	}
	return sess, nil
}

// Generation counts sessions opened so far.
func (s *Supervisor) Generation() int64 { return s.generation.Load() }

// Ready is closed once the first session is live.
func (s *Supervisor) Ready() <-chan struct{} { return s.ready }

// Connected reports whether a usable session is installed right now.
func (s *Supervisor) Connected() bool {
	_, err := s.Session()
	return err == nil
}

// Run blocks until ctx is done.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		sess, err := s.open(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Error("broker connect failed", logger.Error(err), logger.Duration("retry_in_ms", s.cfg.ReconnectBackoff))
		} else {
			s.current.Store(sess)
			s.generation.Add(1)
			s.metrics.SetBrokerConnected(true)
			s.readyOnce.Do(func() { close(s.ready) })
			s.log.Info("broker session established",
				logger.Int("client_id", sess.ClientID()),
				logger.Int64("next_valid_id", sess.IDs().Base()),
				logger.Int64("generation", s.generation.Load()))

			s.watch(ctx, sess)

			s.current.CompareAndSwap(sess, nil)
			s.metrics.SetBrokerConnected(false)
			_ = sess.Close()
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("broker session dropped, reconnecting",
				logger.String("reason", sess.LostReason()),
				logger.Duration("retry_in_ms", s.cfg.ReconnectBackoff))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.cfg.ReconnectBackoff):
		}
	}
}

// open walks the reserved client id range, skipping ids the gateway reports in use.
func (s *Supervisor) open(ctx context.Context) (*Session, error) {
	var lastErr error
	for id := s.cfg.ClientIDMin; id <= s.cfg.ClientIDMax; id++ {
		sess, err := Open(ctx, s.gw, id, s.cfg.Session, s.log, s.metrics)
		if err == nil {
			return sess, nil
		}
		if !IsClientIDInUse(err) {
			return nil, err
		}
		s.log.Warn("client id in use, trying next", logger.Int("client_id", id))
		lastErr = err
	}
	return nil, fmt.Errorf("all client ids in [%d,%d] in use: %w", s.cfg.ClientIDMin, s.cfg.ClientIDMax, lastErr)
}

// watch returns when the session is lost or ctx ends.
func (s *Supervisor) watch(ctx context.Context, sess *Session) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, s.cfg.HeartbeatInterval)
			_, err := sess.Ping(pctx)
			cancel()
			if err != nil {
				s.log.Debug("heartbeat failed", logger.Error(err))
			}
			if idle := sess.Idle(); idle > s.cfg.StaleAfter {
				sess.MarkLost(fmt.Sprintf("no callbacks for %s", idle.Truncate(time.Millisecond)))
			}
		}
	}
}
