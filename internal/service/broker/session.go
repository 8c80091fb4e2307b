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

type SessionOptions struct {
	MailboxSize          int
	PositionsMailboxSize int
}

func (o *SessionOptions) normalize() {
	if o.MailboxSize <= 0 {
		o.MailboxSize = 256
	}
	if o.PositionsMailboxSize <= 0 {
		o.PositionsMailboxSize = 4096
	}
}

// Session is one established broker connection. Once lost it stays lost;
// the Supervisor replaces it with a fresh session and fresh ids.
type Session struct {
	conn     Conn
	clientID int
	ids      *IDSpace
	opts     SessionOptions
	log      *logger.Logger
	metrics  repository.Metrics

	openedAt time.Time
	lastSeen atomic.Int64
	lost     atomic.Bool
	reason   atomic.Value
	done     chan struct{}

	mu        sync.Mutex
	boxes     map[int64]*inbox
	positions *mailbox

	dispatched chan struct{}
}

// Open dials the gateway under clientID and starts callback dispatch.
func Open(ctx context.Context, gw Gateway, clientID int, opts SessionOptions, log *logger.Logger, m repository.Metrics) (*Session, error) {
	conn, err := gw.Dial(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return newSession(conn, clientID, opts, log, m), nil
}

func newSession(conn Conn, clientID int, opts SessionOptions, log *logger.Logger, m repository.Metrics) *Session {
	opts.normalize()
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.Noop{}
	}
	s := &Session{
		conn:       conn,
		clientID:   clientID,
		ids:        NewIDSpace(conn.NextValidID()),
		opts:       opts,
		log:        log.With(logger.Int("client_id", clientID)),
		metrics:    m,
		openedAt:   time.Now(),
		done:       make(chan struct{}),
		boxes:      make(map[int64]*inbox),
		dispatched: make(chan struct{}),
	}
	s.touch()
	go s.dispatch()
	return s
}

func (s *Session) ClientID() int       { return s.clientID }
func (s *Session) OpenedAt() time.Time { return s.openedAt }
func (s *Session) NextOrderID() int64  { return s.ids.NextOrderID() }
func (s *Session) NextDataID() int64   { return s.ids.NextDataID() }
func (s *Session) IDs() *IDSpace       { return s.ids }

// Done is closed when the session is lost.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Lost() bool { return s.lost.Load() }

func (s *Session) LostReason() string {
	if v, ok := s.reason.Load().(string); ok {
		return v
	}
	return ""
}

// Idle is the time since the last inbound callback.
func (s *Session) Idle() time.Duration {
	return time.Since(time.Unix(0, s.lastSeen.Load()))
}

// MarkLost flips the session to lost. Pending and future operations fail with a connectivity error.
func (s *Session) MarkLost(reason string) {
	if s.lost.CompareAndSwap(false, true) {
		s.reason.Store(reason)
		close(s.done)
		s.log.Warn("broker session lost", logger.String("reason", reason))
	}
}

func (s *Session) Close() error {
	s.MarkLost("session closed")
	return s.conn.Close()
}

func (s *Session) notConnected() *apperr.Error {
	return apperr.NotConnected("broker session lost: " + s.LostReason())
}

func (s *Session) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

// Stream is the callback inbox of one in-flight request. Close must be called when done.
type Stream struct {
	s         *Session
	id        int64
	mb        *mailbox
	owner     bool
	positions bool
}

func (st *Stream) ID() int64 { return st.id }

func (st *Stream) Overflowed() bool { return st.mb.overflow.Load() }

// Next returns the next callback. Callbacks already delivered are drained before a loss is reported.
func (st *Stream) Next(ctx context.Context) (Event, error) {
	select {
	case ev := <-st.mb.ch:
		return ev, nil
	default:
	}
	select {
	case ev := <-st.mb.ch:
		return ev, nil
	case <-st.s.done:
		return Event{}, st.s.notConnected()
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

func (st *Stream) Close() {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if st.positions {
		if st.s.positions == st.mb {
			st.s.positions = nil
		}
		return
	}
	if in := st.s.boxes[st.id]; in != nil && in.remove(st.mb, st.owner) {
		delete(st.s.boxes, st.id)
	}
}

// register attaches a mailbox under id. Only one owner may hold an id at a time;
// watchers share the owner's callbacks.
func (s *Session) register(id int64, owner bool) (*Stream, error) {
	if s.Lost() {
		return nil, s.notConnected()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	in := s.boxes[id]
	if in == nil {
		in = &inbox{}
		s.boxes[id] = in
	}
	if owner {
		if in.owned {
			return nil, apperr.Internal(fmt.Sprintf("id %d already has a pending request", id), nil)
		}
		in.owned = true
	}
	mb := newMailbox(s.opts.MailboxSize)
	in.subs = append(in.subs, mb)
	return &Stream{s: s, id: id, mb: mb, owner: owner}, nil
}

// Watch attaches to the callbacks of id without owning it, for example to follow an order
// whose placement is still awaiting its acknowledgment.
func (s *Session) Watch(id int64) (*Stream, error) {
	return s.register(id, false)
}

// Submit registers an inbox under id, then transmits req.
func (s *Session) Submit(ctx context.Context, id int64, req Request) (*Stream, error) {
	st, err := s.register(id, true)
	if err != nil {
		return nil, err
	}
	if err := s.send(ctx, req); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// SubmitPositions opens the positions inbox. Position callbacks carry no request id,
// so at most one positions request may be in flight per session.
func (s *Session) SubmitPositions(ctx context.Context) (*Stream, error) {
	if s.Lost() {
		return nil, s.notConnected()
	}
	s.mu.Lock()
	if s.positions != nil {
		s.mu.Unlock()
		return nil, apperr.Internal("positions request already in flight", nil)
	}
	mb := newMailbox(s.opts.PositionsMailboxSize)
	s.positions = mb
	s.mu.Unlock()

	st := &Stream{s: s, mb: mb, positions: true}
	if err := s.send(ctx, Request{Kind: ReqPositions}); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// Fire transmits a request that expects no callbacks.
func (s *Session) Fire(ctx context.Context, req Request) error {
	if s.Lost() {
		return s.notConnected()
	}
	return s.send(ctx, req)
}

func (s *Session) send(ctx context.Context, req Request) error {
	if err := s.conn.Send(ctx, req); err != nil {
		if ctx.Err() == nil {
			s.MarkLost("send failed: " + err.Error())
		}
		return apperr.NotConnected("broker send failed").WithError(err)
	}
	return nil
}

func (s *Session) dispatch() {
	defer close(s.dispatched)
	for ev := range s.conn.Events() {
		s.touch()
		switch ev.Kind {
		case EvConnectionClosed:
			s.MarkLost("gateway closed the connection")
		case EvError:
			s.handleError(ev)
		case EvPosition, EvPositionEnd:
			s.routePositions(ev)
		case EvNextValidID:
			// the id split is fixed for the life of the session
		default:
			s.route(ev.routingID(), ev)
		}
	}
	s.MarkLost("gateway event stream ended")
}

func (ev Event) routingID() int64 {
	if ev.ReqID != 0 {
		return ev.ReqID
	}
	return ev.OrderID
}

func (s *Session) handleError(ev Event) {
	code := Classify(ev.Code, ev.Message)
	s.metrics.RecordBrokerError(ev.Code)
	if code.Severity() == SeverityFatal {
		s.MarkLost(code.Message())
	}
	id := ev.routingID()
	if id > 0 && s.route(id, ev) {
		return
	}
	s.logCode(code, id)
}

func (s *Session) logCode(code Code, id int64) {
	fields := []logger.Field{logger.Int("code", code.Raw), logger.Int64("id", id), logger.String("text", code.Text)}
	switch code.Severity() {
	case SeverityInfo:
		s.log.Debug(code.Message(), fields...)
	case SeverityWarning:
		s.log.Warn(code.Message(), fields...)
	default:
		s.log.Error(code.Message(), fields...)
	}
}

func (s *Session) route(id int64, ev Event) bool {
	s.mu.Lock()
	var subs []*mailbox
	if in := s.boxes[id]; in != nil {
		subs = append(subs, in.subs...)
	}
	s.mu.Unlock()
	if len(subs) == 0 {
		s.log.Debug("callback for unknown id dropped", logger.Int64("id", id), logger.String("event", string(ev.Kind)))
		return false
	}
	for _, mb := range subs {
		if !mb.deliver(ev) {
			s.log.Warn("mailbox full, callback dropped", logger.Int64("id", id), logger.String("event", string(ev.Kind)))
		}
	}
	return true
}

func (s *Session) routePositions(ev Event) {
	s.mu.Lock()
	mb := s.positions
	s.mu.Unlock()
	if mb == nil {
		s.log.Debug("position callback with no request in flight dropped")
		return
	}
	if !mb.deliver(ev) {
		s.log.Warn("positions mailbox full, callback dropped")
	}
}
