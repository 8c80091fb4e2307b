package relay

import (
	"sync"
	"time"

	"ArbRelay/internal/domain/apperr"
	"ArbRelay/internal/domain/repository"
	"ArbRelay/internal/protocol"
	"ArbRelay/pkg/logger"
)

type inflight struct {
	linkID string
	op     protocol.Op
	sentAt time.Time
	ch     chan *protocol.Frame
}

// Pending correlates request ids with their waiting callers. Each entry resolves at most once.
type Pending struct {
	mu    sync.Mutex
	calls map[string]*inflight

	log     *logger.Logger
	metrics repository.Metrics
}

func NewPending(log *logger.Logger, m repository.Metrics) *Pending {
	return &Pending{calls: make(map[string]*inflight), log: log, metrics: m}
}

// Add registers id as routed to linkID. The returned channel receives exactly one frame
// unless the id is dropped first.
func (p *Pending) Add(id, linkID string, op protocol.Op) <-chan *protocol.Frame {
	ch := make(chan *protocol.Frame, 1)
	p.mu.Lock()
	p.calls[id] = &inflight{linkID: linkID, op: op, sentAt: time.Now(), ch: ch}
	p.mu.Unlock()
	return ch
}

// Resolve delivers a response that arrived on linkID. Responses for unknown ids (already
// timed out) or from a link the request was not sent to are logged and discarded.
func (p *Pending) Resolve(linkID string, f *protocol.Frame) bool {
	p.mu.Lock()
	c, ok := p.calls[f.RequestID]
	if ok && c.linkID == linkID {
		delete(p.calls, f.RequestID)
	}
	p.mu.Unlock()

	switch {
	case !ok:
		p.metrics.RecordLateResponse()
		p.log.Warn("discarding late response", logger.String("request_id", f.RequestID), logger.String("link_id", linkID))
		return false
	case c.linkID != linkID:
		p.log.Warn("response from wrong link", logger.String("request_id", f.RequestID), logger.String("link_id", linkID))
		return false
	}
	c.ch <- f
	return true
}

func (p *Pending) Drop(id string) {
	p.mu.Lock()
	delete(p.calls, id)
	p.mu.Unlock()
}

// FailLink fails every call routed to linkID with a connectivity error.
func (p *Pending) FailLink(linkID string) int {
	p.mu.Lock()
	var failed []*inflight
	var ids []string
	for id, c := range p.calls {
		if c.linkID == linkID {
			failed = append(failed, c)
			ids = append(ids, id)
			delete(p.calls, id)
		}
	}
	p.mu.Unlock()

	for i, c := range failed {
		c.ch <- protocol.NewResponse(ids[i], nil, apperr.NotConnected("agent disconnected before responding"))
	}
	return len(failed)
}

func (p *Pending) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
