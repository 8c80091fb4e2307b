package middleware

import (
	"context"
	"errors"
	"sync"
	"time"

	"ArbRelay/internal/domain/models"
	domrepo "ArbRelay/internal/domain/repository"
	"ArbRelay/internal/protocol"
	"ArbRelay/pkg/logger"
)

// PublishPipeline sits between the agent's operations and the output bus. Submit never
// blocks; a background loop batches events and retries with backoff while the bus is down.
type PublishPipeline struct {
	pub     domrepo.OutputPublisher
	metrics domrepo.Metrics
	log     *logger.Logger

	bufSize       int
	batchSize     int
	flushInterval time.Duration
	backoffMin    time.Duration
	backoffMax    time.Duration
	chainMinGap   time.Duration

	bufCh    chan *models.OutputEvent
	stopCh   chan struct{}
	doneCh   chan struct{}
	started  bool
	mu       sync.Mutex
	lastSeen map[string]time.Time // per-ticker last accepted chain event
	now      func() time.Time
}

type PipelineOption func(*PublishPipeline)

func WithBufferSize(n int) PipelineOption {
	return func(p *PublishPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

func WithBatchSize(n int) PipelineOption {
	return func(p *PublishPipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

func WithFlushInterval(d time.Duration) PipelineOption {
	return func(p *PublishPipeline) {
		if d > 0 {
			p.flushInterval = d
		}
	}
}

func WithBackoff(min, max time.Duration) PipelineOption {
	return func(p *PublishPipeline) {
		if min > 0 && max >= min {
			p.backoffMin, p.backoffMax = min, max
		}
	}
}

// WithChainThrottle drops chain events for a ticker seen less than gap ago. Order events are never throttled.
func WithChainThrottle(gap time.Duration) PipelineOption {
	return func(p *PublishPipeline) { p.chainMinGap = gap }
}

func NewPublishPipeline(pub domrepo.OutputPublisher, metrics domrepo.Metrics, log *logger.Logger, opts ...PipelineOption) *PublishPipeline {
	p := &PublishPipeline{
		pub:           pub,
		metrics:       metrics,
		log:           log.Component("publish_pipeline"),
		bufSize:       1000,
		batchSize:     50,
		flushInterval: 500 * time.Millisecond,
		backoffMin:    50 * time.Millisecond,
		backoffMax:    5 * time.Second,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
		lastSeen:      make(map[string]time.Time),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.OutputEvent, p.bufSize)
	return p
}

// Start launches the flush loop.
func (p *PublishPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go p.loop(ctx)
}

// Stop ends the flush loop after one final attempt to publish what is buffered.
func (p *PublishPipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	p.mu.Unlock()

	close(p.stopCh)
	select {
	case <-p.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit queues ev for publishing, stamping the relay request id from ctx. Full buffers drop the event.
func (p *PublishPipeline) Submit(ctx context.Context, ev *models.OutputEvent) {
	if err := validateEvent(ev); err != nil {
		p.metrics.RecordError("pipeline_validate")
		p.log.Debug("output event rejected", logger.Error(err))
		return
	}
	if ev.RequestID == "" {
		ev.RequestID = protocol.RequestIDFrom(ctx)
	}
	if !p.allow(ev) {
		p.metrics.RecordError("pipeline_throttle")
		return
	}
	select {
	case p.bufCh <- ev:
	default:
		p.metrics.RecordError("pipeline_buffer_full")
		p.log.Warn("output buffer full, event dropped",
			logger.String("kind", string(ev.Kind)), logger.String("key", ev.Key()))
	}
}

// Pending is the number of buffered events.
func (p *PublishPipeline) Pending() int { return len(p.bufCh) }

func (p *PublishPipeline) loop(ctx context.Context) {
	defer close(p.doneCh)
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	batch := make([]*models.OutputEvent, 0, p.batchSize)
	for {
		select {
		case <-p.stopCh:
			batch = p.drain(batch)
			if len(batch) > 0 {
				fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				if err := p.pub.PublishBatch(fctx, batch); err != nil {
					p.metrics.RecordError("pipeline_final_flush")
					p.log.Error("final flush failed", logger.Int("events", len(batch)), logger.Error(err))
				}
				cancel()
			}
			return
		case <-ctx.Done():
			return
		case ev := <-p.bufCh:
			batch = append(batch, ev)
			if len(batch) >= p.batchSize {
				batch = p.flush(ctx, batch)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				batch = p.flush(ctx, batch)
			}
		}
	}
}

// flush retries until the batch is published or the pipeline stops. The returned slice is
// empty on success and still holds the batch when stopped.
func (p *PublishPipeline) flush(ctx context.Context, batch []*models.OutputEvent) []*models.OutputEvent {
	backoff := p.backoffMin
	for {
		start := p.now()
		err := p.pub.PublishBatch(ctx, batch)
		if err == nil {
			p.metrics.RecordLatency("pipeline_flush", p.now().Sub(start).Seconds())
			return batch[:0]
		}
		p.metrics.RecordError("pipeline_flush")
		p.log.Warn("publish failed, retrying", logger.Int("events", len(batch)),
			logger.Duration("backoff_ms", backoff), logger.Error(err))
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return batch
		}

		t := time.NewTimer(backoff)
		select {
		case <-p.stopCh:
			t.Stop()
			return batch
		case <-ctx.Done():
			t.Stop()
			return batch
		case <-t.C:
		}
		if backoff *= 2; backoff > p.backoffMax {
			backoff = p.backoffMax
		}
	}
}

func (p *PublishPipeline) drain(batch []*models.OutputEvent) []*models.OutputEvent {
	for {
		select {
		case ev := <-p.bufCh:
			batch = append(batch, ev)
		default:
			return batch
		}
	}
}

func (p *PublishPipeline) allow(ev *models.OutputEvent) bool {
	if p.chainMinGap <= 0 || ev.Kind != models.OutputChain {
		return true
	}
	key := ev.Key()
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()
	if last, ok := p.lastSeen[key]; ok && now.Sub(last) < p.chainMinGap {
		return false
	}
	p.lastSeen[key] = now
	return true
}

func validateEvent(ev *models.OutputEvent) error {
	switch {
	case ev == nil:
		return errors.New("event nil")
	case ev.Kind == models.OutputChain && (ev.Chain == nil || ev.Chain.Snapshot == nil):
		return errors.New("chain event without snapshot")
	case ev.Kind == models.OutputOrder && ev.Order == nil:
		return errors.New("order event without order")
	case ev.Kind != models.OutputChain && ev.Kind != models.OutputOrder:
		return errors.New("unknown event kind " + string(ev.Kind))
	}
	return nil
}
