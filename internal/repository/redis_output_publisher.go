package repository

import (
	"context"
	"fmt"

	"ArbRelay/internal/domain/models"
	domrepo "ArbRelay/internal/domain/repository"
	"ArbRelay/pkg/queue"
)

// QueuePublisher is the enqueue side of the Redis bus.
type QueuePublisher interface {
	queue.Publisher
	Close() error
}

// RedisOutputPublisher puts output events on the Redis list queue, typed by event kind.
type RedisOutputPublisher struct {
	q       QueuePublisher
	metrics domrepo.Metrics
}

func NewRedisOutputPublisher(q QueuePublisher, m domrepo.Metrics) *RedisOutputPublisher {
	return &RedisOutputPublisher{q: q, metrics: m}
}

func (p *RedisOutputPublisher) Publish(ctx context.Context, ev *models.OutputEvent) error {
	return p.PublishBatch(ctx, []*models.OutputEvent{ev})
}

// PublishBatch stops at the first failure; events before it are already queued.
func (p *RedisOutputPublisher) PublishBatch(ctx context.Context, evs []*models.OutputEvent) error {
	for i, ev := range evs {
		if err := p.q.Enqueue(ctx, string(ev.Kind), ev.RequestID, ev); err != nil {
			return fmt.Errorf("enqueue event %d of %d: %w", i+1, len(evs), err)
		}
		p.metrics.RecordMessageSent("redis", string(ev.Kind))
	}
	return nil
}

func (p *RedisOutputPublisher) Close() error { return p.q.Close() }
