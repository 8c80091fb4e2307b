package repository

import (
	"context"

	"ArbRelay/internal/domain/models"
	"ArbRelay/pkg/logger"
)

// LogOutputPublisher stands in for the bus when Kafka is disabled: events are logged at debug and dropped.
type LogOutputPublisher struct {
	log *logger.Logger
}

func NewLogOutputPublisher(log *logger.Logger) *LogOutputPublisher {
	return &LogOutputPublisher{log: log.Component("output")}
}

func (p *LogOutputPublisher) Publish(ctx context.Context, ev *models.OutputEvent) error {
	return p.PublishBatch(ctx, []*models.OutputEvent{ev})
}

func (p *LogOutputPublisher) PublishBatch(_ context.Context, evs []*models.OutputEvent) error {
	for _, ev := range evs {
		p.log.Debug("output event",
			logger.String("kind", string(ev.Kind)),
			logger.String("key", ev.Key()),
			logger.String("request_id", ev.RequestID),
		)
	}
	return nil
}

func (p *LogOutputPublisher) Close() error { return nil }
