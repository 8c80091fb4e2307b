package repository

import (
	"context"
	"time"

	"ArbRelay/internal/domain/models"
)

// OutputPublisher ships agent results to the output bus.
type OutputPublisher interface {
	Publish(ctx context.Context, ev *models.OutputEvent) error
	PublishBatch(ctx context.Context, evs []*models.OutputEvent) error
	Close() error
}

// ArchiveStore persists bus events for history queries.
type ArchiveStore interface {
	Init(ctx context.Context) error
	StoreChain(ctx context.Context, requestID string, res *models.ChainResult) error
	StoreOrderEvent(ctx context.Context, requestID string, ev *models.OrderEvent) error
	QueryOrderEvents(ctx context.Context, userID string, from, to time.Time, limit int) ([]*models.OrderEvent, error)
	Health(ctx context.Context) error
	Close() error
}

// ResponseCache holds best-effort relay responses. Implementations must be safe for concurrent use.
type ResponseCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

type Metrics interface {
	RecordRequest(op, outcome string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	SetConnectedAgents(n int)
	RecordLateResponse()
	RecordChainContracts(ticker string, n int, partial bool)
	SetBrokerConnected(up bool)
	RecordBrokerError(code int)
	RecordMessageSent(backend, topic string)
}
