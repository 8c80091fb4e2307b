package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ArbRelay/internal/domain/models"
	domrepo "ArbRelay/internal/domain/repository"
	pkgkafka "ArbRelay/pkg/kafka"
	"ArbRelay/pkg/logger"
	"ArbRelay/pkg/queue"
)

// OutputArchiveHandler consumes one output topic and stores its events.
type OutputArchiveHandler struct {
	topic   string
	kind    models.OutputKind
	store   domrepo.ArchiveStore
	metrics domrepo.Metrics
	log     *logger.Logger
}

func NewOutputArchiveHandler(topic string, kind models.OutputKind, store domrepo.ArchiveStore, m domrepo.Metrics, log *logger.Logger) *OutputArchiveHandler {
	return &OutputArchiveHandler{
		topic:   topic,
		kind:    kind,
		store:   store,
		metrics: m,
		log:     log.Component("archiver").With(logger.String("topic", topic)),
	}
}

func (h *OutputArchiveHandler) Topic() string { return h.topic }

func (h *OutputArchiveHandler) Handle(ctx context.Context, b []byte) error {
	var ev models.OutputEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		h.metrics.RecordError("archive_unmarshal")
		return fmt.Errorf("decode output event: %w", err)
	}
	if ev.Kind != h.kind {
		h.log.Warn("unexpected event kind on topic", logger.String("kind", string(ev.Kind)))
		return nil
	}
	requestID := ev.RequestID
	if requestID == "" {
		requestID = pkgkafka.RequestID(ctx)
	}

	start := time.Now()
	var err error
	switch ev.Kind {
	case models.OutputChain:
		if ev.Chain == nil || ev.Chain.Snapshot == nil {
			return nil
		}
		h.metrics.RecordLatency("archive_e2e", time.Since(ev.Chain.Snapshot.FetchedAt).Seconds())
		err = h.store.StoreChain(ctx, requestID, ev.Chain)
	case models.OutputOrder:
		if ev.Order == nil {
			return nil
		}
		h.metrics.RecordLatency("archive_e2e", time.Since(ev.Order.At).Seconds())
		err = h.store.StoreOrderEvent(ctx, requestID, ev.Order)
	}
	h.metrics.RecordLatency("archive_insert", time.Since(start).Seconds())
	if err != nil {
		h.metrics.RecordError("archive_store")
		return err
	}
	h.metrics.RecordMessageSent("clickhouse", h.topic)
	return nil
}

var _ pkgkafka.MessageHandler = (*OutputArchiveHandler)(nil)

// QueueArchiveJob runs an OutputArchiveHandler off the Redis bus, where the message type is the event kind.
type QueueArchiveJob struct {
	h *OutputArchiveHandler
}

func NewQueueArchiveJob(h *OutputArchiveHandler) *QueueArchiveJob { return &QueueArchiveJob{h: h} }

func (j *QueueArchiveJob) Name() string { return "archive_" + string(j.h.kind) }

func (j *QueueArchiveJob) Type() string { return string(j.h.kind) }

func (j *QueueArchiveJob) Handle(ctx context.Context, msg *queue.Message) error {
	return j.h.Handle(ctx, msg.Payload)
}

var _ queue.Job = (*QueueArchiveJob)(nil)

// OrderHistory answers order-event history queries from the archive.
type OrderHistory struct {
	store        domrepo.ArchiveStore
	defaultRange time.Duration
	maxLimit     int
	now          func() time.Time
}

func NewOrderHistory(store domrepo.ArchiveStore, defaultRange time.Duration, maxLimit int) *OrderHistory {
	if defaultRange <= 0 {
		defaultRange = 7 * 24 * time.Hour
	}
	if maxLimit <= 0 {
		maxLimit = 1000
	}
	return &OrderHistory{store: store, defaultRange: defaultRange, maxLimit: maxLimit, now: time.Now}
}

// List defaults an unset to to now and an unset from to defaultRange before to.
func (o *OrderHistory) List(ctx context.Context, userID string, from, to time.Time, limit int) ([]*models.OrderEvent, error) {
	if to.IsZero() {
		to = o.now()
	}
	if from.IsZero() {
		from = to.Add(-o.defaultRange)
	}
	if from.After(to) {
		from, to = to, from
	}
	if limit <= 0 || limit > o.maxLimit {
		limit = o.maxLimit
	}
	return o.store.QueryOrderEvents(ctx, userID, from, to, limit)
}
