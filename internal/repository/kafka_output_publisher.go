package repository

import (
	"context"
	"fmt"

	"ArbRelay/internal/domain/models"
	domrepo "ArbRelay/internal/domain/repository"
	pkgkafka "ArbRelay/pkg/kafka"
)

// Topics names the output bus topics per event kind.
type Topics struct {
	Chains string
	Orders string
}

func (t Topics) For(kind models.OutputKind) (string, error) {
	switch kind {
	case models.OutputChain:
		return t.Chains, nil
	case models.OutputOrder:
		return t.Orders, nil
	}
	return "", fmt.Errorf("no topic for event kind %q", kind)
}

// KafkaOutputPublisher writes output events keyed by OutputEvent.Key, so one ticker's
// chains and one user's orders stay on one partition.
type KafkaOutputPublisher struct {
	producer *pkgkafka.Producer
	topics   Topics
	metrics  domrepo.Metrics
}

func NewKafkaOutputPublisher(producer *pkgkafka.Producer, topics Topics, m domrepo.Metrics) *KafkaOutputPublisher {
	return &KafkaOutputPublisher{producer: producer, topics: topics, metrics: m}
}

func (p *KafkaOutputPublisher) Publish(ctx context.Context, ev *models.OutputEvent) error {
	return p.PublishBatch(ctx, []*models.OutputEvent{ev})
}

func (p *KafkaOutputPublisher) PublishBatch(ctx context.Context, evs []*models.OutputEvent) error {
	byTopic := make(map[string][]pkgkafka.Message, 2)
	for _, ev := range evs {
		topic, err := p.topics.For(ev.Kind)
		if err != nil {
			return err
		}
		byTopic[topic] = append(byTopic[topic], pkgkafka.Message{
			Key:       []byte(ev.Key()),
			Value:     ev,
			RequestID: ev.RequestID,
		})
	}
	for topic, msgs := range byTopic {
		if err := p.producer.PublishBatch(ctx, topic, msgs); err != nil {
			return fmt.Errorf("publish %d events to %s: %w", len(msgs), topic, err)
		}
		for range msgs {
			p.metrics.RecordMessageSent("kafka", topic)
		}
	}
	return nil
}

func (p *KafkaOutputPublisher) Close() error {
	return p.producer.Close()
}
