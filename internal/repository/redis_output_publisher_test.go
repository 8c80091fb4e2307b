package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ArbRelay/internal/domain/models"
	"ArbRelay/pkg/metrics"
)

type enqueued struct {
	msgType, requestID string
	payload            interface{}
}

type fakeQueue struct {
	got    []enqueued
	failAt int
	closed bool
}

func (f *fakeQueue) Enqueue(_ context.Context, msgType, requestID string, payload interface{}) error {
	if f.failAt > 0 && len(f.got)+1 == f.failAt {
		return errors.New("redis down")
	}
	f.got = append(f.got, enqueued{msgType, requestID, payload})
	return nil
}

func (f *fakeQueue) Close() error {
	f.closed = true
	return nil
}

func TestRedisOutputPublisherTypesByKind(t *testing.T) {
	q := &fakeQueue{}
	p := NewRedisOutputPublisher(q, metrics.Noop{})

	evs := []*models.OutputEvent{
		{Kind: models.OutputChain, RequestID: "r1"},
		{Kind: models.OutputOrder, RequestID: "r2"},
	}
	require.NoError(t, p.PublishBatch(context.Background(), evs))
	require.Len(t, q.got, 2)
	assert.Equal(t, "chain", q.got[0].msgType)
	assert.Equal(t, "r1", q.got[0].requestID)
	assert.Equal(t, "order", q.got[1].msgType)
	assert.Same(t, evs[1], q.got[1].payload)

	require.NoError(t, p.Close())
	assert.True(t, q.closed)
}

func TestRedisOutputPublisherStopsAtFailure(t *testing.T) {
	q := &fakeQueue{failAt: 2}
	p := NewRedisOutputPublisher(q, metrics.Noop{})
	err := p.PublishBatch(context.Background(), []*models.OutputEvent{
		{Kind: models.OutputChain}, {Kind: models.OutputChain}, {Kind: models.OutputChain},
	})
	assert.ErrorContains(t, err, "event 2 of 3")
	assert.Len(t, q.got, 1)
}
