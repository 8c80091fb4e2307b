package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ArbRelay/internal/domain/models"
	"ArbRelay/pkg/logger"
	"ArbRelay/pkg/metrics"
)

type memArchive struct {
	mu       sync.Mutex
	chains   map[string]*models.ChainResult
	orders   map[string]*models.OrderEvent
	failNext bool
	query    struct {
		user     string
		from, to time.Time
		limit    int
	}
}

func newMemArchive() *memArchive {
	return &memArchive{chains: map[string]*models.ChainResult{}, orders: map[string]*models.OrderEvent{}}
}

func (m *memArchive) Init(context.Context) error { return nil }

func (m *memArchive) StoreChain(_ context.Context, requestID string, res *models.ChainResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext {
		m.failNext = false
		return errors.New("clickhouse down")
	}
	m.chains[requestID] = res
	return nil
}

func (m *memArchive) StoreOrderEvent(_ context.Context, requestID string, ev *models.OrderEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[requestID] = ev
	return nil
}

func (m *memArchive) QueryOrderEvents(_ context.Context, userID string, from, to time.Time, limit int) ([]*models.OrderEvent, error) {
	m.query.user, m.query.from, m.query.to, m.query.limit = userID, from, to, limit
	return nil, nil
}

func (m *memArchive) Health(context.Context) error { return nil }
func (m *memArchive) Close() error                 { return nil }

func encodeEvent(t *testing.T, ev *models.OutputEvent) []byte {
	t.Helper()
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	return b
}

func TestArchiveHandlerStoresChains(t *testing.T) {
	store := newMemArchive()
	h := NewOutputArchiveHandler("arbrelay.chains", models.OutputChain, store, metrics.Noop{}, logger.Nop())
	assert.Equal(t, "arbrelay.chains", h.Topic())

	ev := &models.OutputEvent{Kind: models.OutputChain, RequestID: "r1", Chain: &models.ChainResult{
		Snapshot: &models.OptionChainSnapshot{Ticker: "ACME", FetchedAt: time.Now()},
	}}
	require.NoError(t, h.Handle(context.Background(), encodeEvent(t, ev)))
	require.Contains(t, store.chains, "r1")
	assert.Equal(t, "ACME", store.chains["r1"].Snapshot.Ticker)
}

func TestArchiveHandlerSurfacesStoreErrorsForRetry(t *testing.T) {
	store := newMemArchive()
	store.failNext = true
	h := NewOutputArchiveHandler("c", models.OutputChain, store, metrics.Noop{}, logger.Nop())
	ev := &models.OutputEvent{Kind: models.OutputChain, Chain: &models.ChainResult{Snapshot: &models.OptionChainSnapshot{Ticker: "ACME"}}}
	assert.Error(t, h.Handle(context.Background(), encodeEvent(t, ev)))
	assert.NoError(t, h.Handle(context.Background(), encodeEvent(t, ev)))
}

func TestArchiveHandlerSkipsForeignKinds(t *testing.T) {
	store := newMemArchive()
	h := NewOutputArchiveHandler("o", models.OutputOrder, store, metrics.Noop{}, logger.Nop())

	chain := &models.OutputEvent{Kind: models.OutputChain, Chain: &models.ChainResult{Snapshot: &models.OptionChainSnapshot{Ticker: "ACME"}}}
	require.NoError(t, h.Handle(context.Background(), encodeEvent(t, chain)))
	assert.Empty(t, store.chains)

	order := &models.OutputEvent{Kind: models.OutputOrder, RequestID: "r2", Order: &models.OrderEvent{UserID: "alice", OrderID: 4}}
	require.NoError(t, h.Handle(context.Background(), encodeEvent(t, order)))
	assert.Equal(t, int64(4), store.orders["r2"].OrderID)

	assert.Error(t, h.Handle(context.Background(), []byte("{not json")))
}

func TestOrderHistoryDefaults(t *testing.T) {
	store := newMemArchive()
	hist := NewOrderHistory(store, 24*time.Hour, 100)
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	hist.now = func() time.Time { return now }

	_, err := hist.List(context.Background(), "alice", time.Time{}, time.Time{}, 0)
	require.NoError(t, err)
	assert.Equal(t, "alice", store.query.user)
	assert.Equal(t, now, store.query.to)
	assert.Equal(t, now.Add(-24*time.Hour), store.query.from)
	assert.Equal(t, 100, store.query.limit)

	_, err = hist.List(context.Background(), "alice", now, now.Add(-time.Hour), 5000)
	require.NoError(t, err)
	assert.True(t, store.query.from.Before(store.query.to))
	assert.Equal(t, 100, store.query.limit)
}
