package broker_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ArbRelay/internal/domain/apperr"
	"ArbRelay/internal/domain/models"
	"ArbRelay/internal/service/broker"
	"ArbRelay/internal/service/broker/paper"
)

var testExps = paper.MonthlyExpirations(time.Now(), 3)

func paperConfig() paper.Config {
	return paper.Config{
		StartID: 1,
		Underlyings: map[string]paper.Underlying{
			"ACME": {
				Spot:        95,
				Volatility:  0.3,
				Strikes:     paper.StrikeLadder(70, 120, 5),
				Expirations: testExps,
			},
		},
		Positions: []models.PositionSnapshot{
			{AccountID: "DU1", Contract: models.Stock("ACME"), Quantity: 100, AvgCost: 90},
			{AccountID: "DU1", Contract: models.Option("ACME", testExps[0], 100, models.RightCall), Quantity: -2, AvgCost: 1.2},
		},
	}
}

func openSession(t *testing.T, gw broker.Gateway) *broker.Session {
	t.Helper()
	sess, err := broker.Open(context.Background(), gw, 1, broker.SessionOptions{}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func TestContractDetailsResolves(t *testing.T) {
	sess := openSession(t, paper.New(paperConfig()))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got, err := sess.ContractDetails(ctx, models.Option("ACME", testExps[0], 100, models.RightPut))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NotZero(t, got[0].ResolvedID)
}

func TestUnknownContractIsNoSecurityDefinition(t *testing.T) {
	sess := openSession(t, paper.New(paperConfig()))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := sess.ContractDetails(ctx, models.Option("ACME", testExps[0], 101, models.RightPut))
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, broker.CodeNoSecurityDefinition, e.BrokerCode)
}

func TestConcurrentRequestsRouteToTheirOwnCaller(t *testing.T) {
	sess := openSession(t, paper.New(paperConfig()))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	strikes := []float64{80, 85, 90, 95, 100, 105, 110}
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		asks = make(map[float64]float64)
	)
	for _, k := range strikes {
		wg.Add(1)
		go func(k float64) {
			defer wg.Done()
			q, err := sess.MarketSnapshot(ctx, models.Option("ACME", testExps[1], k, models.RightCall))
			if assert.NoError(t, err) {
				mu.Lock()
				asks[k] = q.Ask
				mu.Unlock()
			}
		}(k)
	}
	wg.Wait()

	// call prices fall with strike, so crossed mailboxes would break the ordering
	require.Len(t, asks, len(strikes))
	for i := 1; i < len(strikes); i++ {
		assert.Greater(t, asks[strikes[i-1]], asks[strikes[i]], "strike %v", strikes[i])
	}
}

func TestPositionsCollectsFullCycle(t *testing.T) {
	sess := openSession(t, paper.New(paperConfig()))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rows, err := sess.Positions(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestLostSessionShortCircuits(t *testing.T) {
	gw := paper.New(paperConfig())
	sess := openSession(t, gw)

	gw.Kill()
	require.Eventually(t, sess.Lost, time.Second, 5*time.Millisecond)

	before := gw.Count(broker.ReqContractDetails)
	_, err := sess.ContractDetails(context.Background(), models.Stock("ACME"))
	assert.True(t, apperr.Is(err, apperr.KindConnectivity))
	assert.Equal(t, before, gw.Count(broker.ReqContractDetails), "no request may reach the broker")
}

func TestLossWakesPendingCallers(t *testing.T) {
	gw := paper.New(paperConfig())
	c := models.Option("ACME", testExps[0], 100, models.RightCall)
	gw.Silence(c.Key())
	sess := openSession(t, gw)

	errc := make(chan error, 1)
	go func() {
		_, err := sess.MarketSnapshot(context.Background(), c)
		errc <- err
	}()

	require.Eventually(t, func() bool { return gw.Count(broker.ReqMarketData) == 1 }, time.Second, 5*time.Millisecond)
	gw.Kill()

	select {
	case err := <-errc:
		assert.True(t, apperr.Is(err, apperr.KindConnectivity))
	case <-time.After(time.Second):
		t.Fatal("pending caller was not released")
	}
}

func TestSilentRequestTimesOut(t *testing.T) {
	gw := paper.New(paperConfig())
	c := models.Stock("ACME")
	gw.Silence(c.Key())
	sess := openSession(t, gw)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := sess.MarketSnapshot(ctx, c)
	assert.True(t, apperr.Is(err, apperr.KindTimeout))
	assert.False(t, sess.Lost())
}
