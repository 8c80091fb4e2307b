package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ArbRelay/internal/domain/models"
	"ArbRelay/internal/service/broker"
	"ArbRelay/internal/service/broker/paper"
	"ArbRelay/pkg/logger"
	"ArbRelay/pkg/metrics"
)

var testExps = paper.MonthlyExpirations(time.Now(), 3)

func testGateway() *paper.Gateway {
	return paper.New(paper.Config{
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
	})
}

func testSession(t *testing.T, gw broker.Gateway) *broker.Session {
	t.Helper()
	sess, err := broker.Open(context.Background(), gw, 1, broker.SessionOptions{}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func fastChainConfig() ChainConfig {
	return ChainConfig{
		BatchSize:               4,
		BatchTimeoutBase:        100 * time.Millisecond,
		BatchTimeoutPerContract: 10 * time.Millisecond,
		StepTimeout:             time.Second,
		StrikeLowerPct:          0.20,
		StrikeUpperPct:          0.10,
		Rights:                  []models.Right{models.RightCall, models.RightPut},
	}
}

func newTestFetcher(cfg ChainConfig) *ChainFetcher {
	return NewChainFetcher(cfg, nil, logger.Nop(), metrics.Noop{})
}

// targetOn returns a target close date equal to an expiration, which selects that expiration alone.
func targetOn(expiry string) string {
	t, _ := time.Parse(models.ExpiryLayout, expiry)
	return t.Format(models.TargetDateLayout)
}

type recordingSink struct {
	events chan *models.OutputEvent
}

func newRecordingSink() *recordingSink {
	return &recordingSink{events: make(chan *models.OutputEvent, 64)}
}

func (s *recordingSink) Submit(_ context.Context, ev *models.OutputEvent) {
	s.events <- ev
}
