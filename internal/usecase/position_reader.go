package usecase

import (
	"context"
	"sync/atomic"
	"time"

	"ArbRelay/internal/domain/models"
	"ArbRelay/pkg/flight"
)

type PositionSession interface {
	Positions(ctx context.Context) ([]models.PositionSnapshot, error)
}

// PositionReader runs at most one positions fetch at a time. Callers that arrive while
// one is running receive that fetch's snapshot; position callbacks carry no request id,
// so two fetches in flight would interleave.
type PositionReader struct {
	gate    *flight.Gate
	timeout time.Duration
	cycle   atomic.Int64
}

func NewPositionReader(gate *flight.Gate, timeout time.Duration) *PositionReader {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &PositionReader{gate: gate, timeout: timeout}
}

func (p *PositionReader) Fetch(ctx context.Context, sess PositionSession) (*models.PositionsResult, error) {
	v, _, err := p.gate.Do(ctx, "positions", "", func(runCtx context.Context) (interface{}, error) {
		fctx, cancel := context.WithTimeout(runCtx, p.timeout)
		defer cancel()
		rows, err := sess.Positions(fctx)
		if err != nil {
			return nil, err
		}
		if rows == nil {
			rows = []models.PositionSnapshot{}
		}
		return &models.PositionsResult{Positions: rows, Cycle: p.cycle.Add(1), AsOf: time.Now()}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.PositionsResult), nil
}
