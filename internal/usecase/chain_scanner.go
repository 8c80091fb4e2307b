package usecase

import (
	"context"
	"time"

	"ArbRelay/internal/domain/models"
	"ArbRelay/pkg/flight"
	"ArbRelay/pkg/logger"
)

// OutputSink accepts results for the output bus. Submit must not block the caller.
type OutputSink interface {
	Submit(ctx context.Context, ev *models.OutputEvent)
}

// ChainScanner fetches a chain and ranks spreads over it. Scans run one at a time per agent;
// identical concurrent scans share one run.
type ChainScanner struct {
	fetcher *ChainFetcher
	spreads SpreadConfig
	gate    *flight.Gate
	sink    OutputSink
	log     *logger.Logger
	now     func() time.Time
}

func NewChainScanner(fetcher *ChainFetcher, spreads SpreadConfig, gate *flight.Gate, sink OutputSink, log *logger.Logger) *ChainScanner {
	return &ChainScanner{
		fetcher: fetcher,
		spreads: spreads,
		gate:    gate,
		sink:    sink,
		log:     log.Component("scanner"),
		now:     time.Now,
	}
}

func (s *ChainScanner) Scan(ctx context.Context, sess ChainSession, req models.ChainRequest) (*models.ChainResult, error) {
	v, shared, err := s.gate.Do(ctx, "chain", req.Key(), func(runCtx context.Context) (interface{}, error) {
		snap, err := s.fetcher.Fetch(runCtx, sess, req)
		if err != nil {
			return nil, err
		}
		res := &models.ChainResult{
			Snapshot:   snap,
			Candidates: BuildSpreads(snap, s.spreadConfig(req), s.now()),
		}
		if s.sink != nil {
			s.sink.Submit(runCtx, &models.OutputEvent{Kind: models.OutputChain, Chain: res})
		}
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.log.Debug("chain scan shared with a concurrent caller", logger.String("ticker", req.Ticker))
	}
	return v.(*models.ChainResult), nil
}

func (s *ChainScanner) spreadConfig(req models.ChainRequest) SpreadConfig {
	cfg := s.spreads
	if req.TopK > 0 {
		cfg.TopK = req.TopK
	}
	if req.DealProbability > 0 {
		cfg.DealProbability = req.DealProbability
	}
	return cfg
}
