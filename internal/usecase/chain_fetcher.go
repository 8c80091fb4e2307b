package usecase

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"ArbRelay/internal/domain/apperr"
	"ArbRelay/internal/domain/models"
	"ArbRelay/internal/domain/repository"
	"ArbRelay/internal/service/broker"
	"ArbRelay/internal/service/ratelimit"
	"ArbRelay/pkg/logger"
)

type ChainConfig struct {
	BatchSize               int
	RequestDelay            time.Duration
	BatchDelay              time.Duration
	BatchTimeoutBase        time.Duration
	BatchTimeoutPerContract time.Duration
	StepTimeout             time.Duration
	StrikeLowerPct          float64
	StrikeUpperPct          float64
	LookbackDays            int
	Rights                  []models.Right
	BrokerMsgPerSec         float64
}

func DefaultChainConfig() ChainConfig {
	return ChainConfig{
		BatchSize:               10,
		RequestDelay:            50 * time.Millisecond,
		BatchDelay:              250 * time.Millisecond,
		BatchTimeoutBase:        5 * time.Second,
		BatchTimeoutPerContract: time.Second,
		StepTimeout:             10 * time.Second,
		StrikeLowerPct:          0.20,
		StrikeUpperPct:          0.10,
		Rights:                  []models.Right{models.RightCall, models.RightPut},
		BrokerMsgPerSec:         40,
	}
}

// ChainSession is the part of a broker session the chain engine needs.
type ChainSession interface {
	ContractDetails(ctx context.Context, c models.Contract) ([]models.Contract, error)
	OptionParams(ctx context.Context, underlying models.Contract) ([]string, []float64, error)
	MarketSnapshot(ctx context.Context, c models.Contract) (models.Quote, error)
}

// ChainFetcher builds an option-chain snapshot in paced, bounded batches.
type ChainFetcher struct {
	cfg     ChainConfig
	limiter *ratelimit.Limiter
	log     *logger.Logger
	metrics repository.Metrics
	now     func() time.Time
}

func NewChainFetcher(cfg ChainConfig, limiter *ratelimit.Limiter, log *logger.Logger, m repository.Metrics) *ChainFetcher {
	def := DefaultChainConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.BatchTimeoutBase <= 0 {
		cfg.BatchTimeoutBase = def.BatchTimeoutBase
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = def.StepTimeout
	}
	if len(cfg.Rights) == 0 {
		cfg.Rights = def.Rights
	}
	return &ChainFetcher{cfg: cfg, limiter: limiter, log: log.Component("chain"), metrics: m, now: time.Now}
}

type batchResult struct {
	quotes   []models.Quote
	excluded int
	failed   int
	lost     bool
}

// Fetch never returns a partially-filled snapshot as an error: batch timeouts, contract
// failures and a mid-fetch session loss all yield a snapshot flagged Partial.
func (f *ChainFetcher) Fetch(ctx context.Context, sess ChainSession, req models.ChainRequest) (*models.OptionChainSnapshot, error) {
	target, err := req.Target()
	if err != nil {
		return nil, apperr.Validation("target_close_date", "target_close_date must be a YYYY-MM-DD date")
	}
	lower, upper, lookback, rights := f.params(req)
	ticker := strings.ToUpper(req.Ticker)
	log := f.log.With(logger.String("ticker", ticker))

	snap := &models.OptionChainSnapshot{
		Ticker:         ticker,
		ReferencePrice: req.ReferencePrice,
		Expirations:    []string{},
		Contracts:      []models.Quote{},
		FetchedAt:      f.now(),
	}

	underlying, spot, err := f.underlying(ctx, sess, ticker)
	if err != nil {
		return nil, err
	}
	if spot <= 0 {
		log.Warn("no spot price, using reference price")
		spot = req.ReferencePrice
	}
	snap.SpotPrice = spot

	stepCtx, cancel := context.WithTimeout(ctx, f.cfg.StepTimeout)
	expirations, strikes, err := sess.OptionParams(stepCtx, underlying)
	cancel()
	if err != nil {
		return nil, err
	}

	kept := FilterStrikes(strikes, req.ReferencePrice, spot, lower, upper)
	snap.Expirations = SelectExpirations(expirations, target, lookback)
	contracts := ChainContracts(ticker, snap.Expirations, kept, rights)
	snap.Requested = len(contracts)

	log.Info("chain fetch started",
		logger.Float64("spot", spot),
		logger.Int("strikes", len(kept)),
		logger.Strings("expirations", snap.Expirations),
		logger.Int("contracts", len(contracts)))

	bs := f.cfg.BatchSize
	for i := 0; i < len(contracts); i += bs {
		if i > 0 && !sleepCtx(ctx, f.cfg.BatchDelay) {
			snap.Partial = true
			break
		}
		end := i + bs
		if end > len(contracts) {
			end = len(contracts)
		}
		res := f.fetchBatch(ctx, sess, contracts[i:end])
		if res.lost {
			snap.Partial = true
			log.Warn("broker session lost mid-fetch, batch discarded",
				logger.Int("batch", i/bs+1),
				logger.Int("kept", len(snap.Contracts)))
			break
		}
		snap.Contracts = append(snap.Contracts, res.quotes...)
		snap.Excluded += res.excluded
		snap.Failed += res.failed
		if res.failed > 0 {
			snap.Partial = true
		}
	}

	sort.SliceStable(snap.Contracts, func(i, j int) bool {
		a, b := snap.Contracts[i].Contract, snap.Contracts[j].Contract
		if a.Expiry != b.Expiry {
			return a.Expiry < b.Expiry
		}
		if a.Right != b.Right {
			return a.Right < b.Right
		}
		return a.Strike < b.Strike
	})

	f.metrics.RecordChainContracts(ticker, len(snap.Contracts), snap.Partial)
	log.Info("chain fetch finished",
		logger.Int("contracts", len(snap.Contracts)),
		logger.Int("excluded", snap.Excluded),
		logger.Int("failed", snap.Failed),
		logger.Bool("partial", snap.Partial))
	return snap, nil
}

func (f *ChainFetcher) params(req models.ChainRequest) (lower, upper float64, lookback int, rights []models.Right) {
	lower, upper, lookback, rights = f.cfg.StrikeLowerPct, f.cfg.StrikeUpperPct, f.cfg.LookbackDays, f.cfg.Rights
	if req.StrikeLowerPct > 0 {
		lower = req.StrikeLowerPct
	}
	if req.StrikeUpperPct > 0 {
		upper = req.StrikeUpperPct
	}
	if req.LookbackDays > 0 {
		lookback = req.LookbackDays
	}
	if len(req.Rights) > 0 {
		rights = req.Rights
	}
	return lower, upper, lookback, rights
}

// underlying resolves the stock contract and its spot price.
func (f *ChainFetcher) underlying(ctx context.Context, sess ChainSession, ticker string) (models.Contract, float64, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.StepTimeout)
	defer cancel()

	details, err := sess.ContractDetails(ctx, models.Stock(ticker))
	if err != nil {
		return models.Contract{}, 0, err
	}
	if len(details) == 0 {
		return models.Contract{}, 0, broker.Classify(broker.CodeNoSecurityDefinition, ticker).Err()
	}
	und := details[0]

	q, err := sess.MarketSnapshot(ctx, und)
	if err != nil {
		return models.Contract{}, 0, err
	}
	return und, q.Mid(), nil
}

// fetchBatch issues one details+snapshot pair per contract, paced by RequestDelay, and waits
// for all of them up to base + perContract*len(batch).
func (f *ChainFetcher) fetchBatch(ctx context.Context, sess ChainSession, batch []models.Contract) batchResult {
	timeout := f.cfg.BatchTimeoutBase + time.Duration(len(batch))*f.cfg.BatchTimeoutPerContract
	bctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outcomes := make([]error, len(batch))
	quotes := make([]models.Quote, len(batch))
	for i := range outcomes {
		outcomes[i] = apperr.Timeout("not requested before the batch deadline")
	}

	var wg sync.WaitGroup
	for i, c := range batch {
		if i > 0 && !sleepCtx(bctx, f.cfg.RequestDelay) {
			break
		}
		wg.Add(1)
		go func(i int, c models.Contract) {
			defer wg.Done()
			quotes[i], outcomes[i] = f.fetchOne(bctx, sess, c)
		}(i, c)
	}
	wg.Wait()

	var res batchResult
	for i, err := range outcomes {
		switch {
		case err == nil:
			res.quotes = append(res.quotes, quotes[i])
		case isNoSecurityDefinition(err):
			res.excluded++
		case apperr.Is(err, apperr.KindConnectivity):
			res.lost = true
		default:
			res.failed++
			f.log.Debug("contract fetch failed", logger.String("contract", batch[i].Key()), logger.Error(err))
		}
	}
	return res
}

func (f *ChainFetcher) fetchOne(ctx context.Context, sess ChainSession, c models.Contract) (models.Quote, error) {
	if err := f.pace(ctx); err != nil {
		return models.Quote{}, apperr.Timeout("paced out").WithError(err)
	}
	details, err := sess.ContractDetails(ctx, c)
	if err != nil {
		return models.Quote{}, err
	}
	if len(details) == 0 {
		return models.Quote{}, broker.Classify(broker.CodeNoSecurityDefinition, c.Key()).Err()
	}
	if err := f.pace(ctx); err != nil {
		return models.Quote{}, apperr.Timeout("paced out").WithError(err)
	}
	return sess.MarketSnapshot(ctx, details[0])
}

func (f *ChainFetcher) pace(ctx context.Context) error {
	if f.limiter == nil || f.cfg.BrokerMsgPerSec <= 0 {
		return nil
	}
	return f.limiter.Wait(ctx, "broker-msg", f.cfg.BrokerMsgPerSec, f.cfg.BrokerMsgPerSec)
}

func isNoSecurityDefinition(err error) bool {
	e, ok := apperr.As(err)
	return ok && e.BrokerCode == broker.CodeNoSecurityDefinition
}

// sleepCtx reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
