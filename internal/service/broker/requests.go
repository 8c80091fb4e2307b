package broker

import (
	"context"
	"errors"
	"sort"
	"time"

	"ArbRelay/internal/domain/apperr"
	"ArbRelay/internal/domain/models"
	"ArbRelay/pkg/logger"
)

func waitErr(err error, what string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperr.Timeout(what + " timed out").WithError(err)
	}
	return err
}

func overflowErr(st *Stream, what string) error {
	if st.Overflowed() {
		return apperr.Internal(what+": callbacks dropped, mailbox overflowed", nil)
	}
	return nil
}

// errorFor returns nil for informational and warning callbacks, which do not end a request.
func (s *Session) errorFor(ev Event) error {
	code := Classify(ev.Code, ev.Message)
	if code.Severity() < SeverityError {
		s.logCode(code, ev.routingID())
		return nil
	}
	return code.Err()
}

// ContractDetails resolves c. An unknown contract fails with NoSecurityDefinition.
func (s *Session) ContractDetails(ctx context.Context, c models.Contract) ([]models.Contract, error) {
	id := s.ids.NextDataID()
	st, err := s.Submit(ctx, id, Request{Kind: ReqContractDetails, ReqID: id, Contract: &c})
	if err != nil {
		return nil, err
	}
	defer st.Close()

	var out []models.Contract
	for {
		ev, err := st.Next(ctx)
		if err != nil {
			return nil, waitErr(err, "contract details")
		}
		switch ev.Kind {
		case EvContractDetails:
			if ev.Contract != nil {
				out = append(out, *ev.Contract)
			}
		case EvContractDetailsEnd:
			return out, overflowErr(st, "contract details")
		case EvError:
			if err := s.errorFor(ev); err != nil {
				return nil, err
			}
		}
	}
}

// OptionParams returns the sorted union of expirations and strikes across exchanges.
func (s *Session) OptionParams(ctx context.Context, underlying models.Contract) ([]string, []float64, error) {
	id := s.ids.NextDataID()
	st, err := s.Submit(ctx, id, Request{
		Kind:         ReqOptionParams,
		ReqID:        id,
		Contract:     &underlying,
		UnderlyingID: underlying.ResolvedID,
	})
	if err != nil {
		return nil, nil, err
	}
	defer st.Close()

	expSet := make(map[string]struct{})
	strikeSet := make(map[float64]struct{})
	for {
		ev, err := st.Next(ctx)
		if err != nil {
			return nil, nil, waitErr(err, "option parameters")
		}
		switch ev.Kind {
		case EvOptionParams:
			for _, e := range ev.Expirations {
				expSet[e] = struct{}{}
			}
			for _, k := range ev.Strikes {
				strikeSet[k] = struct{}{}
			}
		case EvOptionParamsEnd:
			exps := make([]string, 0, len(expSet))
			for e := range expSet {
				exps = append(exps, e)
			}
			strikes := make([]float64, 0, len(strikeSet))
			for k := range strikeSet {
				strikes = append(strikes, k)
			}
			sort.Strings(exps)
			sort.Float64s(strikes)
			return exps, strikes, nil
		case EvError:
			if err := s.errorFor(ev); err != nil {
				return nil, nil, err
			}
		}
	}
}

// MarketSnapshot requests a one-shot quote for a resolved contract.
func (s *Session) MarketSnapshot(ctx context.Context, c models.Contract) (models.Quote, error) {
	id := s.ids.NextDataID()
	q := models.Quote{Contract: c}
	st, err := s.Submit(ctx, id, Request{Kind: ReqMarketData, ReqID: id, Contract: &c, Snapshot: true})
	if err != nil {
		return q, err
	}
	defer st.Close()

	for {
		ev, err := st.Next(ctx)
		if err != nil {
			if !s.Lost() {
				_ = s.Fire(context.Background(), Request{Kind: ReqCancelMktData, ReqID: id})
			}
			return q, waitErr(err, "market data snapshot")
		}
		switch ev.Kind {
		case EvTickPrice:
			switch ev.Field {
			case TickBid:
				q.Bid = ev.Price
			case TickAsk:
				q.Ask = ev.Price
			case TickLast:
				q.Last = ev.Price
			case TickClose:
				q.Close = ev.Price
			}
		case EvTickSnapshotEnd:
			q.AsOf = time.Now()
			return q, nil
		case EvError:
			if err := s.errorFor(ev); err != nil {
				return q, err
			}
		}
	}
}

// Positions collects one full positions cycle.
func (s *Session) Positions(ctx context.Context) ([]models.PositionSnapshot, error) {
	st, err := s.SubmitPositions(ctx)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	var out []models.PositionSnapshot
	for {
		ev, err := st.Next(ctx)
		if err != nil {
			return nil, waitErr(err, "positions")
		}
		switch ev.Kind {
		case EvPosition:
			if ev.Contract == nil {
				continue
			}
			out = append(out, models.PositionSnapshot{
				AccountID: ev.Account,
				Contract:  *ev.Contract,
				Quantity:  ev.Position,
				AvgCost:   ev.AvgCost,
			})
		case EvPositionEnd:
			if err := s.Fire(ctx, Request{Kind: ReqCancelPositions}); err != nil {
				s.log.Debug("cancel positions failed", logger.Error(err))
			}
			if err := overflowErr(st, "positions"); err != nil {
				return nil, err
			}
			now := time.Now()
			for i := range out {
				out[i].AsOf = now
			}
			return out, nil
		}
	}
}

// Ping round-trips a current-time request.
func (s *Session) Ping(ctx context.Context) (time.Time, error) {
	id := s.ids.NextDataID()
	st, err := s.Submit(ctx, id, Request{Kind: ReqCurrentTime, ReqID: id})
	if err != nil {
		return time.Time{}, err
	}
	defer st.Close()

	for {
		ev, err := st.Next(ctx)
		if err != nil {
			return time.Time{}, waitErr(err, "heartbeat")
		}
		if ev.Kind == EvCurrentTime {
			return time.Unix(ev.Time, 0), nil
		}
	}
}
