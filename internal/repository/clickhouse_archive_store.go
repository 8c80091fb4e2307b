package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ArbRelay/internal/domain/models"
	pkgch "ArbRelay/pkg/clickhouse"
	applogger "ArbRelay/pkg/logger"
)

var archiveSchema = []string{
	`CREATE TABLE IF NOT EXISTS chain_quotes (
		fetched_at   DateTime64(3, 'UTC'),
		request_id   String,
		ticker       LowCardinality(String),
		spot_price   Float64,
		expiry       String,
		strike       Float64,
		right        LowCardinality(String),
		bid          Float64,
		ask          Float64,
		last         Float64,
		close        Float64,
		partial      UInt8
	) ENGINE = MergeTree
	PARTITION BY toYYYYMM(fetched_at)
	ORDER BY (ticker, fetched_at, expiry, strike, right)
	TTL toDateTime(fetched_at) + INTERVAL 90 DAY`,

	`CREATE TABLE IF NOT EXISTS spread_candidates (
		fetched_at        DateTime64(3, 'UTC'),
		request_id        String,
		ticker            LowCardinality(String),
		spread_type       LowCardinality(String),
		expiration        String,
		days_to_expiry    UInt32,
		long_strike       Float64,
		short_strike      Float64,
		net_premium       Float64,
		max_profit        Float64,
		max_loss          Float64,
		annualized_return Float64,
		expected_value    Float64,
		rank              UInt16
	) ENGINE = MergeTree
	PARTITION BY toYYYYMM(fetched_at)
	ORDER BY (ticker, fetched_at, spread_type, expiration, rank)`,

	`CREATE TABLE IF NOT EXISTS order_events (
		at            DateTime64(3, 'UTC'),
		request_id    String,
		user_id       String,
		order_id      Int64,
		state         LowCardinality(String),
		broker_status String,
		symbol        LowCardinality(String),
		contract_key  String,
		action        LowCardinality(String),
		quantity      Float64,
		limit_price   Float64,
		preview       UInt8,
		message       String
	) ENGINE = ReplacingMergeTree
	PARTITION BY toYYYYMM(at)
	ORDER BY (user_id, at, order_id, state)`,
}

const (
	insertChainQuote = `INSERT INTO chain_quotes (fetched_at, request_id, ticker, spot_price, expiry, strike, right,
		bid, ask, last, close, partial) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	insertSpread = `INSERT INTO spread_candidates (fetched_at, request_id, ticker, spread_type, expiration,
		days_to_expiry, long_strike, short_strike, net_premium, max_profit, max_loss, annualized_return,
		expected_value, rank) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	insertOrderEvent = `INSERT INTO order_events (at, request_id, user_id, order_id, state, broker_status, symbol,
		contract_key, action, quantity, limit_price, preview, message) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
)

// CHArchiveStore keeps the history of agent output in ClickHouse.
type CHArchiveStore struct {
	ch *pkgch.Client
	db *sql.DB
	l  *applogger.Logger
}

func NewCHArchiveStore(ch *pkgch.Client, l *applogger.Logger) *CHArchiveStore {
	return &CHArchiveStore{ch: ch, db: ch.DB(), l: l.Component("archive_store")}
}

func (s *CHArchiveStore) Init(ctx context.Context) error {
	return s.ch.InitSchema(ctx, archiveSchema)
}

// StoreChain writes one row per quoted contract and one per spread candidate.
func (s *CHArchiveStore) StoreChain(ctx context.Context, requestID string, res *models.ChainResult) error {
	snap := res.Snapshot
	if snap == nil {
		return nil
	}
	quotes := make([][]interface{}, 0, len(snap.Contracts))
	for _, q := range snap.Contracts {
		quotes = append(quotes, []interface{}{
			snap.FetchedAt.UTC(), requestID, snap.Ticker, snap.SpotPrice, q.Contract.Expiry, q.Contract.Strike,
			string(q.Contract.Right), q.Bid, q.Ask, q.Last, q.Close, boolToUInt8(snap.Partial),
		})
	}
	if err := s.ch.InsertBatch(ctx, insertChainQuote, quotes); err != nil {
		s.l.Error("insert chain quotes failed", applogger.String("ticker", snap.Ticker), applogger.Error(err))
		return fmt.Errorf("store chain quotes: %w", err)
	}

	spreads := make([][]interface{}, 0, len(res.Candidates))
	for _, c := range res.Candidates {
		spreads = append(spreads, []interface{}{
			snap.FetchedAt.UTC(), requestID, snap.Ticker, string(c.Type), c.Expiration, uint32(c.DaysToExpiry),
			c.LongLeg.Contract.Strike, c.ShortLeg.Contract.Strike, c.NetPremium, c.MaxProfit, c.MaxLoss,
			c.AnnualizedReturn, c.ExpectedValue, uint16(c.Rank),
		})
	}
	if err := s.ch.InsertBatch(ctx, insertSpread, spreads); err != nil {
		s.l.Error("insert spread candidates failed", applogger.String("ticker", snap.Ticker), applogger.Error(err))
		return fmt.Errorf("store spread candidates: %w", err)
	}
	return nil
}

func (s *CHArchiveStore) StoreOrderEvent(ctx context.Context, requestID string, ev *models.OrderEvent) error {
	row := []interface{}{
		ev.At.UTC(), requestID, ev.UserID, ev.OrderID, string(ev.State), ev.BrokerStatus, ev.Symbol,
		ev.ContractKey, string(ev.Action), ev.Quantity, ev.LimitPrice, boolToUInt8(ev.Preview), ev.Message,
	}
	if err := s.ch.InsertBatch(ctx, insertOrderEvent, [][]interface{}{row}); err != nil {
		s.l.Error("insert order event failed", applogger.String("user_id", ev.UserID),
			applogger.Int64("order_id", ev.OrderID), applogger.Error(err))
		return fmt.Errorf("store order event: %w", err)
	}
	return nil
}

// QueryOrderEvents returns a user's order events in [from, to], newest first.
func (s *CHArchiveStore) QueryOrderEvents(ctx context.Context, userID string, from, to time.Time, limit int) ([]*models.OrderEvent, error) {
	const q = `
		SELECT at, user_id, order_id, state, broker_status, symbol, contract_key, action,
		       quantity, limit_price, preview, message
		FROM order_events FINAL
		WHERE user_id = ? AND at >= ? AND at <= ?
		ORDER BY at DESC
		LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, userID, from.UTC(), to.UTC(), limit)
	if err != nil {
		s.l.Error("query order events failed", applogger.String("user_id", userID), applogger.Error(err))
		return nil, fmt.Errorf("query order events: %w", err)
	}
	defer rows.Close()

	out := make([]*models.OrderEvent, 0, limit)
	for rows.Next() {
		var (
			ev            models.OrderEvent
			state, action string
			preview       uint8
		)
		if err := rows.Scan(&ev.At, &ev.UserID, &ev.OrderID, &state, &ev.BrokerStatus, &ev.Symbol,
			&ev.ContractKey, &action, &ev.Quantity, &ev.LimitPrice, &preview, &ev.Message); err != nil {
			return nil, fmt.Errorf("scan order event: %w", err)
		}
		ev.State = models.OrderState(state)
		ev.Action = models.OrderAction(action)
		ev.Preview = preview == 1
		out = append(out, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (s *CHArchiveStore) Health(ctx context.Context) error {
	return s.ch.Health(ctx)
}

func (s *CHArchiveStore) Close() error {
	return s.ch.Close()
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
