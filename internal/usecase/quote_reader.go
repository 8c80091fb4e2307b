package usecase

import (
	"context"
	"strings"
	"time"

	"ArbRelay/internal/domain/apperr"
	"ArbRelay/internal/domain/models"
	"ArbRelay/internal/service/broker"
	"ArbRelay/pkg/validate"
)

type QuoteReader struct {
	timeout time.Duration
}

func NewQuoteReader(timeout time.Duration) *QuoteReader {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &QuoteReader{timeout: timeout}
}

func (q *QuoteReader) Quote(ctx context.Context, sess ChainSession, req models.QuoteRequest) (*models.Quote, error) {
	if err := validate.Struct(ctx, &req); err != nil {
		return nil, apperr.FromValidator(err)
	}
	if field, msg := req.Contract.CheckOption(); field != "" {
		return nil, apperr.Validation(field, msg)
	}
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	c := req.Contract
	c.Symbol = strings.ToUpper(c.Symbol)
	if c.ResolvedID == 0 {
		details, err := sess.ContractDetails(ctx, c)
		if err != nil {
			return nil, err
		}
		if len(details) == 0 {
			return nil, broker.Classify(broker.CodeNoSecurityDefinition, c.Key()).Err()
		}
		c = details[0]
	}
	quote, err := sess.MarketSnapshot(ctx, c)
	if err != nil {
		return nil, err
	}
	return &quote, nil
}

func (q *QuoteReader) UnderlyingPrice(ctx context.Context, sess ChainSession, req models.UnderlyingPriceRequest) (*models.UnderlyingPrice, error) {
	if err := validate.Struct(ctx, &req); err != nil {
		return nil, apperr.FromValidator(err)
	}
	quote, err := q.Quote(ctx, sess, models.QuoteRequest{Contract: models.Stock(req.Symbol)})
	if err != nil {
		return nil, err
	}
	return &models.UnderlyingPrice{Symbol: quote.Contract.Symbol, Price: quote.Mid(), AsOf: quote.AsOf}, nil
}
