package models

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ArbRelay/internal/domain/apperr"
)

func validOrder() OrderRequest {
	return OrderRequest{
		Contract:    Option("aapl", "20250117", 150, RightCall),
		Action:      ActionBuy,
		Quantity:    1,
		OrderType:   OrderLimit,
		LimitPrice:  2.5,
		TimeInForce: "DAY",
	}
}

func TestOrderValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*OrderRequest)
		field  string
	}{
		{"valid", func(*OrderRequest) {}, ""},
		{"zero quantity", func(r *OrderRequest) { r.Quantity = 0 }, "quantity"},
		{"negative limit", func(r *OrderRequest) { r.LimitPrice = -1 }, "limit_price"},
		{"bad action", func(r *OrderRequest) { r.Action = "HOLD" }, "action"},
		{"missing symbol", func(r *OrderRequest) { r.Contract.Symbol = "" }, "contract.symbol"},
		{"option without right", func(r *OrderRequest) { r.Contract.Right = "" }, "contract.right"},
		{"stop without stop price", func(r *OrderRequest) { r.OrderType = OrderStop }, "stop_price"},
		{"market ignores limit", func(r *OrderRequest) { r.OrderType = OrderMarket; r.LimitPrice = -3 }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validOrder()
			tt.mutate(&req)
			err := req.Validate(context.Background())
			if tt.field == "" {
				require.NoError(t, err)
				return
			}
			e, ok := apperr.As(err)
			require.True(t, ok, "expected *apperr.Error, got %v", err)
			assert.Equal(t, apperr.KindValidation, e.Kind)
			assert.Equal(t, tt.field, e.Field)
		})
	}
}

func TestOrderTransitions(t *testing.T) {
	res := NewOrderResult(validOrder())
	require.NoError(t, res.Advance(OrderValidated))
	require.NoError(t, res.Advance(OrderSubmitted))

	err := res.Advance(OrderValidated)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	require.NoError(t, res.Advance(OrderTimedOut))
	assert.True(t, res.State.Terminal())
	assert.Error(t, res.Advance(OrderAcknowledged))
}

func TestContractKey(t *testing.T) {
	assert.Equal(t, "AAPL|STK", Stock("aapl").Key())
	assert.Equal(t, "AAPL|OPT|20250117|152.5|P", Option("AAPL", "20250117", 152.5, RightPut).Key())
}
