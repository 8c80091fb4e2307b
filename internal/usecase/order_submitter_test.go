package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ArbRelay/internal/domain/apperr"
	"ArbRelay/internal/domain/models"
	"ArbRelay/internal/service/broker"
	"ArbRelay/pkg/logger"
	"ArbRelay/pkg/metrics"
)

func limitBuy(qty float64) models.OrderRequest {
	return models.OrderRequest{
		Contract:    models.Stock("ACME"),
		Action:      models.ActionBuy,
		Quantity:    qty,
		OrderType:   models.OrderLimit,
		LimitPrice:  94.5,
		TimeInForce: "DAY",
	}
}

func newTestSubmitter(sink OutputSink) *OrderSubmitter {
	return NewOrderSubmitter(OrderConfig{AckTimeout: 200 * time.Millisecond, PreviewTimeout: 200 * time.Millisecond, CancelTimeout: 200 * time.Millisecond},
		sink, logger.Nop(), metrics.Noop{})
}

func TestPlaceRejectsZeroQuantityBeforeSubmitting(t *testing.T) {
	gw := testGateway()
	sess := testSession(t, gw)

	res, err := newTestSubmitter(nil).Place(context.Background(), sess, "u1", limitBuy(0))
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	ae, _ := apperr.As(err)
	assert.Equal(t, "quantity", ae.Field)
	assert.Equal(t, models.OrderDraft, res.State)
	assert.Zero(t, gw.Count(broker.ReqPlaceOrder))
}

func TestPlaceAcknowledged(t *testing.T) {
	sink := newRecordingSink()
	sess := testSession(t, testGateway())

	res, err := newTestSubmitter(sink).Place(context.Background(), sess, "u1", limitBuy(10))
	require.NoError(t, err)
	assert.Equal(t, models.OrderAcknowledged, res.State)
	assert.Equal(t, "Submitted", res.BrokerStatus)
	assert.Positive(t, res.AssignedOrderID)
	assert.True(t, sess.IDs().IsOrderID(res.AssignedOrderID), "orders draw from the order half of the id space")

	ev := <-sink.events
	require.Equal(t, models.OutputOrder, ev.Kind)
	assert.Equal(t, "u1", ev.Order.UserID)
	assert.Equal(t, res.AssignedOrderID, ev.Order.OrderID)
}

func TestPlaceRejectedCarriesOrderID(t *testing.T) {
	gw := testGateway()
	gw.RejectOrders(broker.CodeOrderRejected, "Order rejected - reason: insufficient margin")
	sess := testSession(t, gw)

	res, err := newTestSubmitter(nil).Place(context.Background(), sess, "u1", limitBuy(10))
	require.Error(t, err)
	assert.Equal(t, models.OrderRejected, res.State)

	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindBroker, ae.Kind)
	assert.Equal(t, broker.CodeOrderRejected, ae.BrokerCode)
	assert.Equal(t, res.AssignedOrderID, ae.OrderID)
	assert.NotZero(t, ae.OrderID)
}

func TestPlaceWithoutAckTimesOut(t *testing.T) {
	gw := testGateway()
	gw.HoldOrders(true)
	sess := testSession(t, gw)

	res, err := newTestSubmitter(nil).Place(context.Background(), sess, "u1", limitBuy(10))
	require.Error(t, err)
	assert.Equal(t, models.OrderTimedOut, res.State)

	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindTimeout, ae.Kind)
	assert.Equal(t, res.AssignedOrderID, ae.OrderID)
	assert.EqualValues(t, 1, gw.Count(broker.ReqPlaceOrder), "a timed-out order is never resubmitted")
}

func TestPreviewReturnsCommission(t *testing.T) {
	sess := testSession(t, testGateway())
	req := limitBuy(10)
	req.Preview = true

	res, err := newTestSubmitter(nil).Place(context.Background(), sess, "u1", req)
	require.NoError(t, err)
	assert.Equal(t, models.OrderAcknowledged, res.State)
	assert.InDelta(t, 6.5, res.Commission, 1e-9)
	assert.Positive(t, res.InitMargin)
}

func TestCancelPlacedOrder(t *testing.T) {
	sess := testSession(t, testGateway())
	orders := newTestSubmitter(nil)

	placed, err := orders.Place(context.Background(), sess, "u1", limitBuy(10))
	require.NoError(t, err)

	res, err := orders.Cancel(context.Background(), sess, models.CancelRequest{OrderID: placed.AssignedOrderID})
	require.NoError(t, err)
	assert.Equal(t, "Cancelled", res.BrokerStatus)
	assert.False(t, res.CancelledAt.IsZero())
}

func TestCancelUnknownOrder(t *testing.T) {
	sess := testSession(t, testGateway())

	_, err := newTestSubmitter(nil).Cancel(context.Background(), sess, models.CancelRequest{OrderID: 424242})
	require.Error(t, err)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, broker.CodeOrderNotFound, ae.BrokerCode)
	assert.EqualValues(t, 424242, ae.OrderID)
}

func TestPlaceOnLostSession(t *testing.T) {
	gw := testGateway()
	sess := testSession(t, gw)
	gw.Kill()
	<-sess.Done()

	res, err := newTestSubmitter(nil).Place(context.Background(), sess, "u1", limitBuy(10))
	require.Error(t, err)
	assert.Equal(t, apperr.KindConnectivity, apperr.KindOf(err))
	assert.Equal(t, models.OrderValidated, res.State)
}

func TestCancelWhilePlacementAwaitsAck(t *testing.T) {
	gw := testGateway()
	gw.HoldOrders(true)
	sess := testSession(t, gw)
	orders := NewOrderSubmitter(OrderConfig{AckTimeout: 3 * time.Second, CancelTimeout: time.Second}, nil, logger.Nop(), metrics.Noop{})

	type placed struct {
		res *models.OrderResult
		err error
	}
	placing := make(chan placed, 1)
	go func() {
		res, err := orders.Place(context.Background(), sess, "u1", limitBuy(10))
		placing <- placed{res, err}
	}()
	require.Eventually(t, func() bool { return gw.Count(broker.ReqPlaceOrder) == 1 }, time.Second, 5*time.Millisecond)

	orderID := sess.IDs().Base()
	res, err := orders.Cancel(context.Background(), sess, models.CancelRequest{OrderID: orderID})
	require.NoError(t, err)
	assert.Equal(t, "Cancelled", res.BrokerStatus)

	p := <-placing
	require.Error(t, p.err)
	assert.Equal(t, orderID, p.res.AssignedOrderID)
	assert.Equal(t, models.OrderRejected, p.res.State)
	assert.Equal(t, "Cancelled", p.res.BrokerStatus)
}

func TestCancelRejectsDataRequestID(t *testing.T) {
	gw := testGateway()
	sess := testSession(t, gw)

	_, err := newTestSubmitter(nil).Cancel(context.Background(), sess, models.CancelRequest{OrderID: sess.IDs().Base() + 1})
	require.Error(t, err)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindValidation, ae.Kind)
	assert.Equal(t, "order_id", ae.Field)
	assert.Zero(t, gw.Count(broker.ReqCancelOrder))
}
