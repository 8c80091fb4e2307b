package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ArbRelay/internal/domain/apperr"
)

func TestPolicyNeverFallsBackForSideEffects(t *testing.T) {
	for _, op := range []Op{OpPositions, OpPlaceOrder, OpCancelOrder, Op("unknown")} {
		assert.Equal(t, OwnerScoped, op.Policy(), op)
	}
	for _, op := range []Op{OpFetchChain, OpQuote, OpUnderlyingPrice} {
		assert.Equal(t, BestEffort, op.Policy(), op)
	}
}

func TestRequestRoundTrip(t *testing.T) {
	deadline := time.Now().Add(30 * time.Second).Truncate(time.Millisecond)
	f, err := NewRequest("r1", OpQuote, map[string]string{"symbol": "ACME"}, deadline)
	require.NoError(t, err)

	b, err := Encode(f)
	require.NoError(t, err)
	got, err := Decode(b)
	require.NoError(t, err)

	assert.Equal(t, FrameRequest, got.Type)
	assert.Equal(t, OpQuote, got.Op)
	assert.True(t, deadline.Equal(got.Deadline()))
	assert.JSONEq(t, `{"symbol":"ACME"}`, string(got.Payload))
}

func TestResponseCarriesTypedError(t *testing.T) {
	f := NewResponse("r2", nil, apperr.Timeout("no ack").WithOrderID(9))
	b, err := Encode(f)
	require.NoError(t, err)
	got, err := Decode(b)
	require.NoError(t, err)

	require.NotNil(t, got.Error)
	assert.Equal(t, apperr.KindTimeout, got.Error.Kind)
	assert.Equal(t, int64(9), got.Error.OrderID)
	assert.Nil(t, got.Result)
}

func TestResponseWrapsForeignErrors(t *testing.T) {
	f := NewResponse("r3", nil, errors.New("disk on fire"))
	assert.Equal(t, apperr.KindInternal, f.Error.Kind)
}

func TestDecodeRejectsUntypedFrames(t *testing.T) {
	_, err := Decode([]byte(`{"request_id":"x"}`))
	assert.Error(t, err)
	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)

	raw, _ := json.Marshal(Ping())
	f, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, FramePing, f.Type)
}
