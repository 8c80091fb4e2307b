package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
)

func TestRequestIDHook(t *testing.T) {
	km := kafka.Message{Headers: []kafka.Header{{Key: HeaderRequestID, Value: []byte("r-1")}}}
	ctx, _, _, err := RequestIDHook().BeforeHandle(context.Background(), "t", km, nil)
	assert.NoError(t, err)
	assert.Equal(t, "r-1", RequestID(ctx))

	ctx, _, _, _ = RequestIDHook().BeforeHandle(context.Background(), "t", kafka.Message{}, nil)
	assert.Empty(t, RequestID(ctx))
}

func TestBackoffWithJitterStaysInRange(t *testing.T) {
	for attempt := 1; attempt < 12; attempt++ {
		d := backoffWithJitter(50*time.Millisecond, time.Second, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
}

func TestEncode(t *testing.T) {
	b, err := encode(map[string]int{"a": 1})
	assert.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(b))

	b, _ = encode("raw")
	assert.Equal(t, "raw", string(b))
}
