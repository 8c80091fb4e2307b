package apperr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ArbRelay/pkg/validate"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.Equal(t, KindTimeout, KindOf(fmt.Errorf("wrapped: %w", Timeout("slow"))))
	assert.True(t, Is(NoAgentForUser("u1"), KindRouting))
}

func TestErrorSurvivesJSON(t *testing.T) {
	src := Timeout("no acknowledgment").WithOrderID(42).WithRequestID("req-1")

	raw, err := json.Marshal(src)
	require.NoError(t, err)

	var got Error
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, KindTimeout, got.Kind)
	assert.Equal(t, int64(42), got.OrderID)
	assert.Equal(t, "req-1", got.RequestID)
}

func TestFromValidator(t *testing.T) {
	type req struct {
		Quantity float64 `json:"quantity" validate:"gt=0"`
	}
	err := FromValidator(validate.Struct(context.Background(), &req{}))

	assert.Equal(t, KindValidation, err.Kind)
	assert.Equal(t, "quantity", err.Field)
	assert.Contains(t, err.Error(), "quantity")
	require.Len(t, err.Details, 1)
}

func TestRoutingErrorsAreDistinct(t *testing.T) {
	assert.Equal(t, CodeNoAgentForUser, NoAgentForUser("u1").Code)
	assert.Equal(t, CodeNoAgentConnected, NoAgentConnected().Code)
}
