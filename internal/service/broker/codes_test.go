package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"ArbRelay/internal/domain/apperr"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		raw      int
		kind     ErrorKind
		severity Severity
	}{
		{200, NoSecurityDefinition, SeverityError},
		{201, OrderRejected, SeverityError},
		{326, ClientIDInUse, SeverityError},
		{399, OrderWarning, SeverityWarning},
		{1100, ConnectivityLost, SeverityFatal},
		{504, NotConnected, SeverityFatal},
		{1102, ConnectivityRestored, SeverityWarning},
		{2104, FarmStatus, SeverityInfo},
		{10167, DelayedMarketData, SeverityWarning},
		{98765, Unmapped, SeverityError},
	}
	for _, tt := range tests {
		code := Classify(tt.raw, "text")
		assert.Equal(t, tt.kind, code.Kind, "code %d", tt.raw)
		assert.Equal(t, tt.severity, code.Severity(), "code %d", tt.raw)
		assert.NotEmpty(t, code.Message())
	}
}

func TestUnmappedKeepsRawCode(t *testing.T) {
	code := Classify(98765, "something odd")
	assert.Equal(t, "broker error 98765: something odd", code.Message())

	err := code.Err()
	assert.Equal(t, apperr.KindBroker, err.Kind)
	assert.Equal(t, 98765, err.BrokerCode)
}

func TestFatalCodesMapToConnectivity(t *testing.T) {
	err := Classify(CodeConnectivityLost, "Connectivity between IB and TWS has been lost").Err()
	assert.Equal(t, apperr.KindConnectivity, err.Kind)
	assert.True(t, IsClientIDInUse(Classify(CodeClientIDInUse, "").Err()))
}
