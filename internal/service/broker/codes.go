package broker

import (
	"fmt"

	"ArbRelay/internal/domain/apperr"
)

// Raw gateway codes the agent reacts to.
const (
	CodeDuplicateOrderID     = 103
	CodeInvalidPriceTick     = 110
	CodeCancelNotAllowed     = 161
	CodeHistoricalData       = 162
	CodeNoSecurityDefinition = 200
	CodeOrderRejected        = 201
	CodeOrderCancelled       = 202
	CodeRequestValidation    = 321
	CodeClientIDInUse        = 326
	CodeMarketDataRequest    = 354
	CodeOrderWarning         = 399
	CodeCouldNotConnect      = 502
	CodeNotConnected         = 504
	CodeConnectivityLost     = 1100
	CodeRestoredDataLost     = 1101
	CodeRestoredDataKept     = 1102
	CodeMarketDataFarmOK     = 2104
	CodeHistFarmOK           = 2106
	CodeFarmBroken           = 2110
	CodeSecDefFarmOK         = 2158
	CodeAdditionalSubNeeded  = 10089
	CodeOrderNotFound        = 10147
	CodeDelayedData          = 10167
)

// ErrorKind is the closed set of broker conditions the agent distinguishes.
type ErrorKind int

const (
	Unmapped ErrorKind = iota
	NoSecurityDefinition
	OrderRejected
	OrderCancelled
	DuplicateOrderID
	InvalidPrice
	CancelNotAllowed
	OrderNotFound
	OrderWarning
	RequestInvalid
	ClientIDInUse
	MarketDataUnavailable
	DelayedMarketData
	CouldNotConnect
	NotConnected
	ConnectivityLost
	ConnectivityRestored
	FarmStatus
)

type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	}
	return "unknown"
}

// Code is a classified gateway error.
type Code struct {
	Kind ErrorKind
	Raw  int
	Text string
}

func Classify(raw int, text string) Code {
	return Code{Kind: kindOf(raw), Raw: raw, Text: text}
}

func kindOf(raw int) ErrorKind {
	switch raw {
	case CodeNoSecurityDefinition:
		return NoSecurityDefinition
	case CodeOrderRejected:
		return OrderRejected
	case CodeOrderCancelled:
		return OrderCancelled
	case CodeDuplicateOrderID:
		return DuplicateOrderID
	case CodeInvalidPriceTick:
		return InvalidPrice
	case CodeCancelNotAllowed:
		return CancelNotAllowed
	case CodeOrderNotFound:
		return OrderNotFound
	case CodeOrderWarning:
		return OrderWarning
	case CodeRequestValidation, CodeHistoricalData:
		return RequestInvalid
	case CodeClientIDInUse:
		return ClientIDInUse
	case CodeMarketDataRequest, CodeAdditionalSubNeeded:
		return MarketDataUnavailable
	case CodeDelayedData:
		return DelayedMarketData
	case CodeCouldNotConnect:
		return CouldNotConnect
	case CodeNotConnected:
		return NotConnected
	case CodeConnectivityLost:
		return ConnectivityLost
	case CodeRestoredDataLost, CodeRestoredDataKept:
		return ConnectivityRestored
	case CodeMarketDataFarmOK, CodeHistFarmOK, CodeSecDefFarmOK, CodeFarmBroken:
		return FarmStatus
	}
	return Unmapped
}

func (c Code) Severity() Severity {
	switch c.Kind {
	case ConnectivityLost, NotConnected, CouldNotConnect:
		return SeverityFatal
	case OrderWarning, DelayedMarketData, ConnectivityRestored:
		return SeverityWarning
	case FarmStatus:
		return SeverityInfo
	case NoSecurityDefinition, OrderRejected, OrderCancelled, DuplicateOrderID, InvalidPrice,
		CancelNotAllowed, OrderNotFound, RequestInvalid, ClientIDInUse, MarketDataUnavailable, Unmapped:
		return SeverityError
	}
	return SeverityError
}

// Message is the curated text for the dashboard.
func (c Code) Message() string {
	switch c.Kind {
	case NoSecurityDefinition:
		return "no security definition found for the contract"
	case OrderRejected:
		return "order rejected by the broker: " + c.Text
	case OrderCancelled:
		return "order cancelled"
	case DuplicateOrderID:
		return "duplicate order id"
	case InvalidPrice:
		return "price does not conform to the minimum price variation"
	case CancelNotAllowed:
		return "order cannot be cancelled in its current state"
	case OrderNotFound:
		return "order to cancel was not found"
	case OrderWarning:
		return "order warning: " + c.Text
	case RequestInvalid:
		return "request rejected by the broker: " + c.Text
	case ClientIDInUse:
		return "client id already in use"
	case MarketDataUnavailable:
		return "market data not available for the contract"
	case DelayedMarketData:
		return "market data is delayed"
	case CouldNotConnect:
		return "gateway could not connect"
	case NotConnected:
		return "gateway not connected"
	case ConnectivityLost:
		return "connectivity between gateway and broker lost"
	case ConnectivityRestored:
		return "connectivity between gateway and broker restored"
	case FarmStatus:
		return "data farm status: " + c.Text
	case Unmapped:
		return fmt.Sprintf("broker error %d: %s", c.Raw, c.Text)
	}
	return fmt.Sprintf("broker error %d: %s", c.Raw, c.Text)
}

// Err converts the code into the shared error taxonomy.
func (c Code) Err() *apperr.Error {
	if c.Severity() == SeverityFatal {
		e := apperr.NotConnected(c.Message())
		e.BrokerCode = c.Raw
		return e
	}
	return apperr.Broker(c.Raw, c.Message())
}

// IsClientIDInUse reports whether err is the handshake rejection for a taken client id.
func IsClientIDInUse(err error) bool {
	e, ok := apperr.As(err)
	return ok && e.BrokerCode == CodeClientIDInUse
}
