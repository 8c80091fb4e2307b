// Package apperr is the error taxonomy shared by the relay and the agent.
// Errors cross the relay link as JSON, so every field that matters to a caller is exported.
package apperr

import (
	"errors"
	"fmt"

	"ArbRelay/pkg/validate"
)

type Kind string

const (
	KindValidation   Kind = "validation"
	KindConnectivity Kind = "connectivity"
	KindBroker       Kind = "broker"
	KindTimeout      Kind = "timeout"
	KindRouting      Kind = "routing"
	KindInternal     Kind = "internal"
)

const (
	CodeInvalidField     = "ERR_INVALID_FIELD"
	CodeNotConnected     = "ERR_NOT_CONNECTED"
	CodeBroker           = "ERR_BROKER"
	CodeTimeout          = "ERR_TIMEOUT"
	CodeNoAgentForUser   = "ERR_NO_AGENT_FOR_USER"
	CodeNoAgentConnected = "ERR_NO_AGENT_CONNECTED"
	CodeInternal         = "ERR_INTERNAL"
)

type Error struct {
	Kind       Kind                  `json:"kind"`
	Code       string                `json:"code"`
	Message    string                `json:"message"`
	Field      string                `json:"field,omitempty"`
	Details    []validate.FieldError `json:"details,omitempty"`
	BrokerCode int                   `json:"broker_code,omitempty"`
	OrderID    int64                 `json:"order_id,omitempty"`
	RequestID  string                `json:"request_id,omitempty"`
	Err        error                 `json:"-"`
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithOrderID records the broker order id the caller needs to reconcile.
func (e *Error) WithOrderID(id int64) *Error {
	e.OrderID = id
	return e
}

func (e *Error) WithRequestID(id string) *Error {
	e.RequestID = id
	return e
}

func (e *Error) WithError(err error) *Error {
	e.Err = err
	return e
}

// Validation reports a bad input field. Nothing was sent to the broker.
func Validation(field, message string) *Error {
	return &Error{Kind: KindValidation, Code: CodeInvalidField, Field: field, Message: message}
}

// FromValidator converts validator output; the first failed field becomes Field.
func FromValidator(err error) *Error {
	details := validate.Describe(err)
	e := &Error{Kind: KindValidation, Code: CodeInvalidField, Details: details, Err: err}
	if len(details) > 0 {
		e.Field = details[0].Field
		e.Message = details[0].Message
	} else {
		e.Message = "invalid request"
	}
	return e
}

// NotConnected means the broker session (or the agent link) is down.
func NotConnected(message string) *Error {
	return &Error{Kind: KindConnectivity, Code: CodeNotConnected, Message: message}
}

// Broker carries a mapped broker error code.
func Broker(code int, message string) *Error {
	return &Error{Kind: KindBroker, Code: CodeBroker, BrokerCode: code, Message: message}
}

func Timeout(message string) *Error {
	return &Error{Kind: KindTimeout, Code: CodeTimeout, Message: message}
}

func NoAgentForUser(userID string) *Error {
	return &Error{
		Kind:    KindRouting,
		Code:    CodeNoAgentForUser,
		Field:   "user_id",
		Message: fmt.Sprintf("no agent registered for user %q", userID),
	}
}

func NoAgentConnected() *Error {
	return &Error{Kind: KindRouting, Code: CodeNoAgentConnected, Message: "no agent connected"}
}

func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: message, Err: err}
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, KindInternal for foreign errors and "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Wrap converts any error into an *Error, keeping existing ones as-is.
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e
	}
	return Internal(err.Error(), err)
}
