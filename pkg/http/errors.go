package http

import (
	"fmt"
	"net/http"
	"reflect"
)

// AppError is one entry of an error envelope. Status selects the HTTP status and is never serialized;
// Err keeps the cause for logs.
type AppError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Field   string                 `json:"field,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Status  int                    `json:"-"`
	Err     error                  `json:"-"`
}

func NewAppError(code, field, message string, status int) *AppError {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return &AppError{Code: code, Field: field, Message: message, Status: status}
}

// Internal is the catch-all 500.
func Internal(message string) *AppError {
	return NewAppError("ERR_INTERNAL", "", message, http.StatusInternalServerError)
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Code + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

func (e *AppError) Unwrap() error { return e.Err }

// WithParam sets params[key]; zero values are skipped so optional details stay out of the body.
func (e *AppError) WithParam(key string, value interface{}) *AppError {
	if value == nil || reflect.ValueOf(value).IsZero() {
		return e
	}
	if e.Params == nil {
		e.Params = make(map[string]interface{}, 4)
	}
	e.Params[key] = value
	return e
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}
