package http

import (
	"errors"
	"fmt"

	"github.com/creasty/defaults"
	"github.com/labstack/echo/v4"

	"ArbRelay/pkg/validate"
)

// ReadAndValidateRequest binds req from the request (query for GET, body for POST), applies
// `default` tags and runs the validator. It returns nil when req is usable.
func ReadAndValidateRequest(c echo.Context, req interface{}) []ValidationError {
	if err := c.Bind(req); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return []ValidationError{{Code: "ERR_BIND", Message: fmt.Sprintf("%v", he.Message)}}
		}
		return []ValidationError{{Code: "ERR_BIND", Message: err.Error()}}
	}
	if err := defaults.Set(req); err != nil {
		return []ValidationError{{Code: "ERR_DEFAULTS", Message: err.Error()}}
	}
	if err := validate.Struct(c.Request().Context(), req); err != nil {
		return FromFieldErrors(validate.Describe(err))
	}
	return nil
}

func FromFieldErrors(fes []validate.FieldError) []ValidationError {
	out := make([]ValidationError, len(fes))
	for i, fe := range fes {
		out[i] = ValidationError{Code: fe.Code, Field: fe.Field, Message: fe.Message, Params: fe.Params}
	}
	return out
}
