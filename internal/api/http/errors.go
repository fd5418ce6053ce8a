package http

import (
	"errors"
	"net/http"

	"github.com/GriffinCanCode/kernelkit/kernel"
)

// statusFor maps kernel errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, kernel.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, kernel.ErrBadValue):
		return http.StatusBadRequest
	case errors.Is(err, kernel.ErrNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, kernel.ErrTimedOut), errors.Is(err, kernel.ErrWouldBlock):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
