// Package httpserver contains HTTP handlers and middleware.
//
// It exposes the REST API of the matching backend: application intake,
// job status, candidate ranking, and operator controls. The package keeps
// HTTP concerns (decoding, validation, status mapping) out of the core.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fairyhunter13/resume-matcher/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps a domain sentinel to an HTTP status and stable error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrEmptyInput):
		return http.StatusBadRequest, "INVALID_INPUT"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, "RATE_LIMITED"
	case errors.Is(err, domain.ErrOverloaded):
		return http.StatusServiceUnavailable, "OVERLOADED"
	case errors.Is(err, domain.ErrCircuitOpen):
		return http.StatusServiceUnavailable, "CIRCUIT_OPEN"
	case errors.Is(err, domain.ErrShape), errors.Is(err, domain.ErrDimension):
		return http.StatusUnprocessableEntity, "BAD_DOCUMENT"
	case errors.Is(err, domain.ErrUpstream):
		return http.StatusBadGateway, "UPSTREAM"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func writeError(w http.ResponseWriter, _ *http.Request, err error, details any) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		// Internal details stay in the logs, not on the wire.
		msg = "internal error"
	}
	writeJSON(w, status, errorEnvelope{Error: apiError{Code: code, Message: msg, Details: details}})
}
