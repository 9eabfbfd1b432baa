package httpserver

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fairyhunter13/resume-matcher/internal/domain"
)

func TestStatusFor(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{domain.ErrInvalidInput, http.StatusBadRequest, "INVALID_INPUT"},
		{domain.ErrEmptyInput, http.StatusBadRequest, "INVALID_INPUT"},
		{domain.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{domain.ErrRateLimited, http.StatusTooManyRequests, "RATE_LIMITED"},
		{domain.ErrOverloaded, http.StatusServiceUnavailable, "OVERLOADED"},
		{domain.ErrCircuitOpen, http.StatusServiceUnavailable, "CIRCUIT_OPEN"},
		{domain.ErrShape, http.StatusUnprocessableEntity, "BAD_DOCUMENT"},
		{domain.ErrDimension, http.StatusUnprocessableEntity, "BAD_DOCUMENT"},
		{domain.ErrUpstream, http.StatusBadGateway, "UPSTREAM"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tc := range cases {
		status, code := statusFor(fmt.Errorf("wrapped: %w", tc.err))
		assert.Equal(t, tc.wantStatus, status, tc.err)
		assert.Equal(t, tc.wantCode, code, tc.err)
	}
}
