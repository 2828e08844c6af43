package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/demandcast/pkg/demand"
	"github.com/nicktill/demandcast/pkg/storage"
	"github.com/nicktill/demandcast/pkg/validation"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("days: %w", demand.ErrInvalidParameter), http.StatusBadRequest},
		{demand.ErrEmptyHistory, http.StatusBadRequest},
		{fmt.Errorf("%w: 100 hours", demand.ErrInsufficientHistory), http.StatusBadRequest},
		{&validation.Error{}, http.StatusBadRequest},
		{storage.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: circuit breaker is open", storage.ErrUnavailable), http.StatusServiceUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}

func TestRespondDomainError(t *testing.T) {
	w := httptest.NewRecorder()
	RespondDomainError(w, fmt.Errorf("%w: bad bucket", demand.ErrInvalidParameter))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "Bad Request", resp.Error)
	assert.Equal(t, "invalid parameter: bad bucket", resp.Message)
}

func TestRespondDomainError_HidesInternalErrors(t *testing.T) {
	w := httptest.NewRecorder()
	RespondDomainError(w, errors.New("dial tcp 10.0.0.3:3306: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "10.0.0.3")
}

func TestRespondError_ValidationFields(t *testing.T) {
	w := httptest.NewRecorder()
	RespondError(w, http.StatusBadRequest, &validation.Error{Fields: []validation.FieldError{
		{Field: "bucket", Tag: "required", Message: "bucket is required"},
	}})

	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Fields, 1)
	assert.Equal(t, "bucket", resp.Fields[0].Field)
	assert.Equal(t, "bucket is required", resp.Message)
}
