// Package httpx holds the JSON response helpers shared by every handler.
package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nicktill/demandcast/pkg/demand"
	"github.com/nicktill/demandcast/pkg/logging"
	"github.com/nicktill/demandcast/pkg/storage"
	"github.com/nicktill/demandcast/pkg/validation"
)

// RespondJSON writes a JSON response with the given status code and data.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log := logging.Component("httpx")
		log.Warn().Err(err).Msg("Failed to encode JSON response")
	}
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string                  `json:"error"`
	Message string                  `json:"message,omitempty"`
	Fields  []validation.FieldError `json:"fields,omitempty"`
	Example interface{}             `json:"example,omitempty"`
}

// RespondError writes an error response with the given status code and error message.
func RespondError(w http.ResponseWriter, status int, err error) {
	response := ErrorResponse{
		Error:   http.StatusText(status),
		Message: err.Error(),
	}
	var verr *validation.Error
	if errors.As(err, &verr) {
		response.Fields = verr.Fields
	}
	RespondJSON(w, status, response)
}

// RespondErrorString writes an error response with the given status code and error message string.
func RespondErrorString(w http.ResponseWriter, status int, message string) {
	response := ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	}
	RespondJSON(w, status, response)
}

// StatusFor maps domain errors to HTTP status codes. Caller mistakes and
// missing or short history are 400s. Anything else is a 500.
func StatusFor(err error) int {
	var verr *validation.Error
	switch {
	case errors.As(err, &verr),
		errors.Is(err, demand.ErrInvalidParameter),
		errors.Is(err, demand.ErrEmptyHistory),
		errors.Is(err, demand.ErrInsufficientHistory):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RespondDomainError writes err with the status StatusFor picks. Server
// errors are logged and their message is not exposed.
func RespondDomainError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusServiceUnavailable {
		RespondErrorString(w, status, "storage unavailable, retry later")
		return
	}
	if status >= http.StatusInternalServerError {
		log := logging.Component("httpx")
		log.Error().Err(err).Msg("Request failed")
		RespondErrorString(w, status, "internal error")
		return
	}
	RespondError(w, status, err)
}
