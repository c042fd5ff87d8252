package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"mercator-hq/ilm/pkg/lifecycle"
)

// ErrorResponse is the body of every API error.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	// Type categorizes the error, one of the ErrorType constants.
	Type string `json:"type"`

	// Message is a human-readable description.
	Message string `json:"message"`
}

// Error types returned by the API.
const (
	// ErrorTypeInvalidRequest indicates a malformed body or parameter (400).
	ErrorTypeInvalidRequest = "invalid_request_error"

	// ErrorTypeInvalidPolicy indicates a policy that violates its invariants (400).
	ErrorTypeInvalidPolicy = "invalid_policy"

	// ErrorTypeUnknownStream indicates a stream without a registered policy (404).
	ErrorTypeUnknownStream = "unknown_stream"

	// ErrorTypeNotFound indicates a resource that is not served (404).
	ErrorTypeNotFound = "not_found"

	// ErrorTypeServerError indicates an internal failure (500).
	ErrorTypeServerError = "server_error"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, errType, message string) {
	writeJSON(w, code, ErrorResponse{Error: ErrorDetail{Type: errType, Message: message}})
}

// writeLifecycleError maps store and evaluator errors to API errors.
func writeLifecycleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrUnknownStream):
		writeError(w, http.StatusNotFound, ErrorTypeUnknownStream, err.Error())
	case errors.Is(err, lifecycle.ErrInvalidPolicy):
		writeError(w, http.StatusBadRequest, ErrorTypeInvalidPolicy, err.Error())
	case errors.Is(err, lifecycle.ErrInvalidWrite):
		writeError(w, http.StatusBadRequest, ErrorTypeInvalidRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, ErrorTypeServerError, err.Error())
	}
}
