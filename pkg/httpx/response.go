// Package httpx holds the JSON helpers shared by the collective API
// handlers. Aggregation outcomes travel as structured results with a
// Success flag, so these helpers only carry transport-level failures:
// bad payloads, missing snapshots, storage faults.
package httpx

import (
	"encoding/json"
	"log"
	"net/http"
)

// RespondJSON encodes data as the response body with the given status.
// Encoding failures are logged; at that point the header is already out.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Failed to encode JSON response: %v", err)
	}
}

// ErrorResponse is the body for every non-2xx response. Error carries the
// generic status text, Message the request-specific detail.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// RespondError writes an ErrorResponse built from err.
func RespondError(w http.ResponseWriter, status int, err error) {
	RespondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: err.Error(),
	})
}

// RespondErrorString is RespondError for callers holding a plain message.
func RespondErrorString(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}
