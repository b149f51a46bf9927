// Package httputil provides shared HTTP utilities for consistent response handling.
package httputil

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/mockhive/mockhive/pkg/mockerr"
)

// ErrorBody is the wire shape of every control-plane error response.
type ErrorBody struct {
	ErrorCode mockerr.Code `json:"errorCode"`
	Message   string       `json:"message"`
	Timestamp string       `json:"timestamp"`
}

// WriteJSON writes a JSON response with the given status code.
// It sets the Content-Type header to application/json.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// WriteError writes the standard error body with the given status code.
func WriteError(w http.ResponseWriter, status int, code mockerr.Code, message string) {
	WriteJSON(w, status, ErrorBody{
		ErrorCode: code,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// WriteErrorFrom renders an error using the code and client-safe
// message carried on its chain.
func WriteErrorFrom(w http.ResponseWriter, status int, err error) {
	WriteError(w, status, mockerr.CodeOf(err), mockerr.MessageOf(err))
}

// WriteNoContent writes a 204 No Content response.
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteCreated writes a 201 Created response with the created resource.
func WriteCreated(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusCreated, data)
}

// WriteOK writes a 200 OK response with data.
func WriteOK(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, data)
}
