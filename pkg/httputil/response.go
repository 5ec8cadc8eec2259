// Package httputil provides HTTP handler utilities for consistent error handling,
// JSON encoding/decoding, and request parsing.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/platinummonkey/restoreassist/pkg/apierrors"
)

// ErrorResponse is the body of every error response
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    apierrors.Code         `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteAPIError writes err as an error body. Untyped errors become INTERNAL_ERROR
// and their message is not exposed.
func WriteAPIError(w http.ResponseWriter, err error) {
	apiErr := apierrors.From(err)
	if apiErr == nil {
		apiErr = apierrors.Internal(nil)
	}

	WriteJSON(w, apiErr.Status, ErrorResponse{
		Error:   apiErr.Message,
		Code:    apiErr.Code,
		Details: apiErr.Details,
	})
}

// WriteErrorMessage writes an error body with a status and code
func WriteErrorMessage(w http.ResponseWriter, status int, code apierrors.Code, message string) {
	WriteJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteAPIError(w, apierrors.BadRequest(message))
}

// WriteUnauthorized writes an unauthorized error (401)
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteAPIError(w, apierrors.Unauthorized(message))
}

// WriteForbidden writes a forbidden error (403)
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteAPIError(w, apierrors.Forbidden(message))
}

// WriteNotFoundError writes a not found error (404)
func WriteNotFoundError(w http.ResponseWriter, resource string) {
	WriteAPIError(w, apierrors.NotFound(resource))
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
