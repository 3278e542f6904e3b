// Package httputil provides JSON response helpers and the outbound webhook
// client.
package httputil

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/corsairs-gg/quartermaster/internal/errors"
)

// ErrorBody is the wire shape of every error response.
type ErrorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// WriteJSON writes a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// WriteError maps a service error onto the error envelope. Unknown errors
// become opaque 500s so internals never leak to clients.
func WriteError(w http.ResponseWriter, err error) {
	se := apperrors.GetServiceError(err)
	if se == nil {
		se = apperrors.Internal("internal error", err)
	}
	status := se.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	body := ErrorBody{Code: string(se.Code), Message: se.Message, Details: se.Details}
	if se.Code == apperrors.CodeInternal {
		body.Message = "internal error"
		body.Details = nil
	}
	WriteJSON(w, status, body)
}
