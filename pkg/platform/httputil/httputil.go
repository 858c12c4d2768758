// Package httputil centralizes JSON response writing so handlers stay thin
// and error bodies are consistent across the admin surface.
package httputil

import (
	"encoding/json"
	"net/http"

	dErrors "coursecert/pkg/domain-errors"
)

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps a domain error to an HTTP status and JSON body.
// Internal errors omit the description so store and driver details never
// reach clients.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	body := map[string]string{"error": string(code)}
	if code != dErrors.CodeInternal {
		if msg := dErrors.MessageOf(err); msg != "" {
			body["error_description"] = msg
		}
	}
	WriteJSON(w, statusOf(code), body)
}

func statusOf(code dErrors.Code) int {
	switch code {
	case dErrors.CodeBadRequest, dErrors.CodeInvalidInput, dErrors.CodeInvalidReport:
		return http.StatusBadRequest
	case dErrors.CodeForbidden:
		return http.StatusForbidden
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict, dErrors.CodeInvariantViolation,
		dErrors.CodeNoEligibleCertificates, dErrors.CodeInsufficientStock:
		return http.StatusConflict
	case dErrors.CodeStorageError:
		return http.StatusBadGateway
	case dErrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
