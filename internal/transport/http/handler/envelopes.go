package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nexus-verify/internal/application/erasure"
	"github.com/nexus-verify/internal/domain"
)

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SuccessEnvelope answers the public erasure request.
type SuccessEnvelope struct {
	Success bool `json:"success"`
}

// CorrelationEnvelope carries a freshly issued correlation state.
type CorrelationEnvelope struct {
	State        string `json:"state"`
	AuthorizeURL string `json:"authorize_url"`
}

// SweepEnvelope wraps an erasure sweep report.
type SweepEnvelope struct {
	Report *erasure.Report `json:"report"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg})
}

// statusFor maps domain sentinels to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrBadRequest):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError hides the message of unexpected errors.
func writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}
