package middleware

import (
	"encoding/json"
	"net/http"
)

// errorBody has the same shape as the handlers' error envelope.
type errorBody struct {
	Error string `json:"error"`
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: msg})
}

// Unavailable answers every request with 503 and msg. The router mounts it
// in place of Auth when no token verifier is configured.
func Unavailable(msg string) func(http.Handler) http.Handler {
	return func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			writeJSONError(w, http.StatusServiceUnavailable, msg)
		})
	}
}
