package middleware

import (
	"net/http"
	"strings"
)

// UnknownOrigin is reported when no forwarding header names the client.
const UnknownOrigin = "unknown"

// ClientOrigin returns the declared client address of a callback: the first
// X-Forwarded-For hop, then CF-Connecting-IP, then X-Real-IP. The connection
// address is not consulted.
func ClientOrigin(r *http.Request) string {
	if xff := firstHop(r.Header.Get("X-Forwarded-For")); xff != "" {
		return xff
	}
	for _, h := range []string{"CF-Connecting-IP", "X-Real-IP"} {
		if v := strings.TrimSpace(r.Header.Get(h)); v != "" {
			return v
		}
	}
	return UnknownOrigin
}
