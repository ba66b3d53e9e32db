package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientOrigin(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"forwarded first hop", map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1", "CF-Connecting-IP": "198.51.100.1"}, "203.0.113.5"},
		{"cloudflare before real ip", map[string]string{"CF-Connecting-IP": "198.51.100.1", "X-Real-IP": "192.0.2.1"}, "198.51.100.1"},
		{"real ip", map[string]string{"X-Real-IP": "192.0.2.1"}, "192.0.2.1"},
		{"blank forwarded header is skipped", map[string]string{"X-Forwarded-For": " ", "X-Real-IP": "192.0.2.1"}, "192.0.2.1"},
		{"none", nil, UnknownOrigin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/callback", nil)
			req.RemoteAddr = "10.9.9.9:1234"
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientOrigin(req))
		})
	}
}
