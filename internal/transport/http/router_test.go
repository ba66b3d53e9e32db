package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nexus-verify/internal/application/erasure"
	"github.com/nexus-verify/internal/application/verification"
	"github.com/nexus-verify/internal/config"
	"github.com/nexus-verify/internal/domain"
	"github.com/stretchr/testify/assert"
)

type stubVerification struct{}

func (stubVerification) Verify(context.Context, verification.Request) verification.Result {
	return verification.Result{Outcome: domain.OutcomeVerified}
}
func (stubVerification) AuthorizeURL() string { return "https://discord.example/authorize" }
func (stubVerification) ManualVerify(context.Context, string, domain.ManualVerifyRequest) error {
	return nil
}
func (stubVerification) Remove(context.Context, string, string) error { return nil }
func (stubVerification) IssueCorrelation(context.Context, string) (string, string, error) {
	return "st", "https://discord.example/authorize?state=st", nil
}

type stubErasure struct{}

func (stubErasure) Request(context.Context, string) error { return nil }
func (stubErasure) Sweep(context.Context, string) (*erasure.Report, error) {
	return &erasure.Report{}, nil
}

func newTestRouter() http.Handler {
	cfg := &config.Config{AllowedOrigins: []string{"*"}, ResultBaseURL: "https://verify.example"}
	return NewRouter(cfg, &Deps{Verification: stubVerification{}, Erasure: stubErasure{}})
}

func TestRouter_PublicRoutes(t *testing.T) {
	r := newTestRouter()
	cases := []struct {
		method, target string
		want           int
	}{
		{http.MethodGet, "/v1/health-check/ping", http.StatusOK},
		{http.MethodGet, "/verify", http.StatusFound},
		{http.MethodGet, "/callback?code=abc", http.StatusFound},
		{http.MethodGet, "/delete-request?userId=42", http.StatusOK},
		{http.MethodGet, "/delete-request", http.StatusBadRequest},
		{http.MethodGet, "/metrics", http.StatusOK},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(tc.method, tc.target, nil)
		req.RemoteAddr = "198.51.100.1:1234"
		r.ServeHTTP(rr, req)
		assert.Equal(t, tc.want, rr.Code, tc.target)
	}
}

func TestRouter_AdminDisabledWithoutProvider(t *testing.T) {
	r := newTestRouter()
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/admin/erasures/sweep", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
