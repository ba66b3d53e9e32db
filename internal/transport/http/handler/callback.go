package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/nexus-verify/internal/application/verification"
	"github.com/nexus-verify/internal/domain"
	"github.com/nexus-verify/internal/transport/http/middleware"
)

// resultPaths maps each terminal outcome to the page the browser lands on.
var resultPaths = map[domain.Outcome]string{
	domain.OutcomeVerified:           "/passed.html",
	domain.OutcomeCorrelated:         "/passed.html",
	domain.OutcomeBlockedMuted:       "/flagged.html?reason=muted",
	domain.OutcomeBlockedAltFlag:     "/flagged.html?reason=alt",
	domain.OutcomeBlockedProxy:       "/flagged.html?reason=vpn",
	domain.OutcomeBlockedAltDetected: "/altflagged.html",
	domain.OutcomeBlockedMobile:      "/mobile.html",
	domain.OutcomeExchangeFailed:     "/error.html?reason=oauth_failed",
	domain.OutcomeCorrelationInvalid: "/error.html?reason=invalid_state",
	domain.OutcomeFailed:             "/error.html?reason=internal",
}

const missingCodePath = "/error.html?reason=no_code"

// CallbackHandler is the browser-facing side of the OAuth flow.
type CallbackHandler struct {
	svc        verification.Service
	resultBase string
}

func NewCallbackHandler(svc verification.Service, resultBase string) *CallbackHandler {
	return &CallbackHandler{svc: svc, resultBase: strings.TrimRight(resultBase, "/")}
}

// Start sends the browser to the OAuth authorize page.
func (h *CallbackHandler) Start(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.svc.AuthorizeURL(), http.StatusFound)
}

// Callback runs the verification pipeline and redirects to the result page.
func (h *CallbackHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code := q.Get("code")
	if code == "" {
		h.redirect(w, r, missingCodePath)
		return
	}
	res := h.svc.Verify(r.Context(), verification.Request{
		Code:   code,
		State:  q.Get("state"),
		Origin: middleware.ClientOrigin(r),
	})
	path, ok := resultPaths[res.Outcome]
	if !ok {
		slog.Error("unmapped verification outcome", "outcome", res.Outcome)
		path = resultPaths[domain.OutcomeFailed]
	}
	h.redirect(w, r, path)
}

func (h *CallbackHandler) redirect(w http.ResponseWriter, r *http.Request, path string) {
	http.Redirect(w, r, h.resultBase+path, http.StatusFound)
}
