package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/nexus-verify/internal/application/verification"
	"github.com/nexus-verify/internal/domain"
	"github.com/nexus-verify/internal/pkg/validate"
	"github.com/nexus-verify/internal/transport/http/middleware"
)

// AdminHandler serves the operator overrides under /v1/admin.
type AdminHandler struct {
	svc verification.Service
}

func NewAdminHandler(svc verification.Service) *AdminHandler { return &AdminHandler{svc: svc} }

func (h *AdminHandler) ManualVerify(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req domain.ManualVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeServiceError(w, err)
		return
	}
	if err := h.svc.ManualVerify(r.Context(), claims.Operator, req); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, MessageEnvelope{Message: "verified"})
}

func (h *AdminHandler) RemoveVerification(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.svc.Remove(r.Context(), claims.Operator, chi.URLParam(r, "identity")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) IssueCorrelation(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	state, authURL, err := h.svc.IssueCorrelation(r.Context(), claims.Operator)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CorrelationEnvelope{State: state, AuthorizeURL: authURL})
}
