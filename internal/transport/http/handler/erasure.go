package handler

import (
	"net/http"

	"github.com/nexus-verify/internal/application/erasure"
	"github.com/nexus-verify/internal/transport/http/middleware"
)

// ErasureHandler accepts erasure requests and runs the operator sweep.
type ErasureHandler struct {
	svc erasure.Service
}

func NewErasureHandler(svc erasure.Service) *ErasureHandler { return &ErasureHandler{svc: svc} }

// Request queues the caller's erasure. The identity comes from userId or identity.
func (h *ErasureHandler) Request(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	identity := q.Get("userId")
	if identity == "" {
		identity = q.Get("identity")
	}
	if identity == "" {
		writeError(w, http.StatusBadRequest, "missing userId")
		return
	}
	if err := h.svc.Request(r.Context(), identity); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessEnvelope{Success: true})
}

func (h *ErasureHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	rep, err := h.svc.Sweep(r.Context(), claims.Operator)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SweepEnvelope{Report: rep})
}
