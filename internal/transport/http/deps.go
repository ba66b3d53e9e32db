package http

import (
	"github.com/nexus-verify/internal/application/erasure"
	"github.com/nexus-verify/internal/application/verification"
	jwtinfra "github.com/nexus-verify/internal/infrastructure/jwt"
)

// Deps holds the application services the router exposes.
type Deps struct {
	Verification verification.Service
	Erasure      erasure.Service
	// JWTProvider is optional; without it the /v1/admin routes answer 503.
	JWTProvider *jwtinfra.Provider
}
