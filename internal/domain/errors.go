package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrBadRequest   = errors.New("bad request")

	// ErrExchange covers a bad, expired or consumed authorization code and any
	// failure of the token or identity endpoints.
	ErrExchange = errors.New("oauth exchange failed")
	// ErrLookupDegraded means the reputation service gave no usable answer.
	ErrLookupDegraded = errors.New("reputation lookup degraded")
	// ErrFingerprintClaimed is returned by a ledger claim that lost to another identity.
	ErrFingerprintClaimed = fmt.Errorf("fingerprint already claimed: %w", ErrConflict)
	// ErrNotMember is returned by platform role writes for a user outside the guild.
	ErrNotMember = errors.New("not a guild member")
	// ErrCorrelationUnknown is returned for a state that was never issued, was already used, or expired.
	ErrCorrelationUnknown = errors.New("unknown or expired correlation state")
)

// ClaimConflictError carries the identity that currently owns a fingerprint.
type ClaimConflictError struct {
	Owner string
}

func (e *ClaimConflictError) Error() string {
	return "fingerprint owned by " + e.Owner
}

func (e *ClaimConflictError) Unwrap() error { return ErrFingerprintClaimed }
