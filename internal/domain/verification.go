package domain

import "time"

// VerificationRecord marks one platform account as verified from one fingerprint.
// Table verifications, PK: user_id.
type VerificationRecord struct {
	Identity        string    `json:"identity" dynamodbav:"user_id"`
	FingerprintHash string    `json:"-" dynamodbav:"fingerprint_hash"`
	VerifiedAt      time.Time `json:"verified_at" dynamodbav:"verified_at"`
}

// FingerprintClaim binds a fingerprint to its single owning identity.
// Table fingerprint_claims, PK: fingerprint_hash.
type FingerprintClaim struct {
	FingerprintHash string    `dynamodbav:"fingerprint_hash"`
	Identity        string    `dynamodbav:"user_id"`
	ClaimedAt       time.Time `dynamodbav:"claimed_at"`
}

// PendingErasure is a data-erasure request waiting for the next operator sweep.
// Table pending_erasures, PK: user_id.
type PendingErasure struct {
	Identity    string    `json:"identity" dynamodbav:"user_id"`
	RequestedAt time.Time `json:"requested_at" dynamodbav:"requested_at"`
}

type ManualVerifyRequest struct {
	Identity string `json:"identity" validate:"required,numeric"`
	Origin   string `json:"origin" validate:"required,ip"`
}
