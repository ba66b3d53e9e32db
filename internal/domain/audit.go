package domain

import "time"

// AuditEntry is emitted once per terminal outcome and for operator actions.
// It never carries a raw network origin, only its fingerprint.
type AuditEntry struct {
	ID            string    `json:"id"`
	Outcome       Outcome   `json:"outcome,omitempty"`
	Action        string    `json:"action,omitempty"`
	Identity      string    `json:"identity,omitempty"`
	Username      string    `json:"username,omitempty"`
	PriorIdentity string    `json:"prior_identity,omitempty"`
	Fingerprint   string    `json:"fingerprint,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}
