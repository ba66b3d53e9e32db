// Package memory provides an in-memory verification ledger for development
// and tests. State is lost when the process exits.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nexus-verify/internal/domain"
)

type Ledger struct {
	mu      sync.Mutex
	records map[string]domain.VerificationRecord // identity -> record
	owners  map[string]string                    // fingerprint -> identity
	pending map[string]time.Time                 // identity -> requested_at
}

func NewLedger() *Ledger {
	return &Ledger{
		records: make(map[string]domain.VerificationRecord),
		owners:  make(map[string]string),
		pending: make(map[string]time.Time),
	}
}

func (l *Ledger) Get(_ context.Context, identity string) (*domain.VerificationRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[identity]
	if !ok {
		return nil, fmt.Errorf("verification not found: %w", domain.ErrNotFound)
	}
	return &rec, nil
}

func (l *Ledger) FindByFingerprint(_ context.Context, hash string) (*domain.VerificationRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	owner, ok := l.owners[hash]
	if !ok {
		return nil, nil
	}
	rec := l.records[owner]
	return &rec, nil
}

// Claim binds hash to identity under the ledger lock, so the ownership check
// and the write are one step.
func (l *Ledger) Claim(_ context.Context, identity, hash string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if owner, ok := l.owners[hash]; ok && owner != identity {
		return &domain.ClaimConflictError{Owner: owner}
	}
	if prev, ok := l.records[identity]; ok && prev.FingerprintHash != hash {
		delete(l.owners, prev.FingerprintHash)
	}
	l.owners[hash] = identity
	l.records[identity] = domain.VerificationRecord{Identity: identity, FingerprintHash: hash, VerifiedAt: at}
	return nil
}

func (l *Ledger) Remove(_ context.Context, identity string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.removeLocked(identity) {
		return fmt.Errorf("verification not found: %w", domain.ErrNotFound)
	}
	return nil
}

func (l *Ledger) removeLocked(identity string) bool {
	rec, ok := l.records[identity]
	if !ok {
		return false
	}
	delete(l.owners, rec.FingerprintHash)
	delete(l.records, identity)
	return true
}

func (l *Ledger) EnqueueErasure(_ context.Context, identity string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending[identity] = at
	return nil
}

// PendingErasures returns queued requests, oldest first.
func (l *Ledger) PendingErasures(_ context.Context) ([]domain.PendingErasure, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.PendingErasure, 0, len(l.pending))
	for identity, at := range l.pending {
		out = append(out, domain.PendingErasure{Identity: identity, RequestedAt: at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

func (l *Ledger) PurgeBatch(_ context.Context, identities []string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	purged := 0
	for _, identity := range identities {
		if l.removeLocked(identity) {
			purged++
		}
		delete(l.pending, identity)
	}
	return purged, nil
}

// Len reports the number of stored verification records.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
