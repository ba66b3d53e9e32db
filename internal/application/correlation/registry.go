// Package correlation issues single-use state tokens that tie an OAuth
// round-trip to a waiting operation elsewhere in the process.
package correlation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nexus-verify/internal/domain"
)

// ErrCapacity is returned by Issue when the registry holds its maximum of
// live states.
var ErrCapacity = errors.New("correlation registry full")

// Resolution is what the callback learned about the user who returned with a state.
type Resolution struct {
	Identity    string
	Username    string
	Fingerprint string
	ResolvedAt  time.Time
}

// Resolver is invoked once, synchronously, when its state is resolved.
type Resolver func(ctx context.Context, r Resolution)

type entry struct {
	resolve   Resolver
	expiresAt time.Time
}

// Registry is an in-memory TTL map from state to resolver. Expired entries
// are rejected on read and swept periodically.
type Registry struct {
	mu       sync.Mutex
	entries  map[string]entry
	ttl      time.Duration
	capacity int
	now      func() time.Time

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

func NewRegistry(ttl time.Duration, capacity int) *Registry {
	r := &Registry{
		entries:         make(map[string]entry),
		ttl:             ttl,
		capacity:        capacity,
		now:             time.Now,
		cleanupInterval: time.Minute,
		stopCleanup:     make(chan struct{}),
	}
	go r.cleanupLoop()
	return r
}

// Stop ends the cleanup goroutine.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCleanup) })
}

// Issue stores resolver under a fresh state and returns the state.
func (r *Registry) Issue(resolver Resolver) (string, error) {
	if resolver == nil {
		return "", fmt.Errorf("nil resolver: %w", domain.ErrBadRequest)
	}
	state := uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.capacity > 0 && len(r.entries) >= r.capacity {
		r.cleanupLocked()
		if len(r.entries) >= r.capacity {
			return "", ErrCapacity
		}
	}
	r.entries[state] = entry{resolve: resolver, expiresAt: r.now().Add(r.ttl)}
	return state, nil
}

// Resolve consumes state and runs its resolver. Unknown, already used and
// expired states return domain.ErrCorrelationUnknown.
func (r *Registry) Resolve(ctx context.Context, state string, res Resolution) error {
	r.mu.Lock()
	e, ok := r.entries[state]
	delete(r.entries, state)
	now := r.now()
	r.mu.Unlock()

	if !ok || !now.Before(e.expiresAt) {
		return domain.ErrCorrelationUnknown
	}
	if res.ResolvedAt.IsZero() {
		res.ResolvedAt = now
	}
	e.resolve(ctx, res)
	return nil
}

// Len returns the number of stored states, expired ones included.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) cleanupLoop() {
	ticker := time.NewTicker(r.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCleanup:
			return
		case <-ticker.C:
			r.mu.Lock()
			r.cleanupLocked()
			r.mu.Unlock()
		}
	}
}

func (r *Registry) cleanupLocked() {
	now := r.now()
	for state, e := range r.entries {
		if !now.Before(e.expiresAt) {
			delete(r.entries, state)
		}
	}
}
