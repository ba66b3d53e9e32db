// Package erasure queues user data-erasure requests and runs the operator sweep
// that deletes the queued records.
package erasure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nexus-verify/internal/domain"
	"github.com/nexus-verify/internal/metrics"
	"github.com/nexus-verify/internal/pkg/id"
	"golang.org/x/sync/errgroup"
)

// roleWorkers bounds concurrent role removals during a sweep.
const roleWorkers = 8

// Report summarises one sweep.
type Report struct {
	ID           string    `json:"id"`
	Operator     string    `json:"operator"`
	Requests     int       `json:"requests"`
	Purged       int       `json:"purged"`
	RolesRemoved int       `json:"roles_removed"`
	NotInGuild   int       `json:"not_in_guild"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Archive      string    `json:"archive,omitempty"`
}

type Service interface {
	Request(ctx context.Context, identity string) error
	Sweep(ctx context.Context, operator string) (*Report, error)
}

type erasureLedger interface {
	EnqueueErasure(ctx context.Context, identity string, at time.Time) error
	PendingErasures(ctx context.Context) ([]domain.PendingErasure, error)
	PurgeBatch(ctx context.Context, identities []string) (int, error)
}

type roleRevoker interface {
	RevokeRoles(ctx context.Context, identity string, roleIDs ...string) error
}

type archiver interface {
	PutJSON(ctx context.Context, key string, v any) (string, error)
}

type auditor interface {
	Record(ctx context.Context, e domain.AuditEntry)
}

type service struct {
	ledger   erasureLedger
	platform roleRevoker
	archive  archiver
	audit    auditor
	roles    []string
	metrics  *metrics.Metrics
	now      func() time.Time
}

type ServiceDeps struct {
	Ledger   erasureLedger
	Platform roleRevoker
	// Archive is optional; without it reports are only returned and audited.
	Archive       archiver
	Audit         auditor
	MemberRoleIDs []string
	Metrics       *metrics.Metrics
	Now           func() time.Time
}

func NewService(deps ServiceDeps) Service {
	s := &service{
		ledger:   deps.Ledger,
		platform: deps.Platform,
		archive:  deps.Archive,
		audit:    deps.Audit,
		roles:    deps.MemberRoleIDs,
		metrics:  deps.Metrics,
		now:      deps.Now,
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// Request queues identity for erasure. Repeated requests are harmless.
func (s *service) Request(ctx context.Context, identity string) error {
	if identity == "" {
		return fmt.Errorf("missing userId: %w", domain.ErrBadRequest)
	}
	if err := s.ledger.EnqueueErasure(ctx, identity, s.now()); err != nil {
		return fmt.Errorf("enqueue erasure: %w", err)
	}
	s.audit.Record(ctx, domain.AuditEntry{Action: "erasure_requested", Identity: identity, OccurredAt: s.now()})
	return nil
}

// Sweep purges every pending request, then strips member roles from the
// requesting users. Role removal is best-effort and runs after the purge,
// so a platform outage never leaves records behind.
func (s *service) Sweep(ctx context.Context, operator string) (*Report, error) {
	started := s.now()
	rep := &Report{ID: id.At(started), Operator: operator, StartedAt: started}

	pending, err := s.ledger.PendingErasures(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending erasures: %w", err)
	}
	rep.Requests = len(pending)
	if len(pending) == 0 {
		rep.FinishedAt = s.now()
		return rep, nil
	}

	identities := make([]string, len(pending))
	for i, p := range pending {
		identities[i] = p.Identity
	}
	rep.Purged, err = s.ledger.PurgeBatch(ctx, identities)
	s.metrics.AddPurged(rep.Purged)
	if err != nil {
		return nil, fmt.Errorf("purge batch: %w", err)
	}

	removed, notInGuild := s.revokeAll(ctx, identities)
	rep.RolesRemoved, rep.NotInGuild = removed, notInGuild
	rep.FinishedAt = s.now()

	if s.archive != nil {
		uri, err := s.archive.PutJSON(ctx, "sweeps/"+rep.ID+".json", rep)
		if err != nil {
			slog.Warn("sweep report archive failed", "report", rep.ID, "err", err)
		} else {
			rep.Archive = uri
		}
	}
	s.audit.Record(ctx, domain.AuditEntry{
		Action: "erasure_sweep",
		Reason: fmt.Sprintf("by %s: requests=%d purged=%d roles_removed=%d not_in_guild=%d",
			operator, rep.Requests, rep.Purged, rep.RolesRemoved, rep.NotInGuild),
		OccurredAt: rep.FinishedAt,
	})
	slog.Info("erasure sweep finished",
		"report", rep.ID,
		"requests", rep.Requests,
		"purged", rep.Purged,
		"roles_removed", rep.RolesRemoved,
		"not_in_guild", rep.NotInGuild,
	)
	return rep, nil
}

func (s *service) revokeAll(ctx context.Context, identities []string) (removed, notInGuild int) {
	if len(s.roles) == 0 {
		return 0, 0
	}
	var nRemoved, nMissing atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(roleWorkers)
	for _, identity := range identities {
		g.Go(func() error {
			err := s.platform.RevokeRoles(gctx, identity, s.roles...)
			switch {
			case err == nil:
				nRemoved.Add(1)
			case errors.Is(err, domain.ErrNotMember):
				nMissing.Add(1)
			default:
				slog.Warn("member role removal failed", "identity", identity, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(nRemoved.Load()), int(nMissing.Load())
}
