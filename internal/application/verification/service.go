// Package verification runs the policy pipeline that turns an OAuth callback
// into exactly one terminal outcome.
package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nexus-verify/internal/application/correlation"
	"github.com/nexus-verify/internal/domain"
	"github.com/nexus-verify/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/nexus-verify/internal/application/verification"

// Request is one inbound callback. State is empty on the primary flow.
type Request struct {
	Code   string
	State  string
	Origin string
}

// Result is the terminal outcome of a run. PriorIdentity is set for
// BlockedAltDetected.
type Result struct {
	Outcome       domain.Outcome
	Identity      string
	Username      string
	PriorIdentity string
	Reason        string
}

type Service interface {
	Verify(ctx context.Context, req Request) Result
	AuthorizeURL() string
	ManualVerify(ctx context.Context, operator string, req domain.ManualVerifyRequest) error
	Remove(ctx context.Context, operator, identity string) error
	IssueCorrelation(ctx context.Context, operator string) (state, authorizeURL string, err error)
}

type exchanger interface {
	Exchange(ctx context.Context, code string) (*domain.Identity, error)
	AuthCodeURL(state string) string
}

type classifier interface {
	Classify(ctx context.Context, origin string) (domain.Classification, error)
}

type ledger interface {
	FindByFingerprint(ctx context.Context, hash string) (*domain.VerificationRecord, error)
	Claim(ctx context.Context, identity, hash string, at time.Time) error
	Remove(ctx context.Context, identity string) error
}

type platform interface {
	HasRole(ctx context.Context, identity, roleID string) (bool, error)
	GrantRoles(ctx context.Context, identity string, roleIDs ...string) error
}

type correlator interface {
	Issue(resolver correlation.Resolver) (string, error)
	Resolve(ctx context.Context, state string, res correlation.Resolution) error
}

type hasher interface {
	Hash(origin string) string
}

type auditor interface {
	Record(ctx context.Context, e domain.AuditEntry)
}

type service struct {
	exchanger    exchanger
	reputation   classifier
	ledger       ledger
	platform     platform
	correlations correlator
	hasher       hasher
	audit        auditor
	roles        domain.RoleSettings
	metrics      *metrics.Metrics
	tracer       trace.Tracer
	now          func() time.Time
}

type ServiceDeps struct {
	Exchanger    exchanger
	Reputation   classifier
	Ledger       ledger
	Platform     platform
	Correlations correlator
	Hasher       hasher
	Audit        auditor
	Roles        domain.RoleSettings
	Metrics      *metrics.Metrics
	// Tracer defaults to the global OpenTelemetry provider.
	Tracer trace.Tracer
	Now    func() time.Time
}

func NewService(deps ServiceDeps) Service {
	s := &service{
		exchanger:    deps.Exchanger,
		reputation:   deps.Reputation,
		ledger:       deps.Ledger,
		platform:     deps.Platform,
		correlations: deps.Correlations,
		hasher:       deps.Hasher,
		audit:        deps.Audit,
		roles:        deps.Roles,
		metrics:      deps.Metrics,
		tracer:       deps.Tracer,
		now:          deps.Now,
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// Verify evaluates the stages in order and stops at the first terminal one.
// Only the alt-marker grant and the final commit have side effects.
func (s *service) Verify(ctx context.Context, req Request) Result {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "verification.Verify")
	defer span.End()

	res, fp := s.run(ctx, req)

	span.SetAttributes(attribute.String("verification.outcome", string(res.Outcome)))
	if res.Outcome == domain.OutcomeFailed {
		span.SetStatus(codes.Error, res.Reason)
	}
	s.metrics.IncrementOutcome(string(res.Outcome))
	s.metrics.ObservePipelineLatency(time.Since(start))
	s.audit.Record(ctx, domain.AuditEntry{
		Outcome:       res.Outcome,
		Identity:      res.Identity,
		Username:      res.Username,
		PriorIdentity: res.PriorIdentity,
		Fingerprint:   fp,
		Reason:        res.Reason,
		OccurredAt:    s.now(),
	})
	return res
}

func (s *service) run(ctx context.Context, req Request) (Result, string) {
	ident, err := s.exchange(ctx, req.Code)
	if err != nil {
		return Result{Outcome: domain.OutcomeExchangeFailed, Reason: err.Error()}, ""
	}
	base := Result{Identity: ident.ID, Username: ident.Username}
	fp := s.hasher.Hash(req.Origin)

	if req.State != "" {
		return s.correlate(ctx, base, req.State, fp), fp
	}

	if blocked, ok := s.checkRoles(ctx, base); ok {
		return blocked, fp
	}

	owner, err := s.findOwner(ctx, fp)
	if err != nil {
		return base.with(domain.OutcomeFailed, "ledger read failed"), fp
	}
	if owner != "" && owner != ident.ID {
		return s.altDetected(ctx, base, owner), fp
	}

	if blocked, ok := s.checkReputation(ctx, base, req.Origin); ok {
		return blocked, fp
	}

	return s.commit(ctx, base, fp), fp
}

func (s *service) exchange(ctx context.Context, code string) (*domain.Identity, error) {
	ctx, span := s.tracer.Start(ctx, "verification.exchange")
	defer span.End()
	ident, err := s.exchanger.Exchange(ctx, code)
	if err != nil {
		span.RecordError(err)
		slog.Warn("oauth exchange failed", "err", err)
		return nil, err
	}
	return ident, nil
}

func (s *service) correlate(ctx context.Context, base Result, state, fp string) Result {
	ctx, span := s.tracer.Start(ctx, "verification.correlate")
	defer span.End()
	err := s.correlations.Resolve(ctx, state, correlation.Resolution{
		Identity:    base.Identity,
		Username:    base.Username,
		Fingerprint: fp,
	})
	if err != nil {
		return base.with(domain.OutcomeCorrelationInvalid, err.Error())
	}
	return base.with(domain.OutcomeCorrelated, "")
}

// checkRoles reports a terminal result when the identity is muted or already
// flagged as an alt, or when the platform cannot be asked.
func (s *service) checkRoles(ctx context.Context, base Result) (Result, bool) {
	ctx, span := s.tracer.Start(ctx, "verification.roles")
	defer span.End()

	muted, err := s.platform.HasRole(ctx, base.Identity, s.roles.MutedRoleID)
	if err != nil {
		span.RecordError(err)
		slog.Error("muted role check failed", "identity", base.Identity, "err", err)
		return base.with(domain.OutcomeFailed, "role check failed"), true
	}
	if muted {
		return base.with(domain.OutcomeBlockedMuted, "identity holds the muted role"), true
	}

	alt, err := s.platform.HasRole(ctx, base.Identity, s.roles.AltRoleID)
	if err != nil {
		span.RecordError(err)
		slog.Error("alt role check failed", "identity", base.Identity, "err", err)
		return base.with(domain.OutcomeFailed, "role check failed"), true
	}
	if alt {
		return base.with(domain.OutcomeBlockedAltFlag, "identity holds the alt role"), true
	}
	return Result{}, false
}

func (s *service) findOwner(ctx context.Context, fp string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "verification.fingerprint")
	defer span.End()
	rec, err := s.ledger.FindByFingerprint(ctx, fp)
	if err != nil {
		span.RecordError(err)
		slog.Error("fingerprint lookup failed", "err", err)
		return "", err
	}
	if rec == nil {
		return "", nil
	}
	return rec.Identity, nil
}

// altDetected marks the identity with the alt role. The grant is idempotent
// and its failure does not change the outcome.
func (s *service) altDetected(ctx context.Context, base Result, prior string) Result {
	if s.roles.AltRoleID != "" {
		if err := s.platform.GrantRoles(ctx, base.Identity, s.roles.AltRoleID); err != nil {
			slog.Warn("alt role grant failed", "identity", base.Identity, "err", err)
		}
	}
	res := base.with(domain.OutcomeBlockedAltDetected, "fingerprint bound to another identity")
	res.PriorIdentity = prior
	return res
}

// checkReputation blocks mobile and proxy origins. A degraded lookup passes.
func (s *service) checkReputation(ctx context.Context, base Result, origin string) (Result, bool) {
	ctx, span := s.tracer.Start(ctx, "verification.reputation")
	defer span.End()

	cls, err := s.reputation.Classify(ctx, origin)
	if err != nil {
		s.metrics.IncrementLookup("degraded")
		slog.Warn("reputation lookup degraded", "identity", base.Identity, "err", err)
		return Result{}, false
	}
	s.metrics.IncrementLookup("ok")
	span.SetAttributes(
		attribute.Bool("reputation.known", cls.Known),
		attribute.Bool("reputation.mobile", cls.Mobile),
		attribute.Bool("reputation.proxy", cls.Proxy),
		attribute.Bool("reputation.hosting", cls.Hosting),
	)
	switch {
	case !cls.Known:
		return Result{}, false
	case cls.Mobile:
		return base.with(domain.OutcomeBlockedMobile, "mobile network"), true
	case cls.Proxy || cls.Hosting:
		return base.with(domain.OutcomeBlockedProxy, "proxy or hosting network"), true
	}
	return Result{}, false
}

// commit claims the fingerprint in one conditional write. Losing the claim
// to a concurrent identity is an alt detection, not a failure.
func (s *service) commit(ctx context.Context, base Result, fp string) Result {
	ctx, span := s.tracer.Start(ctx, "verification.commit")
	defer span.End()

	err := s.ledger.Claim(ctx, base.Identity, fp, s.now())
	var conflict *domain.ClaimConflictError
	switch {
	case errors.As(err, &conflict):
		return s.altDetected(ctx, base, conflict.Owner)
	case err != nil:
		span.RecordError(err)
		slog.Error("ledger claim failed", "identity", base.Identity, "err", err)
		return base.with(domain.OutcomeFailed, "ledger write failed")
	}

	s.grantMember(ctx, base.Identity)
	return base.with(domain.OutcomeVerified, "")
}

func (s *service) grantMember(ctx context.Context, identity string) {
	if len(s.roles.MemberRoleIDs) == 0 {
		return
	}
	if err := s.platform.GrantRoles(ctx, identity, s.roles.MemberRoleIDs...); err != nil {
		slog.Warn("member role grant failed", "identity", identity, "err", err)
	}
}

func (s *service) AuthorizeURL() string {
	return s.exchanger.AuthCodeURL("")
}

// ManualVerify binds origin to identity on an operator's behalf. It refuses
// a fingerprint owned by another identity; the operator removes that record first.
func (s *service) ManualVerify(ctx context.Context, operator string, req domain.ManualVerifyRequest) error {
	fp := s.hasher.Hash(req.Origin)
	if err := s.ledger.Claim(ctx, req.Identity, fp, s.now()); err != nil {
		var conflict *domain.ClaimConflictError
		if errors.As(err, &conflict) {
			return fmt.Errorf("origin already bound to %s, delete that record first: %w", conflict.Owner, err)
		}
		return err
	}
	s.grantMember(ctx, req.Identity)
	s.audit.Record(ctx, domain.AuditEntry{
		Action:      "manual_verify",
		Identity:    req.Identity,
		Fingerprint: fp,
		Reason:      "by " + operator,
		OccurredAt:  s.now(),
	})
	return nil
}

func (s *service) Remove(ctx context.Context, operator, identity string) error {
	if err := s.ledger.Remove(ctx, identity); err != nil {
		return err
	}
	s.audit.Record(ctx, domain.AuditEntry{
		Action:     "manual_remove",
		Identity:   identity,
		Reason:     "by " + operator,
		OccurredAt: s.now(),
	})
	return nil
}

// IssueCorrelation registers a state whose resolution is written to the
// audit trail and returns the authorize URL that carries it.
func (s *service) IssueCorrelation(ctx context.Context, operator string) (string, string, error) {
	state, err := s.correlations.Issue(func(ctx context.Context, r correlation.Resolution) {
		s.audit.Record(ctx, domain.AuditEntry{
			Action:      "correlation_resolved",
			Identity:    r.Identity,
			Username:    r.Username,
			Fingerprint: r.Fingerprint,
			Reason:      "issued by " + operator,
			OccurredAt:  r.ResolvedAt,
		})
	})
	if err != nil {
		return "", "", err
	}
	s.audit.Record(ctx, domain.AuditEntry{
		Action:     "correlation_issued",
		Reason:     "by " + operator,
		OccurredAt: s.now(),
	})
	return state, s.exchanger.AuthCodeURL(state), nil
}

func (r Result) with(o domain.Outcome, reason string) Result {
	r.Outcome = o
	r.Reason = reason
	return r
}
