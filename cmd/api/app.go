package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/nexus-verify/internal/application/audit"
	"github.com/nexus-verify/internal/application/correlation"
	"github.com/nexus-verify/internal/application/erasure"
	"github.com/nexus-verify/internal/application/verification"
	"github.com/nexus-verify/internal/config"
	"github.com/nexus-verify/internal/domain"
	"github.com/nexus-verify/internal/infrastructure/awscfg"
	"github.com/nexus-verify/internal/infrastructure/discord"
	"github.com/nexus-verify/internal/infrastructure/dynamo"
	"github.com/nexus-verify/internal/infrastructure/ipapi"
	"github.com/nexus-verify/internal/infrastructure/memory"
	"github.com/nexus-verify/internal/infrastructure/postgres"
	redisinfra "github.com/nexus-verify/internal/infrastructure/redis"
	s3infra "github.com/nexus-verify/internal/infrastructure/s3"
	"github.com/nexus-verify/internal/infrastructure/sns"
	"github.com/nexus-verify/internal/metrics"
	"github.com/nexus-verify/internal/pkg/fingerprint"
	"github.com/redis/go-redis/v9"
)

// ledgerStore is what both services need from a ledger backend.
type ledgerStore interface {
	FindByFingerprint(ctx context.Context, hash string) (*domain.VerificationRecord, error)
	Claim(ctx context.Context, identity, hash string, at time.Time) error
	Remove(ctx context.Context, identity string) error
	EnqueueErasure(ctx context.Context, identity string, at time.Time) error
	PendingErasures(ctx context.Context) ([]domain.PendingErasure, error)
	PurgeBatch(ctx context.Context, identities []string) (int, error)
}

type app struct {
	verification verification.Service
	erasure      erasure.Service

	dispatcher   *audit.Dispatcher
	correlations *correlation.Registry
	db           *sql.DB
	redis        *redis.Client
}

// Close flushes pending audit entries and releases connections.
func (a *app) Close() {
	a.correlations.Stop()
	a.dispatcher.Close()
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}
	m := metrics.New()
	httpClient := &http.Client{Timeout: 10 * time.Second}

	hasher, err := fingerprint.New(cfg.IPSalt)
	if err != nil {
		return nil, err
	}

	// AWS config is shared by the Dynamo ledger and the optional S3/SNS sinks.
	awsCfg, err := awscfg.Load(ctx, cfg)
	if err != nil {
		return nil, err
	}

	ledger, err := openLedger(ctx, cfg, awsCfg, a)
	if err != nil {
		return nil, err
	}

	sinks := []audit.Sink{audit.LogSink{}}
	if cfg.LogWebhookURL != "" {
		sinks = append(sinks, discord.NewWebhookSink(cfg.LogWebhookURL, httpClient))
	}
	if cfg.AuditTopicARN != "" {
		sinks = append(sinks, sns.NewAuditSink(sns.NewClient(awsCfg, cfg.AWSEndpointURL), cfg.AuditTopicARN))
	}
	a.dispatcher = audit.NewDispatcher(audit.Config{BufferSize: 1024, DropIfFull: true}, m, sinks...)

	var reputation redisinfra.Classifier = ipapi.NewClient(cfg.IPAPIBaseURL, cfg.IPAPITimeout, cfg.IPAPIRatePerMinute, httpClient)
	if cfg.RedisURL != "" {
		rc, err := redisinfra.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			slog.Warn("redis unavailable, reputation cache disabled", "err", err)
		} else {
			a.redis = rc
			reputation = redisinfra.NewReputationCache(rc, reputation, hasher, cfg.ReputationCacheTTL, m)
		}
	}

	platform := discord.NewPlatform(cfg.DiscordAPIBase, cfg.DiscordBotToken, cfg.GuildID, httpClient)
	a.correlations = correlation.NewRegistry(cfg.CorrelationTTL, cfg.CorrelationCapacity)

	a.verification = verification.NewService(verification.ServiceDeps{
		Exchanger:    discord.NewExchanger(cfg, httpClient),
		Reputation:   reputation,
		Ledger:       ledger,
		Platform:     platform,
		Correlations: a.correlations,
		Hasher:       hasher,
		Audit:        a.dispatcher,
		Roles: domain.RoleSettings{
			MutedRoleID:   cfg.MutedRoleID,
			AltRoleID:     cfg.AltRoleID,
			MemberRoleIDs: cfg.MemberRoleIDs,
		},
		Metrics: m,
	})

	erasureDeps := erasure.ServiceDeps{
		Ledger:        ledger,
		Platform:      platform,
		Audit:         a.dispatcher,
		MemberRoleIDs: cfg.MemberRoleIDs,
		Metrics:       m,
	}
	if cfg.S3BucketName != "" {
		erasureDeps.Archive = s3infra.NewStore(s3infra.NewClient(awsCfg, cfg.AWSEndpointURL), cfg.S3BucketName)
	}
	a.erasure = erasure.NewService(erasureDeps)

	return a, nil
}

// openLedger selects the backend by LEDGER_BACKEND. Postgres connections are
// kept on a so they can be closed on shutdown.
func openLedger(ctx context.Context, cfg *config.Config, awsCfg aws.Config, a *app) (ledgerStore, error) {
	switch cfg.LedgerBackend {
	case "memory":
		slog.Warn("using in-memory ledger, records are lost on restart")
		return memory.NewLedger(), nil
	case "postgres":
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.db = db
		return postgres.NewLedger(db), nil
	case "dynamo":
		return dynamo.NewLedger(dynamo.NewClient(awsCfg, cfg.AWSEndpointURL), cfg.DynamoTables), nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.LedgerBackend)
	}
}

func bootstrapLedger(ctx context.Context, cfg *config.Config) error {
	switch cfg.LedgerBackend {
	case "dynamo":
		awsCfg, err := awscfg.Load(ctx, cfg)
		if err != nil {
			return err
		}
		dynamo.Bootstrap(ctx, dynamo.NewClient(awsCfg, cfg.AWSEndpointURL), cfg.DynamoTables)
		return nil
	case "postgres":
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := postgres.NewLedger(db).Migrate(ctx); err != nil {
			return err
		}
		slog.Info("postgres schema ready")
		return nil
	default:
		slog.Info("nothing to bootstrap", "ledger", cfg.LedgerBackend)
		return nil
	}
}
