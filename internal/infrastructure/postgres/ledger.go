// Package postgres implements the verification ledger on PostgreSQL. The
// uniqueness of fingerprints is a table constraint, so a claim is a single
// INSERT ... ON CONFLICT statement.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/nexus-verify/internal/domain"
)

const fingerprintConstraint = "verifications_fingerprint_hash_key"

// Schema creates the ledger tables. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS verifications (
	identity         TEXT PRIMARY KEY,
	fingerprint_hash TEXT NOT NULL,
	verified_at      TIMESTAMPTZ NOT NULL,
	CONSTRAINT verifications_fingerprint_hash_key UNIQUE (fingerprint_hash)
);
CREATE TABLE IF NOT EXISTS pending_erasures (
	identity     TEXT PRIMARY KEY,
	requested_at TIMESTAMPTZ NOT NULL
);
`

// Ledger persists verification records in PostgreSQL.
type Ledger struct {
	db *sql.DB
}

func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Open connects with the lib/pq driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate applies Schema.
func (l *Ledger) Migrate(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate ledger: %w", err)
	}
	return nil
}

func (l *Ledger) Get(ctx context.Context, identity string) (*domain.VerificationRecord, error) {
	rec, err := scanRecord(l.db.QueryRowContext(ctx, `
		SELECT identity, fingerprint_hash, verified_at
		FROM verifications
		WHERE identity = $1
	`, identity))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("verification not found: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get verification: %w", err)
	}
	return rec, nil
}

// FindByFingerprint returns the record owning hash, or nil when it is unclaimed.
func (l *Ledger) FindByFingerprint(ctx context.Context, hash string) (*domain.VerificationRecord, error) {
	rec, err := scanRecord(l.db.QueryRowContext(ctx, `
		SELECT identity, fingerprint_hash, verified_at
		FROM verifications
		WHERE fingerprint_hash = $1
	`, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find verification by fingerprint: %w", err)
	}
	return rec, nil
}

// Claim upserts the record for identity. The unique constraint on
// fingerprint_hash rejects the write when another identity owns hash.
func (l *Ledger) Claim(ctx context.Context, identity, hash string, at time.Time) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO verifications (identity, fingerprint_hash, verified_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (identity) DO UPDATE SET
			fingerprint_hash = EXCLUDED.fingerprint_hash,
			verified_at = EXCLUDED.verified_at
	`, identity, hash, at)
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == fingerprintConstraint {
		owner, findErr := l.FindByFingerprint(ctx, hash)
		if findErr == nil && owner != nil && owner.Identity != identity {
			return &domain.ClaimConflictError{Owner: owner.Identity}
		}
		return fmt.Errorf("fingerprint ownership changed concurrently: %w", domain.ErrConflict)
	}
	return fmt.Errorf("claim fingerprint: %w", err)
}

func (l *Ledger) Remove(ctx context.Context, identity string) error {
	res, err := l.db.ExecContext(ctx, `DELETE FROM verifications WHERE identity = $1`, identity)
	if err != nil {
		return fmt.Errorf("remove verification: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("verification not found: %w", domain.ErrNotFound)
	}
	return nil
}

func (l *Ledger) EnqueueErasure(ctx context.Context, identity string, at time.Time) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO pending_erasures (identity, requested_at)
		VALUES ($1, $2)
		ON CONFLICT (identity) DO UPDATE SET requested_at = EXCLUDED.requested_at
	`, identity, at)
	if err != nil {
		return fmt.Errorf("enqueue erasure: %w", err)
	}
	return nil
}

func (l *Ledger) PendingErasures(ctx context.Context) ([]domain.PendingErasure, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT identity, requested_at FROM pending_erasures ORDER BY requested_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list pending erasures: %w", err)
	}
	defer rows.Close()
	var out []domain.PendingErasure
	for rows.Next() {
		var p domain.PendingErasure
		if err := rows.Scan(&p.Identity, &p.RequestedAt); err != nil {
			return nil, fmt.Errorf("scan pending erasure: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PurgeBatch deletes the records and pending entries of identities in one
// transaction and returns the number of records deleted.
func (l *Ledger) PurgeBatch(ctx context.Context, identities []string) (int, error) {
	if len(identities) == 0 {
		return 0, nil
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin purge: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `DELETE FROM verifications WHERE identity = ANY($1)`, pq.Array(identities))
	if err != nil {
		return 0, fmt.Errorf("purge verifications: %w", err)
	}
	purged, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_erasures WHERE identity = ANY($1)`, pq.Array(identities)); err != nil {
		return 0, fmt.Errorf("clear pending erasures: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit purge: %w", err)
	}
	return int(purged), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.VerificationRecord, error) {
	var rec domain.VerificationRecord
	if err := row.Scan(&rec.Identity, &rec.FingerprintHash, &rec.VerifiedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}
