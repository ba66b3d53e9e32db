package dynamo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/nexus-verify/internal/config"
	"github.com/nexus-verify/internal/domain"
)

// purgeChunk is the number of identities handled per purge transaction.
// Each identity costs up to three actions (record, claim, pending entry).
const purgeChunk = (maxTransactItems - 1) / 3

// settleReads bounds the claim re-reads after a transaction lost to a
// concurrent one, which may still be committing.
const settleReads = 3

// client is the subset of the DynamoDB API the ledger uses.
type client interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Ledger is the DynamoDB verification ledger.
//
// verifications      PK: user_id           identity -> fingerprint, verified_at
// fingerprint_claims PK: fingerprint_hash  fingerprint -> owning identity
// pending_erasures   PK: user_id           erasure requests
//
// A record and its claim are always written and removed in the same
// transaction, so the claims table is the uniqueness constraint on fingerprints.
type Ledger struct {
	client client
	tables config.DynamoTables
	settle time.Duration
}

func NewLedger(c client, tables config.DynamoTables) *Ledger {
	return &Ledger{client: c, tables: tables, settle: 25 * time.Millisecond}
}

// Get returns the record for identity, or a domain.ErrNotFound-wrapped error.
func (l *Ledger) Get(ctx context.Context, identity string) (*domain.VerificationRecord, error) {
	out, err := l.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(l.tables.Verifications),
		Key:            strKey(fieldUserID, identity),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("verification not found: %w", domain.ErrNotFound)
	}
	var rec domain.VerificationRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindByFingerprint returns the record owning hash, or nil when it is unclaimed.
func (l *Ledger) FindByFingerprint(ctx context.Context, hash string) (*domain.VerificationRecord, error) {
	claim, err := l.getClaim(ctx, hash)
	if err != nil || claim == nil {
		return nil, err
	}
	return &domain.VerificationRecord{
		Identity:        claim.Identity,
		FingerprintHash: claim.FingerprintHash,
		VerifiedAt:      claim.ClaimedAt,
	}, nil
}

func (l *Ledger) getClaim(ctx context.Context, hash string) (*domain.FingerprintClaim, error) {
	out, err := l.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(l.tables.FingerprintClaims),
		Key:            strKey(fieldFingerprintHash, hash),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, nil
	}
	var c domain.FingerprintClaim
	if err := attributevalue.UnmarshalMap(out.Item, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Claim binds hash to identity and records the verification in one
// transaction. The claim put only succeeds when the fingerprint is unclaimed
// or already owned by identity; a fingerprint previously held by identity is
// released in the same transaction. Losing the claim returns a
// *domain.ClaimConflictError naming the owner.
func (l *Ledger) Claim(ctx context.Context, identity, hash string, at time.Time) error {
	prev, err := l.Get(ctx, identity)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("read verification: %w", err)
	}

	claimItem, err := attributevalue.MarshalMap(domain.FingerprintClaim{
		FingerprintHash: hash,
		Identity:        identity,
		ClaimedAt:       at,
	})
	if err != nil {
		return fmt.Errorf("marshal claim: %w", err)
	}
	recItem, err := attributevalue.MarshalMap(domain.VerificationRecord{
		Identity:        identity,
		FingerprintHash: hash,
		VerifiedAt:      at,
	})
	if err != nil {
		return fmt.Errorf("marshal verification: %w", err)
	}

	items := []types.TransactWriteItem{{
		Put: &types.Put{
			TableName:                 aws.String(l.tables.FingerprintClaims),
			Item:                      claimItem,
			ConditionExpression:       aws.String("attribute_not_exists(fingerprint_hash) OR user_id = :uid"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":uid": strVal(identity)},
		},
	}}

	recPut := &types.Put{
		TableName: aws.String(l.tables.Verifications),
		Item:      recItem,
	}
	if prev == nil {
		recPut.ConditionExpression = aws.String("attribute_not_exists(user_id)")
	} else {
		// Optimistic check: the record must still point where we read it.
		recPut.ConditionExpression = aws.String("fingerprint_hash = :prev")
		recPut.ExpressionAttributeValues = map[string]types.AttributeValue{":prev": strVal(prev.FingerprintHash)}
	}
	items = append(items, types.TransactWriteItem{Put: recPut})

	if prev != nil && prev.FingerprintHash != hash {
		items = append(items, types.TransactWriteItem{
			Delete: &types.Delete{
				TableName:                 aws.String(l.tables.FingerprintClaims),
				Key:                       strKey(fieldFingerprintHash, prev.FingerprintHash),
				ConditionExpression:       aws.String("user_id = :uid"),
				ExpressionAttributeValues: map[string]types.AttributeValue{":uid": strVal(identity)},
			},
		})
	}

	_, err = l.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err == nil {
		return nil
	}
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return fmt.Errorf("claim fingerprint: %w", err)
	}
	// Any cancellation (failed condition or a concurrent transaction) is a
	// lost claim when the fingerprint now belongs to someone else.
	codes := cancellationCodes(tce)
	owner, err := l.ownerAfterCancel(ctx, hash, strings.Contains(codes, transactionConflict))
	if err != nil {
		return fmt.Errorf("read claim after cancelled write: %v: %w", err, domain.ErrConflict)
	}
	if owner != "" && owner != identity {
		return &domain.ClaimConflictError{Owner: owner}
	}
	slog.Warn("claim cancelled without a competing owner", "identity", identity, "reasons", codes)
	return fmt.Errorf("verification for %s changed concurrently: %w", identity, domain.ErrConflict)
}

// ownerAfterCancel reads the current owner of hash. When the transaction lost
// to a concurrent one, the winner may not be visible yet, so an unclaimed
// fingerprint is read again a few times.
func (l *Ledger) ownerAfterCancel(ctx context.Context, hash string, concurrent bool) (string, error) {
	attempts := 1
	if concurrent {
		attempts = settleReads
	}
	for i := 0; ; i++ {
		claim, err := l.getClaim(ctx, hash)
		if err != nil {
			return "", err
		}
		if claim != nil || i+1 >= attempts {
			if claim == nil {
				return "", nil
			}
			return claim.Identity, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(l.settle * time.Duration(i+1)):
		}
	}
}

// Remove deletes the record for identity and releases its fingerprint.
func (l *Ledger) Remove(ctx context.Context, identity string) error {
	rec, err := l.Get(ctx, identity)
	if err != nil {
		return err
	}
	_, err = l.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: l.recordDeletes(rec),
	})
	if err != nil {
		return fmt.Errorf("remove verification: %w", err)
	}
	return nil
}

// recordDeletes builds the conditional deletes of a record and its claim.
func (l *Ledger) recordDeletes(rec *domain.VerificationRecord) []types.TransactWriteItem {
	return []types.TransactWriteItem{
		{Delete: &types.Delete{
			TableName:                 aws.String(l.tables.Verifications),
			Key:                       strKey(fieldUserID, rec.Identity),
			ConditionExpression:       aws.String("fingerprint_hash = :fp"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":fp": strVal(rec.FingerprintHash)},
		}},
		{Delete: &types.Delete{
			TableName:                 aws.String(l.tables.FingerprintClaims),
			Key:                       strKey(fieldFingerprintHash, rec.FingerprintHash),
			ConditionExpression:       aws.String("user_id = :uid"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":uid": strVal(rec.Identity)},
		}},
	}
}

// EnqueueErasure records an erasure request. Repeated requests refresh requested_at.
func (l *Ledger) EnqueueErasure(ctx context.Context, identity string, at time.Time) error {
	item, err := attributevalue.MarshalMap(domain.PendingErasure{Identity: identity, RequestedAt: at})
	if err != nil {
		return fmt.Errorf("marshal erasure request: %w", err)
	}
	_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.tables.PendingErasures),
		Item:      item,
	})
	return err
}

// PendingErasures returns every queued erasure request.
func (l *Ledger) PendingErasures(ctx context.Context) ([]domain.PendingErasure, error) {
	var out []domain.PendingErasure
	p := dynamodb.NewScanPaginator(l.client, &dynamodb.ScanInput{
		TableName:      aws.String(l.tables.PendingErasures),
		ConsistentRead: aws.Bool(true),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan pending erasures: %w", err)
		}
		var batch []domain.PendingErasure
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

// PurgeBatch deletes the records of identities together with their pending
// erasure entries and returns the number of records deleted. Work is split
// into transactions of at most purgeChunk identities; each transaction is
// all-or-nothing, so a pending entry is never cleared while its record remains.
// On error the count covers the chunks already committed.
func (l *Ledger) PurgeBatch(ctx context.Context, identities []string) (int, error) {
	purged := 0
	for _, group := range chunk(dedupe(identities), purgeChunk) {
		var items []types.TransactWriteItem
		found := 0
		for _, identity := range group {
			rec, err := l.Get(ctx, identity)
			switch {
			case err == nil:
				items = append(items, l.recordDeletes(rec)...)
				found++
			case !errors.Is(err, domain.ErrNotFound):
				return purged, fmt.Errorf("read verification %s: %w", identity, err)
			}
			items = append(items, types.TransactWriteItem{
				Delete: &types.Delete{
					TableName: aws.String(l.tables.PendingErasures),
					Key:       strKey(fieldUserID, identity),
				},
			})
		}
		if _, err := l.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
			return purged, fmt.Errorf("purge verifications: %w", err)
		}
		purged += found
	}
	return purged, nil
}
