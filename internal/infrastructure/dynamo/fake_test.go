package dynamo

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/nexus-verify/internal/config"
)

type fakeItem = map[string]types.AttributeValue

// fakeDynamo is an in-memory DynamoDB covering the calls and condition
// expressions the ledger issues. Transactions are all-or-nothing and report
// per-item cancellation reasons like the real service.
type fakeDynamo struct {
	mu        sync.Mutex
	keys      map[string]string // table -> hash key attribute
	tables    map[string]map[string]fakeItem
	gets      map[string]int
	transacts int

	// cancelNext is returned by the next TransactWriteItems call instead of applying it.
	cancelNext error
	// failTransact, when set, can fail a call by its 1-based sequence number.
	failTransact func(call int) error
	// beforeGet runs under the lock before every GetItem.
	beforeGet func(f *fakeDynamo, table, key string)
}

func newFakeDynamo(tables config.DynamoTables) *fakeDynamo {
	return &fakeDynamo{
		keys: map[string]string{
			tables.Verifications:     fieldUserID,
			tables.FingerprintClaims: fieldFingerprintHash,
			tables.PendingErasures:   fieldUserID,
		},
		tables: make(map[string]map[string]fakeItem),
		gets:   make(map[string]int),
	}
}

func (f *fakeDynamo) table(name string) map[string]fakeItem {
	t, ok := f.tables[name]
	if !ok {
		t = make(map[string]fakeItem)
		f.tables[name] = t
	}
	return t
}

// size returns the number of items in a table.
func (f *fakeDynamo) size(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tables[name])
}

func sval(it fakeItem, attr string) string {
	if v, ok := it[attr].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.TableName)
	key := sval(in.Key, f.keys[name])
	if f.beforeGet != nil {
		f.beforeGet(f, name, key)
	}
	f.gets[name]++
	if it, ok := f.table(name)[key]; ok {
		return &dynamodb.GetItemOutput{Item: maps.Clone(it)}, nil
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.TableName)
	f.table(name)[sval(in.Item, f.keys[name])] = maps.Clone(in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeItem
	for _, it := range f.table(aws.ToString(in.TableName)) {
		out = append(out, maps.Clone(it))
	}
	return &dynamodb.ScanOutput{Items: out}, nil
}

type writeTarget struct {
	table, key string
	cond       string
	values     fakeItem
}

func (f *fakeDynamo) target(w types.TransactWriteItem) (writeTarget, error) {
	switch {
	case w.Put != nil:
		name := aws.ToString(w.Put.TableName)
		return writeTarget{name, sval(w.Put.Item, f.keys[name]), aws.ToString(w.Put.ConditionExpression), w.Put.ExpressionAttributeValues}, nil
	case w.Delete != nil:
		name := aws.ToString(w.Delete.TableName)
		return writeTarget{name, sval(w.Delete.Key, f.keys[name]), aws.ToString(w.Delete.ConditionExpression), w.Delete.ExpressionAttributeValues}, nil
	}
	return writeTarget{}, errors.New("unsupported transaction action")
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transacts++

	if len(in.TransactItems) > maxTransactItems {
		return nil, fmt.Errorf("ValidationException: %d actions", len(in.TransactItems))
	}
	if err := f.cancelNext; err != nil {
		f.cancelNext = nil
		return nil, err
	}
	if f.failTransact != nil {
		if err := f.failTransact(f.transacts); err != nil {
			return nil, err
		}
	}

	targets := make([]writeTarget, len(in.TransactItems))
	seen := make(map[string]bool)
	reasons := make([]types.CancellationReason, len(in.TransactItems))
	cancelled := false
	for i, w := range in.TransactItems {
		t, err := f.target(w)
		if err != nil {
			return nil, err
		}
		if seen[t.table+"/"+t.key] {
			return nil, errors.New("ValidationException: multiple operations on one fakeItem")
		}
		seen[t.table+"/"+t.key] = true
		targets[i] = t

		code := "None"
		if !evalCondition(f.table(t.table)[t.key], t.cond, t.values) {
			code = conditionalCheckFailed
			cancelled = true
		}
		reasons[i] = types.CancellationReason{Code: aws.String(code)}
	}
	if cancelled {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}

	for i, w := range in.TransactItems {
		t := targets[i]
		if w.Put != nil {
			f.table(t.table)[t.key] = maps.Clone(w.Put.Item)
		} else {
			delete(f.table(t.table), t.key)
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

// evalCondition understands "attribute_not_exists(a)", "a = :v" and their
// OR combinations.
func evalCondition(it fakeItem, expr string, values fakeItem) bool {
	if expr == "" {
		return true
	}
	for _, clause := range strings.Split(expr, " OR ") {
		clause = strings.TrimSpace(clause)
		if attr, ok := strings.CutPrefix(clause, "attribute_not_exists("); ok {
			if it == nil || it[strings.TrimSuffix(attr, ")")] == nil {
				return true
			}
			continue
		}
		attr, placeholder, ok := strings.Cut(clause, " = ")
		if ok && it != nil && sval(it, attr) == sval(values, placeholder) {
			return true
		}
	}
	return false
}

func transactionCancelled(codes ...string) error {
	reasons := make([]types.CancellationReason, len(codes))
	for i, c := range codes {
		reasons[i] = types.CancellationReason{Code: aws.String(c)}
	}
	return &types.TransactionCanceledException{
		Message:             aws.String("Transaction cancelled"),
		CancellationReasons: reasons,
	}
}
