package dynamo

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrKey(t *testing.T) {
	k := strKey("user_id", "42")
	v, ok := k["user_id"].(*types.AttributeValueMemberS)
	require.True(t, ok)
	assert.Equal(t, "42", v.Value)
}

func TestCancellationCodes(t *testing.T) {
	tce := &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String(transactionConflict)},
			{Code: aws.String("None")},
		},
	}
	assert.Equal(t, "TransactionConflict,None", cancellationCodes(tce))
}

func TestChunk(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e"}
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, chunk(ids, 2))
	assert.Equal(t, [][]string{{"a", "b", "c", "d", "e"}}, chunk(ids, 10))
	assert.Nil(t, chunk(nil, 3))
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, dedupe([]string{"a", "", "b", "a"}))
}
