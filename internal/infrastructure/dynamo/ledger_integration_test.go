//go:build integration

package dynamo_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/nexus-verify/internal/config"
	"github.com/nexus-verify/internal/domain"
	"github.com/nexus-verify/internal/infrastructure/dynamo"
)

// LedgerSuite runs the ledger against DynamoDB Local, whose transactions
// report real TransactionConflict cancellations under contention.
type LedgerSuite struct {
	suite.Suite
	container testcontainers.Container
	client    *dynamodb.Client
	ledger    *dynamo.Ledger
}

func TestLedgerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(LedgerSuite))
}

func (s *LedgerSuite) SetupSuite() {
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "amazon/dynamodb-local:2.5.2",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"-jar", "DynamoDBLocal.jar", "-inMemory", "-sharedDb"},
			WaitingFor:   wait.ForListeningPort("8000/tcp"),
		},
		Started: true,
	})
	s.Require().NoError(err)
	s.container = container

	endpoint, err := container.PortEndpoint(ctx, "8000/tcp", "http")
	s.Require().NoError(err)

	awsCfg := aws.Config{
		Region:      "us-east-1",
		Credentials: credentials.NewStaticCredentialsProvider("local", "local", ""),
	}
	s.client = dynamo.NewClient(awsCfg, endpoint)
}

func (s *LedgerSuite) TearDownSuite() {
	if err := testcontainers.TerminateContainer(s.container); err != nil {
		s.T().Logf("terminate dynamodb container: %v", err)
	}
}

// SetupTest creates a fresh set of tables so tests never share state.
func (s *LedgerSuite) SetupTest() {
	suffix := uuid.NewString()[:8]
	tables := config.DynamoTables{
		Verifications:     "verifications_" + suffix,
		FingerprintClaims: "fingerprint_claims_" + suffix,
		PendingErasures:   "pending_erasures_" + suffix,
	}
	dynamo.Bootstrap(context.Background(), s.client, tables)
	s.ledger = dynamo.NewLedger(s.client, tables)
}

func (s *LedgerSuite) owner(hash string) string {
	rec, err := s.ledger.FindByFingerprint(context.Background(), hash)
	s.Require().NoError(err)
	if rec == nil {
		return ""
	}
	return rec.Identity
}

func (s *LedgerSuite) TestClaimConflictNamesOwner() {
	ctx := context.Background()
	s.Require().NoError(s.ledger.Claim(ctx, "u1", "fp-1", time.Now()))

	err := s.ledger.Claim(ctx, "u2", "fp-1", time.Now())

	var conflict *domain.ClaimConflictError
	s.Require().ErrorAs(err, &conflict)
	s.Equal("u1", conflict.Owner)
}

func (s *LedgerSuite) TestNewFingerprintReleasesOld() {
	ctx := context.Background()
	s.Require().NoError(s.ledger.Claim(ctx, "u1", "fp-1", time.Now()))
	s.Require().NoError(s.ledger.Claim(ctx, "u1", "fp-2", time.Now()))

	s.Empty(s.owner("fp-1"))
	s.Equal("u1", s.owner("fp-2"))
}

func (s *LedgerSuite) TestConcurrentClaimsSingleOwner() {
	ctx := context.Background()
	const n = 30

	errs := make([]error, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = s.ledger.Claim(ctx, fmt.Sprintf("u%d", i), "fp-shared", time.Now())
		}(i)
	}
	close(start)
	wg.Wait()

	winner := s.owner("fp-shared")
	s.Require().NotEmpty(winner)
	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		var conflict *domain.ClaimConflictError
		s.Require().ErrorAs(err, &conflict, "every loser is an alt detection")
		s.Equal(winner, conflict.Owner)
	}
	s.Equal(1, wins)
}

func (s *LedgerSuite) TestPurgeClearsRecordsAndPending() {
	ctx := context.Background()
	var ids []string
	for i := 0; i < 40; i++ {
		id := fmt.Sprintf("u%02d", i)
		ids = append(ids, id)
		s.Require().NoError(s.ledger.Claim(ctx, id, "fp-"+id, time.Now()))
		s.Require().NoError(s.ledger.EnqueueErasure(ctx, id, time.Now()))
	}

	purged, err := s.ledger.PurgeBatch(ctx, ids)
	s.Require().NoError(err)
	s.Equal(40, purged)

	pending, err := s.ledger.PendingErasures(ctx)
	s.Require().NoError(err)
	s.Empty(pending)
	s.Empty(s.owner("fp-u07"))
}
