package redisinfra

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/nexus-verify/internal/domain"
	"github.com/nexus-verify/internal/metrics"
	"github.com/redis/go-redis/v9"
)

// Redis key prefix for cached classifications. The suffix is the origin's
// fingerprint, so raw addresses never reach Redis.
const reputationKeyPrefix = "rep:fp:"

type Classifier interface {
	Classify(ctx context.Context, origin string) (domain.Classification, error)
}

type Hasher interface {
	Hash(origin string) string
}

// ReputationCache serves classifications from Redis and falls through to the
// wrapped classifier on a miss. Only known classifications are stored. A
// Redis failure is logged and treated as a miss.
type ReputationCache struct {
	client  *redis.Client
	next    Classifier
	hasher  Hasher
	ttl     time.Duration
	metrics *metrics.Metrics
}

func NewReputationCache(client *redis.Client, next Classifier, hasher Hasher, ttl time.Duration, m *metrics.Metrics) *ReputationCache {
	return &ReputationCache{client: client, next: next, hasher: hasher, ttl: ttl, metrics: m}
}

// NewClient parses a redis:// URL and pings the server.
func NewClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (c *ReputationCache) Classify(ctx context.Context, origin string) (domain.Classification, error) {
	key := reputationKeyPrefix + c.hasher.Hash(origin)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cls domain.Classification
		if jsonErr := json.Unmarshal(raw, &cls); jsonErr == nil {
			c.metrics.IncrementLookup("cache_hit")
			return cls, nil
		}
	case !errors.Is(err, redis.Nil):
		slog.Warn("reputation cache read failed", "err", err)
	}

	cls, err := c.next.Classify(ctx, origin)
	if err != nil || !cls.Known {
		return cls, err
	}
	if data, jsonErr := json.Marshal(cls); jsonErr == nil {
		if setErr := c.client.Set(ctx, key, data, c.ttl).Err(); setErr != nil {
			slog.Warn("reputation cache write failed", "err", setErr)
		}
	}
	return cls, nil
}
