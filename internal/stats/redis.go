package stats

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore accumulates counters in Redis hashes:
// <prefix>:total and <prefix>:run:<id>, the latter expiring after ttl.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisStore
type RedisOption func(*RedisStore)

// WithPrefix sets the key prefix
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if p := strings.Trim(prefix, ":"); p != "" {
			s.prefix = p
		}
	}
}

// WithTTL sets the expiry of per-run keys; 0 keeps them forever
func WithTTL(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = d }
}

// NewRedisStore creates a Redis-backed recorder
func NewRedisStore(rdb *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		rdb:    rdb,
		prefix: "whoisbatch:stats",
		ttl:    7 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunKey returns the hash key holding a run's counters
func (s *RedisStore) RunKey(runID string) string {
	return s.prefix + ":run:" + runID
}

// TotalKey returns the hash key holding counters across runs
func (s *RedisStore) TotalKey() string {
	return s.prefix + ":total"
}

func (s *RedisStore) Record(ctx context.Context, ev Event) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	pipe := s.rdb.Pipeline()
	for _, key := range []string{s.TotalKey(), s.RunKey(ev.RunID)} {
		pipe.HIncrBy(ctx, key, "batches", 1)
		pipe.HIncrBy(ctx, key, "records", int64(ev.Records))
		pipe.HIncrBy(ctx, key, "failures", int64(ev.Failures))
		pipe.HIncrBy(ctx, key, "attempts", int64(ev.Attempts))
	}
	pipe.HSet(ctx, s.RunKey(ev.RunID), "last_batch", ev.BatchID, "updated_at", at.UTC().Format(time.RFC3339))
	if s.ttl > 0 {
		pipe.Expire(ctx, s.RunKey(ev.RunID), s.ttl)
	}

	_, err := pipe.Exec(ctx)
	return err
}
