package replayguard

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces replay entries in a shared Redis.
const DefaultKeyPrefix = "actsafe:processed:"

// markScript upserts one entry and keeps the original first-seen time.
// KEYS[1] = entry key
// ARGV[1] = now (unix ms), ARGV[2] = expires at (unix ms), ARGV[3] = ttl (ms)
var markScript = redis.NewScript(`
redis.call("HSETNX", KEYS[1], "first_seen_at", ARGV[1])
redis.call("HSET", KEYS[1], "expires_at", ARGV[2])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return 1
`)

// RedisStore keeps one hash per entry. Expiry is enforced by Redis itself, so
// pruning needs no read-side work.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	clock  func() time.Time
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix, clock: time.Now}
}

func (s *RedisStore) MarkProcessed(ctx context.Context, id string, ttl time.Duration) error {
	if err := validate("replayguard.MarkProcessed", id, ttl); err != nil {
		return err
	}
	now := s.clock()
	err := markScript.Run(ctx, s.client, []string{s.prefix + id},
		now.UnixMilli(), now.Add(ttl).UnixMilli(), ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("replayguard: redis mark: %w", err)
	}
	return nil
}

func (s *RedisStore) IsProcessed(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+id).Result()
	if err != nil {
		return false, fmt.Errorf("replayguard: redis exists: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) Entries(ctx context.Context) ([]Entry, error) {
	out := []Entry{}
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		fields, err := s.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("replayguard: redis read %s: %w", key, err)
		}
		if len(fields) == 0 {
			continue // expired between SCAN and HGETALL
		}
		first, _ := strconv.ParseInt(fields["first_seen_at"], 10, 64)
		expires, _ := strconv.ParseInt(fields["expires_at"], 10, 64)
		out = append(out, Entry{
			ID:          key[len(s.prefix):],
			FirstSeenAt: time.UnixMilli(first).UTC(),
			ExpiresAt:   time.UnixMilli(expires).UTC(),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("replayguard: redis scan: %w", err)
	}
	sortEntries(out)
	return out, nil
}
