package dedup

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisStore remembers fingerprints in Redis so dedup survives restarts and
// can be shared across processes. Backend failures fail open: a request is
// never blocked because Redis is down.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    zerolog.Logger
}

// NewRedisStore builds a store over opts. ttl of zero keeps entries until
// they are explicitly forgotten.
func NewRedisStore(opts *redis.Options, prefix string, ttl time.Duration, log zerolog.Logger) *RedisStore {
	if prefix == "" {
		prefix = "request:"
	}
	return &RedisStore{
		client: redis.NewClient(opts),
		prefix: prefix,
		ttl:    ttl,
		log:    log,
	}
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping verifies connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Seen reports whether fp exists in Redis; errors degrade to false.
func (s *RedisStore) Seen(ctx context.Context, fp string) bool {
	n, err := s.client.Exists(ctx, s.prefix+fp).Result()
	if err != nil {
		s.log.Warn().Err(err).Msg("dedup lookup failed, treating as new request")
		return false
	}
	return n > 0
}

// Remember records fp as a hash with its metadata.
func (s *RedisStore) Remember(ctx context.Context, fp string, meta Metadata) {
	key := s.prefix + fp
	fields := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		fields[k] = v
	}
	fields["timestamp"] = time.Now().Unix()

	if err := s.client.HSet(ctx, key, fields).Err(); err != nil {
		s.log.Warn().Err(err).Msg("dedup remember failed")
		return
	}
	if s.ttl > 0 {
		if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
			s.log.Warn().Err(err).Msg("dedup expire failed")
		}
	}
}

// Forget drops fp.
func (s *RedisStore) Forget(ctx context.Context, fp string) {
	if err := s.client.Del(ctx, s.prefix+fp).Err(); err != nil {
		s.log.Warn().Err(err).Msg("dedup forget failed")
	}
}

// Len counts stored fingerprints by scanning the key prefix.
func (s *RedisStore) Len(ctx context.Context) int {
	var cursor uint64
	count := 0
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 1000).Result()
		if err != nil {
			s.log.Warn().Err(err).Msg("dedup scan failed")
			return count
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			return count
		}
	}
}

// Clear drops all fingerprints under the prefix.
func (s *RedisStore) Clear(ctx context.Context) {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 1000).Result()
		if err != nil {
			s.log.Warn().Err(err).Msg("dedup clear scan failed")
			return
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				s.log.Warn().Err(err).Msg("dedup clear delete failed")
			}
		}
		cursor = next
		if cursor == 0 {
			return
		}
	}
}
