package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisEnvelope wraps the stored value with its lifecycle timestamps so the
// sweep and stats contract holds even though Redis also expires keys itself.
type redisEnvelope struct {
	Value     json.RawMessage `json:"value"`
	CreatedAt int64           `json:"created_at"`
	ExpiresAt int64           `json:"expires_at"`
}

// RedisStore is the shared-cache backend for deployments where several
// processes should see the same memoized results.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedis wraps an existing Redis client. All keys are namespaced under
// prefix so ClearAll cannot touch unrelated data.
func NewRedis(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "cache:"
	}
	return &RedisStore{rdb: rdb, prefix: prefix, now: time.Now}
}

// Close closes the underlying client.
func (s *RedisStore) Close() error { return s.rdb.Close() }

// Get implements Store. Corrupt envelopes are deleted and reported as misses.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: redis get %s: %w", key, err)
	}
	var env redisEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		_ = s.Delete(ctx, key)
		return nil, false, nil
	}
	if s.now().Unix() >= env.ExpiresAt {
		_ = s.Delete(ctx, key)
		return nil, false, nil
	}
	return env.Value, true, nil
}

// Set implements Store. The Redis-native TTL is set alongside the envelope
// expiry so unattended keys still age out.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("cache: redis set %s: ttl must be positive", key)
	}
	now := s.now().Unix()
	env := redisEnvelope{
		Value:     value,
		CreatedAt: now,
		ExpiresAt: now + int64(ttl.Seconds()),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("cache: redis set %s: %w", key, err)
	}
	if err := s.rdb.Set(ctx, s.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("cache: redis set %s: %w", key, err)
	}
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("cache: redis delete %s: %w", key, err)
	}
	return nil
}

// ClearExpired implements Store. Redis normally evicts expired keys on its
// own; this sweep additionally removes corrupt envelopes.
func (s *RedisStore) ClearExpired(ctx context.Context) (int, error) {
	deleted := 0
	err := s.scan(ctx, func(key string, env *redisEnvelope) error {
		if env == nil || s.now().Unix() >= env.ExpiresAt {
			if err := s.rdb.Del(ctx, key).Err(); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return deleted, fmt.Errorf("cache: redis clear expired: %w", err)
	}
	return deleted, nil
}

// ClearAll implements Store.
func (s *RedisStore) ClearAll(ctx context.Context) (int, error) {
	deleted := 0
	err := s.scan(ctx, func(key string, _ *redisEnvelope) error {
		if err := s.rdb.Del(ctx, key).Err(); err != nil {
			return err
		}
		deleted++
		return nil
	})
	if err != nil {
		return deleted, fmt.Errorf("cache: redis clear all: %w", err)
	}
	return deleted, nil
}

// Stats implements Store.
func (s *RedisStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.scan(ctx, func(key string, env *redisEnvelope) error {
		st.Total++
		if env == nil || s.now().Unix() >= env.ExpiresAt {
			st.Expired++
		}
		if env != nil {
			st.SizeBytes += int64(len(env.Value))
		}
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("cache: redis stats: %w", err)
	}
	st.Live = st.Total - st.Expired
	return st, nil
}

// scan walks every namespaced key, loading its envelope. The callback gets
// a nil envelope for entries that no longer parse.
func (s *RedisStore) scan(ctx context.Context, fn func(key string, env *redisEnvelope) error) error {
	iter := s.rdb.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := s.rdb.Get(ctx, key).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return err
		}
		var env redisEnvelope
		if json.Unmarshal(data, &env) != nil {
			if err := fn(key, nil); err != nil {
				return err
			}
			continue
		}
		if err := fn(key, &env); err != nil {
			return err
		}
	}
	return iter.Err()
}
