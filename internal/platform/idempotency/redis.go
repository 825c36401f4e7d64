package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPattern = "idem:%s"

// RedisStore implements Store with SET NX for claims and WATCH transactions for updates. Expiry is
// delegated to Redis key TTLs, so CleanupExpired is a no-op.
type RedisStore struct {
	rdb redis.UniversalClient
}

// NewRedisStore constructs a Redis-backed idempotency store.
func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func redisKey(key, scope string) string {
	return fmt.Sprintf(redisKeyPattern, recordID(key, scope))
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key, scope string) (Record, error) {
	raw, err := s.rdb.Get(ctx, redisKey(key, scope)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("idempotency: decode redis record: %w", err)
	}
	return rec, nil
}

// Create implements Store.
func (s *RedisStore) Create(ctx context.Context, record Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, redisKey(record.Key, record.Scope), data, ttlUntil(record.CreatedAt, record.ExpiresAt)).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyExists
	}
	return nil
}

// Complete implements Store. The hash check and the write run under WATCH, so a record replaced by
// a racing Delete and Create is never overwritten.
func (s *RedisStore) Complete(ctx context.Context, key, scope, requestHash string, status int, body []byte, now time.Time) error {
	return s.compareAndSwap(ctx, key, scope, func(tx *redis.Tx, rk string, rec Record, found bool) error {
		if !found {
			return ErrNotFound
		}
		if rec.RequestHash != requestHash {
			return ErrHashMismatch
		}
		rec.Status = StatusCompleted
		rec.ResponseStatus = status
		rec.ResponseBody = cloneBody(body)
		rec.UpdatedAt = now
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetXX(ctx, rk, data, ttlUntil(now, rec.ExpiresAt))
			return nil
		})
		return err
	})
}

// Delete implements Store. Only the holder of requestHash can remove the record.
func (s *RedisStore) Delete(ctx context.Context, key, scope, requestHash string) error {
	return s.compareAndSwap(ctx, key, scope, func(tx *redis.Tx, rk string, rec Record, found bool) error {
		if !found || rec.RequestHash != requestHash {
			return nil
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, rk)
			return nil
		})
		return err
	})
}

const maxWatchAttempts = 5

// compareAndSwap reads the record under WATCH and hands it to apply, which queues its write in a
// MULTI block. The whole read-decide-write is retried when another client touched the key.
func (s *RedisStore) compareAndSwap(ctx context.Context, key, scope string, apply func(tx *redis.Tx, rk string, rec Record, found bool) error) error {
	rk := redisKey(key, scope)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, rk).Bytes()
		if errors.Is(err, redis.Nil) {
			return apply(tx, rk, Record{}, false)
		}
		if err != nil {
			return err
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("idempotency: decode redis record: %w", err)
		}
		return apply(tx, rk, rec, true)
	}

	for range maxWatchAttempts {
		err := s.rdb.Watch(ctx, txf, rk)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("idempotency: redis record %s kept changing: %w", rk, redis.TxFailedErr)
}

// CleanupExpired implements Store.
func (s *RedisStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func ttlUntil(from, until time.Time) time.Duration {
	if until.IsZero() {
		return DefaultTTL
	}
	ttl := until.Sub(from)
	if ttl <= 0 {
		return time.Second
	}
	return ttl
}
