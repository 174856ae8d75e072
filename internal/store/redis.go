package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lumapay/paybot/internal/model/payment"
)

// RedisStore persists sessions in Redis. Each session is a hash holding the
// serialized record and its version; Put runs inside a WATCH transaction so a
// concurrent writer aborts the swap instead of clobbering it.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, addr, keyPrefix string, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if keyPrefix == "" {
		keyPrefix = "paybot:sessions:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix, ttl: ttl}, nil
}

// Close releases the Redis client.
func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) key(sessionID string) string { return s.keyPrefix + sessionID }

func (s *RedisStore) Get(ctx context.Context, sessionID string) (*payment.Session, error) {
	raw, err := s.client.HGet(ctx, s.key(sessionID), "data").Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session %s: %w", sessionID, err)
	}

	var session payment.Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", sessionID, err)
	}
	return &session, nil
}

func (s *RedisStore) Put(ctx context.Context, session *payment.Session, expectedVersion int64) error {
	key := s.key(session.ID)

	// Stamp a copy; the caller's session only advances once EXEC succeeds.
	record := session.Clone()
	record.Version = expectedVersion + 1
	record.LastUpdated = time.Now().UTC()

	txn := func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, "version").Result()
		switch {
		case errors.Is(err, redis.Nil):
			if expectedVersion != 0 {
				return ErrVersionConflict
			}
		case err != nil:
			return fmt.Errorf("redis read version: %w", err)
		default:
			v, parseErr := strconv.ParseInt(current, 10, 64)
			if parseErr != nil {
				return fmt.Errorf("corrupt version for session %s: %w", session.ID, parseErr)
			}
			if v != expectedVersion {
				return ErrVersionConflict
			}
		}

		raw, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to encode session %s: %w", session.ID, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "data", raw, "version", record.Version)
			if s.ttl > 0 {
				pipe.Expire(ctx, key, s.ttl)
			}
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txn, key)
	if errors.Is(err, redis.TxFailedErr) {
		// Key changed between WATCH and EXEC; surface as a plain conflict so
		// the caller reloads and retries.
		return ErrVersionConflict
	}
	if err != nil {
		return err
	}
	session.Version = record.Version
	session.LastUpdated = record.LastUpdated
	return nil
}
