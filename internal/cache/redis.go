// Package cache holds the Redis-backed idempotency store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/josh-kwaku/retail-ledger/internal/repository"
)

const keyPrefix = "ledger:idempotency:"

// NewRedisClient connects and pings within five seconds.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("NewRedisClient: ping: %w", err)
	}
	return client, nil
}

// IdempotencyStore keeps recorded responses as JSON values that expire on
// their own, so it needs no cleanup job.
type IdempotencyStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewIdempotencyStore(client *redis.Client) *IdempotencyStore {
	return &IdempotencyStore{client: client, now: time.Now}
}

func redisKey(key string, accountID int64) string {
	return keyPrefix + strconv.FormatInt(accountID, 10) + ":" + key
}

// Get returns nil, nil when nothing is recorded for the pair.
func (s *IdempotencyStore) Get(ctx context.Context, key string, accountID int64) (*repository.IdempotencyCacheEntry, error) {
	raw, err := s.client.Get(ctx, redisKey(key, accountID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}

	var entry repository.IdempotencyCacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("Get: decode: %w", err)
	}
	return &entry, nil
}

// Reserve claims the pair for an in-flight request, failing with false when
// anything live already holds it.
func (s *IdempotencyStore) Reserve(ctx context.Context, entry *repository.IdempotencyCacheEntry) (bool, error) {
	ttl := entry.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return false, fmt.Errorf("Reserve: reservation already expired")
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("Reserve: encode: %w", err)
	}
	ok, err := s.client.SetNX(ctx, redisKey(entry.Key, entry.AccountID), raw, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("Reserve: %w", err)
	}
	return ok, nil
}

// Set records the finished response over the reservation.
func (s *IdempotencyStore) Set(ctx context.Context, entry *repository.IdempotencyCacheEntry) error {
	ttl := entry.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("Set: encode: %w", err)
	}
	if err := s.client.Set(ctx, redisKey(entry.Key, entry.AccountID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("Set: %w", err)
	}
	return nil
}

// Release drops the reservation. It is only called by the request holding
// it, before any response has been recorded.
func (s *IdempotencyStore) Release(ctx context.Context, key string, accountID int64) error {
	if err := s.client.Del(ctx, redisKey(key, accountID)).Err(); err != nil {
		return fmt.Errorf("Release: %w", err)
	}
	return nil
}
