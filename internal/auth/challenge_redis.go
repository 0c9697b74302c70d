package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// challengeKeyPrefix namespaces challenge keys in a shared Redis.
const challengeKeyPrefix = "astra:otp:"

// RedisChallengeStore keeps challenges in Redis with a TTL, so multiple
// service instances share pending codes and expiry is enforced server-side.
type RedisChallengeStore struct {
	rdb *redis.Client
}

// NewRedisChallengeStore connects to Redis at the given address and verifies
// the connection.
func NewRedisChallengeStore(ctx context.Context, addr, password string, db int) (*RedisChallengeStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("Redis ping failed", "error", err, "addr", addr)
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	slog.Debug("Redis challenge store connected", "addr", addr, "db", db)
	return &RedisChallengeStore{rdb: rdb}, nil
}

func (s *RedisChallengeStore) Put(ctx context.Context, phoneHash string, ch Challenge) error {
	data, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("failed to marshal challenge: %w", err)
	}
	ttl := time.Until(ch.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("challenge already expired")
	}
	if err := s.rdb.Set(ctx, challengeKeyPrefix+phoneHash, data, ttl).Err(); err != nil {
		slog.Error("RedisChallengeStore Put failed", "error", err, "phoneHash", phoneHash)
		return fmt.Errorf("failed to store challenge: %w", err)
	}
	slog.Debug("RedisChallengeStore Put succeeded", "phoneHash", phoneHash, "ttl", ttl)
	return nil
}

func (s *RedisChallengeStore) Get(ctx context.Context, phoneHash string) (*Challenge, error) {
	data, err := s.rdb.Get(ctx, challengeKeyPrefix+phoneHash).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		slog.Error("RedisChallengeStore Get failed", "error", err, "phoneHash", phoneHash)
		return nil, fmt.Errorf("failed to load challenge: %w", err)
	}
	var ch Challenge
	if err := json.Unmarshal(data, &ch); err != nil {
		return nil, fmt.Errorf("failed to unmarshal challenge: %w", err)
	}
	return &ch, nil
}

func (s *RedisChallengeStore) Delete(ctx context.Context, phoneHash string) error {
	if err := s.rdb.Del(ctx, challengeKeyPrefix+phoneHash).Err(); err != nil {
		slog.Error("RedisChallengeStore Delete failed", "error", err, "phoneHash", phoneHash)
		return fmt.Errorf("failed to delete challenge: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (s *RedisChallengeStore) Close() error {
	return s.rdb.Close()
}
