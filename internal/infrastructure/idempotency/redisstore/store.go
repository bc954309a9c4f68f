package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/signflow/internal/core/domain"
	"github.com/kirillkom/signflow/internal/core/ports"
)

const keyPrefix = "signflow:idempotency:"

// Store keeps replayable responses in Redis. The first response stored for
// a key wins; later writes are ignored until the key expires.
type Store struct {
	client *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Lookup(ctx context.Context, key string) (*ports.IdempotentResponse, bool, error) {
	raw, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, domain.WrapError(domain.ErrStorage, "idempotency lookup", err)
	}
	var resp ports.IdempotentResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, false, fmt.Errorf("decode idempotent response: %w", err)
	}
	return &resp, true, nil
}

func (s *Store) Remember(ctx context.Context, key string, resp ports.IdempotentResponse, ttl time.Duration) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode idempotent response: %w", err)
	}
	if err := s.client.SetNX(ctx, keyPrefix+key, raw, ttl).Err(); err != nil {
		return domain.WrapError(domain.ErrStorage, "idempotency remember", err)
	}
	return nil
}
