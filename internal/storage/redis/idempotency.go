// Package redis keeps replayable idempotent responses in Redis so that every
// replica of the service sees the same keys.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/tinoosan/remitledger/internal/idempotency"
)

type IdempotencyStore struct {
	client *goredis.Client
}

// Open parses url (redis://...) and pings the server.
func Open(ctx context.Context, url string) (*IdempotencyStore, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &IdempotencyStore{client: client}, nil
}

func New(client *goredis.Client) *IdempotencyStore { return &IdempotencyStore{client: client} }

func (s *IdempotencyStore) Get(ctx context.Context, key string) (idempotency.Response, bool, error) {
	b, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return idempotency.Response{}, false, nil
	}
	if err != nil {
		return idempotency.Response{}, false, fmt.Errorf("redis get: %w", err)
	}
	var r idempotency.Response
	if err := json.Unmarshal(b, &r); err != nil {
		return idempotency.Response{}, false, fmt.Errorf("decode idempotent response: %w", err)
	}
	return r, true, nil
}

// Reserve claims key with SETNX so that only one request serves it.
func (s *IdempotencyStore) Reserve(ctx context.Context, key, bodyHash string, ttl time.Duration) (bool, error) {
	b, err := json.Marshal(idempotency.Response{BodyHash: bodyHash, Pending: true})
	if err != nil {
		return false, fmt.Errorf("encode idempotency reservation: %w", err)
	}
	ok, err := s.client.SetNX(ctx, key, b, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

func (s *IdempotencyStore) Put(ctx context.Context, key string, r idempotency.Response, ttl time.Duration) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode idempotent response: %w", err)
	}
	if err := s.client.Set(ctx, key, b, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Ready pings the server.
func (s *IdempotencyStore) Ready(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *IdempotencyStore) Close() error { return s.client.Close() }

var _ idempotency.Store = (*IdempotencyStore)(nil)
