package memory

import (
	"context"
	"sync"
	"time"

	"github.com/tinoosan/remitledger/internal/idempotency"
)

type idemEntry struct {
	resp      idempotency.Response
	expiresAt time.Time
}

// IdempotencyStore keeps replayable responses in process memory.
type IdempotencyStore struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]idemEntry
}

func NewIdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{now: time.Now, entries: make(map[string]idemEntry)}
}

func (s *IdempotencyStore) Get(_ context.Context, key string) (idempotency.Response, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return idempotency.Response{}, false, nil
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return idempotency.Response{}, false, nil
	}
	return e.resp, true, nil
}

func (s *IdempotencyStore) Reserve(_ context.Context, key, bodyHash string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if e, ok := s.entries[key]; ok && (e.expiresAt.IsZero() || now.Before(e.expiresAt)) {
		return false, nil
	}
	s.entries[key] = idemEntry{resp: idempotency.Response{BodyHash: bodyHash, Pending: true}, expiresAt: expiry(now, ttl)}
	return true, nil
}

func (s *IdempotencyStore) Put(_ context.Context, key string, r idempotency.Response, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = idemEntry{resp: r, expiresAt: expiry(s.now(), ttl)}
	return nil
}

func (s *IdempotencyStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
