// Package idempotency stores responses to client requests that carried an
// Idempotency-Key so that retries replay the original outcome.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Response is a stored outcome. BodyHash detects key reuse with a different body.
// A Pending response marks a key whose first request is still being served.
type Response struct {
	BodyHash string `json:"body_hash"`
	Status   int    `json:"status,omitempty"`
	Payload  []byte `json:"payload,omitempty"`
	Pending  bool   `json:"pending,omitempty"`
}

type Store interface {
	Get(ctx context.Context, key string) (Response, bool, error)
	// Reserve stores a pending marker for bodyHash unless key is present and
	// reports whether it did. Only the reserving request may Put or Release.
	Reserve(ctx context.Context, key, bodyHash string, ttl time.Duration) (bool, error)
	// Put stores the final response under key, replacing the pending marker.
	Put(ctx context.Context, key string, r Response, ttl time.Duration) error
	// Release drops a reservation whose request failed so the key can be retried.
	Release(ctx context.Context, key string) error
}

func HashBytes(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// Scope namespaces a client key by caller and route so that keys never collide
// across callers.
func Scope(caller, route, key string) string {
	return "idem:" + caller + ":" + route + ":" + key
}
