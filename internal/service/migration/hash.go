package migration

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const (
	AlgSHA256     = "sha256"
	AlgBlake2b256 = "blake2b-256"
)

// Hasher digests a batch payload.
type Hasher interface {
	Name() string
	Sum(payload []byte) []byte
}

type sha256Hasher struct{}

func (sha256Hasher) Name() string { return AlgSHA256 }
func (sha256Hasher) Sum(b []byte) []byte {
	h := sha256.Sum256(b)
	return h[:]
}

type blake2bHasher struct{}

func (blake2bHasher) Name() string { return AlgBlake2b256 }
func (blake2bHasher) Sum(b []byte) []byte {
	h := blake2b.Sum256(b)
	return h[:]
}

// NewHasher returns the hasher for alg. Empty selects sha256.
func NewHasher(alg string) (Hasher, error) {
	switch strings.ToLower(strings.TrimSpace(alg)) {
	case "", AlgSHA256:
		return sha256Hasher{}, nil
	case AlgBlake2b256, "blake2b":
		return blake2bHasher{}, nil
	default:
		return nil, fmt.Errorf("unsupported migration hash algorithm %q", alg)
	}
}

// HexSum returns the lowercase hex digest of payload.
func HexSum(h Hasher, payload []byte) string {
	return hex.EncodeToString(h.Sum(payload))
}

// Verify compares declared against the digest of payload in constant time.
func Verify(h Hasher, payload []byte, declared string) bool {
	want, err := hex.DecodeString(strings.TrimSpace(declared))
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(want, h.Sum(payload)) == 1
}
