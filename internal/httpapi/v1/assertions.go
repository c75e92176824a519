package v1

import (
	"github.com/tinoosan/remitledger/internal/storage/postgres"
	"github.com/tinoosan/remitledger/internal/storage/redis"
)

// Compile-time assertions for the stores probed by /readyz.
var (
	_ ReadyChecker = (*postgres.Store)(nil)
	_ ReadyChecker = (*redis.IdempotencyStore)(nil)
	_ ReadyChecker = ReadyFunc(nil)
)
