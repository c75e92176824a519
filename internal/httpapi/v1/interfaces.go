package v1

import "context"

// ReadyChecker is optionally implemented by stores and publishers to indicate readiness.
type ReadyChecker interface {
	Ready(ctx context.Context) error
}

// ReadyFunc adapts a probe function, such as a Kafka ping, to ReadyChecker.
type ReadyFunc func(ctx context.Context) error

func (f ReadyFunc) Ready(ctx context.Context) error { return f(ctx) }
