package adapter

import (
	"context"
	"time"
)

// Locker guards project-wide sweeps across replicas.
type Locker interface {
	// TryLock returns a token for Unlock, or domain.ErrOperationInProgress when the key is held.
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	Unlock(ctx context.Context, key, token string) error
}
