package ports

import (
	"context"
	"time"
)

// UnlockFunc releases a lock obtained from a DistributedLocker.
type UnlockFunc func(ctx context.Context) error

// DistributedLocker keeps a single live run per project across replicas.
type DistributedLocker interface {
	// Lock blocks until key is held or ctx is done. The lock expires after ttl
	// if the holder dies; callers must invoke the returned UnlockFunc.
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}
