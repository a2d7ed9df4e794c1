package utils

import (
	"context"
	"sync"
	"time"
)

var (
	lockMap sync.Map
)

// WithKeyLock runs safeCode while holding the process-wide lock for key. It gives up
// and returns success=false when the lock is not acquired within wait or ctx ends.
func WithKeyLock(ctx context.Context, key string, wait time.Duration, safeCode func() error) (success bool, err error) {
	isTimeout := time.After(wait)
	for {
		if _, loaded := lockMap.LoadOrStore(key, true); !loaded {
			break
		}
		select {
		case <-isTimeout:
			return false, nil
		case <-ctx.Done():
			return false, nil
		case <-time.After(20 * time.Millisecond):
		}
	}
	defer lockMap.Delete(key)
	return true, safeCode()
}
