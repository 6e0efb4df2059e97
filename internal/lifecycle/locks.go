// ABOUTME: In-process mutual exclusion for provisioning, keyed by gateway id
// ABOUTME: Context-aware so a stuck holder cannot block callers past their deadline

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

type gatewayLocks struct {
	mu      sync.Mutex
	sems    map[string]*semaphore.Weighted
	timeout time.Duration
}

func newGatewayLocks(timeout time.Duration) *gatewayLocks {
	return &gatewayLocks{sems: make(map[string]*semaphore.Weighted), timeout: timeout}
}

func (l *gatewayLocks) get(gatewayID string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.sems[gatewayID]
	if !ok {
		sem = semaphore.NewWeighted(1)
		l.sems[gatewayID] = sem
	}
	return sem
}

// acquire blocks until the gateway is free, the timeout passes or ctx ends.
func (l *gatewayLocks) acquire(ctx context.Context, gatewayID string) (func(), error) {
	sem := l.get(gatewayID)

	waitCtx := ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	if err := sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: gateway %s", ErrGatewayBusy, gatewayID)
		}
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}
