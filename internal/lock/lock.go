// Package lock implements the per-document distributed mutex that
// serializes writes ahead of the Document Store's optimistic version
// gate. Losing the lock (TTL expiry) is tolerated: the version gate is
// the real correctness backstop, the lock is purely a contention filter.
package lock

import (
	"context"
	"time"
)

// Service is the Lock Service component.
type Service interface {
	// TryAcquire attempts to set key to owner with the given TTL,
	// succeeding only if the key is currently absent or expired; an
	// unexpired key refuses every owner, including the one holding it. It
	// does not block or retry;
	// callers that want bounded spin-retry use Acquire.
	TryAcquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)

	// Release deletes key only if its stored value still equals owner
	// (the fencing check) — it never releases a lock acquired by
	// someone else, including one this caller lost to TTL expiry.
	Release(ctx context.Context, key, owner string) error
}

// DocKey builds the lock key for a document ID.
func DocKey(docID string) string {
	return "lock:doc:" + docID
}

// Acquire spin-retries TryAcquire at a fixed interval until it
// succeeds, ctx is done, or deadline elapses, whichever comes first. It
// returns (false, nil) on deadline/ctx expiry rather than an error: per
// the spec, failing to acquire the lock is not itself an error, it just
// means the caller falls back to pure optimistic concurrency.
func Acquire(ctx context.Context, svc Service, key, owner string, ttl, retryInterval, deadline time.Duration) (bool, error) {
	deadlineCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		ok, err := svc.TryAcquire(deadlineCtx, key, owner, ttl)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}

		select {
		case <-deadlineCtx.Done():
			return false, nil
		case <-ticker.C:
		}
	}
}
