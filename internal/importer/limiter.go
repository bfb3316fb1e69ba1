package importer

// limiter.go bounds the number of commit executors running in one process.
// This is a resource guard, separate from the per-(company, entity type)
// exclusivity the store enforces: commits for unrelated tenants still
// compete for worker slots here.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTooManyImports is returned when every commit slot is occupied and the
// wait budget expires. Clients should retry shortly.
var ErrTooManyImports = errors.New("too many concurrent imports, please try again later")

const (
	defaultMaxConcurrentCommits = 4
	defaultCommitSlotWait       = 10 * time.Second
)

// CommitLimiter is a semaphore over background commit executors.
type CommitLimiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu     sync.RWMutex
	active int
}

// NewCommitLimiter allows at most maxConcurrent simultaneous commits.
// Acquire waits up to maxWait for a slot before failing.
func NewCommitLimiter(maxConcurrent int, maxWait time.Duration) *CommitLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrentCommits
	}
	if maxWait <= 0 {
		maxWait = defaultCommitSlotWait
	}
	return &CommitLimiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
	}
}

// Acquire blocks for a commit slot. The caller must Release exactly once
// after a successful Acquire.
func (l *CommitLimiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return nil

	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManyImports
	}
}

// Release frees a previously acquired slot.
func (l *CommitLimiter) Release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()

	<-l.semaphore
}

// ActiveCount returns the number of commits currently running.
func (l *CommitLimiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// WaitForDrain blocks until all running commits finish or ctx expires.
// Used during graceful shutdown.
func (l *CommitLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
