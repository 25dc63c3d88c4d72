package api

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTooManyImports is returned when every import slot stayed busy for the
// whole wait window. Clients should retry shortly.
var ErrTooManyImports = errors.New("too many concurrent imports, please try again later")

// ErrImportsClosed is returned once the limiter is closed for shutdown.
var ErrImportsClosed = errors.New("server is shutting down, imports are closed")

// Defaults used when the limiter is built with non-positive settings.
const (
	DefaultMaxConcurrentImports = 4
	DefaultMaxImportWait        = 10 * time.Second
)

// ImportLimiter bounds concurrent imports with a semaphore.
type ImportLimiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu     sync.RWMutex
	active int
	closed bool
}

// NewImportLimiter allows at most maxConcurrent imports at once. Callers
// that cannot get a slot within maxWait receive ErrTooManyImports.
func NewImportLimiter(maxConcurrent int, maxWait time.Duration) *ImportLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentImports
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxImportWait
	}
	return &ImportLimiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
	}
}

// Acquire takes a slot. The caller must Release it.
func (l *ImportLimiter) Acquire(ctx context.Context) error {
	if l.isClosed() {
		return ErrImportsClosed
	}

	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.closed {
			<-l.semaphore
			return ErrImportsClosed
		}
		l.active++
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTooManyImports
	}
}

// Release frees a slot taken by Acquire.
func (l *ImportLimiter) Release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()
	<-l.semaphore
}

// Close refuses every later Acquire. Running imports keep their slots.
func (l *ImportLimiter) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}

func (l *ImportLimiter) isClosed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.closed
}

// ActiveCount returns the number of running imports.
func (l *ImportLimiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// Available returns the number of free slots.
func (l *ImportLimiter) Available() int {
	return cap(l.semaphore) - len(l.semaphore)
}

// WaitForDrain blocks until no import is running or ctx ends. Call Close
// first so no new import starts while waiting.
func (l *ImportLimiter) WaitForDrain(ctx context.Context) error {
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
