// Package workpool provides a bounded worker pool for CPU-bound work.
// The pool is shared process-wide: sessions submit audio decode and
// recognition jobs to it so their control loops never run the work
// inline, and it outlives any single session.
package workpool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrShutdown is returned by Run after Shutdown has been called.
var ErrShutdown = errors.New("workpool: pool is shut down")

// Pool limits concurrently running jobs to a fixed number of slots.
// Run blocks the caller until the submitted job has finished, so
// callers keep their sequential semantics while overall CPU use stays
// bounded.
type Pool struct {
	sem  *semaphore.Weighted
	size int64

	mu   sync.Mutex
	down bool
}

// New creates a Pool with the given number of slots. Sizes below one
// are raised to one.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		sem:  semaphore.NewWeighted(int64(size)),
		size: int64(size),
	}
}

// Run executes fn in one of the pool's slots, blocking until a slot is
// free and fn has returned. ctx cancellation is honoured while waiting
// for a slot; once fn starts it runs to completion.
func (p *Pool) Run(ctx context.Context, fn func() error) error {
	p.mu.Lock()
	if p.down {
		p.mu.Unlock()
		return ErrShutdown
	}
	p.mu.Unlock()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("workpool: acquire slot: %w", err)
	}
	defer p.sem.Release(1)
	return fn()
}

// Shutdown stops accepting new jobs and waits for in-flight jobs to
// drain, bounded by ctx. Calling Shutdown more than once is safe.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.down = true
	p.mu.Unlock()

	// Acquiring every slot proves all in-flight jobs have released.
	if err := p.sem.Acquire(ctx, p.size); err != nil {
		return fmt.Errorf("workpool: drain: %w", err)
	}
	p.sem.Release(p.size)
	return nil
}
