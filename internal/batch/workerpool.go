// Package batch implements the batch driver: package-list expansion,
// bounded concurrent fan-out across a worker pool, cancellation
// propagation, and progress/done callbacks.
package batch

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// workerPool bounds the number of package tasks running concurrently.
// Adapted from a channel-backed object pool into a semaphore-backed
// task submitter: the batch driver needs bounded *concurrent task
// execution*, not pooled, reusable connections, so every acquire here
// guards one in-flight package task rather than checking out a pooled
// resource.
type workerPool struct {
	sem *semaphore.Weighted
}

func newWorkerPool(size int) *workerPool {
	if size < 1 {
		size = 1
	}
	return &workerPool{sem: semaphore.NewWeighted(int64(size))}
}

// run blocks until a slot is free (or ctx is done) and then runs fn in
// the caller's goroutine while holding that slot.
func (p *workerPool) run(ctx context.Context, fn func()) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	fn()
	return nil
}
