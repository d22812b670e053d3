package notification

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"

	"golang.org/x/sync/errgroup"
)

// Task is one unit of notification work, typically a single email.
type Task func(ctx context.Context) error

// WorkerPool runs batches of notification tasks with bounded concurrency.
type WorkerPool struct {
	size int
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{size: size}
}

// Size reports the maximum number of tasks in flight.
func (wp *WorkerPool) Size() int {
	return wp.size
}

// Run starts every task and waits until all of them have settled. The
// returned slice holds each task's error at the task's index; one task
// failing or panicking never stops the others.
func (wp *WorkerPool) Run(ctx context.Context, tasks []Task) []error {
	errs := make([]error, len(tasks))

	var g errgroup.Group
	g.SetLimit(wp.size)
	for i, task := range tasks {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("Notification task %d panicked: %v\n%s", i, r, debug.Stack())
					errs[i] = fmt.Errorf("notification task panicked: %v", r)
				}
			}()
			errs[i] = task(ctx)
			return nil
		})
	}
	_ = g.Wait()

	return errs
}
