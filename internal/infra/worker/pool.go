// Package worker bounds how many ingestion tasks run at once.
package worker

import (
	"context"
	"runtime"
	"sync"
)

// Task is one unit of work. Its error is reported back to the caller, never
// used to cancel sibling tasks.
type Task func(ctx context.Context) error

// Pool is an arena of n workers pulling from a shared queue.
type Pool struct {
	n int
}

func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{n: workers}
}

func (p *Pool) Size() int { return p.n }

// Run executes every task and returns one error slot per task, in input order.
// It returns only once all tasks have finished.
func (p *Pool) Run(ctx context.Context, tasks []Task) []error {
	errs := make([]error, len(tasks))
	if len(tasks) == 0 {
		return errs
	}

	workers := p.n
	if workers > len(tasks) {
		workers = len(tasks)
	}

	queue := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range queue {
				errs[i] = runTask(ctx, tasks[i])
			}
		}()
	}
	for i := range tasks {
		queue <- i
	}
	close(queue)
	wg.Wait()
	return errs
}

// RunBatches runs tasks in fixed-size batches; each batch fully settles before
// the next starts, so at most size tasks are ever in flight.
func RunBatches(ctx context.Context, size int, tasks []Task) []error {
	if size <= 0 {
		size = 1
	}
	errs := make([]error, len(tasks))
	for start := 0; start < len(tasks); start += size {
		end := start + size
		if end > len(tasks) {
			end = len(tasks)
		}
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = runTask(ctx, tasks[i])
			}(i)
		}
		wg.Wait()
	}
	return errs
}

// Succeeded counts nil slots.
func Succeeded(errs []error) int {
	n := 0
	for _, err := range errs {
		if err == nil {
			n++
		}
	}
	return n
}

func runTask(ctx context.Context, t Task) (err error) {
	if t == nil {
		return errNilTask
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = &PanicError{Value: rec}
		}
	}()
	return t(ctx)
}
