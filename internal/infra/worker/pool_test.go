//go:build !integration

package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// inflightTracker records the maximum number of concurrently running tasks.
type inflightTracker struct {
	cur, max int64
}

func (tr *inflightTracker) task(d time.Duration, err error) Task {
	return func(ctx context.Context) error {
		n := atomic.AddInt64(&tr.cur, 1)
		for {
			m := atomic.LoadInt64(&tr.max)
			if n <= m || atomic.CompareAndSwapInt64(&tr.max, m, n) {
				break
			}
		}
		time.Sleep(d)
		atomic.AddInt64(&tr.cur, -1)
		return err
	}
}

func TestPool_Run(t *testing.T) {
	t.Run("should bound concurrency and report every result", func(t *testing.T) {
		tr := &inflightTracker{}
		boom := errors.New("boom")
		tasks := make([]Task, 12)
		for i := range tasks {
			var err error
			if i == 3 {
				err = boom
			}
			tasks[i] = tr.task(5*time.Millisecond, err)
		}

		errs := NewPool(5).Run(context.Background(), tasks)

		if len(errs) != 12 {
			t.Fatalf("expected 12 results, got %d", len(errs))
		}
		if !errors.Is(errs[3], boom) {
			t.Errorf("expected slot 3 to carry the task error, got %v", errs[3])
		}
		if got := Succeeded(errs); got != 11 {
			t.Errorf("expected 11 successes, got %d", got)
		}
		if tr.max > 5 {
			t.Errorf("expected at most 5 in flight, saw %d", tr.max)
		}
	})

	t.Run("single worker runs sequentially", func(t *testing.T) {
		tr := &inflightTracker{}
		tasks := []Task{tr.task(time.Millisecond, nil), tr.task(time.Millisecond, nil), tr.task(time.Millisecond, nil)}
		NewPool(1).Run(context.Background(), tasks)
		if tr.max != 1 {
			t.Errorf("expected sequential execution, saw %d in flight", tr.max)
		}
	})

	t.Run("a panicking task does not stop its siblings", func(t *testing.T) {
		var ran int64
		tasks := []Task{
			func(ctx context.Context) error { panic("bad item") },
			func(ctx context.Context) error { atomic.AddInt64(&ran, 1); return nil },
		}
		errs := NewPool(2).Run(context.Background(), tasks)
		var pe *PanicError
		if !errors.As(errs[0], &pe) {
			t.Errorf("expected PanicError, got %v", errs[0])
		}
		if ran != 1 {
			t.Error("expected sibling task to run")
		}
	})

	t.Run("empty input", func(t *testing.T) {
		if errs := NewPool(3).Run(context.Background(), nil); len(errs) != 0 {
			t.Errorf("expected no results, got %d", len(errs))
		}
	})
}

func TestRunBatches(t *testing.T) {
	t.Run("should never exceed batch size and settle every task", func(t *testing.T) {
		tr := &inflightTracker{}
		var mu sync.Mutex
		done := map[int]bool{}
		tasks := make([]Task, 12)
		for i := range tasks {
			i := i
			inner := tr.task(3*time.Millisecond, nil)
			tasks[i] = func(ctx context.Context) error {
				err := inner(ctx)
				mu.Lock()
				done[i] = true
				mu.Unlock()
				return err
			}
		}

		errs := RunBatches(context.Background(), 5, tasks)

		if len(done) != 12 {
			t.Errorf("expected 12 settled tasks, got %d", len(done))
		}
		if Succeeded(errs) != 12 {
			t.Errorf("expected all tasks to succeed")
		}
		if tr.max > 5 {
			t.Errorf("expected at most 5 in flight, saw %d", tr.max)
		}
	})

	t.Run("failures inside a batch do not block later batches", func(t *testing.T) {
		tasks := make([]Task, 7)
		for i := range tasks {
			fail := i%2 == 0
			tasks[i] = func(ctx context.Context) error {
				if fail {
					return errors.New("upload failed")
				}
				return nil
			}
		}
		errs := RunBatches(context.Background(), 3, tasks)
		if got := Succeeded(errs); got != 3 {
			t.Errorf("expected 3 successes, got %d", got)
		}
	})
}
