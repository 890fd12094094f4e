// Package async implements promises, futures, and the task executors which
// serialize access to a shared resource.
package async

import (
	"context"
	"sync"
	"time"
)

// Promise is a simple notification primitive for asynchronous events.
type Promise chan struct{}

// Resolve wakes any clients currently waiting on the Promise.
func (s Promise) Resolve() {
	close(s)
}

// Wait synchronously blocks until the Promise is resolved.
func (s Promise) Wait() {
	<-s
}

// WaitWithPeriodicTask repeatedly invokes |task| with period |period| until
// the Promise is resolved.
func (s Promise) WaitWithPeriodicTask(period time.Duration, task func()) {
	ticker := time.NewTicker(period)

	for {
		select {
		case <-s:
			ticker.Stop()
			return
		case <-ticker.C:
			task()
		}
	}
}

// OpFuture represents an operation which is executing in the background.
// The operation has completed when Done selects. Err may be invoked to
// determine whether the operation succeeded or failed.
type OpFuture interface {
	// Done selects when background execution of the operation has finished.
	Done() <-chan struct{}
	// Err blocks until the operation has finished, and returns its error.
	Err() error
}

// Task is a deferred unit of work which produces a result.
type Task func() (interface{}, error)

// Future is the resolvable result of a Task, and implements OpFuture.
// A Future resolves at most once: resolving it out-of-band (eg, to cancel a
// task still sitting in an executor queue) races the executor, and whichever
// resolution happens first wins.
type Future struct {
	done Promise

	mu       sync.Mutex
	resolved bool
	result   interface{}
	err      error
}

// NewFuture returns an unresolved Future.
func NewFuture() *Future {
	return &Future{done: make(Promise)}
}

// ResolvedFuture returns a Future which has already resolved with |result|
// and |err|.
func ResolvedFuture(result interface{}, err error) *Future {
	var f = NewFuture()
	f.Resolve(result, err)
	return f
}

// Done selects when the Future has resolved.
func (f *Future) Done() <-chan struct{} { return f.done }

// Err blocks until the Future resolves, and returns its error.
func (f *Future) Err() error {
	<-f.done
	return f.err
}

// Result blocks until the Future resolves, and returns its result and error.
func (f *Future) Result() (interface{}, error) {
	<-f.done
	return f.result, f.err
}

// Resolve sets the result and error of the Future and wakes waiting clients.
// It returns false without effect if the Future had already resolved.
func (f *Future) Resolve(result interface{}, err error) bool {
	f.mu.Lock()
	if f.resolved {
		f.mu.Unlock()
		return false
	}
	f.result, f.err, f.resolved = result, err, true
	f.mu.Unlock()

	f.done.Resolve()
	return true
}

// Cancel resolves the Future with |err|. A worker which dequeues a task
// whose Future already resolved skips the task altogether, so cancelling
// before the task is reached prevents its execution.
func (f *Future) Cancel(err error) bool { return f.Resolve(nil, err) }

// Resolved returns whether the Future has resolved.
func (f *Future) Resolved() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resolved
}

// Await blocks until |f| resolves or |ctx| is cancelled. On cancellation the
// Future is itself cancelled, so an executor which has not yet reached the
// task will skip it. Await returns the Future's final result, which is the
// context error if the cancellation won the race.
func Await(ctx context.Context, f *Future) (interface{}, error) {
	select {
	case <-f.Done():
	case <-ctx.Done():
		f.Cancel(ctx.Err())
	}
	return f.Result()
}
