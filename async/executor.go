package async

import (
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"go.seqlite.dev/core/metrics"
)

// Executor offloads Tasks onto a pooled set of background goroutines.
// Offloaded tasks have no ordering relative to one another; use a
// SerialExecutor where a total order is required.
type Executor struct {
	pool *ants.Pool
}

// NewExecutor returns an Executor running at most |size| concurrent tasks.
func NewExecutor(size int) (*Executor, error) {
	var pool, err = ants.NewPool(size)
	if err != nil {
		return nil, errors.WithMessage(err, "building goroutine pool")
	}
	return &Executor{pool: pool}, nil
}

// Offload submits |task| to the pool, and returns a Future of its result.
func (e *Executor) Offload(task Task) *Future {
	var fut = NewFuture()

	var err = e.pool.Submit(func() {
		if fut.Resolved() {
			metrics.ExecutorTasksSkipped.Inc()
			return
		}
		fut.Resolve(task())
	})

	if err != nil {
		fut.Cancel(errors.WithMessage(err, "submitting task to pool"))
		metrics.ExecutorOffloadsTotal.WithLabelValues(metrics.Fail).Inc()
	} else {
		metrics.ExecutorOffloadsTotal.WithLabelValues(metrics.Ok).Inc()
	}
	return fut
}

// Close releases the Executor's pool. Queued tasks are abandoned; tasks
// already running are allowed to finish.
func (e *Executor) Close() { e.pool.Release() }

type queued struct {
	task Task
	fut  *Future
}

// SerialExecutor funnels Tasks through a FIFO queue drained by exactly one
// worker goroutine, imposing a total order on their execution. The worker
// lifecycle is reference-counted: Start and Stop may nest, and the worker
// is spawned or torn down only at the outermost transitions. Stopping waits
// for the queue to fully drain, including tasks submitted during the drain.
type SerialExecutor struct {
	mu     sync.Mutex
	queue  []queued
	signal chan struct{} // wakes an idle worker; holds at most one nudge
	refs   int
	exited chan struct{} // closed when the current worker exits; nil if none
	stop   bool          // the worker exits once the queue drains
}

// NewSerialExecutor returns a SerialExecutor. It must be started before
// submitted tasks will run.
func NewSerialExecutor() *SerialExecutor {
	return &SerialExecutor{signal: make(chan struct{}, 1)}
}

// Submit enqueues |task| and returns a Future of its result. Submit never
// blocks and never rejects: tasks submitted to an executor which is not
// running are queued until it starts. Cancel the Future to remove a queued
// task from consideration; the worker skips tasks whose Future resolved
// before they were reached.
func (s *SerialExecutor) Submit(task Task) *Future {
	var fut = NewFuture()

	s.mu.Lock()
	s.queue = append(s.queue, queued{task: task, fut: fut})
	s.mu.Unlock()
	metrics.ExecutorQueueDepth.Inc()

	select {
	case s.signal <- struct{}{}:
	default: // Worker already has a pending nudge.
	}
	return fut
}

// Start acquires a reference on the executor, spawning its worker if none
// is live. It returns whether this call spawned the worker.
func (s *SerialExecutor) Start() bool {
	s.mu.Lock()
	s.refs++

	// A concurrent Stop may still be draining a previous worker. Wait it
	// out: the queue must belong to exactly one worker at a time.
	for s.stop {
		var exited = s.exited
		s.mu.Unlock()
		<-exited
		s.mu.Lock()
		if s.exited == exited {
			s.exited, s.stop = nil, false
		}
	}

	if s.exited != nil {
		s.mu.Unlock()
		return false
	}
	s.exited = make(chan struct{})
	go s.worker(s.exited)
	s.mu.Unlock()

	metrics.ExecutorWorkersStarted.Inc()
	return true
}

// Stop releases a reference on the executor. On release of the final
// reference Stop blocks until the queue has fully drained, tears down the
// worker, and returns true. Stop of an executor with no references is a
// no-op returning false.
func (s *SerialExecutor) Stop() bool {
	s.mu.Lock()
	if s.refs == 0 {
		s.mu.Unlock()
		return false
	}
	s.refs--

	if s.refs != 0 || s.exited == nil {
		s.mu.Unlock()
		return false
	}
	s.stop = true
	var exited = s.exited
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
	<-exited

	s.mu.Lock()
	if s.exited == exited {
		s.exited, s.stop = nil, false
	}
	s.mu.Unlock()
	return true
}

// Running returns whether a worker is currently live.
func (s *SerialExecutor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exited != nil && !s.stop
}

// Refs returns the current reference count.
func (s *SerialExecutor) Refs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}

func (s *SerialExecutor) worker(exited chan struct{}) {
	defer close(exited)

	for {
		s.mu.Lock()
		for len(s.queue) == 0 {
			if s.stop {
				s.mu.Unlock()
				return
			}
			s.mu.Unlock()
			<-s.signal
			s.mu.Lock()
		}
		var next = s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		metrics.ExecutorQueueDepth.Dec()

		if next.fut.Resolved() {
			metrics.ExecutorTasksSkipped.Inc()
			continue
		}

		var result, err = next.task()
		// If the resolution loses to a concurrent Cancel, the work is done
		// regardless; the cancellation error wins at the caller.
		next.fut.Resolve(result, err)

		if err != nil {
			metrics.ExecutorTasksTotal.WithLabelValues(metrics.Fail).Inc()
		} else {
			metrics.ExecutorTasksTotal.WithLabelValues(metrics.Ok).Inc()
		}
	}
}
