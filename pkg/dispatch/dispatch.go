// Package dispatch provides the execution contexts listeners run on.
//
// A [Queue] created with [NewSerialQueue] runs tasks one at a time in submission
// order; [NewPool] runs them on several workers with no ordering guarantee.
// Execute never blocks the caller: queues are unbounded.
package dispatch

import (
	"fmt"
	"sync"

	"github.com/litesync/litesync.go/pkg/logger"
)

// Executor runs tasks asynchronously.
type Executor interface {
	Execute(task func())
}

// ExecutorFunc adapts a function to Executor. It must not run task on the
// calling goroutine.
type ExecutorFunc func(task func())

func (f ExecutorFunc) Execute(task func()) {
	f(task)
}

// Option configures a Queue.
type Option func(q *Queue)

// WithLogger sets the logger that reports panicking tasks.
func WithLogger(l logger.Logger) Option {
	return func(q *Queue) {
		q.logger = l
	}
}

// WithName labels the queue in log lines.
func WithName(name string) Option {
	return func(q *Queue) {
		q.name = name
	}
}

// Queue is an unbounded FIFO of tasks drained by a fixed set of workers.
// Execute never blocks.
type Queue struct {
	name    string
	logger  logger.Logger
	workers int

	mu     sync.Mutex
	cond   *sync.Cond
	tasks  []func()
	closed bool

	wg sync.WaitGroup
}

// NewSerialQueue returns a queue with a single worker.
func NewSerialQueue(opts ...Option) *Queue {
	return NewPool(1, opts...)
}

// NewPool returns a queue with the given number of workers, at least one.
func NewPool(workers int, opts ...Option) *Queue {
	if workers < 1 {
		workers = 1
	}
	q := &Queue{
		name:    fmt.Sprintf("pool-%d", workers),
		logger:  logger.Nop(),
		workers: workers,
	}
	q.cond = sync.NewCond(&q.mu)
	for _, opt := range opts {
		opt(q)
	}

	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.work()
	}
	return q
}

// Execute enqueues task. Tasks submitted after Close are dropped.
func (q *Queue) Execute(task func()) {
	if task == nil {
		return
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Debug("task dropped, queue closed", "queue", q.name)
		return
	}
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()
	q.cond.Signal()
}

// Pending reports the number of tasks not yet picked up by a worker.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Close stops accepting tasks and waits for the queued ones to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
	q.wg.Wait()
}

func (q *Queue) work() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		for len(q.tasks) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.tasks) == 0 {
			q.mu.Unlock()
			return
		}
		task := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		q.run(task)
	}
}

func (q *Queue) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("task panicked", "queue", q.name, "panic", fmt.Sprint(r))
		}
	}()
	task()
}
