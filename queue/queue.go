// Package queue implements the bounded task queue shared by a pool's
// producers and workers (spec.md §4.5): a single FIFO with optional capacity,
// backpressure on a full queue, and a quiescence signal that distinguishes
// "nothing queued right now" from "every submitted task has fully finished,
// including its cleanup."
//
// Per spec.md §9's design note ("from condition-variable soup to a
// quiescence primitive"), the source's four condition variables collapse to
// three here: notEmpty, notFull, and allDone absorb the source's
// (not_empty, not_full, empty, all_done) — empty is superseded by allDone, as
// the source itself already notes.
package queue

import (
	"sync"

	"github.com/joeycumines/go-allocpool/errs"
	"github.com/joeycumines/go-allocpool/task"
)

type node struct {
	t    task.Task
	next *node
}

// Queue is a mutex-and-condition-variable FIFO of task.Task. The zero value
// is not usable; use New.
type Queue struct {
	mu sync.Mutex

	notEmpty *sync.Cond
	notFull  *sync.Cond
	allDone  *sync.Cond

	head, tail *node
	count      int
	maxCount   int // 0 => unbounded

	totalEnqueued  uint64
	totalDequeued  uint64
	totalProcessed uint64
	activeTasks    int

	destroyed bool
}

// New constructs an empty Queue. maxCount of 0 means unbounded.
func New(maxCount int) *Queue {
	q := &Queue{maxCount: maxCount}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	q.allDone = sync.NewCond(&q.mu)
	return q
}

// Submit appends t to the tail, blocking while the queue is at capacity
// (backpressure). It returns errs.ErrWrongState if the queue has been
// destroyed, either before blocking or after waking from a wait.
func (q *Queue) Submit(t task.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.maxCount > 0 && q.count == q.maxCount && !q.destroyed {
		q.notFull.Wait()
	}
	if q.destroyed {
		return &errs.QueueError{Op: "submit", Cause: errs.ErrWrongState}
	}

	n := &node{t: t}
	if q.tail == nil {
		q.head, q.tail = n, n
	} else {
		q.tail.next = n
		q.tail = n
	}
	q.count++
	q.totalEnqueued++
	q.notEmpty.Signal()
	return nil
}

// PopResult is the outcome of PopAndExecute.
type PopResult int

const (
	// TaskExecuted means a task was dequeued, run, and cleaned up.
	TaskExecuted PopResult = iota
	// Shutdown means the queue woke the caller with nothing queued because
	// shouldShutdown was observed true or the queue was destroyed.
	Shutdown
)

// PopAndExecute is the worker's canonical step (spec.md §4.5
// pop_and_execute). It waits on notEmpty while the queue is empty, not
// destroyed, and shouldShutdown() is false. If it wakes with an empty queue
// and either shouldShutdown() true or the queue destroyed, it returns
// Shutdown without touching any task.
// shouldShutdown is called again on every wakeup rather than read once — the
// worker's shutdown signal is only observed this way (spec.md §9 "worker
// observation of shutdown"); callers typically close over an atomic.Bool.
func (q *Queue) PopAndExecute(shouldShutdown func() bool) PopResult {
	q.mu.Lock()
	for q.count == 0 && !q.destroyed && !shouldShutdown() {
		q.notEmpty.Wait()
	}
	if q.count == 0 {
		q.mu.Unlock()
		return Shutdown
	}

	n := q.head
	q.head = n.next
	if q.head == nil {
		q.tail = nil
	}
	q.count--
	q.totalDequeued++
	q.totalProcessed++
	q.activeTasks++
	if q.maxCount > 0 {
		q.notFull.Signal()
	}
	q.mu.Unlock()

	n.t.Run()

	q.mu.Lock()
	q.activeTasks--
	if q.count == 0 && q.activeTasks == 0 {
		q.allDone.Broadcast()
	}
	q.mu.Unlock()
	return TaskExecuted
}

// WaitEmpty blocks until count == 0 and activeTasks == 0 — every submitted
// task has been dequeued, run, and cleaned up.
func (q *Queue) WaitEmpty() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.count > 0 || q.activeTasks > 0 {
		q.allDone.Wait()
	}
}

// Nudge wakes every goroutine waiting in PopAndExecute's notEmpty loop
// without enqueuing anything, so each re-evaluates its own shouldShutdown
// predicate. This is how a pool asks a subset of idle workers to notice a
// per-worker exit flag without touching the queue's contents.
func (q *Queue) Nudge() {
	q.mu.Lock()
	q.notEmpty.Broadcast()
	q.mu.Unlock()
}

// Count returns a snapshot of the number of queued (not yet dequeued) tasks.
func (q *Queue) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Stats returns a snapshot of the queue's lifetime counters.
func (q *Queue) Stats() (totalEnqueued, totalDequeued, totalProcessed uint64, activeTasks int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.totalEnqueued, q.totalDequeued, q.totalProcessed, q.activeTasks
}

// Destroy drains any remaining queued tasks, running each one's cleanup
// (but not its Fn — these tasks never got to run), wakes every sleeper on
// every condition variable, and marks the queue unusable for further
// Submit/PopAndExecute calls.
func (q *Queue) Destroy() {
	q.mu.Lock()
	n := q.head
	q.head, q.tail, q.count = nil, nil, 0
	q.destroyed = true
	q.mu.Unlock()

	for n != nil {
		n.t.RunCleanupOnly()
		n = n.next
	}

	q.mu.Lock()
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
	q.allDone.Broadcast()
	q.mu.Unlock()
}

// Verify checks the queue's invariants: count matches the live list length,
// and (if bounded) count never exceeds maxCount.
func (q *Queue) Verify() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for cur := q.head; cur != nil; cur = cur.next {
		n++
	}
	if n != q.count {
		return &errs.QueueError{Op: "verify", Count: n, MaxCount: q.count, Cause: errs.ErrCorruption}
	}
	if q.maxCount > 0 && q.count > q.maxCount {
		return &errs.QueueError{Op: "verify", Count: q.count, MaxCount: q.maxCount, Cause: errs.ErrCorruption}
	}
	return nil
}
