// Package pool implements the thread pool that owns a set of workers
// consuming from a single queue.Queue, plus the state machine governing its
// lifecycle (spec.md §4.6).
//
// The state machine is modelled on the teacher's eventloop.FastState: a
// lock-free atomic word with CAS-guarded transitions, rather than a mutex
// and condition variable pair, since every transition here is a one-shot
// move to a strictly later state and needs no broadcast/wait protocol of
// its own.
package pool

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-allocpool/errs"
	"github.com/joeycumines/go-allocpool/logging"
	"github.com/joeycumines/go-allocpool/queue"
	"github.com/joeycumines/go-allocpool/task"
)

// State is a pool's lifecycle stage (spec.md §4.6).
type State int32

const (
	// Created is the state while Create is building the pool, before workers
	// spawn.
	Created State = iota
	// Running accepts Submit calls and is actively draining the queue.
	Running
	// Stopping is set by Destroy/Shutdown while workers are being joined.
	Stopping
	// Stopped is the terminal state: every worker has exited and the queue
	// is destroyed.
	Stopped
)

func (s State) String() string {
	switch s {
	case Created:
		return "CREATED"
	case Running:
		return "RUNNING"
	case Stopping:
		return "STOPPING"
	case Stopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// poolState is a FastState-style atomic word: CAS-guarded transitions, no
// mutex, trusting callers not to race two competing Destroy calls (Destroy
// itself degrades gracefully — see Destroy).
type poolState struct {
	v atomic.Int32
}

func (s *poolState) Load() State             { return State(s.v.Load()) }
func (s *poolState) Store(state State)       { s.v.Store(int32(state)) }
func (s *poolState) CAS(from, to State) bool { return s.v.CompareAndSwap(int32(from), int32(to)) }

// Config configures Create. The zero value is not directly usable: NumThreads
// and QueueSize should be set explicitly, following the teacher's
// microbatch.BatcherConfig convention of a plain struct with documented
// per-field defaults rather than a functional-options API.
type Config struct {
	// NumThreads is the number of workers spawned by Create. Must be > 0.
	NumThreads int
	// QueueSize bounds the queue; 0 means unbounded.
	QueueSize int
	// StackSize and DaemonThreads are accepted for fidelity with the
	// source's thread-creation parameters, but Go goroutines have no
	// per-goroutine stack size or daemon/non-daemon distinction (the runtime
	// grows goroutine stacks automatically, and goroutines never
	// independently keep a process alive); both fields are therefore
	// currently inert. They're kept so a Config literal can carry the same
	// shape as the originating configuration without a caller needing to
	// special-case this package.
	StackSize     int
	DaemonThreads bool
	// Logger receives lifecycle and task events; nil uses logging.Global().
	Logger logging.Logger
}

type workerInfo struct {
	index          int
	tasksCompleted atomic.Uint64
	active         atomic.Bool
	shouldExit     atomic.Bool
	done           chan struct{}
}

// Pool owns a resizable set of workers draining a single bounded queue.
type Pool struct {
	state poolState

	mu      sync.Mutex // guards the workers slice during resize
	workers []*workerInfo
	wg      sync.WaitGroup

	q        *queue.Queue
	shutdown atomic.Bool
	logger   logging.Logger
}

// Create spawns cfg.NumThreads workers against a fresh queue bounded by
// cfg.QueueSize, and transitions CREATED → RUNNING. NumThreads must be > 0.
func Create(cfg Config) (*Pool, error) {
	if cfg.NumThreads <= 0 {
		return nil, &errs.QueueError{Op: "create", Cause: errs.ErrInvalidArgument}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Global()
	}

	p := &Pool{
		q:      queue.New(cfg.QueueSize),
		logger: logger,
	}
	p.state.Store(Created)

	p.workers = make([]*workerInfo, cfg.NumThreads)
	for i := range p.workers {
		p.workers[i] = &workerInfo{index: i, done: make(chan struct{})}
	}
	for _, w := range p.workers {
		p.spawn(w)
	}

	p.state.Store(Running)
	logger.Log(logging.Entry{
		Level: logging.LevelInfo, Category: "pool", Message: "created",
		Fields: map[string]any{"num_threads": cfg.NumThreads, "queue_size": cfg.QueueSize},
	})
	return p, nil
}

func (p *Pool) spawn(w *workerInfo) {
	p.wg.Add(1)
	go p.workerLoop(w)
}

// workerLoop is the worker main loop from spec.md §4.6: check should_exit,
// mark active, pop-and-execute, mark inactive, repeat. It observes both the
// pool-wide shutdown flag and its own should_exit flag through the same
// predicate passed to PopAndExecute, so a Shrink targeting this worker
// specifically wakes it exactly as a full Destroy would.
func (p *Pool) workerLoop(w *workerInfo) {
	defer close(w.done)
	defer p.wg.Done()
	for {
		if w.shouldExit.Load() {
			return
		}
		w.active.Store(true)
		result := p.q.PopAndExecute(func() bool { return p.shutdown.Load() || w.shouldExit.Load() })
		w.active.Store(false)
		if result == queue.Shutdown {
			return
		}
		w.tasksCompleted.Add(1)
	}
}

// Submit enqueues a task of fn and an optional cleanup. It fails with
// errs.ErrWrongState unless the pool is RUNNING.
func (p *Pool) Submit(fn func(), cleanup func()) error {
	if p.state.Load() != Running {
		return &errs.QueueError{Op: "submit", Cause: errs.ErrWrongState}
	}
	return p.q.Submit(task.New(fn, cleanup))
}

// WaitAll blocks until every submitted task has been dequeued, run, and
// cleaned up.
func (p *Pool) WaitAll() {
	p.q.WaitEmpty()
}

// Destroy transitions RUNNING → STOPPING, wakes every worker, joins them
// all, destroys the queue, and transitions to STOPPED. Calling Destroy on an
// already-STOPPED pool is a no-op; a call that overlaps one already in
// flight (state STOPPING) repeats the wake-up and queue teardown, which are
// harmless the second time, and returns once every worker has been joined.
func (p *Pool) Destroy() error {
	if !p.state.CAS(Running, Stopping) {
		if p.state.Load() == Stopped {
			return nil
		}
		// a concurrent Destroy/Shutdown is already in flight; let it finish.
	}

	p.shutdown.Store(true)
	p.mu.Lock()
	for _, w := range p.workers {
		w.shouldExit.Store(true)
	}
	p.mu.Unlock()
	p.q.Destroy() // broadcasts notEmpty among others, waking every waiter

	p.wg.Wait()
	p.state.Store(Stopped)

	p.logger.Log(logging.Entry{Level: logging.LevelInfo, Category: "pool", Message: "destroyed"})
	return nil
}

// Shutdown waits for the queue to drain and then destroys the pool — a
// graceful stop, versus Destroy's immediate one.
func (p *Pool) Shutdown() error {
	p.WaitAll()
	return p.Destroy()
}

// NumThreads returns the current worker count.
func (p *Pool) NumThreads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// State returns the pool's current lifecycle stage.
func (p *Pool) State() State {
	return p.state.Load()
}

// Grow adds n workers to a RUNNING pool.
func (p *Pool) Grow(n int) error {
	if n <= 0 {
		return &errs.QueueError{Op: "grow", Cause: errs.ErrInvalidArgument}
	}
	if p.state.Load() != Running {
		return &errs.QueueError{Op: "grow", Cause: errs.ErrWrongState}
	}

	p.mu.Lock()
	newWorkers := make([]*workerInfo, n)
	base := len(p.workers)
	for i := range newWorkers {
		newWorkers[i] = &workerInfo{index: base + i, done: make(chan struct{})}
	}
	p.workers = append(p.workers, newWorkers...)
	p.mu.Unlock()

	for _, w := range newWorkers {
		p.spawn(w)
	}
	return nil
}

// Shrink asks the trailing k workers to exit once they finish their current
// task (if any), and joins them before returning. It never targets workers
// by identity beyond "the current trailing k" — a worker mid-task always
// completes that task first.
func (p *Pool) Shrink(k int) error {
	if k <= 0 {
		return &errs.QueueError{Op: "shrink", Cause: errs.ErrInvalidArgument}
	}
	if p.state.Load() != Running {
		return &errs.QueueError{Op: "shrink", Cause: errs.ErrWrongState}
	}

	p.mu.Lock()
	if k > len(p.workers) {
		k = len(p.workers)
	}
	cut := len(p.workers) - k
	trailing := p.workers[cut:]
	p.workers = p.workers[:cut]
	p.mu.Unlock()

	for _, w := range trailing {
		w.shouldExit.Store(true)
	}
	// every worker parked in PopAndExecute re-evaluates its own predicate on
	// this wakeup; only the trailing workers' predicates now hold, so only
	// they return Shutdown. A worker mid-task simply finishes it, then
	// observes should_exit at the top of its next loop iteration.
	p.q.Nudge()

	for _, w := range trailing {
		<-w.done
	}
	return nil
}

// Resize dispatches to Grow or Shrink to reach exactly n workers.
func (p *Pool) Resize(n int) error {
	cur := p.NumThreads()
	switch {
	case n > cur:
		return p.Grow(n - cur)
	case n < cur:
		return p.Shrink(cur - n)
	default:
		return nil
	}
}

// Stats reports, for each worker still tracked by the pool, its index and
// completed-task count.
func (p *Pool) Stats() (numThreads int, tasksCompleted []uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tasksCompleted = make([]uint64, len(p.workers))
	for i, w := range p.workers {
		tasksCompleted[i] = w.tasksCompleted.Load()
	}
	return len(p.workers), tasksCompleted
}

// Snapshot is a point-in-time view of a Pool's lifecycle state, worker
// counters, and queue counters, for diagnostic use (spec.md §4.7).
type Snapshot struct {
	State          State
	NumThreads     int
	TasksCompleted []uint64
	Queued         int
	TotalEnqueued  uint64
	TotalDequeued  uint64
	TotalProcessed uint64
	ActiveTasks    int
}

// Snapshot captures the pool's current state, worker counters, and queue
// counters under the respective locks of the pool and its queue.
func (p *Pool) Snapshot() Snapshot {
	n, completed := p.Stats()
	enq, deq, proc, active := p.q.Stats()
	return Snapshot{
		State:          p.state.Load(),
		NumThreads:     n,
		TasksCompleted: completed,
		Queued:         p.q.Count(),
		TotalEnqueued:  enq,
		TotalDequeued:  deq,
		TotalProcessed: proc,
		ActiveTasks:    active,
	}
}

// Dump writes a formatted diagnostic summary of Snapshot to w.
func (p *Pool) Dump(w io.Writer) {
	s := p.Snapshot()
	fmt.Fprintf(w, "pool: state=%s workers=%d queued=%d enqueued=%d dequeued=%d processed=%d active=%d\n",
		s.State, s.NumThreads, s.Queued, s.TotalEnqueued, s.TotalDequeued, s.TotalProcessed, s.ActiveTasks)
	for i, c := range s.TasksCompleted {
		fmt.Fprintf(w, "  worker[%d]: completed=%d\n", i, c)
	}
}

// PrintInfo writes a diagnostic summary of pool state and per-worker
// counters to w. It is an alias of Dump, named to match spec.md §6's
// print_info operation.
func (p *Pool) PrintInfo(w io.Writer) {
	p.Dump(w)
}

// Verify delegates to the underlying queue's invariant check.
func (p *Pool) Verify() error {
	return p.q.Verify()
}
