// Package task defines the unit of work carried through the queue and pool
// packages (spec.md §3 Task).
//
// The source this was distilled from passes an opaque function pointer, an
// untyped argument, and a separate cleanup pointer taking the same argument.
// Per spec.md §9's design note ("from void* tasks to typed task records"),
// Task instead owns a pair of closures: Fn, which does the work, and an
// optional Cleanup, which runs after Fn when a worker executes the task, or
// on its own (Fn skipped) when the queue discards the task unrun because the
// pool is torn down first. Binding
// whatever state a task needs into the closures themselves eliminates the
// leak shape where a caller supplies an argument and forgets to wire its
// cleanup through.
package task

// Task is a single-shot unit of work. Fn must not be nil. Cleanup, if
// non-nil, runs exactly once after Fn returns — whether because a worker
// executed it, or because the queue drained it unrun at destroy time (in
// which case Fn itself is skipped, see queue.Queue.Destroy).
type Task struct {
	Fn      func()
	Cleanup func()
}

// New returns a Task running fn, with an optional cleanup. fn must not be
// nil.
func New(fn func(), cleanup func()) Task {
	if fn == nil {
		panic("task: nil Fn")
	}
	return Task{Fn: fn, Cleanup: cleanup}
}

// Run executes t.Fn and then, if present, t.Cleanup. Both run on the
// caller's goroutine; Run does not recover panics, matching the pool's
// policy of letting a worker's panic surface rather than silently
// swallowing a broken task.
func (t Task) Run() {
	t.Fn()
	if t.Cleanup != nil {
		t.Cleanup()
	}
}

// RunCleanupOnly runs only t.Cleanup, if present, skipping Fn. This is the
// path used when a task is discarded unrun — e.g. still queued when the
// pool is destroyed — where spec.md §4.5's destroy contract still requires
// cleanup to run exactly once per submitted task.
func (t Task) RunCleanupOnly() {
	if t.Cleanup != nil {
		t.Cleanup()
	}
}
