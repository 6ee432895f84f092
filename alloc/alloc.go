// Package alloc provides the public allocator facade (spec.md §4.4): it
// hides the heap and vm packages behind alloc/free/stats/verify/dump, and
// lazily constructs its state on first use.
//
// Per spec.md §9's design note ("from global mutable state to a scoped
// owner"), the source's trio of a process-wide heap pointer, a process-wide
// VM manager pointer, and a process-wide init lock collapses here into one
// Allocator value behind a double-checked-locking lazy initialiser; a
// caller that wants an isolated instance — tests, principally — can skip
// the global and call NewAllocator directly.
package alloc

import (
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-allocpool/diag"
	"github.com/joeycumines/go-allocpool/heap"
	"github.com/joeycumines/go-allocpool/logging"
	"github.com/joeycumines/go-allocpool/vm"
)

// Allocator is a heap plus its owning vm.Manager, lazily constructed.
// The zero value is ready to use: its first Alloc/Free call performs the
// lazy init described in spec.md §4.4.
type Allocator struct {
	mu     sync.Mutex
	ready  atomic.Bool
	vmMgr  *vm.Manager
	h      *heap.Heap
	policy heap.Policy
	logger logging.Logger

	tracerMu sync.RWMutex
	tracer   *diag.Tracer
}

// NewAllocator constructs an already-initialised Allocator, bypassing lazy
// init — the constructor tests should use for an isolated instance that
// doesn't share state with the package-level global.
func NewAllocator(policy heap.Policy, logger logging.Logger) *Allocator {
	if logger == nil {
		logger = logging.Global()
	}
	a := &Allocator{policy: policy, logger: logger}
	a.vmMgr = vm.NewManager(logger)
	a.h = heap.New(a.vmMgr, heap.Options{Policy: policy, Logger: logger})
	a.ready.Store(true)
	return a
}

// Init performs the lazy-initialisation path explicitly, at a point of the
// caller's choosing rather than on the first Alloc/Free. Initialisation
// cannot fail here, so Init always returns nil. enableConcurrency is
// accepted for fidelity with the source's init(enable_concurrency)
// signature; this implementation is always safe for concurrent use (the
// heap's mutex is unconditional), so the flag is otherwise a no-op.
func (a *Allocator) Init(enableConcurrency bool) error {
	a.ensureInit()
	return nil
}

// ensureInit is the double-checked-locking lazy initialiser from spec.md
// §4.4: the fast path (already initialised) never takes the_mutex.
func (a *Allocator) ensureInit() {
	if a.ready.Load() {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ready.Load() {
		return
	}
	logger := a.logger
	if logger == nil {
		logger = logging.Global()
	}
	a.logger = logger
	a.vmMgr = vm.NewManager(logger)
	a.h = heap.New(a.vmMgr, heap.Options{Policy: a.policy, Logger: logger})
	a.ready.Store(true)
}

// Alloc returns a null (zero) address for size == 0, per spec.md §4.4's
// edge case; otherwise it lazily initialises if necessary and delegates to
// the heap. If tracing is enabled (EnableTracing), the call site and outcome
// are recorded regardless of success or failure (spec.md §4.7's "optional
// allocation tracing").
func (a *Allocator) Alloc(size uint64) (uint64, error) {
	if size == 0 {
		return 0, nil
	}
	a.ensureInit()
	addr, err := a.h.Allocate(size)
	a.trace(diag.OpAlloc, addr, size, err)
	return addr, err
}

// Free is a no-op returning success for a null pointer, per spec.md §4.4's
// edge case; otherwise it lazily initialises if necessary (an allocator
// that was never init'd cannot have handed out addr, but init still runs
// for symmetry with Alloc) and delegates to the heap.
func (a *Allocator) Free(addr uint64) error {
	if addr == 0 {
		return nil
	}
	a.ensureInit()
	err := a.h.Free(addr)
	a.trace(diag.OpFree, addr, 0, err)
	return err
}

// trace records one diag.TraceEntry if tracing is enabled, capturing the
// file/line of the Allocator.Alloc/Free caller (two frames up: trace, then
// Alloc/Free).
func (a *Allocator) trace(op diag.Op, addr, size uint64, err error) {
	a.tracerMu.RLock()
	tr := a.tracer
	a.tracerMu.RUnlock()
	if tr == nil {
		return
	}
	_, file, line, _ := runtime.Caller(2)
	tr.Record(diag.TraceEntry{Op: op, Addr: addr, Size: size, File: file, Line: line, Err: err})
}

// EnableTracing turns on the allocation-tracing ring, retaining up to
// capacity of the most recent Alloc/Free calls. capacity must be a power of
// 2. Calling it again replaces any existing trace history.
func (a *Allocator) EnableTracing(capacity int) {
	tr := diag.NewTracer(capacity)
	a.tracerMu.Lock()
	a.tracer = tr
	a.tracerMu.Unlock()
}

// DisableTracing turns off allocation tracing and discards any recorded
// history.
func (a *Allocator) DisableTracing() {
	a.tracerMu.Lock()
	a.tracer = nil
	a.tracerMu.Unlock()
}

// TraceSnapshot returns the currently recorded trace entries, oldest first,
// or nil if tracing is not enabled.
func (a *Allocator) TraceSnapshot() []diag.TraceEntry {
	a.tracerMu.RLock()
	tr := a.tracer
	a.tracerMu.RUnlock()
	if tr == nil {
		return nil
	}
	return tr.Snapshot()
}

// Cleanup releases all backing memory and resets the Allocator so the next
// Alloc/Free call re-initialises lazily, per spec.md §4.4's "calling any
// operation after cleanup without a new init must re-initialise lazily."
func (a *Allocator) Cleanup() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.ready.Load() {
		return nil
	}
	err := a.h.Cleanup()
	a.ready.Store(false)
	a.h = nil
	a.vmMgr = nil
	return err
}

// Stats reports allocated, free, and peak-allocated byte counts. Calling
// Stats before any Alloc/Free triggers lazy init, matching the source's
// behaviour of routing every public operation through the same init check.
func (a *Allocator) Stats() (allocated, free, peak uint64) {
	a.ensureInit()
	return a.h.Stats()
}

// Verify checks every heap invariant.
func (a *Allocator) Verify() error {
	a.ensureInit()
	return a.h.Verify()
}

// Dump writes a diagnostic listing to w, including the trace history if
// tracing is enabled.
func (a *Allocator) Dump(w io.Writer) {
	a.ensureInit()
	a.h.Dump(w)
	a.tracerMu.RLock()
	tr := a.tracer
	a.tracerMu.RUnlock()
	if tr != nil {
		fmt.Fprintln(w, "trace:")
		tr.Dump(w)
	}
}

var global Allocator

// Alloc delegates to the process-wide Allocator, lazily initialised on
// first call, per spec.md §4.4.
func Alloc(size uint64) (uint64, error) { return global.Alloc(size) }

// Free delegates to the process-wide Allocator.
func Free(addr uint64) error { return global.Free(addr) }

// Init explicitly triggers the process-wide Allocator's lazy init.
func Init(enableConcurrency bool) error { return global.Init(enableConcurrency) }

// Cleanup releases the process-wide Allocator's backing memory.
func Cleanup() error { return global.Cleanup() }

// Stats reports the process-wide Allocator's counters.
func Stats() (allocated, free, peak uint64) { return global.Stats() }

// Verify checks the process-wide Allocator's invariants.
func Verify() error { return global.Verify() }

// EnableTracing turns on allocation tracing for the process-wide Allocator.
// Call sites recorded through these package-level functions point at this
// file rather than the true caller, since the wrapper itself is one extra
// frame; construct an *Allocator directly via NewAllocator for accurate
// call-site attribution.
func EnableTracing(capacity int) { global.EnableTracing(capacity) }

// DisableTracing turns off allocation tracing for the process-wide Allocator.
func DisableTracing() { global.DisableTracing() }

// TraceSnapshot returns the process-wide Allocator's recorded trace entries.
func TraceSnapshot() []diag.TraceEntry { return global.TraceSnapshot() }

// Dump writes the process-wide Allocator's diagnostic listing to w.
func Dump(w io.Writer) { global.Dump(w) }
