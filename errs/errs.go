// Package errs defines the error taxonomy shared by the vm, block, heap,
// alloc, queue, and pool packages. Every failure surfaced by this module is
// one of the sentinels below, or wraps one of them — none of it panics or
// terminates the process on the caller's behalf.
package errs

import "errors"

// Sentinel errors matching the taxonomy of spec.md §7. Use errors.Is against
// these, never string comparison.
var (
	// ErrInvalidArgument: a null pointer where non-null was required, a zero
	// size where positive was required, a misaligned split point, or an
	// unknown allocation policy.
	ErrInvalidArgument = errors.New("allocpool: invalid argument")

	// ErrOutOfMemory: a VM reservation or metadata record allocation failed.
	ErrOutOfMemory = errors.New("allocpool: out of memory")

	// ErrNotFound: free (or find) was called with an address not inside any
	// known block or reservation.
	ErrNotFound = errors.New("allocpool: not found")

	// ErrDoubleFree: free was called on a block that is already FREE.
	ErrDoubleFree = errors.New("allocpool: double free")

	// ErrNotInitialised: a facade operation was invoked with no heap, and
	// lazy initialisation was disabled or itself failed.
	ErrNotInitialised = errors.New("allocpool: not initialised")

	// ErrWrongState: pool.Submit, Grow or Shrink on a non-RUNNING pool, or
	// queue.Submit on a destroyed queue. queue.Destroy has no error result,
	// so a second Destroy call is not reported.
	ErrWrongState = errors.New("allocpool: wrong state")

	// ErrCorruption: verify detected an invariant violation. Treat as fatal
	// at the diagnostic layer — the heap or queue must not be used further.
	ErrCorruption = errors.New("allocpool: corruption detected")
)

// BlockError wraps ErrNotFound/ErrDoubleFree/ErrInvalidArgument with the
// address and size that triggered them, so a caller can log useful context
// without parsing a message string.
type BlockError struct {
	Op    string // "allocate", "free", "create", "split", "merge", "reserve", "release"
	Addr  uint64
	Size  uint64
	Cause error
}

func (e *BlockError) Error() string {
	return "allocpool: " + e.Op + ": " + e.Cause.Error()
}

// Unwrap allows errors.Is(err, errs.ErrDoubleFree) etc. to succeed through a
// *BlockError.
func (e *BlockError) Unwrap() error {
	return e.Cause
}

// QueueError wraps ErrWrongState/ErrInvalidArgument/ErrCorruption with
// queue-specific context (observed count vs. the bound it was checked
// against; for queue.Verify's length check, the walked length vs. the
// tracked count).
type QueueError struct {
	Op       string // "submit", "verify", and the pool's "create", "grow", "shrink"
	Count    int
	MaxCount int
	Cause    error
}

func (e *QueueError) Error() string {
	return "allocpool: queue: " + e.Op + ": " + e.Cause.Error()
}

func (e *QueueError) Unwrap() error {
	return e.Cause
}
