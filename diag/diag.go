// Package diag implements the allocator's diagnostic surface (spec.md §4.7):
// stats/dump/verify are thin read-only views the heap, vm, and pool packages
// already expose under their own locks; the one piece of genuinely new state
// here is the optional allocation-tracing ring, a bounded in-memory record of
// recent alloc/free calls with their call site.
//
// The ring itself is grounded on the teacher pack's catrate.ringBuffer
// (golang.org/x/exp/constraints-backed, power-of-2 capacity, overwrite the
// oldest entry once full) — simplified here, since a trace entry has no
// ordering relation the way a rate limiter's timestamps do, so the
// insert-at-arbitrary-index logic of catrate's ring has no counterpart: this
// ring only ever appends at the write cursor.
package diag

import (
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/exp/slices"
)

// Op identifies which allocator call produced a TraceEntry.
type Op uint8

const (
	// OpAlloc records a successful or failed call to alloc.Alloc.
	OpAlloc Op = iota
	// OpFree records a call to alloc.Free.
	OpFree
)

func (o Op) String() string {
	switch o {
	case OpAlloc:
		return "alloc"
	case OpFree:
		return "free"
	default:
		return "unknown"
	}
}

// TraceEntry is one recorded allocator call.
type TraceEntry struct {
	Op   Op
	Addr uint64
	Size uint64
	File string
	Line int
	Time time.Time
	Err  error
}

// ring is a fixed-capacity circular buffer that silently overwrites its
// oldest entry once full — the same "bounded, never blocks, never grows"
// trade-off as catrate's ringBuffer, minus the sorted-insert machinery that
// buffer needs and this one doesn't.
type ring struct {
	entries []TraceEntry
	next    int
	filled  bool
}

func newRing(capacity int) *ring {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		panic("diag: ring capacity must be a power of 2")
	}
	return &ring{entries: make([]TraceEntry, capacity)}
}

func (r *ring) push(e TraceEntry) {
	r.entries[r.next] = e
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.filled = true
	}
}

// snapshot returns the recorded entries in chronological order (oldest
// first).
func (r *ring) snapshot() []TraceEntry {
	if !r.filled {
		return slices.Clone(r.entries[:r.next])
	}
	out := make([]TraceEntry, 0, len(r.entries))
	out = append(out, r.entries[r.next:]...)
	out = append(out, r.entries[:r.next]...)
	return slices.Clone(out)
}

// Tracer is a bounded, thread-safe ring of recent allocator calls. The zero
// value is not usable; construct with NewTracer. Capacity must be a power of
// 2 (mirroring the teacher's ring buffer convention).
type Tracer struct {
	mu sync.Mutex
	r  *ring
}

// NewTracer constructs a Tracer holding at most capacity entries, evicting
// the oldest once full.
func NewTracer(capacity int) *Tracer {
	return &Tracer{r: newRing(capacity)}
}

// Record appends one trace entry. Safe for concurrent use from many
// goroutines, matching the heap and pool's own locking discipline.
func (t *Tracer) Record(e TraceEntry) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	t.mu.Lock()
	t.r.push(e)
	t.mu.Unlock()
}

// Snapshot returns every currently-recorded entry, oldest first.
func (t *Tracer) Snapshot() []TraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.r.snapshot()
}

// Dump writes the current snapshot to w, one entry per line.
func (t *Tracer) Dump(w io.Writer) {
	for _, e := range t.Snapshot() {
		if e.Err != nil {
			fmt.Fprintf(w, "  %s %s:%d op=%s addr=0x%x size=%d err=%v\n",
				e.Time.Format("15:04:05.000"), e.File, e.Line, e.Op, e.Addr, e.Size, e.Err)
			continue
		}
		fmt.Fprintf(w, "  %s %s:%d op=%s addr=0x%x size=%d\n",
			e.Time.Format("15:04:05.000"), e.File, e.Line, e.Op, e.Addr, e.Size)
	}
}
