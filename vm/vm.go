// Package vm implements the allocator's virtual-memory reservation layer
// (spec.md §4.1): it reserves page-aligned, anonymous, read/write, private
// ranges of address space from the operating system, tracks every
// outstanding reservation so they can all be released, and otherwise stays
// out of the way — it has no notion of blocks, allocation policy, or
// alignment smaller than a page.
//
// Platform-specific reservation is implemented in vm_unix.go (Linux/Darwin,
// via golang.org/x/sys/unix mmap/munmap) and vm_windows.go (via
// golang.org/x/sys/windows VirtualAlloc/VirtualFree), in the style of the
// teacher's per-OS poller_linux.go / poller_darwin.go / poller_windows.go
// split.
package vm

import (
	"fmt"
	"io"
	"sync"

	"github.com/joeycumines/go-allocpool/errs"
	"github.com/joeycumines/go-allocpool/logging"
)

// PageSize is the granularity of every reservation. It's read once, from the
// platform, at package init.
var PageSize = platformPageSize()

// Reservation is a single page-aligned range handed back by the OS, and
// tracked by a Manager until it's released.
type Reservation struct {
	Start  uintptr
	Length uintptr
}

// Manager owns the list of outstanding reservations for one heap. The list
// is expected to stay small (one entry per heap extension), so a linear
// scan on Release is the right trade-off — matching spec.md §4.1's note
// that "the list is expected to be small."
type Manager struct {
	mu           sync.Mutex
	reservations []Reservation
	logger       logging.Logger
}

// NewManager constructs an empty Manager. A nil logger falls back to
// logging.Global().
func NewManager(logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Global()
	}
	return &Manager{logger: logger}
}

// Reserve requests a new page-aligned range of at least length bytes.
// length must be a positive multiple of PageSize. On success it records the
// reservation and returns its start address; on failure it returns a zero
// address and a wrapped errs.ErrOutOfMemory (or errs.ErrInvalidArgument for
// a misaligned length) — it never panics, and the reservation list is left
// unchanged on failure.
func (m *Manager) Reserve(length uintptr) (uintptr, error) {
	if length == 0 || length%uintptr(PageSize) != 0 {
		return 0, &errs.BlockError{Op: "reserve", Size: uint64(length), Cause: errs.ErrInvalidArgument}
	}

	start, err := reservePages(length)
	if err != nil {
		m.logger.Log(logging.Entry{
			Level: logging.LevelError, Category: "vm", Message: "reserve failed",
			Size: uint64(length), Err: err,
		})
		return 0, &errs.BlockError{Op: "reserve", Size: uint64(length), Cause: errs.ErrOutOfMemory}
	}

	m.mu.Lock()
	m.reservations = append(m.reservations, Reservation{Start: start, Length: length})
	m.mu.Unlock()

	m.logger.Log(logging.Entry{
		Level: logging.LevelDebug, Category: "vm", Message: "reserved",
		Addr: uint64(start), Size: uint64(length),
	})
	return start, nil
}

// Release returns a previously reserved range to the OS. It fails with
// errs.ErrNotFound if no recorded reservation starts at exactly addr, or if
// the recorded length at that address disagrees with length.
func (m *Manager) Release(addr, length uintptr) error {
	m.mu.Lock()
	idx := -1
	for i, r := range m.reservations {
		if r.Start == addr {
			idx = i
			break
		}
	}
	if idx == -1 || m.reservations[idx].Length != length {
		m.mu.Unlock()
		return &errs.BlockError{Op: "release", Addr: uint64(addr), Size: uint64(length), Cause: errs.ErrNotFound}
	}
	m.reservations = append(m.reservations[:idx], m.reservations[idx+1:]...)
	m.mu.Unlock()

	if err := releasePages(addr, length); err != nil {
		return &errs.BlockError{Op: "release", Addr: uint64(addr), Size: uint64(length), Cause: err}
	}
	m.logger.Log(logging.Entry{
		Level: logging.LevelDebug, Category: "vm", Message: "released",
		Addr: uint64(addr), Size: uint64(length),
	})
	return nil
}

// Total returns the sum of all outstanding reservation lengths.
func (m *Manager) Total() uintptr {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total uintptr
	for _, r := range m.reservations {
		total += r.Length
	}
	return total
}

// Count returns the number of outstanding reservations.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reservations)
}

// Cleanup releases every outstanding reservation. It returns the first
// error encountered, if any, but always attempts every release.
func (m *Manager) Cleanup() error {
	m.mu.Lock()
	pending := make([]Reservation, len(m.reservations))
	copy(pending, m.reservations)
	m.reservations = nil
	m.mu.Unlock()

	var first error
	for _, r := range pending {
		if err := releasePages(r.Start, r.Length); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Dump writes a diagnostic listing of every outstanding reservation to w.
func (m *Manager) Dump(w io.Writer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fmt.Fprintf(w, "vm: %d reservation(s), %d total bytes\n", len(m.reservations), sumLengths(m.reservations))
	for _, r := range m.reservations {
		fmt.Fprintf(w, "  [0x%x, 0x%x) len=%d\n", r.Start, r.Start+r.Length, r.Length)
	}
}

func sumLengths(rs []Reservation) uintptr {
	var total uintptr
	for _, r := range rs {
		total += r.Length
	}
	return total
}
