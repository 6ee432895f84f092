// Package heap implements the allocator's heap (spec.md §4.3): it owns the
// block list, tracks byte counters, selects free blocks per a configurable
// policy, extends itself via the vm package when nothing free satisfies a
// request, and enforces every heap invariant under a single mutex.
package heap

import (
	"fmt"
	"io"

	"github.com/joeycumines/go-allocpool/block"
	"github.com/joeycumines/go-allocpool/errs"
	"github.com/joeycumines/go-allocpool/logging"
	"github.com/joeycumines/go-allocpool/vm"

	"sync"
)

// Policy selects which FREE block satisfies an allocation request, per
// spec.md §4.3.1.
type Policy int

const (
	// FirstFit returns the first FREE block, scanning front to back, whose
	// size is at least the request.
	FirstFit Policy = iota
	// BestFit returns the smallest FREE block that still satisfies the
	// request, ties broken by earliest address.
	BestFit
	// WorstFit returns the largest FREE block, ties broken by earliest
	// address.
	WorstFit
)

func (p Policy) String() string {
	switch p {
	case FirstFit:
		return "FIRST_FIT"
	case BestFit:
		return "BEST_FIT"
	case WorstFit:
		return "WORST_FIT"
	default:
		return "UNKNOWN"
	}
}

// Options configures a new Heap. The zero value selects FirstFit, the
// platform page size, and the package-global logger.
type Options struct {
	Policy   Policy
	PageSize uint64 // 0 => vm.PageSize
	Logger   logging.Logger
}

// Heap owns one block list and mediates all access to it under mu, per
// spec.md §4.3.
type Heap struct {
	mu       sync.Mutex
	blocks   *block.List
	vmMgr    *vm.Manager
	pageSize uint64
	policy   Policy
	logger   logging.Logger

	blockCount     int
	totalAllocated uint64
	totalFree      uint64
	peakAllocated  uint64
}

// New constructs a Heap backed by vmMgr. vmMgr must not be nil.
func New(vmMgr *vm.Manager, opts Options) *Heap {
	if vmMgr == nil {
		panic("heap: nil vm manager")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Global()
	}
	pageSize := opts.PageSize
	if pageSize == 0 {
		pageSize = uint64(vm.PageSize)
	}
	return &Heap{
		blocks:   block.NewList(),
		vmMgr:    vmMgr,
		pageSize: pageSize,
		policy:   opts.Policy,
		logger:   logger,
	}
}

// roundUp8 rounds size up to the next multiple of block.Alignment.
func roundUp8(size uint64) uint64 {
	return (size + block.Alignment - 1) &^ (block.Alignment - 1)
}

func ceilToPage(size, pageSize uint64) uint64 {
	n := (size + pageSize - 1) / pageSize
	if n == 0 {
		n = 1
	}
	return n * pageSize
}

// Allocate rounds size up to an 8-byte multiple and returns the start
// address of a freshly ALLOCATED block of at least that size, extending the
// heap via the vm package if nothing free currently satisfies the request.
// On extension failure it returns a zero address and an error, having
// changed no counters (spec.md §4.3.3).
func (h *Heap) Allocate(size uint64) (uint64, error) {
	if size == 0 {
		return 0, &errs.BlockError{Op: "allocate", Cause: errs.ErrInvalidArgument}
	}
	size = roundUp8(size)

	h.mu.Lock()
	defer h.mu.Unlock()

	for {
		idx, ok := h.findFreeBlockLocked(size)
		if ok {
			return h.satisfyLocked(idx, size), nil
		}

		if err := h.extendLocked(size); err != nil {
			return 0, err
		}
		// loop back around and search again
	}
}

// extendLocked reserves a new range via the vm layer and inserts it as a
// single FREE block, per spec.md §4.3.2.
func (h *Heap) extendLocked(size uint64) error {
	length := ceilToPage(size, h.pageSize)
	if length < h.pageSize {
		length = h.pageSize
	}

	start, err := h.vmMgr.Reserve(uintptr(length))
	if err != nil {
		h.logger.Log(logging.Entry{
			Level: logging.LevelError, Category: "heap", Message: "extend failed", Size: size, Err: err,
		})
		return err
	}

	if _, err := h.blocks.InsertOrdered(uint64(start), length, block.Free); err != nil {
		// the reservation succeeded but bookkeeping failed: release it back
		// rather than leaking address space.
		_ = h.vmMgr.Release(start, uintptr(length))
		return err
	}
	h.blockCount++
	h.totalFree += length

	h.logger.Log(logging.Entry{
		Level: logging.LevelDebug, Category: "heap", Message: "extended",
		Addr: uint64(start), Size: length,
	})
	return nil
}

// satisfyLocked splits idx if it's strictly larger than size, marks the
// selected block ALLOCATED, and updates the byte counters.
func (h *Heap) satisfyLocked(idx int, size uint64) uint64 {
	b := h.blocks.At(idx)
	if b.Size > size {
		if _, err := h.blocks.Split(idx, size); err == nil {
			h.blockCount++
		}
		b = h.blocks.At(idx)
	}

	b.State = block.Allocated
	h.totalAllocated += size
	h.totalFree -= size
	if h.totalAllocated > h.peakAllocated {
		h.peakAllocated = h.totalAllocated
	}
	return b.Start
}

// findFreeBlockLocked applies h.policy to select a FREE block of at least
// size, without modifying any state.
func (h *Heap) findFreeBlockLocked(size uint64) (int, bool) {
	switch h.policy {
	case BestFit:
		best := block.Nil
		for cur := h.blocks.Head(); cur != block.Nil; cur = h.blocks.Next(cur) {
			if !h.blocks.CanSatisfy(cur, size) {
				continue
			}
			if best == block.Nil || h.blocks.At(cur).Size < h.blocks.At(best).Size {
				best = cur
			}
		}
		return best, best != block.Nil

	case WorstFit:
		worst := block.Nil
		for cur := h.blocks.Head(); cur != block.Nil; cur = h.blocks.Next(cur) {
			if !h.blocks.CanSatisfy(cur, size) {
				continue
			}
			if worst == block.Nil || h.blocks.At(cur).Size > h.blocks.At(worst).Size {
				worst = cur
			}
		}
		return worst, worst != block.Nil

	default: // FirstFit
		for cur := h.blocks.Head(); cur != block.Nil; cur = h.blocks.Next(cur) {
			if h.blocks.CanSatisfy(cur, size) {
				return cur, true
			}
		}
		return block.Nil, false
	}
}

// FindFreeBlock is findFreeBlockLocked exposed read-only, under the heap's
// mutex, for diagnostic and test use (spec.md §4.3 find_free_block).
func (h *Heap) FindFreeBlock(size uint64) (block.Block, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	idx, ok := h.findFreeBlockLocked(size)
	if !ok {
		return block.Block{}, false
	}
	return *h.blocks.At(idx), true
}

// FindBlock returns the block containing addr, if any (spec.md §4.3
// find_block).
func (h *Heap) FindBlock(addr uint64) (block.Block, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	idx, ok := h.findBlockLocked(addr)
	if !ok {
		return block.Block{}, false
	}
	return *h.blocks.At(idx), true
}

func (h *Heap) findBlockLocked(addr uint64) (int, bool) {
	for cur := h.blocks.Head(); cur != block.Nil; cur = h.blocks.Next(cur) {
		if h.blocks.Contains(cur, addr) {
			return cur, true
		}
	}
	return block.Nil, false
}

// Free locates the block containing addr, fails with errs.ErrNotFound if
// none exists or errs.ErrDoubleFree if it is not currently ALLOCATED,
// otherwise marks it FREE, adjusts counters, and merges with adjacent FREE
// neighbours (spec.md §4.3 free).
func (h *Heap) Free(addr uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	idx, ok := h.findBlockLocked(addr)
	if !ok {
		return &errs.BlockError{Op: "free", Addr: addr, Cause: errs.ErrNotFound}
	}

	b := h.blocks.At(idx)
	if b.State != block.Allocated {
		return &errs.BlockError{Op: "free", Addr: addr, Size: b.Size, Cause: errs.ErrDoubleFree}
	}

	size := b.Size
	b.State = block.Free
	h.totalAllocated -= size
	h.totalFree += size

	if next := h.blocks.Next(idx); next != block.Nil &&
		h.blocks.At(next).State == block.Free && h.blocks.IsAdjacent(idx, next) {
		if err := h.blocks.Merge(idx, next); err == nil {
			h.blockCount--
		}
	}
	if prev := h.blocks.Prev(idx); prev != block.Nil &&
		h.blocks.At(prev).State == block.Free && h.blocks.IsAdjacent(prev, idx) {
		if err := h.blocks.Merge(prev, idx); err == nil {
			h.blockCount--
		}
	}

	h.logger.Log(logging.Entry{
		Level: logging.LevelDebug, Category: "heap", Message: "freed", Addr: addr, Size: size,
	})
	return nil
}

// MergeFreeBlocks makes a single pass over the list, merging every adjacent
// pair of FREE blocks, and reports how many merges it performed.
func (h *Heap) MergeFreeBlocks() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	merges := 0
	cur := h.blocks.Head()
	for cur != block.Nil {
		next := h.blocks.Next(cur)
		if next != block.Nil &&
			h.blocks.At(cur).State == block.Free && h.blocks.At(next).State == block.Free &&
			h.blocks.IsAdjacent(cur, next) {
			if err := h.blocks.Merge(cur, next); err == nil {
				h.blockCount--
				merges++
				continue // re-examine cur, its new right neighbour may also be FREE
			}
		}
		cur = next
	}
	return merges
}

// Stats returns a snapshot of the allocated, free, and peak-allocated byte
// counters.
func (h *Heap) Stats() (allocated, free, peak uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.totalAllocated, h.totalFree, h.peakAllocated
}

// Verify checks, under lock, that the block list's address ordering and
// FREE-adjacency invariants hold, and that the byte counters agree with a
// fresh sum over the list. It returns errs.ErrCorruption-wrapping errors on
// any mismatch.
func (h *Heap) Verify() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.blocks.Verify(); err != nil {
		return err
	}

	var allocated, free uint64
	n := 0
	for cur := h.blocks.Head(); cur != block.Nil; cur = h.blocks.Next(cur) {
		b := h.blocks.At(cur)
		switch b.State {
		case block.Allocated:
			allocated += b.Size
		case block.Free:
			free += b.Size
		}
		n++
	}
	if n != h.blockCount {
		return fmt.Errorf("heap: %w: block_count=%d actual=%d", errs.ErrCorruption, h.blockCount, n)
	}
	if allocated != h.totalAllocated {
		return fmt.Errorf("heap: %w: total_allocated=%d actual=%d", errs.ErrCorruption, h.totalAllocated, allocated)
	}
	if free != h.totalFree {
		return fmt.Errorf("heap: %w: total_free=%d actual=%d", errs.ErrCorruption, h.totalFree, free)
	}
	return nil
}

// Dump writes a diagnostic listing of every block, plus the byte counters,
// to w.
func (h *Heap) Dump(w io.Writer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	fmt.Fprintf(w, "heap: policy=%s blocks=%d allocated=%d free=%d peak=%d\n",
		h.policy, h.blockCount, h.totalAllocated, h.totalFree, h.peakAllocated)
	for cur := h.blocks.Head(); cur != block.Nil; cur = h.blocks.Next(cur) {
		b := h.blocks.At(cur)
		fmt.Fprintf(w, "  [0x%x, 0x%x) size=%d state=%s\n", b.Start, b.Start+b.Size, b.Size, b.State)
	}
}

// Cleanup releases every outstanding VM reservation backing this heap (not
// individual blocks, which may have been split/merged across reservation
// boundaries) and resets the block list, leaving the Heap
// usable as if freshly constructed but with all memory returned to the OS.
func (h *Heap) Cleanup() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	err := h.vmMgr.Cleanup()
	h.blocks = block.NewList()
	h.blockCount = 0
	h.totalAllocated = 0
	h.totalFree = 0
	h.peakAllocated = 0
	return err
}
