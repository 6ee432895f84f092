// Package block implements the heap's block metadata layer (spec.md §4.2):
// a doubly-linked, address-sorted list of contiguous sub-regions, each
// either FREE or ALLOCATED, with the three manipulations — split, merge, and
// insertion — that preserve the list's invariants.
//
// Per the design notes in spec.md §9 ("from raw-pointer block lists to an
// arena-indexed structure"), List owns a slab of Block records addressed by
// stable integer indices rather than pointers, with prev/next stored as
// indices. This keeps split/merge O(1) splices with no aliasing hazards, and
// makes Verify a straightforward walk.
package block

import (
	"fmt"

	"github.com/joeycumines/go-allocpool/errs"
)

// Alignment is the minimum alignment and size granularity of every block,
// per spec.md's 8-byte alignment guarantee.
const Alignment = 8

// Nil is the sentinel index meaning "no block" (used for prev/next at the
// ends of the list, and as a zero value for "not found").
const Nil = -1

// State is the lifecycle state of a Block.
type State uint8

const (
	// Free indicates the block holds no live allocation.
	Free State = iota
	// Allocated indicates the block is currently handed out to a caller.
	Allocated
)

func (s State) String() string {
	if s == Free {
		return "FREE"
	}
	return "ALLOCATED"
}

// Block is one contiguous, 8-byte-aligned sub-region of the heap.
type Block struct {
	Start uint64
	Size  uint64
	State State
	prev  int
	next  int
}

// List is an address-sorted doubly-linked list of blocks, backed by a slab
// addressed by stable indices. The zero value is not usable; use NewList.
type List struct {
	blocks []Block
	free   []int
	head   int
	tail   int
	count  int
}

// NewList returns an empty block list.
func NewList() *List {
	return &List{head: Nil, tail: Nil}
}

// Len returns the number of live blocks in the list.
func (l *List) Len() int { return l.count }

// Head returns the index of the first (lowest address) block, or Nil if
// the list is empty.
func (l *List) Head() int { return l.head }

// Tail returns the index of the last (highest address) block, or Nil.
func (l *List) Tail() int { return l.tail }

// Next returns the index of the block after idx, or Nil at the tail.
func (l *List) Next(idx int) int { return l.blocks[idx].next }

// Prev returns the index of the block before idx, or Nil at the head.
func (l *List) Prev(idx int) int { return l.blocks[idx].prev }

// At returns a pointer to the block at idx, so callers (the heap) may flip
// its State in place. The pointer is only valid until the next InsertOrdered
// or Split call, which may grow (and so reallocate) the slab, or Merge call,
// which may recycle the slot.
func (l *List) At(idx int) *Block { return &l.blocks[idx] }

func aligned(v uint64) bool { return v%Alignment == 0 }

// create allocates a new, unlinked block record. It rejects zero size and
// misaligned start/size.
func (l *List) create(start, size uint64, state State) (int, error) {
	if size == 0 {
		return Nil, &errs.BlockError{Op: "create", Addr: start, Size: size, Cause: errs.ErrInvalidArgument}
	}
	if !aligned(start) || !aligned(size) {
		return Nil, &errs.BlockError{Op: "create", Addr: start, Size: size, Cause: errs.ErrInvalidArgument}
	}
	if start+size < start {
		return Nil, &errs.BlockError{Op: "create", Addr: start, Size: size, Cause: errs.ErrInvalidArgument}
	}

	b := Block{Start: start, Size: size, State: state, prev: Nil, next: Nil}
	if n := len(l.free); n > 0 {
		idx := l.free[n-1]
		l.free = l.free[:n-1]
		l.blocks[idx] = b
		return idx, nil
	}
	l.blocks = append(l.blocks, b)
	return len(l.blocks) - 1, nil
}

// destroy releases the metadata record at idx back to the free slot pool.
// The caller must have already unlinked idx from the list.
func (l *List) destroy(idx int) {
	l.blocks[idx] = Block{}
	l.free = append(l.free, idx)
}

// unlink removes idx from the list without destroying its record.
func (l *List) unlink(idx int) {
	b := &l.blocks[idx]
	if b.prev != Nil {
		l.blocks[b.prev].next = b.next
	} else {
		l.head = b.next
	}
	if b.next != Nil {
		l.blocks[b.next].prev = b.prev
	} else {
		l.tail = b.prev
	}
	l.count--
}

// InsertOrdered creates a new block for [start, start+size) in state, and
// inserts it at the position its address dictates — used when the heap
// extends itself with a newly reserved range, which may land anywhere in
// address space relative to existing blocks (spec.md §4.3.2).
func (l *List) InsertOrdered(start, size uint64, state State) (int, error) {
	idx, err := l.create(start, size, state)
	if err != nil {
		return Nil, err
	}

	// walk from the tail backwards: new ranges from extension are, in
	// practice, almost always appended at the end, so this is the common
	// fast path; correctness does not depend on the direction of the scan.
	after := Nil
	for cur := l.tail; cur != Nil; cur = l.blocks[cur].prev {
		if l.blocks[cur].Start < start {
			after = cur
			break
		}
	}

	l.insertAfter(after, idx)
	l.count++
	return idx, nil
}

// insertAfter splices idx into the list immediately following afterIdx
// (or at the head, if afterIdx is Nil).
func (l *List) insertAfter(afterIdx, idx int) {
	b := &l.blocks[idx]
	if afterIdx == Nil {
		b.prev = Nil
		b.next = l.head
		if l.head != Nil {
			l.blocks[l.head].prev = idx
		} else {
			l.tail = idx
		}
		l.head = idx
		return
	}

	after := &l.blocks[afterIdx]
	b.prev = afterIdx
	b.next = after.next
	if after.next != Nil {
		l.blocks[after.next].prev = idx
	} else {
		l.tail = idx
	}
	after.next = idx
}

// Split divides the FREE block at idx into two: the left product keeps idx
// and shrinks to k bytes, the right product is a new FREE block of the
// remainder, inserted immediately after idx. Split requires 0 < k < size and
// k 8-aligned; address order is preserved because the new block is always
// strictly to the right of idx.
func (l *List) Split(idx int, k uint64) (int, error) {
	b := &l.blocks[idx]
	if b.State != Free {
		return Nil, &errs.BlockError{Op: "split", Addr: b.Start, Size: k, Cause: errs.ErrInvalidArgument}
	}
	if k == 0 || k >= b.Size || !aligned(k) {
		return Nil, &errs.BlockError{Op: "split", Addr: b.Start, Size: k, Cause: errs.ErrInvalidArgument}
	}

	remainderStart := b.Start + k
	remainderSize := b.Size - k

	newIdx, err := l.create(remainderStart, remainderSize, Free)
	if err != nil {
		return Nil, err
	}

	b = &l.blocks[idx] // re-fetch: create() may have reallocated l.blocks
	b.Size = k

	l.insertAfter(idx, newIdx)
	l.count++
	return newIdx, nil
}

// Merge folds b2 into b1: b1 must be immediately followed, in address
// order, by a FREE, adjacent b2. b1 grows by b2's size; b2 is unlinked and
// destroyed. b1's index remains valid; b2's index is recycled and must not
// be used again.
func (l *List) Merge(i1, i2 int) error {
	b1 := &l.blocks[i1]
	b2 := &l.blocks[i2]
	if b1.State != Free || b2.State != Free {
		return &errs.BlockError{Op: "merge", Addr: b1.Start, Cause: errs.ErrInvalidArgument}
	}
	if !l.IsAdjacent(i1, i2) {
		return &errs.BlockError{Op: "merge", Addr: b1.Start, Cause: errs.ErrInvalidArgument}
	}

	b1.Size += b2.Size
	l.unlink(i2)
	l.destroy(i2)
	return nil
}

// IsAdjacent reports whether b1 immediately precedes b2 in address space
// (b1.Start+b1.Size == b2.Start), regardless of their State.
func (l *List) IsAdjacent(i1, i2 int) bool {
	b1 := &l.blocks[i1]
	b2 := &l.blocks[i2]
	return b1.Start+b1.Size == b2.Start
}

// Contains reports whether addr falls within the block's range.
func (l *List) Contains(idx int, addr uint64) bool {
	b := &l.blocks[idx]
	return addr >= b.Start && addr < b.Start+b.Size
}

// CanSatisfy reports whether the block at idx is FREE and at least size
// bytes.
func (l *List) CanSatisfy(idx int, size uint64) bool {
	b := &l.blocks[idx]
	return b.State == Free && b.Size >= size
}

// Verify walks the list checking: strictly increasing addresses, no two
// adjacent blocks both FREE (they should have been merged), and that the
// recorded count matches the list length. It does not require contiguity
// between blocks — gaps between ranges from different VM reservations are
// expected and are not a defect (spec.md §9's open question on this point).
func (l *List) Verify() error {
	n := 0
	prevEnd := uint64(0)
	havePrev := false
	for cur := l.head; cur != Nil; cur = l.blocks[cur].next {
		b := &l.blocks[cur]
		if !aligned(b.Start) || !aligned(b.Size) || b.Size == 0 {
			return fmt.Errorf("block: %w: block at 0x%x fails alignment/size invariant", errs.ErrCorruption, b.Start)
		}
		if havePrev && b.Start < prevEnd {
			return fmt.Errorf("block: %w: addresses not strictly increasing at 0x%x", errs.ErrCorruption, b.Start)
		}
		if cur != l.head {
			prevIdx := b.prev
			if l.blocks[prevIdx].State == Free && b.State == Free && l.IsAdjacent(prevIdx, cur) {
				return fmt.Errorf("block: %w: unmerged adjacent FREE blocks at 0x%x", errs.ErrCorruption, b.Start)
			}
		}
		prevEnd = b.Start + b.Size
		havePrev = true
		n++
	}
	if n != l.count {
		return fmt.Errorf("block: %w: count mismatch: tracked=%d actual=%d", errs.ErrCorruption, l.count, n)
	}
	return nil
}
