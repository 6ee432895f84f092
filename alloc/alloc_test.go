package alloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-allocpool/errs"
	"github.com/joeycumines/go-allocpool/heap"
)

func TestAllocator_AllocZeroReturnsNullAddress(t *testing.T) {
	a := NewAllocator(heap.FirstFit, nil)
	p, err := a.Alloc(0)
	require.NoError(t, err)
	assert.Zero(t, p)
}

func TestAllocator_FreeNullIsNoOp(t *testing.T) {
	a := NewAllocator(heap.FirstFit, nil)
	require.NoError(t, a.Free(0))
}

func TestAllocator_AllocFreeRoundTrip(t *testing.T) {
	a := NewAllocator(heap.FirstFit, nil)
	p, err := a.Alloc(256)
	require.NoError(t, err)
	require.NotZero(t, p)

	allocated, _, _ := a.Stats()
	assert.Equal(t, uint64(256), allocated)

	require.NoError(t, a.Free(p))
	allocated, _, _ = a.Stats()
	assert.Zero(t, allocated)
}

func TestAllocator_FreeUnknownAddressIsNotFound(t *testing.T) {
	a := NewAllocator(heap.FirstFit, nil)
	err := a.Free(0xdeadbeef)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestAllocator_LazyInitOnFirstUse(t *testing.T) {
	var a Allocator // zero value, not NewAllocator
	p, err := a.Alloc(64)
	require.NoError(t, err)
	require.NotZero(t, p)
	require.NoError(t, a.Verify())
}

func TestAllocator_CleanupThenReinitialisesLazily(t *testing.T) {
	var a Allocator
	p, err := a.Alloc(64)
	require.NoError(t, err)
	require.NotZero(t, p)
	require.NoError(t, a.Cleanup())

	// a fresh Alloc after Cleanup must re-init rather than panic or error.
	p2, err := a.Alloc(64)
	require.NoError(t, err)
	require.NotZero(t, p2)
	require.NoError(t, a.Verify())
}

func TestAllocator_TracingRecordsAllocAndFree(t *testing.T) {
	a := NewAllocator(heap.FirstFit, nil)
	a.EnableTracing(4)

	p, err := a.Alloc(64)
	require.NoError(t, err)
	require.NoError(t, a.Free(p))

	snap := a.TraceSnapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, p, snap[0].Addr)
	assert.Equal(t, uint64(64), snap[0].Size)
	assert.Equal(t, p, snap[1].Addr)
}

func TestAllocator_TracingDisabledRecordsNothing(t *testing.T) {
	a := NewAllocator(heap.FirstFit, nil)
	p, err := a.Alloc(64)
	require.NoError(t, err)
	require.NoError(t, a.Free(p))
	assert.Nil(t, a.TraceSnapshot())
}

func TestAllocator_DisableTracingDiscardsHistory(t *testing.T) {
	a := NewAllocator(heap.FirstFit, nil)
	a.EnableTracing(4)
	p, err := a.Alloc(32)
	require.NoError(t, err)
	require.NoError(t, a.Free(p))
	require.NotEmpty(t, a.TraceSnapshot())

	a.DisableTracing()
	assert.Nil(t, a.TraceSnapshot())
}

func TestAllocator_GlobalFacadeDelegates(t *testing.T) {
	t.Cleanup(func() { _ = Cleanup() })

	p, err := Alloc(128)
	require.NoError(t, err)
	require.NotZero(t, p)

	allocated, _, _ := Stats()
	assert.GreaterOrEqual(t, allocated, uint64(128))

	require.NoError(t, Free(p))
	require.NoError(t, Verify())
}
