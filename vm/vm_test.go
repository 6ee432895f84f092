package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-allocpool/errs"
)

func TestManager_ReserveRelease(t *testing.T) {
	m := NewManager(nil)

	addr, err := m.Reserve(uintptr(PageSize))
	require.NoError(t, err)
	require.NotZero(t, addr)
	assert.Equal(t, 1, m.Count())
	assert.Equal(t, uintptr(PageSize), m.Total())

	require.NoError(t, m.Release(addr, uintptr(PageSize)))
	assert.Equal(t, 0, m.Count())
	assert.Zero(t, m.Total())
}

func TestManager_ReserveRejectsMisalignedLength(t *testing.T) {
	m := NewManager(nil)
	addr, err := m.Reserve(1)
	assert.Zero(t, addr)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestManager_ReleaseUnknownRange(t *testing.T) {
	m := NewManager(nil)
	err := m.Release(0xdeadbeef, uintptr(PageSize))
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestManager_ReleaseLengthMismatch(t *testing.T) {
	m := NewManager(nil)
	addr, err := m.Reserve(uintptr(PageSize))
	require.NoError(t, err)

	err = m.Release(addr, uintptr(PageSize)*2)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	// the reservation must still be intact after the failed release
	assert.Equal(t, 1, m.Count())
	require.NoError(t, m.Release(addr, uintptr(PageSize)))
}

func TestManager_MultipleReservationsAndCleanup(t *testing.T) {
	m := NewManager(nil)
	const n = 8
	addrs := make([]uintptr, n)
	for i := range addrs {
		addr, err := m.Reserve(uintptr(PageSize))
		require.NoError(t, err)
		addrs[i] = addr
	}
	assert.Equal(t, n, m.Count())
	require.NoError(t, m.Cleanup())
	assert.Equal(t, 0, m.Count())
	assert.Zero(t, m.Total())
}

func TestManager_ReserveMultiplePages(t *testing.T) {
	m := NewManager(nil)
	length := uintptr(PageSize) * 4
	addr, err := m.Reserve(length)
	require.NoError(t, err)
	assert.Equal(t, length, m.Total())
	require.NoError(t, m.Release(addr, length))
}
