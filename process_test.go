package salis

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProcessTableManualOrganism(t *testing.T) {
	w, err := NewWorld(8)
	require.NoError(t, err)
	pt := NewProcessTable()

	slot, err := pt.Create(w, 0, 5, pt.Tail(), true)
	require.NoError(t, err)
	require.Equal(t, uint32(0), slot)
	require.Equal(t, uint32(1), pt.Count())
	require.Equal(t, uint32(0), pt.Head())
	require.Equal(t, uint32(0), pt.Tail())

	p := pt.Get(slot)
	require.Equal(t, uint32(0), p.MB1Addr)
	require.Equal(t, uint32(5), p.MB1Size)
	require.Equal(t, uint32(0), p.IP)
	require.Equal(t, uint32(0), p.SP)
	require.Equal(t, uint32(5), w.AllocatedCount())

	for addr := uint32(0); addr < 5; addr++ {
		alloc, err := w.IsAllocated(addr)
		require.NoError(t, err)
		require.True(t, alloc)
		op, err := w.GetInst(addr)
		require.NoError(t, err)
		require.Equal(t, NOP0, op)
	}
}

func TestProcessTableGrowthPreservesQueueLock(t *testing.T) {
	w, err := NewWorld(8)
	require.NoError(t, err)
	pt := NewProcessTable()
	require.Equal(t, uint32(1), pt.CapacityProcs())

	lock, err := pt.Create(w, 0, 1, pt.Tail(), true)
	require.NoError(t, err)

	second, err := pt.Create(w, 1, 1, lock, true)
	require.NoError(t, err)
	require.Equal(t, uint32(2), pt.CapacityProcs())
	require.Equal(t, lock, uint32(0))
	require.True(t, pt.IsLive(lock))
	require.Equal(t, uint32(0), pt.Get(lock).MB1Addr)
	require.True(t, pt.IsLive(second))
}

func TestProcessTableReapFreesBlocksAndAdvancesHead(t *testing.T) {
	w, err := NewWorld(8)
	require.NoError(t, err)
	pt := NewProcessTable()

	_, err = pt.Create(w, 0, 2, pt.Tail(), true)
	require.NoError(t, err)
	_, err = pt.Create(w, 2, 2, pt.Tail(), true)
	require.NoError(t, err)
	require.Equal(t, uint32(4), w.AllocatedCount())

	require.NoError(t, pt.Reap(w))
	require.Equal(t, uint32(2), w.AllocatedCount())
	require.Equal(t, uint32(1), pt.Count())
	require.Equal(t, uint32(1), pt.Head())

	require.NoError(t, pt.Reap(w))
	require.Equal(t, uint32(0), pt.Count())
	require.Equal(t, noSlot, pt.Head())
	require.Equal(t, noSlot, pt.Tail())
	require.Equal(t, uint32(0), w.AllocatedCount())
}

func TestProcessTableReapEmptyErrors(t *testing.T) {
	w, err := NewWorld(4)
	require.NoError(t, err)
	pt := NewProcessTable()
	require.ErrorIs(t, pt.Reap(w), ErrQueueEmpty)
}

func TestProcessTableValidate(t *testing.T) {
	w, err := NewWorld(8)
	require.NoError(t, err)
	pt := NewProcessTable()
	_, err = pt.Create(w, 0, 3, pt.Tail(), true)
	require.NoError(t, err)
	_, err = pt.Create(w, 3, 3, pt.Tail(), true)
	require.NoError(t, err)
	require.NoError(t, pt.Validate(w))
}

func TestProcessTableValidateCatchesStaleSlotOutsideLiveArc(t *testing.T) {
	w, err := NewWorld(8)
	require.NoError(t, err)
	pt := NewProcessTable()
	_, err = pt.Create(w, 0, 2, pt.Tail(), true)
	require.NoError(t, err)
	require.NoError(t, pt.Validate(w))

	// Simulate the class of bug a misbehaving grow() would produce: a
	// non-zeroed descriptor sitting in a slot the live arc never visits.
	pt.procs = append(pt.procs, Process{MB1Addr: 4, MB1Size: 1})
	require.Error(t, pt.Validate(w), "a stale non-free slot outside the live arc must fail validation")
}

func TestProcessTableReserveCapacityPreservesQueueLock(t *testing.T) {
	w, err := NewWorld(8)
	require.NoError(t, err)
	pt := NewProcessTable()
	lock, err := pt.Create(w, 0, 1, pt.Tail(), true)
	require.NoError(t, err)

	pt.ReserveCapacity(8, lock)
	require.GreaterOrEqual(t, pt.CapacityProcs(), uint32(8))
	require.True(t, pt.IsLive(lock))
	require.Equal(t, uint32(0), pt.Get(lock).MB1Addr)
}
