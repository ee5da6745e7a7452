package salis

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRenderRequiresInit(t *testing.T) {
	e := NewEngine()
	_, err := e.Render(0, 1, 8)
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestRenderRejectsZeroParams(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.Init(8))
	_, err := e.Render(0, 0, 8)
	require.ErrorIs(t, err, ErrInvalidRenderParams)
	_, err = e.Render(0, 1, 0)
	require.ErrorIs(t, err, ErrInvalidRenderParams)
}

func TestRenderAveragesOpcodesPerGroup(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.Init(4)) // size 16
	w := e.World()
	require.NoError(t, w.SetInst(0, SUMN)) // opcode 20
	require.NoError(t, w.SetInst(1, SUMN))
	// cells 2,3 stay NOP0 (opcode 0)

	out, err := e.Render(0, 4, 4)
	require.NoError(t, err)
	require.Len(t, out, 4)

	wantAvg := byte((uint32(SUMN) + uint32(SUMN) + uint32(NOP0) + uint32(NOP0)) / 4)
	require.Equal(t, wantAvg, out[0]&0x1f)
}

func TestRenderSetsAllocatedOverlayBit(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.Init(4))
	_, err := e.CreateProcess(0, 2)
	require.NoError(t, err)

	out, err := e.Render(0, 2, 8)
	require.NoError(t, err)
	require.NotZero(t, out[0]&renderAllocated)
	require.Zero(t, out[1]&renderAllocated)
}

func TestRenderSetsBlockAndIPOverlayBits(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.Init(4)) // size 16
	pidx, err := e.CreateProcess(8, 2)
	require.NoError(t, err)
	p := e.Processes().Get(pidx)
	p.IP = 12

	out, err := e.Render(0, 2, 8)
	require.NoError(t, err)
	require.NotZero(t, out[4]&renderHasBlock, "group covering address 8 must flag a block start")
	require.NotZero(t, out[6]&renderHasIP, "group covering address 12 must flag an ip")
	require.Zero(t, out[0]&renderHasBlock)
	require.Zero(t, out[0]&renderHasIP)
}

func TestRenderHandlesGroupsPastWorldEnd(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.Init(2)) // size 4
	out, err := e.Render(0, 4, 4)
	require.NoError(t, err)
	require.Len(t, out, 4)
	require.Equal(t, byte(0), out[1])
	require.Equal(t, byte(0), out[2])
	require.Equal(t, byte(0), out[3])
}
