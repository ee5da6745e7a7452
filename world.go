package salis

import (
	"errors"
	"fmt"
)

// Flag bits occupying the top 3 bits of a cell. Only Allocated is ever
// persisted inside a cell; the render overlay bits exist solely in render
// output buffers (see render.go) and are never written into world memory.
const (
	opcodeMask byte = 0x1f
	Allocated  byte = 0x20
)

// Errors returned by World accessors when the caller (engine misuse, per
// spec §7) passes an out-of-range address or order.
var (
	ErrAddressOutOfRange = errors.New("salis: address out of range")
	ErrInvalidOrder      = errors.New("salis: order out of range [0,31]")
)

// World owns the flat byte-addressed memory space every organism competes
// over. Each byte simultaneously encodes a 5-bit opcode and a 1-bit
// allocation flag; the world maintains a running per-opcode histogram and
// an allocated-cell count so neither has to be recomputed by scanning.
type World struct {
	order          uint32
	bytes          []byte
	allocatedCount uint32
	instHistogram  [numOpcodes]uint32
}

// NewWorld allocates a fresh, all-zero world of 1<<order bytes. order must
// be in [0,31].
func NewWorld(order uint32) (*World, error) {
	if order > 31 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidOrder, order)
	}
	size := uint32(1) << order
	w := &World{
		order: order,
		bytes: make([]byte, size),
	}
	w.instHistogram[NOP0] = size
	return w, nil
}

// Order returns the world's order (size = 1<<order).
func (w *World) Order() uint32 { return w.order }

// Size returns the number of addressable cells.
func (w *World) Size() uint32 { return uint32(len(w.bytes)) }

// Capacity returns the maximum number of cells that may be allocated at
// once before the reaper begins culling (size/2).
func (w *World) Capacity() uint32 { return w.Size() / 2 }

// AllocatedCount returns the number of cells currently flagged allocated.
func (w *World) AllocatedCount() uint32 { return w.allocatedCount }

// InstCount returns the number of cells whose opcode equals op.
func (w *World) InstCount(op Opcode) uint32 {
	if int(op) >= numOpcodes {
		return 0
	}
	return w.instHistogram[op]
}

func (w *World) checkAddr(addr uint32) error {
	if addr >= w.Size() {
		return fmt.Errorf("%w: %d (size %d)", ErrAddressOutOfRange, addr, w.Size())
	}
	return nil
}

// GetByte returns the raw cell value (opcode + flag bits) at addr.
func (w *World) GetByte(addr uint32) (byte, error) {
	if err := w.checkAddr(addr); err != nil {
		return 0, err
	}
	return w.bytes[addr], nil
}

// GetInst returns the instruction opcode encoded at addr.
func (w *World) GetInst(addr uint32) (Opcode, error) {
	b, err := w.GetByte(addr)
	if err != nil {
		return 0, err
	}
	return Opcode(b & opcodeMask), nil
}

// IsAllocated reports whether the cell at addr is flagged allocated.
func (w *World) IsAllocated(addr uint32) (bool, error) {
	b, err := w.GetByte(addr)
	if err != nil {
		return false, err
	}
	return b&Allocated != 0, nil
}

// SetInst overwrites the opcode at addr, atomically maintaining the
// per-opcode histogram (decrementing the old opcode's count, incrementing
// the new one's) without disturbing the allocation flag.
func (w *World) SetInst(addr uint32, op Opcode) error {
	if err := w.checkAddr(addr); err != nil {
		return err
	}
	old := Opcode(w.bytes[addr] & opcodeMask)
	if old == op {
		return nil
	}
	w.instHistogram[old]--
	w.instHistogram[op]++
	w.bytes[addr] = (w.bytes[addr] &^ opcodeMask) | byte(op)
	return nil
}

// SetAllocated sets or clears the allocation flag at addr, maintaining
// allocatedCount.
func (w *World) SetAllocated(addr uint32, allocated bool) error {
	if err := w.checkAddr(addr); err != nil {
		return err
	}
	was := w.bytes[addr]&Allocated != 0
	switch {
	case allocated && !was:
		w.bytes[addr] |= Allocated
		w.allocatedCount++
	case !allocated && was:
		w.bytes[addr] &^= Allocated
		w.allocatedCount--
	}
	return nil
}

// SetRange marks every cell in [addr, addr+length) allocated or free. The
// caller guarantees the range is in bounds; used at organism birth to mark
// an entire block in one call.
func (w *World) SetRange(addr, length uint32, allocated bool) error {
	for i := uint32(0); i < length; i++ {
		if err := w.SetAllocated(addr+i, allocated); err != nil {
			return err
		}
	}
	return nil
}
