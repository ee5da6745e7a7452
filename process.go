package salis

import (
	"errors"
	"fmt"
	"math/bits"
)

// noSlot is the sentinel index meaning "no process" (head/tail when the
// queue is empty).
const noSlot = ^uint32(0)

// Process is a fixed-shape, 11-field organism descriptor. Field order is
// part of the save-file format and must never change: mb1a, mb1s, mb2a,
// mb2s, ip, sp, rax, rbx, rcx, rdx, stack[8].
type Process struct {
	MB1Addr uint32
	MB1Size uint32
	MB2Addr uint32
	MB2Size uint32
	IP      uint32
	SP      uint32
	RAX     uint32
	RBX     uint32
	RCX     uint32
	RDX     uint32
	Stack   [8]uint32
}

// IsFree reports whether this descriptor slot holds no organism.
func (p *Process) IsFree() bool { return p.MB1Size == 0 }

// reg returns a pointer to the register named by m (MODA..MODD). Callers
// must already know m is a valid modifier opcode.
func (p *Process) reg(m Opcode) *uint32 {
	switch m {
	case MODA:
		return &p.RAX
	case MODB:
		return &p.RBX
	case MODC:
		return &p.RCX
	default:
		return &p.RDX
	}
}

// ErrQueueEmpty is returned by operations that require a live process when
// the reaper queue holds none.
var ErrQueueEmpty = errors.New("salis: reaper queue is empty")

// ProcessTable is a circular "reaper queue" of organism descriptors: a
// contiguous slice of capacity capacityProcs, a live count, and head/tail
// indices delimiting the contiguous arc of live slots (oldest at head,
// newest at tail). The table doubles its capacity on demand and identifies
// processes by uint32 slot index; a pointer returned by Get is valid only
// until the next growth, which reallocates the backing array.
type ProcessTable struct {
	procs []Process
	count uint32
	head  uint32
	tail  uint32
}

// NewProcessTable creates an empty reaper queue with capacity for one
// descriptor (the minimum; it doubles from there as organisms are born).
func NewProcessTable() *ProcessTable {
	return &ProcessTable{
		procs: make([]Process, 1),
		head:  noSlot,
		tail:  noSlot,
	}
}

// Count returns the number of live organisms.
func (pt *ProcessTable) Count() uint32 { return pt.count }

// CapacityProcs returns the current size of the descriptor array.
func (pt *ProcessTable) CapacityProcs() uint32 { return uint32(len(pt.procs)) }

// Head returns the oldest live slot index, or noSlot if empty.
func (pt *ProcessTable) Head() uint32 { return pt.head }

// Tail returns the newest live slot index, or noSlot if empty.
func (pt *ProcessTable) Tail() uint32 { return pt.tail }

// IsLive reports whether slot pidx currently holds an organism.
func (pt *ProcessTable) IsLive(pidx uint32) bool {
	if pidx >= uint32(len(pt.procs)) {
		return false
	}
	return !pt.procs[pidx].IsFree()
}

// Get returns a pointer to the descriptor at pidx. The caller must check
// IsLive first if liveness matters; out-of-range access panics, matching
// the "engine misuse is fatal" error regime (spec §7).
func (pt *ProcessTable) Get(pidx uint32) *Process {
	return &pt.procs[pidx]
}

// grow doubles the table's capacity, preserving the slot index of
// queueLock (the caller's own slot, so a parent's index survives the
// growth its own birth triggered). Live entries are copied forward from
// queueLock toward the old tail, then backward from queueLock-1 toward the
// old head, into the newly doubled array; head/tail are updated to the new
// destination indices.
func (pt *ProcessTable) grow(queueLock uint32) {
	oldCap := uint32(len(pt.procs))
	newCap := oldCap * 2
	newProcs := make([]Process, newCap)

	newHead, newTail := noSlot, noSlot
	if pt.count > 0 {
		// Forward pass: queueLock, queueLock+1, ... up to the old tail.
		src := queueLock
		dst := queueLock
		if newHead == noSlot {
			newHead = dst
		}
		for {
			newProcs[dst] = pt.procs[src]
			newTail = dst
			if src == pt.tail {
				break
			}
			src = (src + 1) % oldCap
			dst++
		}
		// Backward pass: queueLock-1 (mod new cap) down to the old head.
		if queueLock != pt.head {
			src = (queueLock - 1 + oldCap) % oldCap
			dst = (queueLock - 1 + newCap) % newCap
			for {
				newProcs[dst] = pt.procs[src]
				newHead = dst
				if src == pt.head {
					break
				}
				src = (src - 1 + oldCap) % oldCap
				dst = (dst - 1 + newCap) % newCap
			}
		}
	}

	pt.procs = newProcs
	pt.head = newHead
	pt.tail = newTail
}

// ReserveCapacity grows the table, one doubling at a time, preserving
// queueLock's identity at each step, until it holds at least min
// descriptors. Callers that need a guarantee that no grow will happen
// during a batch of upcoming Create calls (because a grow reshuffles
// every non-queue-locked slot's index) should reserve enough headroom
// for the whole batch before the batch starts, not slot by slot.
func (pt *ProcessTable) ReserveCapacity(min, queueLock uint32) {
	for uint32(len(pt.procs)) < min {
		pt.grow(queueLock)
	}
}

// Create births a new organism. If markAllocated is true, every byte of
// [address, address+size) is flagged allocated on w (the caller guarantees
// the block was previously free and in range); otherwise the block is
// assumed already allocated by the organism itself (MALB/MALF). queueLock
// names the slot whose identity must survive any growth this birth
// triggers — used by SPLT so a parent's own index is stable.
func (pt *ProcessTable) Create(w *World, address, size, queueLock uint32, markAllocated bool) (uint32, error) {
	if markAllocated {
		if err := w.SetRange(address, size, true); err != nil {
			return 0, err
		}
	}

	if pt.count == uint32(len(pt.procs)) {
		pt.grow(queueLock)
	}

	var slot uint32
	if pt.count == 0 {
		slot = 0
		pt.head = 0
		pt.tail = 0
	} else {
		slot = (pt.tail + 1) % uint32(len(pt.procs))
		pt.tail = slot
	}
	pt.count++

	pt.procs[slot] = Process{
		MB1Addr: address,
		MB1Size: size,
		IP:      address,
		SP:      address,
	}
	return slot, nil
}

// Reap kills the oldest organism (the one at head): every byte of its mb1,
// and of mb2 if non-empty, is freed on w; the descriptor is zeroed; and
// head advances (or both indices reset to noSlot if the queue is now
// empty).
func (pt *ProcessTable) Reap(w *World) error {
	if pt.count == 0 {
		return ErrQueueEmpty
	}
	p := &pt.procs[pt.head]
	if err := w.SetRange(p.MB1Addr, p.MB1Size, false); err != nil {
		return err
	}
	if p.MB2Size != 0 {
		if err := w.SetRange(p.MB2Addr, p.MB2Size, false); err != nil {
			return err
		}
	}
	*p = Process{}
	pt.count--
	if pt.count == 0 {
		pt.head, pt.tail = noSlot, noSlot
	} else {
		pt.head = (pt.head + 1) % uint32(len(pt.procs))
	}
	return nil
}

// mutateRegister applies the evolver's register-shift mutation to the
// process at pidx: rax is rotated right by r%32 bit positions. This is the
// only field a cosmic ray's sibling mutation ever touches; memory is never
// involved.
func (pt *ProcessTable) mutateRegister(pidx uint32, r uint32) {
	p := &pt.procs[pidx]
	p.RAX = bits.RotateLeft32(p.RAX, -int(r%32))
}

// Validate checks every invariant spec.md §4.E/§8 requires of the table
// against world w: ip/sp in range, mb1/mb2 fully in range and fully
// allocated, mb1 and mb2 not starting at the same address (overlap is not
// otherwise checked), slots outside the live arc free, and the grand total of live
// mb1size+mb2size equal to the world's allocated count. It is intended to
// be run after each cycle in tests, not gated behind a build tag.
func (pt *ProcessTable) Validate(w *World) error {
	if pt.count == 0 {
		if pt.head != noSlot || pt.tail != noSlot {
			return fmt.Errorf("salis: empty queue must have noSlot head/tail")
		}
	}

	var total uint32
	seen := uint32(0)
	inArc := make([]bool, len(pt.procs))
	checkBlock := func(pidx, addr, size uint32) error {
		if size == 0 {
			return nil
		}
		if uint64(addr)+uint64(size) > uint64(w.Size()) {
			return fmt.Errorf("salis: process %d block [%d,%d) out of range", pidx, addr, addr+size)
		}
		for i := uint32(0); i < size; i++ {
			ok, err := w.IsAllocated(addr + i)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("salis: process %d block byte %d not allocated", pidx, addr+i)
			}
		}
		return nil
	}

	if pt.count > 0 {
		pidx := pt.head
		for {
			p := &pt.procs[pidx]
			if p.IsFree() {
				return fmt.Errorf("salis: slot %d in live arc is free", pidx)
			}
			if p.IP >= w.Size() || p.SP >= w.Size() {
				return fmt.Errorf("salis: process %d has out-of-range ip/sp", pidx)
			}
			if err := checkBlock(pidx, p.MB1Addr, p.MB1Size); err != nil {
				return err
			}
			if p.MB2Size != 0 {
				if err := checkBlock(pidx, p.MB2Addr, p.MB2Size); err != nil {
					return err
				}
				if p.MB1Addr == p.MB2Addr {
					return fmt.Errorf("salis: process %d mb1 and mb2 share an address", pidx)
				}
			}
			total += p.MB1Size + p.MB2Size
			seen++
			inArc[pidx] = true
			if pidx == pt.tail {
				break
			}
			pidx = (pidx + 1) % uint32(len(pt.procs))
		}
	}
	if seen != pt.count {
		return fmt.Errorf("salis: live arc length %d does not match count %d", seen, pt.count)
	}
	if total != w.AllocatedCount() {
		return fmt.Errorf("salis: sum of process blocks %d does not match allocated count %d", total, w.AllocatedCount())
	}

	for pidx, inside := range inArc {
		if inside {
			continue
		}
		if !pt.procs[pidx].IsFree() {
			return fmt.Errorf("salis: slot %d outside live arc must be free", pidx)
		}
	}
	return nil
}
