package salis

import "math/bits"

// clampAddr saturates addr to the last valid address of w rather than
// wrapping, matching spec.md §4.F's "clamped to size-1" phrasing.
func clampAddr(w *World, addr uint32) uint32 {
	if last := w.Size() - 1; addr > last {
		return last
	}
	return addr
}

// advanceIP moves ip forward by 1+n (one opcode byte plus n modifier
// bytes, whether or not those bytes turned out to be valid) and drags sp
// along with it, per the "sp := ip after every ip advance" rule. This is
// used both by successful instructions and by faults: a fault always
// consumes the full length the instruction would have occupied.
func advanceIP(p *Process, w *World, n uint32) {
	p.IP = clampAddr(w, p.IP+1+n)
	p.SP = p.IP
}

// moveSeeker advances sp by exactly one step toward (forward) or away from
// (backward) increasing addresses, clamped at the world's boundaries. It
// never touches ip.
func moveSeeker(p *Process, w *World, forward bool) {
	if forward {
		if p.SP < w.Size()-1 {
			p.SP++
		}
	} else if p.SP > 0 {
		p.SP--
	}
}

// resolveMods reads the n modifier bytes immediately following ip and
// resolves each to the register it names. If any of those n bytes is out
// of range or is not a MODA..MODD opcode, the instruction has no valid
// operands and the caller must fault.
func resolveMods(w *World, p *Process, n uint32) ([]*uint32, bool) {
	regs := make([]*uint32, n)
	for i := uint32(0); i < n; i++ {
		addr := p.IP + 1 + i
		if addr >= w.Size() {
			return nil, false
		}
		op, err := w.GetInst(addr)
		if err != nil || !op.IsMod() {
			return nil, false
		}
		regs[i] = p.reg(op)
	}
	return regs, true
}

// templateRun returns the length of the maximal run of NOP0/NOP1 cells
// starting at addr (0 if addr itself is not a template cell or is out of
// range).
func templateRun(w *World, addr uint32) uint32 {
	var n uint32
	for a := addr; a < w.Size(); a++ {
		op, err := w.GetInst(a)
		if err != nil || !op.IsTemplate() {
			break
		}
		n++
	}
	return n
}

func complement(o Opcode) Opcode {
	if o == NOP0 {
		return NOP1
	}
	return NOP0
}

// templatesComplement reports whether the srcLen-byte template starting at
// srcAddr is the bitwise complement of whatever lies at targetAddr.
func templatesComplement(w *World, srcAddr, srcLen, targetAddr uint32) bool {
	if uint64(targetAddr)+uint64(srcLen) > uint64(w.Size()) {
		return false
	}
	for i := uint32(0); i < srcLen; i++ {
		s, err := w.GetInst(srcAddr + i)
		if err != nil {
			return false
		}
		t, err := w.GetInst(targetAddr + i)
		if err != nil || t != complement(s) {
			return false
		}
	}
	return true
}

func withinBlock(addr, blockAddr, blockSize uint32) bool {
	return blockSize != 0 && addr >= blockAddr && addr < blockAddr+blockSize
}

// stepOrganism executes exactly one instruction for the organism at pidx.
func stepOrganism(w *World, pt *ProcessTable, pidx uint32, send Sender, recv Receiver) error {
	p := pt.Get(pidx)

	op, err := w.GetInst(p.IP)
	if err != nil {
		return err
	}

	switch op {
	case NOP0, NOP1, MODA, MODB, MODC, MODD:
		advanceIP(p, w, 0)

	case JMPB, JMPF:
		return seekJump(w, p, op == JMPF)

	case ADRB, ADRF:
		return seekAddr(w, p, op == ADRF)

	case MALB, MALF:
		return allocate(w, p, op == MALF)

	case SWAP:
		if p.MB2Size == 0 {
			advanceIP(p, w, 0)
			return nil
		}
		p.MB1Addr, p.MB2Addr = p.MB2Addr, p.MB1Addr
		p.MB1Size, p.MB2Size = p.MB2Size, p.MB1Size
		advanceIP(p, w, 0)

	case SPLT:
		if p.MB2Size == 0 {
			advanceIP(p, w, 0)
			return nil
		}
		childAddr, childSize := p.MB2Addr, p.MB2Size
		p.MB2Addr, p.MB2Size = 0, 0
		if _, err := pt.Create(w, childAddr, childSize, pidx, false); err != nil {
			return err
		}
		p = pt.Get(pidx)
		advanceIP(p, w, 0)

	case INCN, DECN:
		regs, ok := resolveMods(w, p, 1)
		if !ok {
			advanceIP(p, w, 1)
			return nil
		}
		if op == INCN {
			*regs[0]++
		} else {
			*regs[0]--
		}
		advanceIP(p, w, 1)

	case ZERO, UNIT:
		regs, ok := resolveMods(w, p, 1)
		if !ok {
			advanceIP(p, w, 1)
			return nil
		}
		if op == ZERO {
			*regs[0] = 0
		} else {
			*regs[0] = 1
		}
		advanceIP(p, w, 1)

	case NOTN:
		regs, ok := resolveMods(w, p, 1)
		if !ok {
			advanceIP(p, w, 1)
			return nil
		}
		if *regs[0] == 0 {
			*regs[0] = 1
		} else {
			*regs[0] = 0
		}
		advanceIP(p, w, 1)

	case IFNZ:
		regs, ok := resolveMods(w, p, 1)
		if !ok {
			advanceIP(p, w, 1)
			return nil
		}
		skip := uint32(0)
		if *regs[0] == 0 {
			skip = 1
		}
		p.IP = clampAddr(w, p.IP+2+skip)
		p.SP = p.IP

	case SUMN, SUBN, MULN, DIVN:
		regs, ok := resolveMods(w, p, 3)
		if !ok {
			advanceIP(p, w, 3)
			return nil
		}
		switch op {
		case SUMN:
			*regs[0] = *regs[1] + *regs[2]
		case SUBN:
			*regs[0] = *regs[1] - *regs[2]
		case MULN:
			*regs[0] = *regs[1] * *regs[2]
		case DIVN:
			if *regs[2] == 0 {
				advanceIP(p, w, 3)
				return nil
			}
			*regs[0] = *regs[1] / *regs[2]
		}
		advanceIP(p, w, 3)

	case LOAD, WRTE:
		return loadOrWrite(w, p, op == WRTE)

	case SEND:
		regs, ok := resolveMods(w, p, 1)
		if !ok || !IsInst(*regs[0]) {
			advanceIP(p, w, 1)
			return nil
		}
		if send != nil {
			send(byte(*regs[0]))
		}
		advanceIP(p, w, 1)

	case RECV:
		regs, ok := resolveMods(w, p, 1)
		if !ok {
			advanceIP(p, w, 1)
			return nil
		}
		if recv != nil {
			if b, available := recv(); available {
				*regs[0] = uint32(b)
				advanceIP(p, w, 1)
				return nil
			}
		}
		*regs[0] = uint32(NOP0)
		advanceIP(p, w, 1)

	case PSHN:
		regs, ok := resolveMods(w, p, 1)
		if !ok {
			advanceIP(p, w, 1)
			return nil
		}
		for i := 6; i >= 0; i-- {
			p.Stack[i+1] = p.Stack[i]
		}
		p.Stack[0] = *regs[0]
		advanceIP(p, w, 1)

	case POPN:
		regs, ok := resolveMods(w, p, 1)
		if !ok {
			advanceIP(p, w, 1)
			return nil
		}
		*regs[0] = p.Stack[0]
		for i := 0; i < 7; i++ {
			p.Stack[i] = p.Stack[i+1]
		}
		p.Stack[7] = 0
		advanceIP(p, w, 1)

	case SHFL, SHFR:
		regs, ok := resolveMods(w, p, 1)
		if !ok {
			advanceIP(p, w, 1)
			return nil
		}
		if op == SHFL {
			*regs[0] = bits.RotateLeft32(*regs[0], 1)
		} else {
			*regs[0] = bits.RotateLeft32(*regs[0], -1)
		}
		advanceIP(p, w, 1)
	}

	return nil
}

// seekJump implements JMPB/JMPF: cooperative multi-cycle template search
// that relocates ip on commit.
func seekJump(w *World, p *Process, forward bool) error {
	srcAddr := p.IP + 1
	if srcAddr >= w.Size() {
		advanceIP(p, w, 0)
		return nil
	}
	srcLen := templateRun(w, srcAddr)
	if srcLen == 0 {
		advanceIP(p, w, 0)
		return nil
	}
	if !templatesComplement(w, srcAddr, srcLen, p.SP) {
		moveSeeker(p, w, forward)
	}
	if templatesComplement(w, srcAddr, srcLen, p.SP) {
		p.IP = p.SP
	}
	return nil
}

// seekAddr implements ADRB/ADRF: like seekJump, but on commit it writes
// the seeker's address into a register instead of relocating ip.
func seekAddr(w *World, p *Process, forward bool) error {
	regs, ok := resolveMods(w, p, 1)
	if !ok {
		advanceIP(p, w, 1)
		return nil
	}
	srcAddr := p.IP + 2
	if srcAddr >= w.Size() {
		advanceIP(p, w, 1)
		return nil
	}
	srcLen := templateRun(w, srcAddr)
	if srcLen == 0 {
		advanceIP(p, w, 1)
		return nil
	}
	if !templatesComplement(w, srcAddr, srcLen, p.SP) {
		moveSeeker(p, w, forward)
	}
	if templatesComplement(w, srcAddr, srcLen, p.SP) {
		*regs[0] = p.SP
		advanceIP(p, w, 1)
	}
	return nil
}

// allocate implements MALB/MALF: cooperative multi-cycle growth of mb2 one
// byte per cycle, committing once the requested size is reached.
func allocate(w *World, p *Process, forward bool) error {
	regs, ok := resolveMods(w, p, 2)
	if !ok {
		advanceIP(p, w, 2)
		return nil
	}
	reqSize, outReg := *regs[0], regs[1]
	if reqSize == 0 {
		advanceIP(p, w, 2)
		return nil
	}
	if p.MB2Size != 0 {
		var expected uint32
		if forward {
			expected = p.MB2Addr + p.MB2Size
		} else {
			expected = p.MB2Addr - 1
		}
		if p.SP != expected {
			advanceIP(p, w, 2)
			return nil
		}
	}

	if p.MB2Size == reqSize {
		*outReg = p.MB2Addr
		advanceIP(p, w, 2)
		return nil
	}

	if p.SP >= w.Size() {
		advanceIP(p, w, 2)
		return nil
	}
	allocated, err := w.IsAllocated(p.SP)
	if err != nil {
		return err
	}
	if allocated {
		if p.MB2Size != 0 {
			if err := w.SetRange(p.MB2Addr, p.MB2Size, false); err != nil {
				return err
			}
			p.MB2Addr, p.MB2Size = 0, 0
		}
		moveSeeker(p, w, forward)
		return nil
	}

	if err := w.SetAllocated(p.SP, true); err != nil {
		return err
	}
	if p.MB2Size == 0 || !forward {
		p.MB2Addr = p.SP
	}
	p.MB2Size++
	moveSeeker(p, w, forward)
	return nil
}

// loadOrWrite implements LOAD/WRTE: the seeker travels one byte per cycle
// toward the target address named by reg[0], then commits the load/store
// once it arrives.
func loadOrWrite(w *World, p *Process, isWrite bool) error {
	regs, ok := resolveMods(w, p, 2)
	if !ok {
		advanceIP(p, w, 2)
		return nil
	}
	target := *regs[0]
	if target >= w.Size() {
		advanceIP(p, w, 2)
		return nil
	}
	if isWrite && !IsInst(*regs[1]) {
		advanceIP(p, w, 2)
		return nil
	}

	if p.SP != target {
		moveSeeker(p, w, p.SP < target)
		return nil
	}

	if !isWrite {
		inst, err := w.GetInst(target)
		if err != nil {
			return err
		}
		*regs[1] = uint32(inst)
		advanceIP(p, w, 2)
		return nil
	}

	allocated, err := w.IsAllocated(target)
	if err != nil {
		return err
	}
	writable := !allocated ||
		withinBlock(target, p.MB1Addr, p.MB1Size) ||
		withinBlock(target, p.MB2Addr, p.MB2Size)
	if !writable {
		advanceIP(p, w, 2)
		return nil
	}
	if err := w.SetInst(target, Opcode(*regs[1])); err != nil {
		return err
	}
	advanceIP(p, w, 2)
	return nil
}
