package salis

import (
	"crypto/rand"
	"encoding/binary"
)

// Evolver drives the two background mutation sources that let natural
// selection operate on the population: cosmic rays (uniformly random
// opcode overwrites) and register-shift mutations of live organisms. Its
// state is a 128-bit xorshift generator.
type Evolver struct {
	state              [4]uint32
	lastChangedAddress uint32
	lastChangedProcess uint32
}

// NewEvolver creates an evolver seeded from a non-deterministic source.
func NewEvolver() (*Evolver, error) {
	e := &Evolver{}
	var seed [16]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, err
	}
	for i := range e.state {
		e.state[i] = binary.LittleEndian.Uint32(seed[i*4 : i*4+4])
	}
	return e, nil
}

// LastChangedAddress returns the world address most recently overwritten
// by a cosmic ray.
func (e *Evolver) LastChangedAddress() uint32 { return e.lastChangedAddress }

// LastChangedProcess returns the process slot most recently perturbed by a
// register-shift mutation.
func (e *Evolver) LastChangedProcess() uint32 { return e.lastChangedProcess }

// next draws the next 32-bit word from the xorshift-128 generator.
func (e *Evolver) next() uint32 {
	t := e.state[3]
	t ^= t << 11
	t ^= t >> 8
	e.state[3] = e.state[2]
	e.state[2] = e.state[1]
	e.state[1] = e.state[0]
	t ^= e.state[0]
	t ^= e.state[0] >> 19
	e.state[0] = t
	return t
}

// Step performs exactly one engine cycle's worth of mutation: one cosmic
// ray write to world memory (when the drawn address is in range), and, when
// a fresh draw divided by the live count names a live slot, one
// register-shift mutation of that process.
func (e *Evolver) Step(w *World, pt *ProcessTable) error {
	addr := e.next()
	if addr < w.Size() {
		if err := w.SetInst(addr, Opcode(e.next()%numOpcodes)); err != nil {
			return err
		}
		e.lastChangedAddress = addr
	}

	raw := e.next()
	count := pt.Count()
	divisor := count
	if divisor == 0 {
		divisor = 1
	}
	pidx := raw / divisor
	if pidx < pt.CapacityProcs() && pt.IsLive(pidx) {
		pt.mutateRegister(pidx, e.next())
		e.lastChangedProcess = pidx
	}
	return nil
}
