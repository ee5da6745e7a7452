package salis

import (
	"errors"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Render overlay bits. These never touch world memory (world.go's
// Allocated is the only flag a cell actually stores); they exist solely in
// the bytes this function produces.
const (
	renderAllocated byte = 0x20
	renderHasBlock  byte = 0x40
	renderHasIP     byte = 0x80
)

// ErrInvalidRenderParams is returned when cellSize or buffSize is zero.
// Groups that lie past the end of the world are not an error; they render
// as 0.
var ErrInvalidRenderParams = errors.New("salis: invalid render parameters")

// Render computes a pure, read-only downsampled view of the world and
// process table: buffSize output bytes, each summarizing cellSize
// consecutive world cells starting at origin. The low 5 bits of each
// output byte are the integer average of the opcodes in its cell group;
// bit 0x20 is set if any cell in the group is allocated; bit 0x40 is set
// if any live organism's mb1 or mb2 block starts in the group; bit 0x80 is
// set if any live organism's ip falls in the group.
//
// This is the one place outside tests where the package uses goroutines:
// spec.md's concurrency model permits parallelizing read-only scans over
// disjoint address ranges, which is exactly what independent pixel groups
// are.
func (e *Engine) Render(origin, cellSize, buffSize uint32) ([]byte, error) {
	if !e.initialized {
		return nil, ErrNotInitialized
	}
	if cellSize == 0 || buffSize == 0 {
		return nil, ErrInvalidRenderParams
	}

	w := e.world
	blockAddrs, ipAddrs := liveAddressSets(e.procs)

	out := make([]byte, buffSize)

	workers := runtime.GOMAXPROCS(0)
	if workers > int(buffSize) {
		workers = int(buffSize)
	}
	if workers < 1 {
		workers = 1
	}

	var g errgroup.Group
	chunk := (int(buffSize) + workers - 1) / workers
	for start := 0; start < int(buffSize); start += chunk {
		start := start
		end := start + chunk
		if end > int(buffSize) {
			end = int(buffSize)
		}
		g.Go(func() error {
			for px := start; px < end; px++ {
				groupStart := origin + uint32(px)*cellSize
				out[px] = renderCell(w, blockAddrs, ipAddrs, groupStart, cellSize)
			}
			return nil
		})
	}
	return out, g.Wait()
}

func renderCell(w *World, blockAddrs, ipAddrs map[uint32]bool, groupStart, cellSize uint32) byte {
	var sum, n uint32
	var anyAllocated, anyBlock, anyIP bool

	for i := uint32(0); i < cellSize; i++ {
		addr := groupStart + i
		if addr >= w.Size() {
			break
		}
		op, _ := w.GetInst(addr)
		sum += uint32(op)
		n++
		if alloc, _ := w.IsAllocated(addr); alloc {
			anyAllocated = true
		}
		if blockAddrs[addr] {
			anyBlock = true
		}
		if ipAddrs[addr] {
			anyIP = true
		}
	}

	var avg byte
	if n > 0 {
		avg = byte((sum / n) & 0x1f)
	}

	var b byte = avg
	if anyAllocated {
		b |= renderAllocated
	}
	if anyBlock {
		b |= renderHasBlock
	}
	if anyIP {
		b |= renderHasIP
	}
	return b
}

// liveAddressSets precomputes, once per Render call, the set of addresses
// that are a live organism's mb1/mb2 start or ip, so the parallel pixel
// workers never need to scan the process table themselves.
func liveAddressSets(pt *ProcessTable) (blockAddrs, ipAddrs map[uint32]bool) {
	blockAddrs = make(map[uint32]bool)
	ipAddrs = make(map[uint32]bool)
	if pt.Count() == 0 {
		return
	}
	cap := pt.CapacityProcs()
	pidx := pt.Head()
	for {
		p := pt.Get(pidx)
		blockAddrs[p.MB1Addr] = true
		if p.MB2Size != 0 {
			blockAddrs[p.MB2Addr] = true
		}
		ipAddrs[p.IP] = true
		if pidx == pt.Tail() {
			break
		}
		pidx = (pidx + 1) % cap
	}
	return
}
