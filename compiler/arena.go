package main

// === Scratch arena ===
//
// A bump allocator over fixed-size slabs. Allocations are zeroed; Clear
// recycles the slabs for the next compilation unit instead of returning them
// to the garbage collector. Scratch buffers built during descriptor
// construction and assembly escaping come from here.

const arenaSlabSize = 64 * 1024

type Arena struct {
	slabs [][]byte
	big   [][]byte // oversized allocations, dropped on Clear
	cur   int      // index of the slab being bumped
	off   int      // offset into the current slab
}

func NewArena() *Arena {
	return &Arena{cur: -1}
}

// Alloc returns a zeroed byte slice of length n. Requests larger than the
// slab size get a dedicated allocation.
func (a *Arena) Alloc(n int) []byte {
	if n <= 0 {
		panic("arena: non-positive allocation")
	}
	// keep adjacent allocations pointer-aligned
	aligned := (n + 7) &^ 7
	if aligned > arenaSlabSize {
		p := make([]byte, n)
		a.big = append(a.big, p)
		return p
	}
	if a.cur < 0 || a.off+aligned > arenaSlabSize {
		a.cur++
		if a.cur == len(a.slabs) {
			a.slabs = append(a.slabs, make([]byte, arenaSlabSize))
		}
		a.off = 0
	}
	p := a.slabs[a.cur][a.off : a.off+n : a.off+aligned]
	a.off += aligned
	clear(p)
	return p
}

// Clear makes the arena's memory available for reuse. Previously returned
// slices must no longer be used; the next Alloc over the same region returns
// zeroed bytes.
func (a *Arena) Clear() {
	a.cur = -1
	a.off = 0
	a.big = nil
}
