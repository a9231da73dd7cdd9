package main

import "testing"

func TestArenaAllocZeroed(t *testing.T) {
	a := NewArena()
	p := a.Alloc(64)
	if len(p) != 64 {
		t.Fatalf("len = %d, want 64", len(p))
	}
	for i := range p {
		if p[i] != 0 {
			t.Fatalf("byte %d not zeroed", i)
		}
	}
}

func TestArenaRecycling(t *testing.T) {
	a := NewArena()
	p := a.Alloc(128)
	for i := range p {
		p[i] = 0xff
	}
	a.Clear()
	// the next allocation over the same region must be zeroed again
	q := a.Alloc(128)
	for i := range q {
		if q[i] != 0 {
			t.Fatalf("byte %d not zeroed after Clear", i)
		}
	}
}

func TestArenaCumulativeAllocation(t *testing.T) {
	a := NewArena()
	total := 0
	sizes := []int{1, 7, 8, 63, 512, 4096, arenaSlabSize, arenaSlabSize + 1}
	i := 0
	for total < 1<<20 {
		n := sizes[i%len(sizes)]
		i++
		p := a.Alloc(n)
		if len(p) != n {
			t.Fatalf("len = %d, want %d", len(p), n)
		}
		for j := range p {
			if p[j] != 0 {
				t.Fatalf("allocation of %d not zeroed at %d", n, j)
			}
		}
		p[0] = 0xaa
		total += n
	}
}

func TestArenaReuseAfterClear(t *testing.T) {
	a := NewArena()
	for round := 0; round < 4; round++ {
		total := 0
		for total < 1<<20 {
			p := a.Alloc(1024)
			for j := range p {
				if p[j] != 0 {
					t.Fatalf("round %d: reused slab not zeroed", round)
				}
			}
			p[0] = byte(round + 1)
			total += 1024
		}
		a.Clear()
	}
}
