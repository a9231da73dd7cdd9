package main

import (
	"fmt"
	"sort"
)

// === Temporaries and labels ===

// PtrDispo says whether the value held in a temporary is a pointer the
// runtime must trace, definitely not one, or inherits its pointerness from
// the caller (callee-save saves).
type PtrDispo uint8

const (
	DISPO_PTR PtrDispo = 1 + iota
	DISPO_NOT_PTR
	DISPO_INHERIT
)

// Temp is a symbolic register. IDs below machineTempBoundary are machine
// registers of the current target; higher IDs are compiler-generated.
type Temp struct {
	ID    int
	Size  int // 1, 2, 4 or 8
	Dispo PtrDispo
}

// machineTempBoundary is the first ID handed out for fresh temporaries.
const machineTempBoundary = 100

func (t Temp) IsMachine() bool {
	return t.ID < machineTempBoundary
}

func (t Temp) String() string {
	return fmt.Sprintf("t%d.%d", t.ID, t.Size)
}

// TempState carries the temp and label counters through the passes. There is
// deliberately no global counter; every creation site takes a *TempState.
type TempState struct {
	nextTemp  int
	nextLabel int
}

func NewTempState() *TempState {
	return &TempState{nextTemp: machineTempBoundary}
}

func (ts *TempState) NewTemp(size int, dispo PtrDispo) Temp {
	t := Temp{ID: ts.nextTemp, Size: size, Dispo: dispo}
	ts.nextTemp++
	return t
}

// NewLabel returns a fresh label of the form L<n>.
func (ts *TempState) NewLabel() Symbol {
	l := fmt.Sprintf("L%d", ts.nextLabel)
	ts.nextLabel++
	return l
}

// PrefixedLabel returns a fresh label with the given prefix, e.g. ret7.
func (ts *TempState) PrefixedLabel(prefix string) Symbol {
	l := fmt.Sprintf("%s%d", prefix, ts.nextLabel)
	ts.nextLabel++
	return l
}

// NamedLabel produces the label for a source-level name, e.g. a function.
func (ts *TempState) NamedLabel(name string) Symbol {
	return name
}

// === Sorted temp lists ===
//
// Liveness keeps def/use/live sets as temp lists sorted by id. The set
// operations below rely on that ordering to run in linear time.

func tempCmp(a, b Temp) int {
	return a.ID - b.ID
}

// tempListSort returns a copy of tl sorted by temp id. The input list is
// left untouched; instruction operands alias these lists.
func tempListSort(tl []Temp) []Temp {
	out := make([]Temp, len(tl))
	copy(out, tl)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func tempListContains(haystack []Temp, t Temp) bool {
	for _, h := range haystack {
		if h.ID == t.ID {
			return true
		}
	}
	return false
}

// tempListUnion merges two sorted lists into a new sorted list without
// duplicates.
func tempListUnion(a, b []Temp) []Temp {
	out := make([]Temp, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		c := tempCmp(a[i], b[j])
		if c < 0 {
			out = append(out, a[i])
			i++
		} else if c > 0 {
			out = append(out, b[j])
			j++
		} else {
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

// tempListMinus returns the elements of a not present in b. Both inputs must
// be sorted.
func tempListMinus(a, b []Temp) []Temp {
	out := make([]Temp, 0, len(a))
	j := 0
	for _, t := range a {
		for j < len(b) && tempCmp(b[j], t) < 0 {
			j++
		}
		if j < len(b) && tempCmp(b[j], t) == 0 {
			continue
		}
		out = append(out, t)
	}
	return out
}

func tempListEq(a, b []Temp) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
	}
	return true
}
