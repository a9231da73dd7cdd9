package main

import "testing"

func tl(ids ...int) []Temp {
	out := make([]Temp, len(ids))
	for i, id := range ids {
		out[i] = Temp{ID: id, Size: 8}
	}
	return out
}

func TestTempListSort(t *testing.T) {
	in := tl(5, 3, 9, 1)
	sorted := tempListSort(in)
	if !tempListEq(sorted, tl(1, 3, 5, 9)) {
		t.Errorf("sorted = %v", sorted)
	}
	// the input must be untouched: operand lists alias these
	if in[0].ID != 5 {
		t.Errorf("input mutated: %v", in)
	}
}

func TestTempListUnion(t *testing.T) {
	a := tl(1, 3, 5)
	b := tl(2, 3, 6)
	got := tempListUnion(a, b)
	if !tempListEq(got, tl(1, 2, 3, 5, 6)) {
		t.Errorf("union = %v", got)
	}
	// commutative
	if !tempListEq(tempListUnion(b, a), got) {
		t.Errorf("union not commutative")
	}
	// idempotent
	if !tempListEq(tempListUnion(got, got), got) {
		t.Errorf("union not idempotent")
	}
	// associative
	c := tl(0, 5, 7)
	l := tempListUnion(tempListUnion(a, b), c)
	r := tempListUnion(a, tempListUnion(b, c))
	if !tempListEq(l, r) {
		t.Errorf("union not associative: %v vs %v", l, r)
	}
}

func TestTempListMinus(t *testing.T) {
	a := tl(1, 2, 3, 4)
	b := tl(2, 4, 8)
	if got := tempListMinus(a, b); !tempListEq(got, tl(1, 3)) {
		t.Errorf("minus = %v", got)
	}
	// minus(union(a,b), b) == minus(a, b)
	l := tempListMinus(tempListUnion(a, b), b)
	r := tempListMinus(a, b)
	if !tempListEq(l, r) {
		t.Errorf("minus/union law broken: %v vs %v", l, r)
	}
	if !tempListEq(tempListMinus(a, nil), a) {
		t.Errorf("minus of empty changed the list")
	}
}

func TestTempListEq(t *testing.T) {
	a := tl(1, 2, 3)
	if !tempListEq(a, a) {
		t.Errorf("eq(a, a) = false")
	}
	if tempListEq(a, tl(1, 2)) || tempListEq(a, tl(1, 2, 4)) {
		t.Errorf("eq accepted unequal lists")
	}
}

func TestTempStateCounters(t *testing.T) {
	ts := NewTempState()
	t1 := ts.NewTemp(8, DISPO_PTR)
	t2 := ts.NewTemp(4, DISPO_NOT_PTR)
	if t1.ID != machineTempBoundary || t2.ID != machineTempBoundary+1 {
		t.Errorf("temp ids = %d, %d", t1.ID, t2.ID)
	}
	if t1.IsMachine() {
		t.Errorf("fresh temp claims to be a machine register")
	}
	if !(Temp{ID: 5, Size: 8}).IsMachine() {
		t.Errorf("register 5 not recognised as machine")
	}
	l1 := ts.NewLabel()
	l2 := ts.NewLabel()
	if l1 == l2 {
		t.Errorf("labels not unique: %s", l1)
	}
	if l1[0] != 'L' {
		t.Errorf("label format: %s", l1)
	}
	r := ts.PrefixedLabel("ret")
	if !isRetLabel(r) {
		t.Errorf("prefixed label %s not recognised", r)
	}
}
