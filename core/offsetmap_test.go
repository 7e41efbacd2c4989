package core

import "testing"

func streamN(b byte, nr StreamNr) StreamId {
	var n NodeId
	n[0] = b
	return StreamId{Node: n, Nr: nr}
}

func TestOffsetMapSetIsMonotone(t *testing.T) {
	m := NewOffsetMap()
	s := streamN(1, 0)
	m.Set(s, 5)
	m.Set(s, 3) // must not lower the entry
	if got := m.Offset(s); got != 5 {
		t.Fatalf("Offset after lowering Set = %v; want 5", got)
	}
	m.Set(s, 9)
	if got := m.Offset(s); got != 9 {
		t.Fatalf("Offset after raising Set = %v; want 9", got)
	}
}

func TestOffsetMapUnionIsJoin(t *testing.T) {
	a := NewOffsetMap()
	b := NewOffsetMap()
	s1, s2 := streamN(1, 0), streamN(2, 0)
	a.Set(s1, 10)
	b.Set(s1, 4)
	b.Set(s2, 7)

	u := a.Union(b)
	if u.Offset(s1) != 10 {
		t.Fatalf("union(s1) = %v; want 10", u.Offset(s1))
	}
	if u.Offset(s2) != 7 {
		t.Fatalf("union(s2) = %v; want 7", u.Offset(s2))
	}
	if !a.LessOrEqual(u) || !b.LessOrEqual(u) {
		t.Fatal("union must dominate both inputs")
	}
}

func TestOffsetMapIntersectionIsMeet(t *testing.T) {
	a, b := NewOffsetMap(), NewOffsetMap()
	s1, s2 := streamN(1, 0), streamN(2, 0)
	a.Set(s1, 10)
	a.Set(s2, 2)
	b.Set(s1, 4)

	i := a.Intersection(b)
	if i.Offset(s1) != 4 {
		t.Fatalf("intersection(s1) = %v; want 4", i.Offset(s1))
	}
	if i.Contains(s2) {
		t.Fatal("intersection must drop streams absent from one side")
	}
}

func TestOffsetMapLessOrEqualConcurrent(t *testing.T) {
	a, b := NewOffsetMap(), NewOffsetMap()
	s1, s2 := streamN(1, 0), streamN(2, 0)
	a.Set(s1, 10)
	b.Set(s2, 10)
	if a.LessOrEqual(b) || b.LessOrEqual(a) {
		t.Fatal("disjoint non-empty maps must be concurrent, not ordered")
	}
	if a.Equal(b) {
		t.Fatal("concurrent maps must not be equal")
	}
}

func TestOffsetMapDelta(t *testing.T) {
	mine, theirs := NewOffsetMap(), NewOffsetMap()
	s1, s2 := streamN(1, 0), streamN(2, 0)
	mine.Set(s1, 2)
	theirs.Set(s1, 5)
	theirs.Set(s2, 3)

	d := mine.Delta(theirs)
	if d[s1] != 3 {
		t.Fatalf("delta(s1) = %d; want 3", d[s1])
	}
	if d[s2] != 4 {
		t.Fatalf("delta(s2) = %d; want 4 (offsets 0..3)", d[s2])
	}
}

func TestOffsetMapSizeIsEventCount(t *testing.T) {
	m := NewOffsetMap()
	if m.Size() != 0 {
		t.Fatalf("Size of empty map = %d; want 0", m.Size())
	}
	s1, s2 := streamN(1, 0), streamN(2, 0)
	m.Set(s1, 4) // offsets 0..4 -> 5 events
	m.Set(s2, 0) // offset 0 -> 1 event
	if got, want := m.Size(), int64(6); got != want {
		t.Fatalf("Size() = %d; want %d", got, want)
	}
	if got, want := m.StreamCount(), 2; got != want {
		t.Fatalf("StreamCount() = %d; want %d", got, want)
	}
}

func TestOffsetMapCloneIsIndependent(t *testing.T) {
	a := NewOffsetMap()
	s := streamN(1, 0)
	a.Set(s, 1)
	cp := a.Clone()
	cp.Set(s, 99)
	if a.Offset(s) != 1 {
		t.Fatal("mutating the clone must not affect the original")
	}
}
