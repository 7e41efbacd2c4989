package core

import (
	"errors"
	"testing"
)

func TestNodeIdRoundTrip(t *testing.T) {
	var n NodeId
	for i := range n {
		n[i] = byte(i)
	}
	s := n.String()
	got, err := ParseNodeId(s)
	if err != nil {
		t.Fatalf("ParseNodeId(%q): %v", s, err)
	}
	if got != n {
		t.Fatalf("round trip mismatch: got %v want %v", got, n)
	}
}

func TestParseNodeIdBadLength(t *testing.T) {
	if _, err := ParseNodeId("ucmVhbGx5IHNob3J0"); err == nil {
		t.Fatal("expected error for wrong-length payload")
	} else if !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
}

func TestStreamIdRoundTrip(t *testing.T) {
	var n NodeId
	n[0] = 7
	s := StreamId{Node: n, Nr: 42}
	got, err := ParseStreamId(s.String())
	if err != nil {
		t.Fatalf("ParseStreamId: %v", err)
	}
	if got != s {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, s)
	}
}

func TestStreamIdAliasRoundTrip(t *testing.T) {
	var n NodeId
	for i := range n {
		n[i] = byte(255 - i)
	}
	s := StreamId{Node: n, Nr: 9001}
	alias := s.AliasName()
	got, err := StreamIdFromAlias(alias[:])
	if err != nil {
		t.Fatalf("StreamIdFromAlias: %v", err)
	}
	if got != s {
		t.Fatalf("alias round trip mismatch: got %+v want %+v", got, s)
	}
}

func TestOffsetArithmeticOverflow(t *testing.T) {
	if _, err := MaxOffset.Succ(); !errors.Is(err, ErrOffsetOverflow) {
		t.Fatalf("expected overflow at MaxOffset, got %v", err)
	}
	if _, err := MaxOffset.Add(1); !errors.Is(err, ErrOffsetOverflow) {
		t.Fatalf("expected overflow adding to MaxOffset, got %v", err)
	}
	next, err := Offset(5).Succ()
	if err != nil || next != 6 {
		t.Fatalf("Succ(5) = %v, %v; want 6, nil", next, err)
	}
}

func TestOffsetOrMinWiden(t *testing.T) {
	if got, ok := FromOffsetOrMin(OffsetMin); ok {
		t.Fatalf("FromOffsetOrMin(OffsetMin) = %v, ok; want !ok", got)
	}
	o := Offset(3)
	if got, ok := FromOffsetOrMin(o.Widen()); !ok || got != o {
		t.Fatalf("FromOffsetOrMin(3.Widen()) = %v, %v; want 3, true", got, ok)
	}
}

func TestClockIncreaseAndReceive(t *testing.T) {
	c := NewClock(0)
	if got := c.Increase(1); got != 1 {
		t.Fatalf("Increase(1) = %d; want 1", got)
	}
	if got := c.Increase(5); got != 6 {
		t.Fatalf("Increase(5) = %d; want 6", got)
	}
	if got := c.Receive(3); got != 7 {
		t.Fatalf("Receive(3) with local=6 = %d; want 7 (local+1)", got)
	}
	if got := c.Receive(100); got != 100 {
		t.Fatalf("Receive(100) with local=7 = %d; want 100", got)
	}
	if got := c.Current(); got != 100 {
		t.Fatalf("Current() = %d; want 100", got)
	}
}

func TestTagSetCanonicalization(t *testing.T) {
	ts := NewTagSet("b", "a", "b", "c")
	want := TagSet{"a", "b", "c"}
	if !ts.Equal(want) {
		t.Fatalf("NewTagSet dedup/sort = %v; want %v", ts, want)
	}
	if !ts.Contains("b") || ts.Contains("z") {
		t.Fatal("Contains behaved incorrectly")
	}
	sub := NewTagSet("a", "c")
	if !sub.Subset(ts) {
		t.Fatal("expected sub to be a subset of ts")
	}
}

func TestEventKeyOrdering(t *testing.T) {
	var n1, n2 NodeId
	n2[0] = 1
	low := EventKey{Lamport: 1, Stream: StreamId{Node: n1, Nr: 0}, Offset: 0}
	high := EventKey{Lamport: 2, Stream: StreamId{Node: n1, Nr: 0}, Offset: 0}
	if !low.Less(high) || high.Less(low) {
		t.Fatal("lamport should dominate ordering")
	}
	sameLamport1 := EventKey{Lamport: 1, Stream: StreamId{Node: n1, Nr: 0}, Offset: 5}
	sameLamport2 := EventKey{Lamport: 1, Stream: StreamId{Node: n2, Nr: 0}, Offset: 0}
	if !sameLamport1.Less(sameLamport2) {
		t.Fatal("stream id should break lamport ties")
	}
}
