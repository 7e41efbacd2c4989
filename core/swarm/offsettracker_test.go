package swarm

import (
	"testing"

	"banyanswarm/core"
)

func TestOffsetTrackerToReplicate(t *testing.T) {
	tr := NewOffsetTracker()
	var node core.NodeId
	node[0] = 1
	s := core.StreamId{Node: node, Nr: 0}

	tr.NotePresent(s, 2)
	tr.NoteAdvertised(s, 9)

	got := tr.ToReplicate()
	if got[s] != 7 {
		t.Fatalf("ToReplicate()[s] = %d; want 7", got[s])
	}
}

func TestOffsetTrackerNoReplicationNeededWhenCaughtUp(t *testing.T) {
	tr := NewOffsetTracker()
	var node core.NodeId
	s := core.StreamId{Node: node, Nr: 0}
	tr.NotePresent(s, 5)
	tr.NoteAdvertised(s, 5)

	if got := tr.ToReplicate(); len(got) != 0 {
		t.Fatalf("ToReplicate() = %v; want empty", got)
	}
}
