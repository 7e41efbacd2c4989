package swarm

import (
	"sync"

	"banyanswarm/core"
)

// OffsetTracker holds what this node has actually stored (present) against
// what it has learned peers can offer (replication_target), so it can
// compute what it still needs to fetch (spec §4.G).
type OffsetTracker struct {
	mu                sync.Mutex
	present           *core.OffsetMap
	replicationTarget *core.OffsetMap
}

// NewOffsetTracker returns an empty tracker.
func NewOffsetTracker() *OffsetTracker {
	return &OffsetTracker{present: core.NewOffsetMap(), replicationTarget: core.NewOffsetMap()}
}

// NotePresent records that a stream's tree was set to a non-empty value,
// own or replicated, advancing present (spec §4.G: "updated whenever a
// tree for a stream is set to a non-empty value").
func (t *OffsetTracker) NotePresent(id core.StreamId, offset core.Offset) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.present.Set(id, offset)
}

// NoteAdvertised records an offset advertised by gossip, advancing
// replication_target regardless of whether this node has fetched it yet.
func (t *OffsetTracker) NoteAdvertised(id core.StreamId, offset core.Offset) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.replicationTarget.Set(id, offset)
}

// Present returns a snapshot of what has actually been stored locally.
func (t *OffsetTracker) Present() *core.OffsetMap {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.present.Clone()
}

// ReplicationTarget returns a snapshot of what peers have advertised.
func (t *OffsetTracker) ReplicationTarget() *core.OffsetMap {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.replicationTarget.Clone()
}

// ToReplicate returns, for every stream where replication_target is ahead
// of present, the number of events still missing (spec §4.G: "the positive
// componentwise difference replication_target − present").
func (t *OffsetTracker) ToReplicate() map[core.StreamId]uint64 {
	t.mu.Lock()
	present, target := t.present.Clone(), t.replicationTarget.Clone()
	t.mu.Unlock()
	return present.Delta(target)
}
