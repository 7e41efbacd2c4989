package prune

import (
	"context"
	"testing"
	"time"

	"banyanswarm/core"
	"banyanswarm/core/banyan"
	"banyanswarm/core/swarm"
)

func buildStream(t *testing.T, payloads ...[]byte) *banyan.Node {
	t.Helper()
	store, err := core.NewLocalBlobStore(core.LocalBlobStoreConfig{Dir: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("NewLocalBlobStore: %v", err)
	}
	var self core.NodeId
	self[0] = 3
	registry := swarm.NewRegistry(self, nil)
	tracker := swarm.NewOffsetTracker()
	clock := core.NewClock(0)
	shape := banyan.Shape{MaxLeafSize: 2, MaxBranchFactor: 2, MaxDepth: 8}
	es := swarm.NewEventStore(self, registry, tracker, clock, store, shape, nil)

	reqs := make([]swarm.PublishRequest, len(payloads))
	for i, p := range payloads {
		reqs[i] = swarm.PublishRequest{Tags: core.NewTagSet("x"), Payload: p}
	}
	if _, err := es.Persist(context.Background(), "com.example.app", reqs); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	own, ok := registry.OwnStreamByNr(0)
	if !ok {
		t.Fatalf("own stream 0 not found")
	}
	return own.Root
}

func countTombstoned(n *banyan.Node) (live, tombstoned int) {
	walkLeavesReverse(n, func(e banyan.LeafEntry) bool {
		if e.Tombstoned {
			tombstoned++
		} else {
			live++
		}
		return true
	})
	return
}

func TestEventsPolicyKeepsOnlyLastN(t *testing.T) {
	// MaxLeafSize=2 groups these 5 events into leaves [a,b] [c,d] [e]; since
	// Retain tombstones whole leaves only, keeping "the last 2" ends up
	// keeping c, d and e (3 live) rather than splitting the [c,d] leaf to
	// keep exactly 2 — leaf-granularity retention never drops a live event
	// newer than its policy asks to keep.
	root := buildStream(t, []byte("a"), []byte("b"), []byte("c"), []byte("d"), []byte("e"))
	retained := Apply(root, EventsPolicy(2), core.TimestampFromMicros(0))
	live, tombstoned := countTombstoned(retained)
	if live != 3 {
		t.Fatalf("live = %d; want 3", live)
	}
	if tombstoned != 2 {
		t.Fatalf("tombstoned = %d; want 2", tombstoned)
	}
	if retained.Summary.Count != 5 {
		t.Fatalf("count = %d; want 5 (offsets preserved)", retained.Summary.Count)
	}
}

func TestEventsPolicyNoopWhenUnderBudget(t *testing.T) {
	root := buildStream(t, []byte("a"), []byte("b"))
	retained := Apply(root, EventsPolicy(10), core.TimestampFromMicros(0))
	if retained != root {
		t.Fatalf("expected no pruning when stream is under budget")
	}
}

func TestSizePolicyKeepsNewestBytes(t *testing.T) {
	root := buildStream(t, []byte("aaaa"), []byte("bbbb"), []byte("cccc"), []byte("dddd"))
	retained := Apply(root, SizePolicy(6), core.TimestampFromMicros(0))
	live, _ := countTombstoned(retained)
	if live != 2 {
		t.Fatalf("live = %d; want 2 (cumulative 4+4=8 >= budget 6 reached at second-newest)", live)
	}
}

func TestAgePolicyKeepsRecentEvents(t *testing.T) {
	store, err := core.NewLocalBlobStore(core.LocalBlobStoreConfig{Dir: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("NewLocalBlobStore: %v", err)
	}
	var self core.NodeId
	self[0] = 4
	registry := swarm.NewRegistry(self, nil)
	tracker := swarm.NewOffsetTracker()
	clock := core.NewClock(0)
	// MaxLeafSize 1 keeps each event in its own leaf, so the cut-off can
	// actually separate old from new instead of them being packed into one
	// leaf (whole-leaf granularity would otherwise keep both or neither).
	shape := banyan.Shape{MaxLeafSize: 1, MaxBranchFactor: 2, MaxDepth: 8}
	es := swarm.NewEventStore(self, registry, tracker, clock, store, shape, nil)

	if _, err := es.Persist(context.Background(), "com.example.app", []swarm.PublishRequest{
		{Tags: core.NewTagSet("x"), Payload: []byte("old")},
	}); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	cutover := core.TimestampFromMicros(time.Now().UnixMicro())
	time.Sleep(2 * time.Millisecond)
	if _, err := es.Persist(context.Background(), "com.example.app", []swarm.PublishRequest{
		{Tags: core.NewTagSet("x"), Payload: []byte("new")},
	}); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	own, _ := registry.OwnStreamByNr(0)
	now := core.TimestampFromMicros(time.Now().UnixMicro())
	age := time.Duration(int64(now)-int64(cutover)) * time.Microsecond
	retained := Apply(own.Root, AgePolicy(age), now)
	live, tombstoned := countTombstoned(retained)
	if live != 1 || tombstoned != 1 {
		t.Fatalf("live = %d, tombstoned = %d; want 1, 1", live, tombstoned)
	}
}
