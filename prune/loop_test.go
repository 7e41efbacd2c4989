package prune

import (
	"context"
	"testing"
	"time"

	"banyanswarm/core"
	"banyanswarm/core/banyan"
	"banyanswarm/core/swarm"
)

func TestLoopAppliesConfiguredPolicyOnTick(t *testing.T) {
	store, err := core.NewLocalBlobStore(core.LocalBlobStoreConfig{Dir: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("NewLocalBlobStore: %v", err)
	}
	var self core.NodeId
	self[0] = 5
	registry := swarm.NewRegistry(self, nil)
	tracker := swarm.NewOffsetTracker()
	clock := core.NewClock(0)
	shape := banyan.Shape{MaxLeafSize: 1, MaxBranchFactor: 2, MaxDepth: 8}
	es := swarm.NewEventStore(self, registry, tracker, clock, store, shape, nil)

	reqs := make([]swarm.PublishRequest, 5)
	for i := range reqs {
		reqs[i] = swarm.PublishRequest{Tags: core.NewTagSet("x"), Payload: []byte("p")}
	}
	if _, err := es.Persist(context.Background(), "com.example.app", reqs); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	loop := NewLoop(registry, 5*time.Millisecond, nil)
	loop.Configure(0, EventsPolicy(2))
	loop.Start()
	defer loop.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		own, ok := registry.OwnStreamByNr(0)
		if ok {
			own.RootMu.RLock()
			live, _ := countTombstoned(own.Root)
			own.RootMu.RUnlock()
			if live == 2 {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("prune loop never reduced live events to 2 within deadline")
}

func TestLoopUnconfigureStopsPruning(t *testing.T) {
	registry := swarm.NewRegistry(core.NodeId{}, nil)
	loop := NewLoop(registry, time.Hour, nil)
	loop.Configure(0, EventsPolicy(1))
	loop.Unconfigure(0)
	loop.mu.Lock()
	_, ok := loop.policies[0]
	loop.mu.Unlock()
	if ok {
		t.Fatalf("policy still configured after Unconfigure")
	}
}
