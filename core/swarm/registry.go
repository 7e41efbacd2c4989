// Package swarm holds the per-node stream state: the registry of own and
// replicated streams, the careful-ingestion validator that admits new
// replicated roots, the offset tracker, and the event store façade that
// sits on top of all three (spec §4.E-§4.H).
package swarm

import (
	"sync"
	"time"

	"banyanswarm/core"
	"banyanswarm/core/banyan"

	"github.com/sirupsen/logrus"
)

// OwnStream is a stream this node produces. Root is read under RootMu so a
// publisher can swap it atomically while readers (cursors, gossip) see a
// consistent snapshot.
type OwnStream struct {
	Nr     core.StreamNr
	RootMu sync.RWMutex
	Root   *banyan.Node
}

// root returns a consistent snapshot of the stream's current tree.
func (s *OwnStream) root() *banyan.Node {
	s.RootMu.RLock()
	defer s.RootMu.RUnlock()
	return s.Root
}

func (s *OwnStream) setRoot(n *banyan.Node) {
	s.RootMu.Lock()
	s.Root = n
	s.RootMu.Unlock()
}

// StreamId returns the fully qualified id of this stream under node self.
func (s *OwnStream) StreamId(self core.NodeId) core.StreamId {
	return core.StreamId{Node: self, Nr: s.Nr}
}

// ReplicatedStream is a stream owned by another node, as observed here.
// Root is only ever advanced by the careful-ingestion validator.
type ReplicatedStream struct {
	StreamId core.StreamId
	RootMu   sync.RWMutex
	Root     *banyan.Node

	// incoming carries candidate roots as they are gossiped in; the
	// ingestion validator consumes this and supersedes any running
	// attempt when a fresher value arrives (spec §4.F).
	incoming chan IncomingRoot
}

func (s *ReplicatedStream) root() *banyan.Node {
	s.RootMu.RLock()
	defer s.RootMu.RUnlock()
	return s.Root
}

func (s *ReplicatedStream) setRoot(n *banyan.Node) {
	s.RootMu.Lock()
	s.Root = n
	s.RootMu.Unlock()
}

// RemoteNode tracks one peer's set of replicated streams and when it was
// last heard from.
type RemoteNode struct {
	LastSeen time.Time
	mu       sync.Mutex
	Streams  map[core.StreamNr]*ReplicatedStream
}

// Registry is the node-wide map of streams: the ones it produces
// (own_streams) and the ones it replicates from other nodes
// (remote_nodes), plus a fan-out notification of newly observed StreamIds
// (spec §4.E).
type Registry struct {
	self core.NodeId
	log  *logrus.Logger

	mu          sync.Mutex
	ownStreams  map[core.StreamNr]*OwnStream
	remoteNodes map[core.NodeId]*RemoteNode

	observersMu sync.Mutex
	observers   []chan core.StreamId

	// onNewReplicated is invoked exactly once, the first time a replicated
	// stream is created, to launch its careful-ingestion task. It is a
	// field (not a hardcoded call) so tests can stub it out.
	onNewReplicated func(*ReplicatedStream)
}

// NewRegistry constructs an empty registry for node self.
func NewRegistry(self core.NodeId, log *logrus.Logger) *Registry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Registry{
		self:        self,
		log:         log,
		ownStreams:  make(map[core.StreamNr]*OwnStream),
		remoteNodes: make(map[core.NodeId]*RemoteNode),
	}
}

// OnNewReplicated registers the callback fired when a replicated stream is
// first created (spec §4.E: "spawns its careful-ingestion task").
func (r *Registry) OnNewReplicated(fn func(*ReplicatedStream)) {
	r.mu.Lock()
	r.onNewReplicated = fn
	r.mu.Unlock()
}

// ObserveNewStreams returns a channel receiving every StreamId seen for the
// first time by this registry, own or replicated.
func (r *Registry) ObserveNewStreams() <-chan core.StreamId {
	ch := make(chan core.StreamId, 64)
	r.observersMu.Lock()
	r.observers = append(r.observers, ch)
	r.observersMu.Unlock()
	return ch
}

func (r *Registry) announce(id core.StreamId) {
	r.observersMu.Lock()
	defer r.observersMu.Unlock()
	for _, ch := range r.observers {
		select {
		case ch <- id:
		default:
			r.log.WithField("stream", id.String()).Warn("swarm: new-stream observer channel full, dropping")
		}
	}
}

// GetOrCreateOwn returns the OwnStream for nr, creating it idempotently if
// absent.
func (r *Registry) GetOrCreateOwn(nr core.StreamNr) *OwnStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.ownStreams[nr]; ok {
		return s
	}
	s := &OwnStream{Nr: nr}
	r.ownStreams[nr] = s
	r.log.WithField("stream_nr", nr).Info("swarm: created own stream")
	r.announce(core.StreamId{Node: r.self, Nr: nr})
	return s
}

// OwnStreamByNr looks up an existing own stream, returning ok=false if absent.
func (r *Registry) OwnStreamByNr(nr core.StreamNr) (*OwnStream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.ownStreams[nr]
	return s, ok
}

// OwnStreamNrs returns every stream number this node currently owns.
func (r *Registry) OwnStreamNrs() []core.StreamNr {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.StreamNr, 0, len(r.ownStreams))
	for nr := range r.ownStreams {
		out = append(out, nr)
	}
	return out
}

// GetOrCreateReplicated returns the ReplicatedStream for id, creating it
// idempotently if absent. Creation spawns the careful-ingestion task via
// the registered callback (spec §4.E).
func (r *Registry) GetOrCreateReplicated(id core.StreamId) *ReplicatedStream {
	r.mu.Lock()
	rn, ok := r.remoteNodes[id.Node]
	if !ok {
		rn = &RemoteNode{Streams: make(map[core.StreamNr]*ReplicatedStream)}
		r.remoteNodes[id.Node] = rn
	}
	rn.LastSeen = time.Now()

	rn.mu.Lock()
	s, existed := rn.Streams[id.Nr]
	if !existed {
		s = &ReplicatedStream{StreamId: id, incoming: make(chan IncomingRoot, 8)}
		rn.Streams[id.Nr] = s
	}
	rn.mu.Unlock()
	cb := r.onNewReplicated
	r.mu.Unlock()

	if !existed {
		r.log.WithField("stream", id.String()).Info("swarm: created replicated stream")
		r.announce(id)
		if cb != nil {
			cb(s)
		}
	}
	return s
}

// ReplicatedStreamsOf lists the streams currently replicated from node.
func (r *Registry) ReplicatedStreamsOf(node core.NodeId) []*ReplicatedStream {
	r.mu.Lock()
	rn, ok := r.remoteNodes[node]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	rn.mu.Lock()
	defer rn.mu.Unlock()
	out := make([]*ReplicatedStream, 0, len(rn.Streams))
	for _, s := range rn.Streams {
		out = append(out, s)
	}
	return out
}

// AllRoots returns every known stream's current root, own and replicated,
// as a flat map used by the offset tracker and by gossip advertisement.
func (r *Registry) AllRoots() map[core.StreamId]*banyan.Node {
	out := make(map[core.StreamId]*banyan.Node)
	r.mu.Lock()
	for nr, s := range r.ownStreams {
		out[core.StreamId{Node: r.self, Nr: nr}] = s.root()
	}
	for node, rn := range r.remoteNodes {
		rn.mu.Lock()
		for nr, s := range rn.Streams {
			out[core.StreamId{Node: node, Nr: nr}] = s.root()
		}
		rn.mu.Unlock()
	}
	r.mu.Unlock()
	return out
}
