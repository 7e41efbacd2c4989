package p2p

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/sirupsen/logrus"

	"banyanswarm/core"
)

// rootsTopic is the single gossipsub topic every node in a swarm joins to
// announce its own stream's offset advances. It is a liveness/discovery
// signal only: peers that want the actual events still open an admin/events
// connection (spec §4.K) to fetch them.
const rootsTopic = "banyanswarm/roots/v1"

// rootAnnouncement is the gossiped payload: "node N's own stream is now at
// offset O". It carries no tree data, only enough for a receiving peer to
// decide whether it is behind and should dial in.
type rootAnnouncement struct {
	Node   string      `json:"node"`
	Stream core.Offset `json:"offset"`
}

// Gossip broadcasts and observes rootAnnouncements over a gossipsub topic,
// generalizing the teacher's Node.Broadcast/Subscribe pair (core/network.go)
// from arbitrary topics to this one fixed liveness topic.
type Gossip struct {
	ps    *pubsub.PubSub
	topic *pubsub.Topic
	sub   *pubsub.Subscription
	log   *logrus.Logger

	mu      sync.Mutex
	onPeer  func(node core.NodeId, offset core.Offset)
	started bool
}

// NewGossip creates a gossipsub router over h and joins rootsTopic.
func NewGossip(h host.Host, log *logrus.Logger) (*Gossip, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	ps, err := pubsub.NewGossipSub(context.Background(), h)
	if err != nil {
		return nil, fmt.Errorf("p2p: starting gossipsub: %w", err)
	}
	topic, err := ps.Join(rootsTopic)
	if err != nil {
		return nil, fmt.Errorf("p2p: joining %s: %w", rootsTopic, err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("p2p: subscribing to %s: %w", rootsTopic, err)
	}
	return &Gossip{ps: ps, topic: topic, sub: sub, log: log}, nil
}

// OnAnnouncement registers the callback invoked for every announcement
// received on rootsTopic; announcements this node published itself are not
// filtered out and reach the callback too. Must be called before Start.
func (g *Gossip) OnAnnouncement(fn func(node core.NodeId, offset core.Offset)) {
	g.mu.Lock()
	g.onPeer = fn
	g.mu.Unlock()
}

// Start begins reading announcements in the background until ctx is done.
func (g *Gossip) Start(ctx context.Context) {
	g.mu.Lock()
	if g.started {
		g.mu.Unlock()
		return
	}
	g.started = true
	g.mu.Unlock()

	go func() {
		for {
			msg, err := g.sub.Next(ctx)
			if err != nil {
				if ctx.Err() == nil {
					g.log.WithField("error", err).Warn("p2p: gossip subscription ended")
				}
				return
			}
			var ann rootAnnouncement
			if err := json.Unmarshal(msg.Data, &ann); err != nil {
				continue
			}
			nodeId, err := core.ParseNodeId(ann.Node)
			if err != nil {
				continue
			}
			g.mu.Lock()
			fn := g.onPeer
			g.mu.Unlock()
			if fn != nil {
				fn(nodeId, ann.Stream)
			}
		}
	}()
}

// Announce publishes this node's current own-stream offset to every peer
// subscribed to rootsTopic.
func (g *Gossip) Announce(ctx context.Context, self core.NodeId, offset core.Offset) error {
	data, err := json.Marshal(rootAnnouncement{Node: self.String(), Stream: offset})
	if err != nil {
		return err
	}
	return g.topic.Publish(ctx, data)
}

// Close tears down the subscription and topic handle.
func (g *Gossip) Close() {
	g.sub.Cancel()
	_ = g.topic.Close()
}
