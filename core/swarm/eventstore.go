package swarm

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"banyanswarm/core"
	"banyanswarm/core/banyan"

	"github.com/sirupsen/logrus"
)

// ownStreamNr is the stream every locally published event lands on (spec
// §4.H: "allocates consecutive offsets on stream 0").
const ownStreamNr core.StreamNr = 0

// PublishRequest is one event an application asked to publish.
type PublishRequest struct {
	Tags    core.TagSet
	Payload []byte
}

// PersistedEvent reports where a published event landed.
type PersistedEvent struct {
	Lamport   core.LamportTimestamp
	Offset    core.Offset
	Stream    core.StreamNr
	Timestamp core.Timestamp
}

// OffsetsReport is the result of Offsets(): what has been stored, and what
// is still owed by replication (spec §4.H).
type OffsetsReport struct {
	Present     *core.OffsetMap
	ToReplicate map[core.StreamId]uint64
}

// EventStore is the façade spec §4.H describes: persist/bounded_forward/
// bounded_backward/unbounded_forward/offsets, built on top of the registry,
// the offset tracker and the blob store.
type EventStore struct {
	self     core.NodeId
	registry *Registry
	tracker  *OffsetTracker
	clock    *core.Clock
	store    core.BlobStore
	shape    banyan.Shape
	log      *logrus.Logger

	liveMu   sync.Mutex
	liveSubs []*liveSub
}

// liveSub is one unbounded_forward subscriber's delivery channel, paired
// with the done signal of the context it was opened under so publishLive
// can give up waiting on a canceled subscriber without dropping the batch
// for anyone else.
type liveSub struct {
	ch   chan []core.Event
	done <-chan struct{}
}

// NewEventStore wires the façade for node self.
func NewEventStore(self core.NodeId, registry *Registry, tracker *OffsetTracker, clock *core.Clock, store core.BlobStore, shape banyan.Shape, log *logrus.Logger) *EventStore {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &EventStore{self: self, registry: registry, tracker: tracker, clock: clock, store: store, shape: shape, log: log}
}

// Offsets reports present and to_replicate once; it never blocks beyond a
// single in-memory read (spec §4.J "offsets()").
func (es *EventStore) Offsets() OffsetsReport {
	return OffsetsReport{Present: es.tracker.Present(), ToReplicate: es.tracker.ToReplicate()}
}

// Persist atomically allocates consecutive offsets on stream 0 for every
// request, stamps each with a freshly incremented Lamport timestamp and a
// wall-clock timestamp, commits the whole batch to the blob store, and only
// then swaps the stream's validated root in — so a failure midway leaves no
// partial result visible (spec §4.H).
func (es *EventStore) Persist(ctx context.Context, appId string, reqs []PublishRequest) ([]PersistedEvent, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	own := es.registry.GetOrCreateOwn(ownStreamNr)
	streamId := own.StreamId(es.self)

	own.RootMu.Lock()
	defer own.RootMu.Unlock()

	root := own.Root
	nextOffset := core.Offset(0)
	if root != nil {
		o, err := root.Summary.Offset.Max.Succ()
		if err != nil {
			return nil, fmt.Errorf("swarm: write failed: %w", err)
		}
		nextOffset = o
	}

	ts := core.TimestampFromMicros(time.Now().UnixMicro())
	results := make([]PersistedEvent, len(reqs))
	entries := make([]banyan.LeafEntry, len(reqs))
	for i, r := range reqs {
		lamport := es.clock.Increase(1)
		offset := nextOffset
		entries[i] = banyan.LeafEntry{Event: core.Event{
			Key:     core.EventKey{Lamport: lamport, Stream: streamId, Offset: offset},
			Meta:    core.EventMeta{Timestamp: ts, Tags: r.Tags, AppId: appId},
			Payload: r.Payload,
		}}
		results[i] = PersistedEvent{Lamport: lamport, Offset: offset, Stream: ownStreamNr, Timestamp: ts}
		if i < len(reqs)-1 {
			next, err := nextOffset.Succ()
			if err != nil {
				return nil, fmt.Errorf("swarm: write failed: %w", err)
			}
			nextOffset = next
		}
	}

	extended, err := banyan.ExtendUnpacked(root, es.shape, entries)
	if err != nil {
		return nil, fmt.Errorf("swarm: write failed: %w", err)
	}
	packed, err := banyan.Pack(extended, es.shape)
	if err != nil {
		return nil, fmt.Errorf("swarm: write failed: %w", err)
	}

	data, err := banyan.EncodeSnapshot(packed, es.shape)
	if err != nil {
		return nil, fmt.Errorf("swarm: write failed: %w", err)
	}
	link, err := es.store.Put(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("swarm: write failed: %w", err)
	}
	alias := streamId.AliasName()
	if err := es.store.Alias(ctx, alias[:], &link); err != nil {
		return nil, fmt.Errorf("swarm: write failed: %w", err)
	}

	own.Root = packed
	es.tracker.NotePresent(streamId, packed.Summary.Offset.Max)

	published := make([]core.Event, len(entries))
	for i, e := range entries {
		published[i] = e.Event
	}
	es.publishLive(published)

	return results, nil
}

// streamEvents returns the currently visible, non-tombstoned events for id,
// from whichever registry slot (own or replicated) currently holds it.
func (es *EventStore) streamEvents(id core.StreamId) []core.Event {
	roots := es.registry.AllRoots()
	root, ok := roots[id]
	if !ok {
		return nil
	}
	return banyan.Events(root)
}

func matchesQuery(ev core.Event, q banyan.Query) bool {
	if q == nil {
		return true
	}
	return q.MatchesEvent(ev)
}

func inBoundedRange(ev core.Event, lower, upper *core.OffsetMap) bool {
	id := ev.Key.Stream
	lo := lower.Offset(id)
	hi := upper.Offset(id)
	offsetVal := ev.Key.Offset.Widen()
	return offsetVal.Sub(lo) > 0 && hi.Sub(offsetVal) >= 0
}

// BoundedForward emits every event whose stream appears in upper, with an
// offset in (lower[s], upper[s]], matching q. Order is ascending
// (lamport, stream, offset) when perStreamOrder is false; otherwise streams
// are concatenated in StreamId order, each internally ascending by offset
// (spec §4.H).
func (es *EventStore) BoundedForward(ctx context.Context, q banyan.Query, lower, upper *core.OffsetMap, perStreamOrder bool) (<-chan core.Event, error) {
	if lower == nil {
		lower = core.NewOffsetMap()
	}
	var matched []core.Event
	for _, id := range upper.Streams() {
		for _, ev := range es.streamEvents(id) {
			if inBoundedRange(ev, lower, upper) && matchesQuery(ev, q) {
				matched = append(matched, ev)
			}
		}
	}
	if perStreamOrder {
		sort.SliceStable(matched, func(i, j int) bool {
			if matched[i].Key.Stream != matched[j].Key.Stream {
				return matched[i].Key.Stream.Less(matched[j].Key.Stream)
			}
			return matched[i].Key.Offset < matched[j].Key.Offset
		})
	} else {
		sort.SliceStable(matched, func(i, j int) bool { return matched[i].Key.Less(matched[j].Key) })
	}
	return emitBounded(ctx, matched), nil
}

// BoundedBackward is BoundedForward's event set in strictly descending
// (lamport, stream, offset) order.
func (es *EventStore) BoundedBackward(ctx context.Context, q banyan.Query, lower, upper *core.OffsetMap) (<-chan core.Event, error) {
	if lower == nil {
		lower = core.NewOffsetMap()
	}
	var matched []core.Event
	for _, id := range upper.Streams() {
		for _, ev := range es.streamEvents(id) {
			if inBoundedRange(ev, lower, upper) && matchesQuery(ev, q) {
				matched = append(matched, ev)
			}
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[j].Key.Less(matched[i].Key) })
	return emitBounded(ctx, matched), nil
}

func emitBounded(ctx context.Context, events []core.Event) <-chan core.Event {
	out := make(chan core.Event)
	go func() {
		defer close(out)
		for _, ev := range events {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// publishLive fans newly committed events out to every live unbounded_forward
// subscriber, blocking on a slow one rather than dropping its batch — spec
// §5/§8 require every locally persisted event to reach a live subscriber
// exactly once, so there is no safe way to skip it. A subscriber whose own
// context is already done is not waited on: its cancel() will remove it
// from liveSubs shortly, and every other subscriber still gets the batch.
func (es *EventStore) publishLive(events []core.Event) {
	es.liveMu.Lock()
	defer es.liveMu.Unlock()
	for _, sub := range es.liveSubs {
		select {
		case sub.ch <- events:
		case <-sub.done:
		}
	}
}

func (es *EventStore) subscribeLive(ctx context.Context) (<-chan []core.Event, func()) {
	ch := make(chan []core.Event, 256)
	sub := &liveSub{ch: ch, done: ctx.Done()}
	es.liveMu.Lock()
	es.liveSubs = append(es.liveSubs, sub)
	es.liveMu.Unlock()
	cancel := func() {
		es.liveMu.Lock()
		defer es.liveMu.Unlock()
		for i, s := range es.liveSubs {
			if s == sub {
				es.liveSubs = append(es.liveSubs[:i], es.liveSubs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

// UnboundedForward never completes: it emits every event matching q that
// this EventStore's Persist commits after the call and whose offset exceeds
// from[s], honoring per-stream order. Roots admitted for replicated streams
// are not delivered here. Canceling ctx releases the subscription.
func (es *EventStore) UnboundedForward(ctx context.Context, q banyan.Query, from *core.OffsetMap) <-chan core.Event {
	if from == nil {
		from = core.NewOffsetMap()
	}
	cursor := from.Clone()
	sub, cancel := es.subscribeLive(ctx)
	out := make(chan core.Event)
	go func() {
		defer close(out)
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case batch, ok := <-sub:
				if !ok {
					return
				}
				for _, ev := range batch {
					if ev.Key.Offset.Widen().Sub(cursor.Offset(ev.Key.Stream)) <= 0 {
						continue
					}
					if !matchesQuery(ev, q) {
						continue
					}
					cursor.Set(ev.Key.Stream, ev.Key.Offset)
					select {
					case out <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out
}
