// Package prune implements the retention loop (spec §4.L): for each
// configured stream, periodically compute a cut-off from that stream's
// policy and call banyan.Retain with it, tombstoning payloads older than
// the cut-off while leaving offsets, Lamport stamps and tags intact.
package prune

import (
	"time"

	"banyanswarm/core"
	"banyanswarm/core/banyan"
)

// Policy is one of the three retention rules spec §4.L names. Exactly one
// field is meaningful, selected by Kind.
type Policy struct {
	Kind   Kind
	Events uint64        // Kind == Events: keep only the last Events events
	Age    time.Duration // Kind == Age: keep events newer than now-Age
	Size   uint64        // Kind == Size: keep the newest Size bytes of payload
}

type Kind int

const (
	KindEvents Kind = iota
	KindAge
	KindSize
)

// EventsPolicy keeps only the last n events of a stream.
func EventsPolicy(n uint64) Policy { return Policy{Kind: KindEvents, Events: n} }

// AgePolicy keeps events with a timestamp within d of now.
func AgePolicy(d time.Duration) Policy { return Policy{Kind: KindAge, Age: d} }

// SizePolicy keeps the newest b bytes of event payload.
func SizePolicy(b uint64) Policy { return Policy{Kind: KindSize, Size: b} }

// cutoffQuery computes the "keep" predicate banyan.Retain tombstones
// against: everything Retain's query does NOT match gets its payload
// forgotten. Because Retain operates at whole-leaf granularity and the
// one unsealed leaf of a stream is always its newest, a leaf straddling
// the cut-off or newer is always kept whole — the "sealed leaves only"
// rule (spec §4.L) falls out of this without special-casing it.
func cutoffQuery(root *banyan.Node, p Policy, now core.Timestamp) (banyan.Query, bool) {
	if root == nil || root.Summary.Count == 0 {
		return nil, false
	}
	switch p.Kind {
	case KindEvents:
		if p.Events == 0 {
			return nil, false
		}
		if root.Summary.Count <= p.Events {
			return nil, false
		}
		cutoff := root.Summary.Offset.Max - core.Offset(p.Events) + 1
		return banyan.OffsetQuery{Min: cutoff, Max: root.Summary.Offset.Max}, true
	case KindAge:
		cutoff := core.TimestampFromMicros(int64(now) - p.Age.Microseconds())
		if cutoff <= root.Summary.Time.Min {
			return nil, false
		}
		return banyan.TimeQuery{Min: cutoff, Max: root.Summary.Time.Max}, true
	case KindSize:
		cutoff, found := sizeCutoff(root, p.Size)
		if !found {
			return nil, false
		}
		return banyan.OffsetQuery{Min: cutoff, Max: root.Summary.Offset.Max}, true
	default:
		return nil, false
	}
}

// sizeCutoff walks leaf entries from newest to oldest, summing payload
// bytes, and returns the offset at which the running total first reaches
// budget. found is false if the stream's whole payload fits under budget
// (nothing to prune).
func sizeCutoff(root *banyan.Node, budget uint64) (core.Offset, bool) {
	var total uint64
	var cutoff core.Offset
	var found bool
	walkLeavesReverse(root, func(e banyan.LeafEntry) bool {
		if e.Tombstoned {
			return true
		}
		total += uint64(len(e.Event.Payload))
		cutoff = e.Event.Key.Offset
		if total >= budget {
			found = true
			return false
		}
		return true
	})
	return cutoff, found
}

// walkLeavesReverse visits every leaf entry from newest to oldest, calling
// visit for each; it stops as soon as visit returns false.
func walkLeavesReverse(n *banyan.Node, visit func(banyan.LeafEntry) bool) bool {
	if n == nil {
		return true
	}
	if n.Leaf != nil {
		entries := n.Leaf.Entries
		for i := len(entries) - 1; i >= 0; i-- {
			if !visit(entries[i]) {
				return false
			}
		}
		return true
	}
	if n.Branch == nil {
		return true
	}
	children := n.Branch.Children
	for i := len(children) - 1; i >= 0; i-- {
		if !walkLeavesReverse(children[i], visit) {
			return false
		}
	}
	return true
}

// Apply computes policy p's cut-off against root and returns the retained
// tree. If nothing should be pruned yet (the stream is still within the
// policy's budget), root is returned unchanged.
func Apply(root *banyan.Node, p Policy, now core.Timestamp) *banyan.Node {
	q, ok := cutoffQuery(root, p, now)
	if !ok {
		return root
	}
	return banyan.Retain(root, q)
}
