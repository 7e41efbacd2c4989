package banyan

import (
	"errors"

	"banyanswarm/core"
)

// LeafEntry is one event stored in a leaf. Tombstoned entries have had
// their payload forgotten by Retain but keep their key and metadata, so
// offsets, Lamport stamps and tag summaries stay intact.
type LeafEntry struct {
	Event      core.Event
	Tombstoned bool
}

// Leaf holds a run of consecutive-offset events.
type Leaf struct {
	Entries []LeafEntry
}

// Branch holds child nodes, ordered oldest to newest.
type Branch struct {
	Children []*Node
}

// Node is either a Leaf or a Branch, carrying its aggregated Summary and
// whether it has reached its final packed shape.
type Node struct {
	Summary Summary
	Sealed  bool
	Leaf    *Leaf
	Branch  *Branch
}

func (n *Node) isLeaf() bool { return n != nil && n.Leaf != nil }

// Shape bounds how ExtendUnpacked/Pack grow the tree.
type Shape struct {
	// MaxLeafSize is the number of events a sealed leaf holds.
	MaxLeafSize int
	// MaxBranchFactor is the number of children a sealed branch holds.
	MaxBranchFactor int
	// MaxDepth is carried with the shape, but Pack does not consult it:
	// the tree's depth is not capped, and appends always succeed by
	// adding branch levels as needed.
	MaxDepth int
}

// DefaultShape mirrors the shape a freshly configured node uses.
var DefaultShape = Shape{MaxLeafSize: 256, MaxBranchFactor: 32, MaxDepth: 8}

// ErrEmptyExtend is returned by ExtendUnpacked when called with no entries.
var ErrEmptyExtend = errors.New("banyan: extend requires at least one entry")

// ExtendUnpacked appends entries as new, unsealed leaves without
// rebalancing the rest of the tree (spec §4.D). Offsets in entries must be
// contiguous and must continue on from root's current maximum offset;
// callers (core/swarm) are responsible for that invariant.
func ExtendUnpacked(root *Node, shape Shape, entries []LeafEntry) (*Node, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyExtend
	}
	leafSize := shape.MaxLeafSize
	if leafSize <= 0 {
		leafSize = DefaultShape.MaxLeafSize
	}
	var newLeaves []*Node
	for len(entries) > 0 {
		n := leafSize
		if n > len(entries) {
			n = len(entries)
		}
		chunk := entries[:n]
		entries = entries[n:]
		newLeaves = append(newLeaves, newLeafNode(chunk, n == leafSize))
	}
	out := root
	for _, leaf := range newLeaves {
		out = appendSibling(out, leaf)
	}
	return out, nil
}

func newLeafNode(entries []LeafEntry, sealed bool) *Node {
	s := Summary{}
	cp := append([]LeafEntry(nil), entries...)
	for _, e := range cp {
		s = mergeSummary(s, summaryOfEntry(e))
	}
	return &Node{Summary: s, Sealed: sealed, Leaf: &Leaf{Entries: cp}}
}

func newBranchNode(children []*Node, sealed bool) *Node {
	s := Summary{}
	for _, c := range children {
		s = mergeSummary(s, c.Summary)
	}
	return &Node{Summary: s, Sealed: sealed, Branch: &Branch{Children: children}}
}

// appendSibling attaches newNode as the rightmost sibling of root, without
// rebalancing: if root is nil, newNode becomes the root; otherwise both are
// wrapped in a fresh unsealed branch.
func appendSibling(root, newNode *Node) *Node {
	if root == nil {
		return newNode
	}
	return newBranchNode([]*Node{root, newNode}, false)
}

// Pack rebalances the tree's unsealed portions into the configured shape
// without altering event order or offsets (spec §4.D). It flattens the
// unsealed suffix into its events, leaves sealed nodes untouched, and
// regroups everything into properly sized sealed leaves and branches,
// leaving at most one trailing leaf and one trailing branch per level
// unsealed to absorb future appends.
func Pack(root *Node, shape Shape) (*Node, error) {
	if root == nil {
		return nil, nil
	}
	if shape.MaxLeafSize <= 0 {
		shape.MaxLeafSize = DefaultShape.MaxLeafSize
	}
	if shape.MaxBranchFactor <= 0 {
		shape.MaxBranchFactor = DefaultShape.MaxBranchFactor
	}

	leaves := collectLeaves(root)
	packedLeaves := packLeaves(leaves, shape.MaxLeafSize)
	level := packedLeaves
	for len(level) > 1 {
		level = packBranchLevel(level, shape.MaxBranchFactor)
	}
	if len(level) == 0 {
		return nil, nil
	}
	return level[0], nil
}

// collectLeaves returns every leaf node in left-to-right (oldest-to-newest)
// order.
func collectLeaves(n *Node) []*Node {
	if n == nil {
		return nil
	}
	if n.isLeaf() {
		return []*Node{n}
	}
	var out []*Node
	for _, c := range n.Branch.Children {
		out = append(out, collectLeaves(c)...)
	}
	return out
}

// packLeaves regroups leaves into full sealed leaves, leaving at most one
// undersized, unsealed leaf at the end. Already-sealed full leaves are
// reused as-is.
func packLeaves(leaves []*Node, maxLeafSize int) []*Node {
	var out []*Node
	var pending []LeafEntry
	flush := func(sealed bool) {
		if len(pending) == 0 {
			return
		}
		out = append(out, newLeafNode(pending, sealed))
		pending = nil
	}
	for _, leaf := range leaves {
		if leaf.Sealed && len(pending) == 0 && len(leaf.Leaf.Entries) == maxLeafSize {
			out = append(out, leaf)
			continue
		}
		for _, e := range leaf.Leaf.Entries {
			pending = append(pending, e)
			if len(pending) == maxLeafSize {
				flush(true)
			}
		}
	}
	flush(false)
	return out
}

// packBranchLevel groups nodes into full sealed branches, leaving at most
// one undersized, unsealed branch at the end.
func packBranchLevel(nodes []*Node, maxBranchFactor int) []*Node {
	var out []*Node
	for i := 0; i < len(nodes); i += maxBranchFactor {
		end := i + maxBranchFactor
		if end > len(nodes) {
			end = len(nodes)
		}
		chunk := nodes[i:end]
		out = append(out, newBranchNode(chunk, len(chunk) == maxBranchFactor))
	}
	return out
}

// Retain walks the tree and, for every leaf whose summary is disjoint from
// q (q.MatchesSummary returns false), forgets that leaf's event payloads,
// replacing them with tombstone markers. Offsets, Lamport stamps, tags and
// the overall tree shape are preserved (spec §4.D).
func Retain(root *Node, q Query) *Node {
	if root == nil {
		return nil
	}
	if root.isLeaf() {
		if q.MatchesSummary(root.Summary) {
			return root
		}
		entries := make([]LeafEntry, len(root.Leaf.Entries))
		for i, e := range root.Leaf.Entries {
			entries[i] = LeafEntry{Event: core.Event{Key: e.Event.Key, Meta: e.Event.Meta}, Tombstoned: true}
		}
		return &Node{Summary: root.Summary, Sealed: root.Sealed, Leaf: &Leaf{Entries: entries}}
	}
	children := make([]*Node, len(root.Branch.Children))
	changed := false
	for i, c := range root.Branch.Children {
		nc := Retain(c, q)
		children[i] = nc
		if nc != c {
			changed = true
		}
	}
	if !changed {
		return root
	}
	return &Node{Summary: root.Summary, Sealed: root.Sealed, Branch: &Branch{Children: children}}
}

// IndexEntry is one item of the lazy reverse-index sequence IterIndexReverse
// produces: a node's Summary and whether it was a leaf, without its payload.
type IndexEntry struct {
	Summary Summary
	IsLeaf  bool
}

// IterIndexReverse returns an iterator (Go's range-over-func form) that
// yields index nodes from newest to oldest, pruning any subtree q rules
// out via MatchesSummary, without ever reading leaf payloads (spec §4.D:
// "used to locate a cut-off without reading payloads").
func IterIndexReverse(root *Node, q Query) func(yield func(IndexEntry) bool) {
	return func(yield func(IndexEntry) bool) {
		iterIndexReverse(root, q, yield)
	}
}

// iterIndexReverse returns false once yield has asked to stop, so callers
// up the recursion can unwind immediately.
func iterIndexReverse(n *Node, q Query, yield func(IndexEntry) bool) bool {
	if n == nil || !q.MatchesSummary(n.Summary) {
		return true
	}
	if n.isLeaf() {
		return yield(IndexEntry{Summary: n.Summary, IsLeaf: true})
	}
	children := n.Branch.Children
	for i := len(children) - 1; i >= 0; i-- {
		if !iterIndexReverse(children[i], q, yield) {
			return false
		}
	}
	return yield(IndexEntry{Summary: n.Summary, IsLeaf: false})
}

// Events flattens every non-tombstoned event out of the tree in ascending
// offset order, used by core/swarm to feed the event store façade's
// cursors. Tombstoned entries are skipped since their payload is gone.
func Events(root *Node) []core.Event {
	var out []core.Event
	for _, leaf := range collectLeaves(root) {
		for _, e := range leaf.Leaf.Entries {
			if e.Tombstoned {
				continue
			}
			out = append(out, e.Event)
		}
	}
	return out
}
