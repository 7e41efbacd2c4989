package banyan

import (
	"fmt"

	"banyanswarm/core"

	"github.com/fxamacker/cbor/v2"
)

// wireEntry is the on-the-wire shape of one LeafEntry. The tree is
// flattened to its ordered entries for transport: a receiving node rebuilds
// an equivalent (same events, same order) tree locally via ExtendUnpacked
// and Pack rather than reconstructing the exact internal branch shape,
// which is an implementation detail the wire format need not preserve.
type wireEntry struct {
	Node       [32]byte `cbor:"n"`
	StreamNr   uint64   `cbor:"s"`
	Lamport    uint64   `cbor:"l"`
	Offset     int64    `cbor:"o"`
	Timestamp  int64    `cbor:"t"`
	AppId      string   `cbor:"a"`
	Tags       []string `cbor:"g"`
	Payload    []byte   `cbor:"p"`
	Tombstoned bool     `cbor:"x"`
}

type wireShape struct {
	MaxLeafSize     int `cbor:"leaf"`
	MaxBranchFactor int `cbor:"branch"`
	MaxDepth        int `cbor:"depth"`
}

type wireSnapshot struct {
	Shape   wireShape   `cbor:"shape"`
	Entries []wireEntry `cbor:"entries"`
}

func allEntries(n *Node) []LeafEntry {
	var out []LeafEntry
	for _, leaf := range collectLeaves(n) {
		out = append(out, leaf.Leaf.Entries...)
	}
	return out
}

// EncodeSnapshot serializes root to bytes suitable for content-addressed
// storage: the flattened, ordered event log plus the shape used to
// rebuild it (spec §4.F's "new root", as persisted via the blob store).
func EncodeSnapshot(root *Node, shape Shape) ([]byte, error) {
	entries := allEntries(root)
	w := wireSnapshot{
		Shape: wireShape{MaxLeafSize: shape.MaxLeafSize, MaxBranchFactor: shape.MaxBranchFactor, MaxDepth: shape.MaxDepth},
	}
	for _, e := range entries {
		tags := make([]string, len(e.Event.Meta.Tags))
		for i, t := range e.Event.Meta.Tags {
			tags[i] = string(t)
		}
		w.Entries = append(w.Entries, wireEntry{
			Node:       e.Event.Key.Stream.Node,
			StreamNr:   uint64(e.Event.Key.Stream.Nr),
			Lamport:    uint64(e.Event.Key.Lamport),
			Offset:     int64(e.Event.Key.Offset),
			Timestamp:  int64(e.Event.Meta.Timestamp),
			AppId:      e.Event.Meta.AppId,
			Tags:       tags,
			Payload:    e.Event.Payload,
			Tombstoned: e.Tombstoned,
		})
	}
	data, err := cbor.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("banyan: encode snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot rebuilds a tree from the bytes EncodeSnapshot produced.
func DecodeSnapshot(data []byte) (*Node, Shape, error) {
	var w wireSnapshot
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, Shape{}, fmt.Errorf("banyan: decode snapshot: %w", err)
	}
	shape := Shape{MaxLeafSize: w.Shape.MaxLeafSize, MaxBranchFactor: w.Shape.MaxBranchFactor, MaxDepth: w.Shape.MaxDepth}
	if len(w.Entries) == 0 {
		return nil, shape, nil
	}
	entries := make([]LeafEntry, len(w.Entries))
	for i, e := range w.Entries {
		tags := make([]core.Tag, len(e.Tags))
		for j, t := range e.Tags {
			tags[j] = core.Tag(t)
		}
		entries[i] = LeafEntry{
			Event: core.Event{
				Key: core.EventKey{
					Lamport: core.LamportTimestamp(e.Lamport),
					Stream:  core.StreamId{Node: e.Node, Nr: core.StreamNr(e.StreamNr)},
					Offset:  core.Offset(e.Offset),
				},
				Meta: core.EventMeta{
					Timestamp: core.Timestamp(e.Timestamp),
					Tags:      core.NewTagSet(tags...),
					AppId:     e.AppId,
				},
				Payload: e.Payload,
			},
			Tombstoned: e.Tombstoned,
		}
	}
	root, err := ExtendUnpacked(nil, shape, entries)
	if err != nil {
		return nil, shape, err
	}
	packed, err := Pack(root, shape)
	if err != nil {
		return nil, shape, err
	}
	return packed, shape, nil
}
