package core

import (
	"encoding/json"
	"sort"

	"github.com/fxamacker/cbor/v2"
)

// OffsetMap tracks, for a set of streams, the highest offset observed on
// each one. It forms a bounded join-semilattice under Union: the map
// absent a stream is equivalent to that stream being at OffsetMin, and
// merging two maps never loses information (spec §4.B).
type OffsetMap struct {
	entries map[StreamId]Offset
}

// NewOffsetMap returns an empty map (every stream at OffsetMin).
func NewOffsetMap() *OffsetMap {
	return &OffsetMap{entries: make(map[StreamId]Offset)}
}

// Contains reports whether stream s has any offset recorded.
func (m *OffsetMap) Contains(s StreamId) bool {
	if m == nil {
		return false
	}
	_, ok := m.entries[s]
	return ok
}

// Offset returns the highest recorded offset for s, or OffsetMin if absent.
func (m *OffsetMap) Offset(s StreamId) OffsetOrMin {
	if m == nil {
		return OffsetMin
	}
	if o, ok := m.entries[s]; ok {
		return o.Widen()
	}
	return OffsetMin
}

// Get is an alias for Offset kept for readability at call sites that treat
// the map as a lookup table rather than a lattice element.
func (m *OffsetMap) Get(s StreamId) OffsetOrMin { return m.Offset(s) }

// Set records offset o for stream s. It never lowers an existing entry;
// callers that need to overwrite regardless should use Replace.
func (m *OffsetMap) Set(s StreamId, o Offset) {
	if m.entries == nil {
		m.entries = make(map[StreamId]Offset)
	}
	if cur, ok := m.entries[s]; !ok || o > cur {
		m.entries[s] = o
	}
}

// Replace unconditionally sets stream s to offset o, used when rebuilding
// the map from a fresh ground truth (e.g. after a supersede-on-newer-root).
func (m *OffsetMap) Replace(s StreamId, o Offset) {
	if m.entries == nil {
		m.entries = make(map[StreamId]Offset)
	}
	m.entries[s] = o
}

// Remove deletes stream s entirely, equivalent to setting it to OffsetMin.
func (m *OffsetMap) Remove(s StreamId) {
	delete(m.entries, s)
}

// Size returns the total number of events the map represents: the sum of
// offset+1 across every recorded stream, since an offset o denotes events
// 0..o inclusive on that stream (spec §4.B).
func (m *OffsetMap) Size() int64 {
	if m == nil {
		return 0
	}
	var total int64
	for _, o := range m.entries {
		total += int64(o) + 1
	}
	return total
}

// StreamCount returns the number of streams with a recorded offset.
func (m *OffsetMap) StreamCount() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Streams returns the set of streams present in the map, in a stable order.
func (m *OffsetMap) Streams() []StreamId {
	out := make([]StreamId, 0, m.StreamCount())
	for s := range m.entries {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Clone returns an independent copy of m.
func (m *OffsetMap) Clone() *OffsetMap {
	cp := NewOffsetMap()
	for s, o := range m.entries {
		cp.entries[s] = o
	}
	return cp
}

// Union returns the least upper bound of m and other: for every stream, the
// maximum of the two offsets. This is the lattice join used to merge the
// offsets two peers have each seen.
func (m *OffsetMap) Union(other *OffsetMap) *OffsetMap {
	out := m.Clone()
	for s, o := range other.entries {
		out.Set(s, o)
	}
	return out
}

// Intersection returns, for every stream present in both maps, the minimum
// of the two offsets. Streams present in only one map are dropped, since
// their offset in the other map is implicitly OffsetMin.
func (m *OffsetMap) Intersection(other *OffsetMap) *OffsetMap {
	out := NewOffsetMap()
	for s, o := range m.entries {
		if oo, ok := other.entries[s]; ok {
			if oo < o {
				o = oo
			}
			out.entries[s] = o
		}
	}
	return out
}

// Update merges other into m in place (the mutable counterpart of Union),
// used by the offset tracker to fold in newly observed offsets.
func (m *OffsetMap) Update(other *OffsetMap) {
	for s, o := range other.entries {
		m.Set(s, o)
	}
}

// LessOrEqual reports whether m is dominated by other: every stream offset
// in m is <= the corresponding offset in other. This is the lattice's
// partial order; two maps may be mutually non-dominating (concurrent).
func (m *OffsetMap) LessOrEqual(other *OffsetMap) bool {
	for s, o := range m.entries {
		if other.Offset(s).Sub(o.Widen()) < 0 {
			return false
		}
	}
	return true
}

// Equal reports whether m and other record exactly the same offsets.
func (m *OffsetMap) Equal(other *OffsetMap) bool {
	return m.LessOrEqual(other) && other.LessOrEqual(m)
}

// Delta returns, for every stream where other is ahead of m, the number of
// events other has that m does not — the basis of a "you are behind by N
// events" progress report.
func (m *OffsetMap) Delta(other *OffsetMap) map[StreamId]uint64 {
	out := make(map[StreamId]uint64)
	for _, s := range other.Streams() {
		d := other.Offset(s).Sub(m.Offset(s))
		if d > 0 {
			out[s] = uint64(d)
		}
	}
	return out
}

// MarshalCBOR renders m as a map of the textual stream id to its offset, so
// it can travel over the p2p and HTTP wire formats.
func (m *OffsetMap) MarshalCBOR() ([]byte, error) {
	out := make(map[string]uint64, len(m.entries))
	for s, o := range m.entries {
		out[s.String()] = uint64(o)
	}
	return cbor.Marshal(out)
}

// UnmarshalCBOR is the inverse of MarshalCBOR.
func (m *OffsetMap) UnmarshalCBOR(data []byte) error {
	var in map[string]uint64
	if err := cbor.Unmarshal(data, &in); err != nil {
		return err
	}
	entries := make(map[StreamId]Offset, len(in))
	for k, v := range in {
		s, err := ParseStreamId(k)
		if err != nil {
			return err
		}
		entries[s] = Offset(v)
	}
	m.entries = entries
	return nil
}

// MarshalJSON renders m as `{ streamId: offset, ... }` (spec §6).
func (m *OffsetMap) MarshalJSON() ([]byte, error) {
	out := make(map[string]int64, len(m.entries))
	for s, o := range m.entries {
		out[s.String()] = int64(o)
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON. Per spec §6, negative input
// offsets are silently discarded rather than rejected.
func (m *OffsetMap) UnmarshalJSON(data []byte) error {
	var in map[string]int64
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	entries := make(map[StreamId]Offset, len(in))
	for k, v := range in {
		if v < 0 {
			continue
		}
		s, err := ParseStreamId(k)
		if err != nil {
			return err
		}
		entries[s] = Offset(v)
	}
	m.entries = entries
	return nil
}
