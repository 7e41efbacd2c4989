// Package banyan implements the per-stream indexed tree (spec §4.D): a
// content-structured, chunked persistent tree whose internal nodes carry
// summary indices (lamport/time/offset ranges and a tag-set digest) so
// queries can skip whole subtrees without reading their payloads.
package banyan

import "banyanswarm/core"

// OffsetRange is the inclusive [Min, Max] span of offsets summarized by a
// node. An empty node's range is the zero value; callers must consult
// Summary.Count to distinguish "empty" from "single event at offset 0".
type OffsetRange struct {
	Min, Max core.Offset
}

// LamportRange is the inclusive [Min, Max] span of Lamport timestamps.
type LamportRange struct {
	Min, Max core.LamportTimestamp
}

// TimeRange is the inclusive [Min, Max] span of wall-clock timestamps.
type TimeRange struct {
	Min, Max core.Timestamp
}

// Summary aggregates the events under a node well enough to prune queries
// without reading payloads. Tags is a superset digest (the union of every
// summarized event's tags) rather than a precise per-event bitset: it lets
// MatchesSummary answer "definitely not" conservatively, while the exact
// per-event decision is left to MatchesEvent at the leaf.
type Summary struct {
	Count   uint64
	Offset  OffsetRange
	Lamport LamportRange
	Time    TimeRange
	Tags    core.TagSet
}

// summaryOfEntry builds the single-event summary for a leaf entry, taking
// tombstoning into account (a tombstoned entry still carries its key range
// and tags — only the payload was forgotten).
func summaryOfEntry(e LeafEntry) Summary {
	return Summary{
		Count:   1,
		Offset:  OffsetRange{Min: e.Event.Key.Offset, Max: e.Event.Key.Offset},
		Lamport: LamportRange{Min: e.Event.Key.Lamport, Max: e.Event.Key.Lamport},
		Time:    TimeRange{Min: e.Event.Meta.Timestamp, Max: e.Event.Meta.Timestamp},
		Tags:    e.Event.Meta.Tags,
	}
}

// mergeSummary combines two summaries, as a branch combines its children's.
func mergeSummary(a, b Summary) Summary {
	if a.Count == 0 {
		return b
	}
	if b.Count == 0 {
		return a
	}
	return Summary{
		Count: a.Count + b.Count,
		Offset: OffsetRange{
			Min: minOffset(a.Offset.Min, b.Offset.Min),
			Max: maxOffset(a.Offset.Max, b.Offset.Max),
		},
		Lamport: LamportRange{
			Min: minLamport(a.Lamport.Min, b.Lamport.Min),
			Max: maxLamport(a.Lamport.Max, b.Lamport.Max),
		},
		Time: TimeRange{
			Min: minTimestamp(a.Time.Min, b.Time.Min),
			Max: maxTimestamp(a.Time.Max, b.Time.Max),
		},
		Tags: unionTags(a.Tags, b.Tags),
	}
}

func unionTags(a, b core.TagSet) core.TagSet {
	all := make([]core.Tag, 0, len(a)+len(b))
	all = append(all, a...)
	all = append(all, b...)
	return core.NewTagSet(all...)
}

func minOffset(a, b core.Offset) core.Offset {
	if a < b {
		return a
	}
	return b
}
func maxOffset(a, b core.Offset) core.Offset {
	if a > b {
		return a
	}
	return b
}
func minLamport(a, b core.LamportTimestamp) core.LamportTimestamp {
	if a < b {
		return a
	}
	return b
}
func maxLamport(a, b core.LamportTimestamp) core.LamportTimestamp {
	if a > b {
		return a
	}
	return b
}
func minTimestamp(a, b core.Timestamp) core.Timestamp {
	if a < b {
		return a
	}
	return b
}
func maxTimestamp(a, b core.Timestamp) core.Timestamp {
	if a > b {
		return a
	}
	return b
}
