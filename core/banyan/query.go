package banyan

import "banyanswarm/core"

// Query is the predicate a tree walk prunes against. MatchesSummary must be
// conservative — false means no event under this node can possibly match —
// so it is safe to skip a subtree entirely when it returns false.
// MatchesEvent is the exact, non-conservative test applied to a single
// event once a leaf has not been pruned away.
type Query interface {
	MatchesSummary(s Summary) bool
	MatchesEvent(ev core.Event) bool
}

// All matches every event unconditionally.
type All struct{}

func (All) MatchesSummary(Summary) bool       { return true }
func (All) MatchesEvent(core.Event) bool      { return true }

// OffsetQuery matches events whose offset falls in the set's streams'
// per-tree inclusive range [Min, Max]. Since one tree indexes one stream,
// this is a plain range rather than an OffsetMap.
type OffsetQuery struct {
	Min, Max core.Offset
}

func (q OffsetQuery) MatchesSummary(s Summary) bool {
	if s.Count == 0 {
		return false
	}
	return s.Offset.Min <= q.Max && q.Min <= s.Offset.Max
}

func (q OffsetQuery) MatchesEvent(ev core.Event) bool {
	return ev.Key.Offset >= q.Min && ev.Key.Offset <= q.Max
}

// TimeQuery matches events with a wall-clock timestamp in [Min, Max].
type TimeQuery struct {
	Min, Max core.Timestamp
}

func (q TimeQuery) MatchesSummary(s Summary) bool {
	if s.Count == 0 {
		return false
	}
	return s.Time.Min <= q.Max && q.Min <= s.Time.Max
}

func (q TimeQuery) MatchesEvent(ev core.Event) bool {
	return ev.Meta.Timestamp >= q.Min && ev.Meta.Timestamp <= q.Max
}

// LamportQuery matches events with a Lamport timestamp in [Min, Max].
type LamportQuery struct {
	Min, Max core.LamportTimestamp
}

func (q LamportQuery) MatchesSummary(s Summary) bool {
	if s.Count == 0 {
		return false
	}
	return s.Lamport.Min <= q.Max && q.Min <= s.Lamport.Max
}

func (q LamportQuery) MatchesEvent(ev core.Event) bool {
	return ev.Key.Lamport >= q.Min && ev.Key.Lamport <= q.Max
}

// And is the logical AND of its member queries, pruning a subtree as soon
// as any one member rules it out.
type And struct {
	Queries []Query
}

func (a And) MatchesSummary(s Summary) bool {
	for _, q := range a.Queries {
		if !q.MatchesSummary(s) {
			return false
		}
	}
	return true
}

func (a And) MatchesEvent(ev core.Event) bool {
	for _, q := range a.Queries {
		if !q.MatchesEvent(ev) {
			return false
		}
	}
	return true
}

// -----------------------------------------------------------------------
// Tag expressions and TagsQuery compilation.
// -----------------------------------------------------------------------

// TagExpr is the small AND/OR tag-selection language used by the "from:"
// clause of a query and by bounded_forward/bounded_backward/unbounded_forward
// (spec §4.H, §4.I).
type TagExpr interface{ isTagExpr() }

// TagAtom selects events carrying a single tag.
type TagAtom struct{ Tag core.Tag }

// AllEvents matches every event; any disjunct containing it reduces the
// whole TagsQuery to "match all".
type AllEvents struct{}

// IsLocalAtom is true iff the evaluating observer is the stream's own node
// (as opposed to a replica of another node's stream).
type IsLocalAtom struct{}

// AndExpr is the conjunction of two tag expressions.
type AndExpr struct{ Left, Right TagExpr }

// OrExpr is the disjunction of two tag expressions.
type OrExpr struct{ Left, Right TagExpr }

func (TagAtom) isTagExpr()     {}
func (AllEvents) isTagExpr()   {}
func (IsLocalAtom) isTagExpr() {}
func (AndExpr) isTagExpr()     {}
func (OrExpr) isTagExpr()      {}

// clause is one conjunctive term of a tag expression's DNF: a set of
// required tags, whether it also requires the stream to be local, and
// whether it matched AllEvents outright.
type clause struct {
	tags     core.TagSet
	isLocal  bool
	matchAll bool
}

// toDNF expands expr into disjunctive normal form: an OR of ANDs.
func toDNF(expr TagExpr) []clause {
	switch e := expr.(type) {
	case TagAtom:
		return []clause{{tags: core.NewTagSet(e.Tag)}}
	case AllEvents:
		return []clause{{matchAll: true}}
	case IsLocalAtom:
		return []clause{{isLocal: true}}
	case AndExpr:
		left := toDNF(e.Left)
		right := toDNF(e.Right)
		out := make([]clause, 0, len(left)*len(right))
		for _, l := range left {
			for _, r := range right {
				out = append(out, andClause(l, r))
			}
		}
		return out
	case OrExpr:
		return append(toDNF(e.Left), toDNF(e.Right)...)
	default:
		return nil
	}
}

func andClause(a, b clause) clause {
	if a.matchAll && b.matchAll {
		return clause{matchAll: true}
	}
	if a.matchAll {
		return b
	}
	if b.matchAll {
		return a
	}
	tags := append(core.TagSet(nil), a.tags...)
	tags = append(tags, b.tags...)
	return clause{tags: core.NewTagSet(tags...), isLocal: a.isLocal || b.isLocal}
}

// TagsQuery is a compiled TagExpr: a disjunction of tag-set/locality
// clauses, each independently checked against a summary or event.
type TagsQuery struct {
	clauses  []clause
	matchAll bool
}

// FromExpr compiles expr against an observer that either is (isLocal=true)
// or is not the owning node of the stream being queried. isLocal clauses
// are resolved at compile time: satisfied and stripped if the observer is
// local, or dropped entirely (eliminating that disjunct) if not. If every
// disjunct is eliminated this way the query can never match anything and
// FromExpr returns (nil, false) — "query inert" per spec §4.D. A disjunct
// containing AllEvents collapses the whole query to unconditional match.
func FromExpr(expr TagExpr, isLocal bool) (*TagsQuery, bool) {
	dnf := toDNF(expr)
	kept := make([]clause, 0, len(dnf))
	for _, c := range dnf {
		if c.matchAll {
			return &TagsQuery{matchAll: true}, true
		}
		if c.isLocal {
			if !isLocal {
				continue // disjunct requires locality the observer lacks
			}
			c.isLocal = false
		}
		kept = append(kept, c)
	}
	if len(kept) == 0 {
		return nil, false
	}
	return &TagsQuery{clauses: kept}, true
}

func (q *TagsQuery) MatchesSummary(s Summary) bool {
	if q.matchAll {
		return true
	}
	if s.Count == 0 {
		return false
	}
	for _, c := range q.clauses {
		if c.tags.Subset(s.Tags) {
			return true
		}
	}
	return false
}

func (q *TagsQuery) MatchesEvent(ev core.Event) bool {
	if q.matchAll {
		return true
	}
	for _, c := range q.clauses {
		if c.tags.Subset(ev.Meta.Tags) {
			return true
		}
	}
	return false
}
