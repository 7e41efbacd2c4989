package query

import (
	"banyanswarm/core"
	"banyanswarm/core/banyan"
)

// Query is the compiled form spec §4.I describes: a declared feature set,
// a tag expression selecting which streams/events to read from, and a
// pipeline of stages.
type Query struct {
	Features []string
	From     banyan.TagExpr
	Stages   []Operation
}

// Compiled pairs a Query with its resolved tag predicate and a fresh
// Feeder, ready to process one bounded or unbounded cursor's events.
type Compiled struct {
	Query  Query
	Tags   *banyan.TagsQuery
	Inert  bool
	feeder *Feeder
}

// Compile resolves q.From against the observer's locality and builds a
// fresh Feeder for q.Stages. endpoint determines which features are
// implicitly allowed without being declared. Inert reports a query whose
// "from" expression can never match anything for this observer (every
// disjunct required locality the observer lacks) — the caller should treat
// it as an empty result set without ever touching the event store.
func Compile(q Query, isLocal bool, endpoint Endpoint) (*Compiled, error) {
	if err := ValidateFeatures(q.Features, q.Stages, endpoint); err != nil {
		return nil, err
	}
	tags, ok := banyan.FromExpr(q.From, isLocal)
	if !ok {
		return &Compiled{Query: q, Inert: true, feeder: NewFeeder(q.Stages)}, nil
	}
	return &Compiled{Query: q, Tags: tags, feeder: NewFeeder(q.Stages)}, nil
}

// MatchesSummary/MatchesEvent let a Compiled query act as a banyan.Query,
// so bounded/unbounded cursors can prune by tag before the pipeline ever
// sees an event.
func (c *Compiled) MatchesSummary(s banyan.Summary) bool {
	if c.Inert {
		return false
	}
	return c.Tags.MatchesSummary(s)
}

func (c *Compiled) MatchesEvent(ev core.Event) bool {
	if c.Inert {
		return false
	}
	return c.Tags.MatchesEvent(ev)
}

// Feed runs one payload value through the compiled pipeline.
func (c *Compiled) Feed(v *Value) []Result {
	return c.feeder.Feed(v)
}

// Done reports whether a Limit stage has already reached its quota.
func (c *Compiled) Done() bool {
	return c.feeder.Done()
}
