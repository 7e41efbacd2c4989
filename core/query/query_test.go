package query

import (
	"testing"

	"banyanswarm/core"
	"banyanswarm/core/banyan"
)

func TestCompileResolvesTagsAndFeeds(t *testing.T) {
	q := Query{
		From: banyan.TagAtom{Tag: "temperature"},
		Stages: []Operation{
			OpFilter{Pred: ExprBinOp{Op: OpGt, Left: ExprVariable{"_"}, Right: ExprNatural{10}}},
		},
	}
	c, err := Compile(q, true, EndpointQuery)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if c.Inert {
		t.Fatal("query should not be inert")
	}

	ev := core.Event{Meta: core.EventMeta{Tags: core.NewTagSet("temperature")}}
	if !c.MatchesEvent(ev) {
		t.Fatal("expected event with matching tag to match")
	}
	other := core.Event{Meta: core.EventMeta{Tags: core.NewTagSet("humidity")}}
	if c.MatchesEvent(other) {
		t.Fatal("expected event with unrelated tag not to match")
	}

	v := Natural(20)
	got := c.Feed(&v)
	if len(got) != 1 || got[0].Value.String() != "20" {
		t.Fatalf("got %+v", got)
	}
	low := Natural(5)
	if got := c.Feed(&low); len(got) != 0 {
		t.Fatalf("expected filtered out, got %+v", got)
	}
}

func TestCompileInertWhenIsLocalUnsatisfiable(t *testing.T) {
	q := Query{From: banyan.IsLocalAtom{}}
	c, err := Compile(q, false, EndpointQuery)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !c.Inert {
		t.Fatal("query restricted to isLocal from a non-local observer must be inert")
	}
	if c.MatchesEvent(core.Event{}) {
		t.Fatal("inert query must never match")
	}
}

func TestCompileRejectsUndeclaredFeature(t *testing.T) {
	q := Query{
		From:   banyan.AllEvents{},
		Stages: []Operation{NewAggregate(ExprAggrOp{Func: AggrSum, Inner: ExprVariable{"_"}})},
	}
	if _, err := Compile(q, true, EndpointQuery); err == nil {
		t.Fatal("expected an undeclared-feature error")
	}

	q.Features = []string{"aggregate"}
	if _, err := Compile(q, true, EndpointQuery); err != nil {
		t.Fatalf("Compile with declared feature: %v", err)
	}
}

func TestCompileSubscribeMonotonicImpliesTimeTravel(t *testing.T) {
	// timeTravel has no corresponding Operation in this package (it's an
	// event-service-level concept - see core/query/features.go), so this
	// just checks that a query which does not declare it still compiles for
	// that endpoint.
	q := Query{From: banyan.AllEvents{}}
	if _, err := Compile(q, true, EndpointSubscribeMonotonic); err != nil {
		t.Fatalf("Compile: %v", err)
	}
}
