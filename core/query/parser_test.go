package query

import (
	"testing"

	"banyanswarm/core/banyan"
)

func TestParseSimpleFromQuery(t *testing.T) {
	q, err := Parse(`FROM 't'`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	atom, ok := q.From.(banyan.TagAtom)
	if !ok || atom.Tag != "t" {
		t.Fatalf("expected a single tag atom 't', got %#v", q.From)
	}
	if len(q.Stages) != 0 {
		t.Fatalf("expected no stages, got %d", len(q.Stages))
	}
}

func TestParseTagCombinators(t *testing.T) {
	q, err := Parse(`FROM 'a' & 'b' | 'c'`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	or, ok := q.From.(banyan.OrExpr)
	if !ok {
		t.Fatalf("expected a top-level Or, got %#v", q.From)
	}
	and, ok := or.Left.(banyan.AndExpr)
	if !ok {
		t.Fatalf("expected the Or's left side to be an And, got %#v", or.Left)
	}
	if and.Left.(banyan.TagAtom).Tag != "a" || and.Right.(banyan.TagAtom).Tag != "b" {
		t.Fatalf("unexpected And operands: %#v", and)
	}
	if or.Right.(banyan.TagAtom).Tag != "c" {
		t.Fatalf("unexpected Or right operand: %#v", or.Right)
	}
}

func TestParseFilterAndSelectStages(t *testing.T) {
	q, err := Parse(`FROM allEvents | FILTER _.x > 1 | SELECT _.x, _.y`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, ok := q.From.(banyan.AllEvents); !ok {
		t.Fatalf("expected AllEvents, got %#v", q.From)
	}
	if len(q.Stages) != 2 {
		t.Fatalf("expected 2 stages, got %d", len(q.Stages))
	}
	filter, ok := q.Stages[0].(OpFilter)
	if !ok {
		t.Fatalf("expected OpFilter, got %#v", q.Stages[0])
	}
	cmp, ok := filter.Pred.(ExprBinOp)
	if !ok || cmp.Op != OpGt {
		t.Fatalf("expected a > comparison, got %#v", filter.Pred)
	}
	sel, ok := q.Stages[1].(OpSelect)
	if !ok || len(sel.Exprs) != 2 {
		t.Fatalf("expected OpSelect with 2 expressions, got %#v", q.Stages[1])
	}
}

func TestParseLimit(t *testing.T) {
	q, err := Parse(`FROM isLocal | LIMIT 10`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	limit, ok := q.Stages[0].(OpLimit)
	if !ok || limit.N != 10 {
		t.Fatalf("expected OpLimit{10}, got %#v", q.Stages[0])
	}
}

func TestParseAggregate(t *testing.T) {
	// AGGREGATE's expression grammar here is a plain SimpleExpr (no
	// AggrOp-specific function-call syntax), consistent with ExprAggrOp
	// nodes only ever being constructed programmatically.
	q, err := Parse(`FROM isLocal | AGGREGATE _.x`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	agg, ok := q.Stages[0].(OpAggregate)
	if !ok {
		t.Fatalf("expected OpAggregate, got %#v", q.Stages[0])
	}
	idx, ok := agg.Expr.(ExprIndex)
	if !ok || idx.Tail[0].Str != "x" {
		t.Fatalf("unexpected aggregate expression: %#v", agg.Expr)
	}
}

func TestParseRejectsTrailingGarbage(t *testing.T) {
	if _, err := Parse(`FROM 't' extra`); err == nil {
		t.Fatal("expected an error for trailing input")
	}
}
