package query

import "testing"

func TestFeederFilterThenSelect(t *testing.T) {
	// FROM 'a' & isLocal FILTER _ < 3 SELECT _ + 2
	stages := []Operation{
		OpFilter{Pred: ExprBinOp{Op: OpLt, Left: ExprVariable{"_"}, Right: ExprNatural{3}}},
		OpSelect{Exprs: []SimpleExpr{ExprBinOp{Op: OpAdd, Left: ExprVariable{"_"}, Right: ExprNatural{2}}}},
	}
	f := NewFeeder(stages)

	three := Natural(3)
	if got := f.Feed(&three); len(got) != 0 {
		t.Fatalf("feed(3) = %v; want empty (filtered out)", got)
	}

	two := Natural(2)
	got := f.Feed(&two)
	if len(got) != 1 || got[0].Err != nil || got[0].Value.String() != "4" {
		t.Fatalf("feed(2) = %+v; want [4]", got)
	}
}

func TestFeederSelectMulti(t *testing.T) {
	stages := []Operation{
		OpSelect{Exprs: []SimpleExpr{
			ExprVariable{"_"},
			ExprBinOp{Op: OpMul, Left: ExprVariable{"_"}, Right: ExprDecimal{1.5}},
		}},
	}
	f := NewFeeder(stages)
	v := Natural(42)
	got := f.Feed(&v)
	if len(got) != 2 {
		t.Fatalf("got %d results; want 2", len(got))
	}
	if got[0].Value.String() != "42" || got[1].Value.String() != "63" {
		t.Fatalf("got %s, %s; want 42, 63", got[0].Value, got[1].Value)
	}
}

func TestFeederSelectErrorsDoNotCancelSiblings(t *testing.T) {
	obj := ExprObject{Props: []ObjectProp{
		{StaticKey: "x", Value: ExprString{"a"}},
		{StaticKey: "y", Value: ExprString{"b"}},
	}}
	stages := []Operation{
		OpSelect{Exprs: []SimpleExpr{
			ExprIndex{Head: ExprVariable{"_"}, Tail: []Index{{Kind: IndexString, Str: "x"}}},
			ExprIndex{Head: ExprVariable{"_"}, Tail: []Index{{Kind: IndexString, Str: "y"}}},
			ExprIndex{Head: ExprVariable{"_"}, Tail: []Index{{Kind: IndexString, Str: "z"}}},
		}},
	}
	f := NewFeeder(stages)
	v, err := Eval(NewContext(), obj)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	got := f.Feed(&v)
	if len(got) != 3 {
		t.Fatalf("got %d results; want 3", len(got))
	}
	if got[0].Err != nil || got[0].Value.String() != `"a"` {
		t.Fatalf("result[0] = %+v", got[0])
	}
	if got[1].Err != nil || got[1].Value.String() != `"b"` {
		t.Fatalf("result[1] = %+v", got[1])
	}
	if got[2].Err == nil {
		t.Fatalf("result[2] expected a path error, got %+v", got[2])
	}
}

func TestFeederAggregateFlushesOnce(t *testing.T) {
	op := NewAggregate(ExprAggrOp{Func: AggrSum, Inner: ExprVariable{"_"}})
	f := NewFeeder([]Operation{op})

	for _, n := range []uint64{1, 2, 3} {
		v := Natural(n)
		if got := f.Feed(&v); len(got) != 0 {
			t.Fatalf("apply should not emit until flush, got %v", got)
		}
	}
	got := f.Feed(nil)
	if len(got) != 1 || got[0].Err != nil || got[0].Value.String() != "6" {
		t.Fatalf("flush = %+v; want [6]", got)
	}
}

func TestFeederAggregateCountAndMax(t *testing.T) {
	sum := ExprAggrOp{Func: AggrCount, Inner: ExprVariable{"_"}}
	max := ExprAggrOp{Func: AggrMax, Inner: ExprVariable{"_"}}
	expr := ExprArray{Items: []SimpleExpr{sum, max}}
	op := NewAggregate(expr)
	f := NewFeeder([]Operation{op})

	for _, n := range []uint64{5, 9, 1} {
		v := Natural(n)
		f.Feed(&v)
	}
	got := f.Feed(nil)
	if len(got) != 1 || got[0].Err != nil {
		t.Fatalf("flush = %+v", got)
	}
	if got[0].Value.String() != "[3, 9]" {
		t.Fatalf("flush = %s; want [3, 9]", got[0].Value)
	}
}

func TestFeederLimitSignalsDone(t *testing.T) {
	f := NewFeeder([]Operation{OpLimit{N: 2}})
	for i := 0; i < 2; i++ {
		v := Natural(uint64(i))
		got := f.Feed(&v)
		if len(got) != 1 {
			t.Fatalf("input %d: got %v; want forwarded", i, got)
		}
	}
	if !f.Done() {
		t.Fatal("Done() should be true after reaching the limit")
	}
	v := Natural(99)
	if got := f.Feed(&v); len(got) != 0 {
		t.Fatalf("input past limit forwarded: %v", got)
	}
}

func TestFeederBindingAugmentsDownstreamContext(t *testing.T) {
	stages := []Operation{
		OpBinding{Name: "doubled", Expr: ExprBinOp{Op: OpMul, Left: ExprVariable{"_"}, Right: ExprNatural{2}}},
		OpSelect{Exprs: []SimpleExpr{ExprVariable{"doubled"}}},
	}
	f := NewFeeder(stages)
	v := Natural(21)
	got := f.Feed(&v)
	if len(got) != 1 || got[0].Err != nil || got[0].Value.String() != "42" {
		t.Fatalf("got %+v; want [42]", got)
	}
}
