package query

import (
	"strings"
	"testing"
)

func evalString(t *testing.T, cx *Context, e SimpleExpr) string {
	t.Helper()
	v, err := Eval(cx, e)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	return v.String()
}

func TestEvalPrimitives(t *testing.T) {
	cx := NewContext()
	cases := []struct {
		expr SimpleExpr
		want string
	}{
		{ExprNull{}, "null"},
		{ExprBool{true}, "true"},
		{ExprBool{false}, "false"},
		{ExprNatural{42}, "42"},
		{ExprString{"hello"}, `"hello"`},
	}
	for _, c := range cases {
		if got := evalString(t, cx, c.expr); got != c.want {
			t.Errorf("eval(%+v) = %s; want %s", c.expr, got, c.want)
		}
	}
}

func TestEvalVariableAndIndex(t *testing.T) {
	cx := NewContext()
	cx.Bind("x", Object(map[string]Value{"y": Natural(42)}))

	if got := evalString(t, cx, ExprVariable{"x"}); got != `{"y": 42}` {
		t.Fatalf("x = %s", got)
	}

	idx := ExprIndex{Head: ExprVariable{"x"}, Tail: []Index{{Kind: IndexString, Str: "y"}}}
	if got := evalString(t, cx, idx); got != "42" {
		t.Fatalf("x.y = %s", got)
	}

	_, err := Eval(cx, ExprVariable{"nope"})
	if err == nil || !strings.Contains(err.Error(), "variable 'nope' is not bound") {
		t.Fatalf("expected unbound-variable error, got %v", err)
	}

	missing := ExprIndex{Head: ExprVariable{"x"}, Tail: []Index{{Kind: IndexString, Str: "a"}}}
	_, err = Eval(cx, missing)
	if err == nil || !strings.Contains(err.Error(), "path .a does not exist") {
		t.Fatalf("expected missing-path error, got %v", err)
	}
}

func TestEvalArithmetic(t *testing.T) {
	cx := NewContext()
	cx.Bind("x", Object(map[string]Value{"y": Natural(42)}))

	expr := ExprBinOp{Op: OpAdd,
		Left: ExprBinOp{Op: OpAdd, Left: ExprNatural{5}, Right: ExprDecimal{2.1}},
		Right: ExprIndex{Head: ExprVariable{"x"}, Tail: []Index{{Kind: IndexString, Str: "y"}}},
	}
	if got := evalString(t, cx, expr); got != "49.1" {
		t.Fatalf("5+2.1+x.y = %s; want 49.1", got)
	}

	_, err := Eval(cx, ExprBinOp{Op: OpAdd, Left: ExprNatural{5}, Right: ExprVariable{"x"}})
	if err == nil || !strings.Contains(err.Error(), "is not a number") {
		t.Fatalf("expected not-a-number error, got %v", err)
	}
}

func TestEvalNaturalOverflow(t *testing.T) {
	cx := NewContext()
	big := ExprNatural{^uint64(0)}
	_, err := Eval(cx, ExprBinOp{Op: OpAdd, Left: big, Right: ExprNatural{1}})
	if err == nil || !strings.Contains(err.Error(), "overflow") {
		t.Fatalf("expected overflow error, got %v", err)
	}
}

func TestEvalBooleanAndShortCircuit(t *testing.T) {
	cx := NewContext()
	table := []struct {
		op          BinOp
		left, right bool
		want        bool
	}{
		{OpAnd, false, false, false},
		{OpAnd, true, false, false},
		{OpAnd, true, true, true},
		{OpOr, false, false, false},
		{OpOr, false, true, true},
		{OpXor, true, true, false},
		{OpXor, true, false, true},
	}
	for _, c := range table {
		v, err := Eval(cx, ExprBinOp{Op: c.op, Left: ExprBool{c.left}, Right: ExprBool{c.right}})
		if err != nil {
			t.Fatalf("eval: %v", err)
		}
		if b, _ := v.AsBool(); b != c.want {
			t.Errorf("%v op %v op %v = %v; want %v", c.left, c.op, c.right, b, c.want)
		}
	}

	// Short-circuit: AND with a false left never evaluates the right, so an
	// erroring right side is never reached.
	v, err := Eval(cx, ExprBinOp{Op: OpAnd, Left: ExprBool{false}, Right: ExprVariable{"undefined"}})
	if err != nil {
		t.Fatalf("expected short-circuit to avoid the error, got %v", err)
	}
	if b, _ := v.AsBool(); b {
		t.Fatalf("FALSE AND x = %v; want false", b)
	}
}

func TestEvalAlternativeOperator(t *testing.T) {
	cx := NewContext()
	expr := ExprBinOp{Op: OpAlt, Left: ExprVariable{"missing"}, Right: ExprNatural{7}}
	if got := evalString(t, cx, expr); got != "7" {
		t.Fatalf("missing // 7 = %s; want 7", got)
	}
}

func TestEvalCase(t *testing.T) {
	cx := NewContext()
	cx.Bind("_", Natural(2))
	expr := ExprCase{Branches: []CaseBranch{
		{Pred: ExprBinOp{Op: OpEq, Left: ExprVariable{"_"}, Right: ExprNatural{1}}, Expr: ExprString{"one"}},
		{Pred: ExprBinOp{Op: OpEq, Left: ExprVariable{"_"}, Right: ExprNatural{2}}, Expr: ExprString{"two"}},
	}}
	if got := evalString(t, cx, expr); got != `"two"` {
		t.Fatalf("case = %s; want \"two\"", got)
	}

	fallthroughExpr := ExprCase{Branches: []CaseBranch{
		{Pred: ExprBool{false}, Expr: ExprString{"never"}},
	}}
	_, err := Eval(cx, fallthroughExpr)
	if err == nil || !strings.Contains(err.Error(), "no case matched") {
		t.Fatalf("expected no-case-matched error, got %v", err)
	}
}

func TestEvalIsDefined(t *testing.T) {
	cx := NewContext()
	cx.Bind("x", Natural(1))

	v, err := Eval(cx, ExprFuncCall{Name: "IsDefined", Args: []SimpleExpr{ExprVariable{"x"}}})
	if err != nil || v.Bool != true {
		t.Fatalf("IsDefined(x) = %v, %v; want true", v, err)
	}
	v, err = Eval(cx, ExprFuncCall{Name: "IsDefined", Args: []SimpleExpr{ExprVariable{"y"}}})
	if err != nil || v.Bool != false {
		t.Fatalf("IsDefined(y) = %v, %v; want false", v, err)
	}
}

func TestEvalComparisons(t *testing.T) {
	cx := NewContext()
	v, err := Eval(cx, ExprBinOp{Op: OpAnd,
		Left:  ExprBinOp{Op: OpEq, Left: ExprNull{}, Right: ExprNull{}},
		Right: ExprBinOp{Op: OpGe, Left: ExprNull{}, Right: ExprNull{}},
	})
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if b, _ := v.AsBool(); !b {
		t.Fatal("NULL = NULL ∧ NULL ≥ NULL should be true")
	}

	_, err = Eval(cx, ExprBinOp{Op: OpLt, Left: ExprNull{}, Right: ExprNatural{1}})
	if err == nil || !strings.Contains(err.Error(), "cannot compare") {
		t.Fatalf("expected cannot-compare error, got %v", err)
	}
}
