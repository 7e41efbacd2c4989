package query

import "fmt"

// aggregator accumulates one AggrFunc's running state across every input an
// Aggregate stage sees before flush.
type aggregator interface {
	update(v Value) error
	flush() (Value, error)
}

func newAggregator(fn AggrFunc) (aggregator, error) {
	switch fn {
	case AggrSum:
		return &sumAgg{}, nil
	case AggrCount:
		return &countAgg{}, nil
	case AggrMin:
		return &extremeAgg{wantMax: false}, nil
	case AggrMax:
		return &extremeAgg{wantMax: true}, nil
	case AggrFirst:
		return &firstAgg{}, nil
	case AggrLast:
		return &lastAgg{}, nil
	default:
		return nil, fmt.Errorf("undefined aggregation function '%s'", fn)
	}
}

type sumAgg struct {
	acc Value
	has bool
}

func (a *sumAgg) update(v Value) error {
	if !a.has {
		a.acc, a.has = v, true
		return nil
	}
	r, err := a.acc.Add(v)
	if err != nil {
		return err
	}
	a.acc = r
	return nil
}

func (a *sumAgg) flush() (Value, error) {
	if !a.has {
		return Natural(0), nil
	}
	return a.acc, nil
}

type countAgg struct{ n uint64 }

func (a *countAgg) update(Value) error    { a.n++; return nil }
func (a *countAgg) flush() (Value, error) { return Natural(a.n), nil }

type extremeAgg struct {
	acc     Value
	has     bool
	wantMax bool
}

func (a *extremeAgg) update(v Value) error {
	if !a.has {
		a.acc, a.has = v, true
		return nil
	}
	c, err := compare(v, a.acc)
	if err != nil {
		return err
	}
	if (a.wantMax && c > 0) || (!a.wantMax && c < 0) {
		a.acc = v
	}
	return nil
}

func (a *extremeAgg) flush() (Value, error) {
	if !a.has {
		return Value{}, fmt.Errorf("no values to aggregate")
	}
	return a.acc, nil
}

type firstAgg struct {
	v   Value
	has bool
}

func (a *firstAgg) update(v Value) error {
	if !a.has {
		a.v, a.has = v, true
	}
	return nil
}

func (a *firstAgg) flush() (Value, error) {
	if !a.has {
		return Value{}, fmt.Errorf("no values to aggregate")
	}
	return a.v, nil
}

type lastAgg struct {
	v   Value
	has bool
}

func (a *lastAgg) update(v Value) error { a.v, a.has = v, true; return nil }
func (a *lastAgg) flush() (Value, error) {
	if !a.has {
		return Value{}, fmt.Errorf("no values to aggregate")
	}
	return a.v, nil
}

// AggrState holds one accumulator per distinct ExprAggrOp.ID found in an
// Aggregate stage's expression.
type AggrState struct {
	entries map[int]aggregator
	funcs   map[int]AggrFunc
}

func newAggrState() *AggrState {
	return &AggrState{entries: map[int]aggregator{}, funcs: map[int]AggrFunc{}}
}

// observe walks expr, updating every ExprAggrOp accumulator it finds using
// the given context (with "_" already bound to the current input).
func (s *AggrState) observe(cx *Context, expr SimpleExpr) error {
	switch e := expr.(type) {
	case ExprAggrOp:
		v, err := Eval(cx, e.Inner)
		if err != nil {
			return nil // a value this AggrOp can't read from this input is simply skipped
		}
		agg, ok := s.entries[e.ID]
		if !ok {
			var err error
			agg, err = newAggregator(e.Func)
			if err != nil {
				return err
			}
			s.entries[e.ID] = agg
			s.funcs[e.ID] = e.Func
		}
		return agg.update(v)
	case ExprIndex:
		if err := s.observe(cx, e.Head); err != nil {
			return err
		}
		for _, step := range e.Tail {
			if step.Kind == IndexExpr {
				if err := s.observe(cx, step.Expr); err != nil {
					return err
				}
			}
		}
		return nil
	case ExprArray:
		for _, item := range e.Items {
			if err := s.observe(cx, item); err != nil {
				return err
			}
		}
		return nil
	case ExprObject:
		for _, p := range e.Props {
			if p.KeyExpr != nil {
				if err := s.observe(cx, p.KeyExpr); err != nil {
					return err
				}
			}
			if err := s.observe(cx, p.Value); err != nil {
				return err
			}
		}
		return nil
	case ExprBinOp:
		if err := s.observe(cx, e.Left); err != nil {
			return err
		}
		return s.observe(cx, e.Right)
	case ExprNot:
		return s.observe(cx, e.Inner)
	case ExprCase:
		for _, branch := range e.Branches {
			if err := s.observe(cx, branch.Pred); err != nil {
				return err
			}
			if err := s.observe(cx, branch.Expr); err != nil {
				return err
			}
		}
		return nil
	case ExprFuncCall:
		for _, arg := range e.Args {
			if err := s.observe(cx, arg); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}

// flush evaluates one ExprAggrOp against its accumulated state; called only
// from Eval while the Aggregate stage's expression is being flushed.
func (s *AggrState) flush(cx *Context, e ExprAggrOp) (Value, error) {
	agg, ok := s.entries[e.ID]
	if !ok {
		return Value{}, fmt.Errorf("no aggregation result for %s", e.Func)
	}
	return agg.flush()
}
