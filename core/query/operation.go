package query

// Result is one processor output: either a value or an evaluation error,
// mirroring the stage semantics of spec §4.I (an error does not cancel
// sibling outputs).
type Result struct {
	Value Value
	Err   error
}

// Processor is a compiled pipeline stage.
type Processor interface {
	// Apply handles one input value, already bound to "_" in cx.
	Apply(cx *Context, v Value) []Result
	// Flush runs at end-of-stream; most stages return nothing here.
	Flush(cx *Context) []Result
}

// Operation is one query stage, in its uncompiled form.
type Operation interface {
	compile() Processor
}

// OpFilter forwards inputs for which Pred evaluates to true; errors and
// non-bool results drop the input silently.
type OpFilter struct{ Pred SimpleExpr }

// OpSelect emits one output per expression in Exprs for every input.
type OpSelect struct{ Exprs []SimpleExpr }

// OpAggregate updates its accumulators on every input and emits Expr's
// value, with AggrOp nodes resolved against that state, exactly once on
// flush.
type OpAggregate struct{ Expr SimpleExpr }

// OpLimit forwards at most N inputs, then tells the feeder to stop by
// emitting no further output (modeled here by the processor going silent;
// Feed's caller is expected to stop once BoundedForward/BoundedBackward's
// underlying cursor is exhausted to at most N matches).
type OpLimit struct{ N uint64 }

// OpBinding augments the context with Name bound to Expr's value for
// downstream stages, and re-emits the (unmodified) input.
type OpBinding struct {
	Name string
	Expr SimpleExpr
}

func (o OpFilter) compile() Processor {
	return &filterProcessor{pred: o.Pred}
}

func (o OpSelect) compile() Processor {
	return &selectProcessor{exprs: o.Exprs}
}

// NewAggregate numbers every ExprAggrOp in expr in appearance order and
// returns a ready-to-compile OpAggregate.
func NewAggregate(expr SimpleExpr) OpAggregate {
	counter := 0
	return OpAggregate{Expr: numberAggrOps(expr, &counter)}
}

func (o OpAggregate) compile() Processor {
	return &aggregateProcessor{expr: o.Expr, state: newAggrState()}
}

func (o OpLimit) compile() Processor {
	return &limitProcessor{limit: o.N}
}

func (o OpBinding) compile() Processor {
	return &bindingProcessor{name: o.Name, expr: o.Expr}
}

type filterProcessor struct{ pred SimpleExpr }

func (p *filterProcessor) Apply(cx *Context, v Value) []Result {
	r, err := Eval(cx, p.pred)
	if err != nil {
		return nil
	}
	keep, err := r.AsBool()
	if err != nil || !keep {
		return nil
	}
	return []Result{{Value: v}}
}

func (p *filterProcessor) Flush(cx *Context) []Result { return nil }

type selectProcessor struct{ exprs []SimpleExpr }

func (p *selectProcessor) Apply(cx *Context, v Value) []Result {
	out := make([]Result, len(p.exprs))
	for i, e := range p.exprs {
		r, err := Eval(cx, e)
		out[i] = Result{Value: r, Err: err}
	}
	return out
}

func (p *selectProcessor) Flush(cx *Context) []Result { return nil }

type aggregateProcessor struct {
	expr  SimpleExpr
	state *AggrState
}

func (p *aggregateProcessor) Apply(cx *Context, v Value) []Result {
	_ = p.state.observe(cx, p.expr)
	return nil
}

func (p *aggregateProcessor) Flush(cx *Context) []Result {
	cx.bindAggregation(p.state)
	r, err := Eval(cx, p.expr)
	return []Result{{Value: r, Err: err}}
}

type limitProcessor struct {
	limit uint64
	seen  uint64
	// done is set once the limit has been reached, so that repeated Apply
	// calls after the feeder stops early are harmless no-ops.
	done bool
}

func (p *limitProcessor) Apply(cx *Context, v Value) []Result {
	if p.done || p.seen >= p.limit {
		p.done = true
		return nil
	}
	p.seen++
	return []Result{{Value: v}}
}

// Done reports whether the limit has been reached, so a Feeder caller can
// stop pulling further input.
func (p *limitProcessor) Done() bool { return p.done || p.seen >= p.limit }

func (p *limitProcessor) Flush(cx *Context) []Result { return nil }

type bindingProcessor struct {
	name string
	expr SimpleExpr
}

func (p *bindingProcessor) Apply(cx *Context, v Value) []Result {
	r, err := Eval(cx, p.expr)
	if err != nil {
		return []Result{{Err: err}}
	}
	cx.Bind(p.name, r)
	return []Result{{Value: v}}
}

func (p *bindingProcessor) Flush(cx *Context) []Result { return nil }

func numberAggrOps(expr SimpleExpr, counter *int) SimpleExpr {
	switch e := expr.(type) {
	case ExprAggrOp:
		id := *counter
		*counter++
		return ExprAggrOp{Func: e.Func, Inner: e.Inner, ID: id}
	case ExprIndex:
		tail := make([]Index, len(e.Tail))
		for i, step := range e.Tail {
			if step.Kind == IndexExpr {
				step.Expr = numberAggrOps(step.Expr, counter)
			}
			tail[i] = step
		}
		return ExprIndex{Head: numberAggrOps(e.Head, counter), Tail: tail}
	case ExprArray:
		items := make([]SimpleExpr, len(e.Items))
		for i, item := range e.Items {
			items[i] = numberAggrOps(item, counter)
		}
		return ExprArray{Items: items}
	case ExprObject:
		props := make([]ObjectProp, len(e.Props))
		for i, p := range e.Props {
			if p.KeyExpr != nil {
				p.KeyExpr = numberAggrOps(p.KeyExpr, counter)
			}
			p.Value = numberAggrOps(p.Value, counter)
			props[i] = p
		}
		return ExprObject{Props: props}
	case ExprBinOp:
		return ExprBinOp{Op: e.Op, Left: numberAggrOps(e.Left, counter), Right: numberAggrOps(e.Right, counter)}
	case ExprNot:
		return ExprNot{Inner: numberAggrOps(e.Inner, counter)}
	case ExprCase:
		branches := make([]CaseBranch, len(e.Branches))
		for i, b := range e.Branches {
			branches[i] = CaseBranch{Pred: numberAggrOps(b.Pred, counter), Expr: numberAggrOps(b.Expr, counter)}
		}
		return ExprCase{Branches: branches}
	case ExprFuncCall:
		args := make([]SimpleExpr, len(e.Args))
		for i, arg := range e.Args {
			args[i] = numberAggrOps(arg, counter)
		}
		return ExprFuncCall{Name: e.Name, Args: args}
	default:
		return expr
	}
}
