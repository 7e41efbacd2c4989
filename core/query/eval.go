package query

import "fmt"

// Context carries what SimpleExpr evaluation reads: a chain of lexical
// bindings and, only while an Aggregate stage's expression is being
// flushed, that stage's accumulator state. It does not carry the current
// event's sort key.
type Context struct {
	bindings    map[string]Value
	parent      *Context
	aggregation *AggrState
}

// NewContext starts a root context with no bindings.
func NewContext() *Context {
	return &Context{bindings: map[string]Value{}}
}

// Child opens a lexical scope nested under cx: lookups that miss locally
// continue to the parent, exactly as one pipeline stage's context nests
// under the previous stage's.
func (cx *Context) Child() *Context {
	return &Context{bindings: map[string]Value{}, parent: cx}
}

func (cx *Context) Bind(name string, v Value) {
	cx.bindings[name] = v
}

func (cx *Context) lookup(name string) (Value, bool) {
	if v, ok := cx.bindings[name]; ok {
		return v, true
	}
	if cx.parent != nil {
		return cx.parent.lookup(name)
	}
	return Value{}, false
}

// bindAggregation attaches state, used only by the Aggregate processor
// while flushing its expression.
func (cx *Context) bindAggregation(state *AggrState) {
	cx.aggregation = state
}

// Eval evaluates expr in cx. Evaluation never suspends (unlike the
// sub-query-aware original): every SimpleExpr here is a pure function of
// its bindings.
func Eval(cx *Context, expr SimpleExpr) (Value, error) {
	switch e := expr.(type) {
	case ExprNull:
		return Null(), nil
	case ExprBool:
		return Bool(e.Value), nil
	case ExprNatural:
		return Natural(e.Value), nil
	case ExprDecimal:
		return Decimal(e.Value), nil
	case ExprString:
		return String(e.Value), nil
	case ExprVariable:
		v, ok := cx.lookup(e.Name)
		if !ok {
			return Value{}, fmt.Errorf("variable '%s' is not bound", e.Name)
		}
		return v, nil
	case ExprIndex:
		v, err := Eval(cx, e.Head)
		if err != nil {
			return Value{}, err
		}
		for _, step := range e.Tail {
			var key Value
			switch step.Kind {
			case IndexString:
				key = String(step.Str)
			case IndexNumber:
				key = Natural(uint64(step.Num))
			case IndexExpr:
				k, err := Eval(cx, step.Expr)
				if err != nil {
					return Value{}, err
				}
				if k.Kind != KindString && k.Kind != KindNumber {
					return Value{}, fmt.Errorf("cannot index by %s", k)
				}
				key = k
			}
			v, err = v.Index(key)
			if err != nil {
				return Value{}, err
			}
		}
		return v, nil
	case ExprArray:
		items := make([]Value, len(e.Items))
		for i, item := range e.Items {
			v, err := Eval(cx, item)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return Array(items), nil
	case ExprObject:
		obj := make(map[string]Value, len(e.Props))
		for _, p := range e.Props {
			key := p.StaticKey
			if p.KeyExpr != nil {
				k, err := Eval(cx, p.KeyExpr)
				if err != nil {
					return Value{}, err
				}
				switch k.Kind {
				case KindString:
					key = k.Str
				case KindNumber:
					key = k.Num.String()
				default:
					return Value{}, fmt.Errorf("object key %s is not a string or number", k)
				}
			}
			v, err := Eval(cx, p.Value)
			if err != nil {
				return Value{}, err
			}
			obj[key] = v
		}
		return Object(obj), nil
	case ExprNot:
		v, err := Eval(cx, e.Inner)
		if err != nil {
			return Value{}, err
		}
		b, err := v.AsBool()
		if err != nil {
			return Value{}, err
		}
		return Bool(!b), nil
	case ExprCase:
		for _, branch := range e.Branches {
			pv, err := Eval(cx, branch.Pred)
			if err != nil {
				continue
			}
			if b, err := pv.AsBool(); err == nil && b {
				return Eval(cx, branch.Expr)
			}
		}
		return Value{}, fmt.Errorf("no case matched")
	case ExprFuncCall:
		return evalFuncCall(cx, e)
	case ExprAggrOp:
		if cx.aggregation == nil {
			return Value{}, fmt.Errorf("no aggregation state")
		}
		return cx.aggregation.flush(cx, e)
	case ExprBinOp:
		return evalBinOp(cx, e)
	default:
		return Value{}, fmt.Errorf("unknown expression type %T", expr)
	}
}

func evalFuncCall(cx *Context, e ExprFuncCall) (Value, error) {
	switch e.Name {
	case "IsDefined":
		if len(e.Args) != 1 {
			return Value{}, fmt.Errorf("wrong number of arguments: 'IsDefined' takes 1 argument but %d were provided", len(e.Args))
		}
		_, err := Eval(cx, e.Args[0])
		return Bool(err == nil), nil
	default:
		return Value{}, fmt.Errorf("undefined function '%s'", e.Name)
	}
}

func evalBinOp(cx *Context, e ExprBinOp) (Value, error) {
	switch e.Op {
	case OpAlt:
		// "a // b": only a failed evaluation of a falls through to b; a
		// value-level type mismatch from a is not itself caught here,
		// since it would only surface once a is actually evaluated.
		v, err := Eval(cx, e.Left)
		if err == nil {
			return v, nil
		}
		return Eval(cx, e.Right)
	case OpAnd:
		l, err := Eval(cx, e.Left)
		if err != nil {
			return Value{}, err
		}
		lb, err := l.AsBool()
		if err != nil {
			return Value{}, err
		}
		if !lb {
			return Bool(false), nil
		}
		r, err := Eval(cx, e.Right)
		if err != nil {
			return Value{}, err
		}
		rb, err := r.AsBool()
		if err != nil {
			return Value{}, err
		}
		return Bool(rb), nil
	case OpOr:
		l, err := Eval(cx, e.Left)
		if err != nil {
			return Value{}, err
		}
		lb, err := l.AsBool()
		if err != nil {
			return Value{}, err
		}
		if lb {
			return Bool(true), nil
		}
		r, err := Eval(cx, e.Right)
		if err != nil {
			return Value{}, err
		}
		rb, err := r.AsBool()
		if err != nil {
			return Value{}, err
		}
		return Bool(rb), nil
	}

	left, err := Eval(cx, e.Left)
	if err != nil {
		return Value{}, err
	}
	right, err := Eval(cx, e.Right)
	if err != nil {
		return Value{}, err
	}

	switch e.Op {
	case OpAdd:
		return left.Add(right)
	case OpSub:
		return left.Sub(right)
	case OpMul:
		return left.Mul(right)
	case OpDiv:
		return left.Div(right)
	case OpMod:
		return left.Mod(right)
	case OpPow:
		return left.Pow(right)
	case OpXor:
		lb, err := left.AsBool()
		if err != nil {
			return Value{}, err
		}
		rb, err := right.AsBool()
		if err != nil {
			return Value{}, err
		}
		return Bool(lb != rb), nil
	case OpLt, OpLe, OpGt, OpGe:
		c, err := compare(left, right)
		if err != nil {
			return Value{}, err
		}
		switch e.Op {
		case OpLt:
			return Bool(c < 0), nil
		case OpLe:
			return Bool(c <= 0), nil
		case OpGt:
			return Bool(c > 0), nil
		default:
			return Bool(c >= 0), nil
		}
	case OpEq:
		return Bool(deepEqual(left, right)), nil
	case OpNe:
		return Bool(!deepEqual(left, right)), nil
	default:
		return Value{}, fmt.Errorf("unknown operator %d", e.Op)
	}
}
