// Package query implements the event query language (spec §4.I): an
// expression evaluator operating over decoded event payloads, and a small
// pipeline of stage processors (Filter/Select/Aggregate/Limit/Binding)
// composed by a Feeder.
package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/fxamacker/cbor/v2"
)

// Kind discriminates the shape of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// Number keeps Natural and Decimal distinct, mirroring the language's
// Nat/Dec split: Natural+Natural arithmetic is checked, Decimal arithmetic is
// plain IEEE-754 double.
type Number struct {
	IsNatural bool
	Natural   uint64
	Decimal   float64
}

func (n Number) float() float64 {
	if n.IsNatural {
		return float64(n.Natural)
	}
	return n.Decimal
}

func (n Number) String() string {
	if n.IsNatural {
		return fmt.Sprintf("%d", n.Natural)
	}
	return fmt.Sprintf("%g", n.Decimal)
}

// Value is the runtime value type the evaluator operates on: the decoded
// shape of an event payload, a literal, or an intermediate expression result.
type Value struct {
	Kind Kind
	Bool bool
	Num  Number
	Str  string
	Arr  []Value
	Obj  map[string]Value
}

func Null() Value                { return Value{Kind: KindNull} }
func Bool(b bool) Value          { return Value{Kind: KindBool, Bool: b} }
func Natural(n uint64) Value     { return Value{Kind: KindNumber, Num: Number{IsNatural: true, Natural: n}} }
func Decimal(f float64) Value    { return Value{Kind: KindNumber, Num: Number{Decimal: f}} }
func String(s string) Value      { return Value{Kind: KindString, Str: s} }
func Array(items []Value) Value  { return Value{Kind: KindArray, Arr: items} }
func Object(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{Kind: KindObject, Obj: m}
}

// String renders v the way the evaluator's test fixtures compare results:
// JSON-like, objects with sorted keys for determinism.
func (v Value) String() string {
	var buf bytes.Buffer
	v.write(&buf)
	return buf.String()
}

func (v Value) write(buf *bytes.Buffer) {
	switch v.Kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		if v.Bool {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case KindNumber:
		buf.WriteString(v.Num.String())
	case KindString:
		fmt.Fprintf(buf, "%q", v.Str)
	case KindArray:
		buf.WriteByte('[')
		for i, item := range v.Arr {
			if i > 0 {
				buf.WriteString(", ")
			}
			item.write(buf)
		}
		buf.WriteByte(']')
	case KindObject:
		keys := make([]string, 0, len(v.Obj))
		for k := range v.Obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteString(", ")
			}
			fmt.Fprintf(buf, "%q: ", k)
			v.Obj[k].write(buf)
		}
		buf.WriteByte('}')
	}
}

// AsBool requires v to be a Bool, matching the evaluator's "X is not a bool"
// failure mode used by the logical operators and Filter.
func (v Value) AsBool() (bool, error) {
	if v.Kind != KindBool {
		return false, fmt.Errorf("%s is not a bool", v)
	}
	return v.Bool, nil
}

// Index applies one path step: string/number field access into an Object,
// or numeric element access into an Array.
func (v Value) Index(key Value) (Value, error) {
	switch key.Kind {
	case KindString:
		return v.indexString(key.Str)
	case KindNumber:
		if v.Kind == KindArray {
			i := int(key.Num.float())
			if i < 0 || i >= len(v.Arr) {
				return Value{}, fmt.Errorf("index %s out of bounds in value %s", key, v)
			}
			return v.Arr[i], nil
		}
		return v.indexString(key.Num.String())
	default:
		return Value{}, fmt.Errorf("cannot index by %s", key)
	}
}

func (v Value) indexString(field string) (Value, error) {
	if v.Kind != KindObject {
		return Value{}, fmt.Errorf("path .%s does not exist in value %s", field, v)
	}
	item, ok := v.Obj[field]
	if !ok {
		return Value{}, fmt.Errorf("path .%s does not exist in value %s", field, v)
	}
	return item, nil
}

// compare orders a against b; an error means the two values are not
// comparable (spec: "cannot compare").
func compare(a, b Value) (int, error) {
	if a.Kind != b.Kind {
		return 0, fmt.Errorf("cannot compare %s and %s", a, b)
	}
	switch a.Kind {
	case KindNull:
		return 0, nil
	case KindBool:
		switch {
		case a.Bool == b.Bool:
			return 0, nil
		case !a.Bool && b.Bool:
			return -1, nil
		default:
			return 1, nil
		}
	case KindNumber:
		if a.Num.IsNatural && b.Num.IsNatural {
			switch {
			case a.Num.Natural == b.Num.Natural:
				return 0, nil
			case a.Num.Natural < b.Num.Natural:
				return -1, nil
			default:
				return 1, nil
			}
		}
		af, bf := a.Num.float(), b.Num.float()
		switch {
		case af == bf:
			return 0, nil
		case af < bf:
			return -1, nil
		default:
			return 1, nil
		}
	case KindString:
		switch {
		case a.Str == b.Str:
			return 0, nil
		case a.Str < b.Str:
			return -1, nil
		default:
			return 1, nil
		}
	default:
		return 0, fmt.Errorf("cannot compare %s and %s", a, b)
	}
}

// deepEqual reports whether a and b compare equal, extending compare to the
// composite Kinds (arrays, objects); used only by the Eq/Ne operators.
func deepEqual(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindArray:
		if len(a.Arr) != len(b.Arr) {
			return false
		}
		for i := range a.Arr {
			if !deepEqual(a.Arr[i], b.Arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(a.Obj) != len(b.Obj) {
			return false
		}
		for k, v := range a.Obj {
			ov, ok := b.Obj[k]
			if !ok || !deepEqual(v, ov) {
				return false
			}
		}
		return true
	default:
		c, err := compare(a, b)
		return err == nil && c == 0
	}
}

func arith(a, b Value, op func(x, y float64) float64, naturalOp func(x, y uint64) (uint64, bool), name string) (Value, error) {
	if a.Kind != KindNumber {
		return Value{}, fmt.Errorf("%s is not a number", a)
	}
	if b.Kind != KindNumber {
		return Value{}, fmt.Errorf("%s is not a number", b)
	}
	if naturalOp != nil && a.Num.IsNatural && b.Num.IsNatural {
		r, ok := naturalOp(a.Num.Natural, b.Num.Natural)
		if !ok {
			return Value{}, fmt.Errorf("integer overflow in %s", name)
		}
		return Natural(r), nil
	}
	r := op(a.Num.float(), b.Num.float())
	if math.IsNaN(r) {
		return Value{}, fmt.Errorf("not a number")
	}
	if math.IsInf(r, 0) {
		return Value{}, fmt.Errorf("floating-point overflow")
	}
	return Decimal(r), nil
}

func (a Value) Add(b Value) (Value, error) {
	return arith(a, b, func(x, y float64) float64 { return x + y }, func(x, y uint64) (uint64, bool) {
		r := x + y
		if r < x {
			return 0, false
		}
		return r, true
	}, "addition")
}

func (a Value) Sub(b Value) (Value, error) {
	return arith(a, b, func(x, y float64) float64 { return x - y }, func(x, y uint64) (uint64, bool) {
		if y > x {
			return 0, false
		}
		return x - y, true
	}, "subtraction")
}

func (a Value) Mul(b Value) (Value, error) {
	return arith(a, b, func(x, y float64) float64 { return x * y }, func(x, y uint64) (uint64, bool) {
		if x == 0 || y == 0 {
			return 0, true
		}
		r := x * y
		if r/y != x {
			return 0, false
		}
		return r, true
	}, "multiplication")
}

func (a Value) Div(b Value) (Value, error) {
	if a.Kind == KindNumber && b.Kind == KindNumber && a.Num.IsNatural && b.Num.IsNatural {
		if b.Num.Natural == 0 {
			return Value{}, fmt.Errorf("division by zero")
		}
		return Natural(a.Num.Natural / b.Num.Natural), nil
	}
	return arith(a, b, func(x, y float64) float64 { return x / y }, nil, "division")
}

func (a Value) Mod(b Value) (Value, error) {
	if a.Kind == KindNumber && b.Kind == KindNumber && a.Num.IsNatural && b.Num.IsNatural {
		if b.Num.Natural == 0 {
			return Value{}, fmt.Errorf("division by zero")
		}
		return Natural(a.Num.Natural % b.Num.Natural), nil
	}
	return arith(a, b, func(x, y float64) float64 { return math.Mod(x, y) }, nil, "modulo")
}

func (a Value) Pow(b Value) (Value, error) {
	return arith(a, b, func(x, y float64) float64 { return math.Pow(x, y) }, func(x, y uint64) (uint64, bool) {
		if y > 63 {
			return 0, false
		}
		r := uint64(1)
		for i := uint64(0); i < y; i++ {
			next := r * x
			if x != 0 && next/x != r {
				return 0, false
			}
			r = next
		}
		return r, true
	}, "exponentiation")
}

// DecodePayload converts a raw CBOR-encoded event payload into a Value, the
// representation that SimpleExpr evaluation binds to "_".
func DecodePayload(payload []byte) (Value, error) {
	if len(payload) == 0 {
		return Null(), nil
	}
	var raw interface{}
	if err := cbor.Unmarshal(payload, &raw); err != nil {
		return Value{}, fmt.Errorf("query: decoding payload: %w", err)
	}
	return fromAny(raw), nil
}

func fromAny(raw interface{}) Value {
	switch t := raw.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case uint64:
		return Natural(t)
	case int64:
		if t >= 0 {
			return Natural(uint64(t))
		}
		return Decimal(float64(t))
	case float64:
		return Decimal(t)
	case string:
		return String(t)
	case []byte:
		return String(string(t))
	case []interface{}:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = fromAny(item)
		}
		return Array(items)
	case map[interface{}]interface{}:
		obj := make(map[string]Value, len(t))
		for k, v := range t {
			obj[fmt.Sprintf("%v", k)] = fromAny(v)
		}
		return Object(obj)
	default:
		return Null()
	}
}

// MarshalJSON lets a Value be returned directly from the HTTP/ndjson surface.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		if v.Bool {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case KindNumber:
		if v.Num.IsNatural {
			return []byte(fmt.Sprintf("%d", v.Num.Natural)), nil
		}
		return []byte(fmt.Sprintf("%g", v.Num.Decimal)), nil
	case KindString:
		return json.Marshal(v.Str)
	case KindArray:
		return json.Marshal(v.Arr)
	case KindObject:
		return json.Marshal(v.Obj)
	default:
		return []byte("null"), nil
	}
}
