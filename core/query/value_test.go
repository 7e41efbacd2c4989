package query

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
)

func TestValueArithmeticNaturalOverflow(t *testing.T) {
	max := Natural(^uint64(0))
	if _, err := max.Add(Natural(1)); err == nil {
		t.Fatal("expected overflow error")
	}
	if _, err := Natural(3).Sub(Natural(5)); err == nil {
		t.Fatal("expected underflow error")
	}
}

func TestValueDecimalOverflowAndNaN(t *testing.T) {
	huge := Decimal(1.7e308)
	if _, err := huge.Mul(Decimal(10)); err == nil {
		t.Fatal("expected floating-point overflow error")
	}
	zero := Decimal(0)
	if _, err := zero.Div(zero); err == nil {
		t.Fatal("expected not-a-number error")
	}
}

func TestValueComparisonAcrossKinds(t *testing.T) {
	if _, err := compare(Null(), Natural(1)); err == nil {
		t.Fatal("expected cannot-compare error across kinds")
	}
	c, err := compare(Natural(3), Decimal(3.0))
	if err != nil || c != 0 {
		t.Fatalf("compare(3, 3.0) = %d, %v; want 0, nil", c, err)
	}
}

func TestValueIndexing(t *testing.T) {
	obj := Object(map[string]Value{"a": Natural(1)})
	v, err := obj.Index(String("a"))
	if err != nil || v.String() != "1" {
		t.Fatalf("obj[a] = %v, %v", v, err)
	}
	if _, err := obj.Index(String("missing")); err == nil {
		t.Fatal("expected missing-path error")
	}

	arr := Array([]Value{Natural(10), Natural(20)})
	v, err = arr.Index(Natural(1))
	if err != nil || v.String() != "20" {
		t.Fatalf("arr[1] = %v, %v", v, err)
	}
	if _, err := arr.Index(Natural(5)); err == nil {
		t.Fatal("expected out-of-bounds error")
	}
}

func TestDecodePayloadRoundTrip(t *testing.T) {
	raw, err := cbor.Marshal(map[string]interface{}{"a": uint64(1), "b": "two"})
	if err != nil {
		t.Fatalf("cbor.Marshal: %v", err)
	}
	v, err := DecodePayload(raw)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if v.Kind != KindObject {
		t.Fatalf("kind = %v; want object", v.Kind)
	}
	a, err := v.Index(String("a"))
	if err != nil || a.String() != "1" {
		t.Fatalf("a = %v, %v", a, err)
	}
}

func TestDecodePayloadEmpty(t *testing.T) {
	v, err := DecodePayload(nil)
	if err != nil || v.Kind != KindNull {
		t.Fatalf("DecodePayload(nil) = %v, %v; want null", v, err)
	}
}
