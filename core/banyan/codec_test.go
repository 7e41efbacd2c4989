package banyan

import "testing"

func TestSnapshotRoundTrip(t *testing.T) {
	shape := Shape{MaxLeafSize: 3, MaxBranchFactor: 2, MaxDepth: 8}
	root, err := ExtendUnpacked(nil, shape, entriesRange(7, "a", "b"))
	if err != nil {
		t.Fatalf("ExtendUnpacked: %v", err)
	}
	packed, err := Pack(root, shape)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	data, err := EncodeSnapshot(packed, shape)
	if err != nil {
		t.Fatalf("EncodeSnapshot: %v", err)
	}
	decoded, decodedShape, err := DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}
	if decodedShape != shape {
		t.Fatalf("decoded shape = %+v; want %+v", decodedShape, shape)
	}

	want := Events(packed)
	got := Events(decoded)
	if len(want) != len(got) {
		t.Fatalf("decoded %d events; want %d", len(got), len(want))
	}
	for i := range want {
		if want[i].Key != got[i].Key {
			t.Fatalf("event %d key mismatch: got %+v want %+v", i, got[i].Key, want[i].Key)
		}
		if !want[i].Meta.Tags.Equal(got[i].Meta.Tags) {
			t.Fatalf("event %d tags mismatch: got %v want %v", i, got[i].Meta.Tags, want[i].Meta.Tags)
		}
	}
}

func TestSnapshotRoundTripEmptyTree(t *testing.T) {
	data, err := EncodeSnapshot(nil, DefaultShape)
	if err != nil {
		t.Fatalf("EncodeSnapshot(nil): %v", err)
	}
	decoded, _, err := DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}
	if decoded != nil {
		t.Fatal("decoding an empty snapshot must yield a nil root")
	}
}
