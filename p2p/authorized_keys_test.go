package p2p

import (
	"errors"
	"testing"

	"banyanswarm/core"
)

func nodeId(b byte) core.NodeId {
	var id core.NodeId
	id[0] = b
	return id
}

func TestAuthorizeFirstPeerWins(t *testing.T) {
	ak, err := NewAuthorizedKeys(NewInMemoryKeyStore())
	if err != nil {
		t.Fatalf("NewAuthorizedKeys: %v", err)
	}
	a, b := nodeId(1), nodeId(2)

	granted, first, err := ak.Authorize(a)
	if err != nil || !granted || !first {
		t.Fatalf("first peer: granted=%v first=%v err=%v", granted, first, err)
	}

	granted, first, err = ak.Authorize(a)
	if err != nil || !granted || first {
		t.Fatalf("repeat authorize of member: granted=%v first=%v err=%v", granted, first, err)
	}

	granted, first, err = ak.Authorize(b)
	if granted || first || !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("second distinct peer should be rejected: granted=%v first=%v err=%v", granted, first, err)
	}

	if !ak.Contains(a) || ak.Contains(b) {
		t.Fatalf("Contains mismatch: a=%v b=%v", ak.Contains(a), ak.Contains(b))
	}
}

func TestAuthorizedKeysSurviveReload(t *testing.T) {
	store := NewInMemoryKeyStore()
	ak, err := NewAuthorizedKeys(store)
	if err != nil {
		t.Fatalf("NewAuthorizedKeys: %v", err)
	}
	a := nodeId(7)
	if _, _, err := ak.Authorize(a); err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	reloaded, err := NewAuthorizedKeys(store)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reloaded.Contains(a) {
		t.Fatalf("reloaded AuthorizedKeys lost peer %v", a)
	}
	if len(reloaded.List()) != 1 {
		t.Fatalf("expected exactly one authorized peer after reload, got %d", len(reloaded.List()))
	}
}
