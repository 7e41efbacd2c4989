package p2p

import (
	"errors"
	"sync"

	"banyanswarm/core"
)

// ErrUnauthorized is returned by Authorize for any peer that is neither
// already a member nor the very first peer to ever authenticate (spec
// §4.K "Authorization").
var ErrUnauthorized = errors.New("p2p: peer not authorized")

// KeyStore is the persistence a set of AuthorizedKeys is backed by. It is
// intentionally a small Has/Set/Delete/Keys shape, so that once a real
// settings store exists it can implement KeyStore directly; until then
// NewInMemoryKeyStore is used.
type KeyStore interface {
	Has(key []byte) (bool, error)
	Set(key []byte, value []byte) error
	Delete(key []byte) error
	Keys(prefix []byte) ([][]byte, error)
}

// InMemoryKeyStore is a KeyStore with no persistence across restarts, the
// default until a real settings store is wired in.
type InMemoryKeyStore struct {
	mu    sync.Mutex
	state map[string][]byte
}

func NewInMemoryKeyStore() *InMemoryKeyStore {
	return &InMemoryKeyStore{state: make(map[string][]byte)}
}

func (s *InMemoryKeyStore) Has(key []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.state[string(key)]
	return ok, nil
}

func (s *InMemoryKeyStore) Set(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[string(key)] = append([]byte(nil), value...)
	return nil
}

func (s *InMemoryKeyStore) Delete(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state, string(key))
	return nil
}

func (s *InMemoryKeyStore) Keys(prefix []byte) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out [][]byte
	for k := range s.state {
		if len(k) >= len(prefix) && k[:len(prefix)] == string(prefix) {
			out = append(out, []byte(k))
		}
	}
	return out, nil
}

const authorizedKeyPrefix = "authorized_keys:"

// AuthorizedKeys is the node's set of peers allowed to use the admin/
// events/bulk protocols (spec §4.K): an in-memory cache in front of a
// persistent KeyStore, guarded by one mutex, keyed by core.NodeId.
type AuthorizedKeys struct {
	mu    sync.Mutex
	store KeyStore
	cache map[core.NodeId]struct{}
}

// NewAuthorizedKeys wires the set atop store, loading any keys already
// persisted there.
func NewAuthorizedKeys(store KeyStore) (*AuthorizedKeys, error) {
	ak := &AuthorizedKeys{store: store, cache: make(map[core.NodeId]struct{})}
	keys, err := store.Keys([]byte(authorizedKeyPrefix))
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		id, err := core.ParseNodeId(string(k[len(authorizedKeyPrefix):]))
		if err != nil {
			continue
		}
		ak.cache[id] = struct{}{}
	}
	return ak, nil
}

func (ak *AuthorizedKeys) key(id core.NodeId) []byte {
	return []byte(authorizedKeyPrefix + id.String())
}

// Authorize checks peer against the authorized set. If the set is empty,
// peer is transactionally added and becomes the sole authorized peer
// (granted=true, firstPeer=true — the caller must follow up with the
// settings write spec §4.K requires). If peer is already a member,
// granted=true, firstPeer=false. Otherwise ErrUnauthorized.
func (ak *AuthorizedKeys) Authorize(peer core.NodeId) (granted bool, firstPeer bool, err error) {
	ak.mu.Lock()
	defer ak.mu.Unlock()

	if _, ok := ak.cache[peer]; ok {
		return true, false, nil
	}
	if len(ak.cache) > 0 {
		return false, false, ErrUnauthorized
	}
	if err := ak.store.Set(ak.key(peer), []byte{1}); err != nil {
		return false, false, err
	}
	ak.cache[peer] = struct{}{}
	return true, true, nil
}

// Contains reports whether peer is currently authorized, without mutating
// the set.
func (ak *AuthorizedKeys) Contains(peer core.NodeId) bool {
	ak.mu.Lock()
	defer ak.mu.Unlock()
	_, ok := ak.cache[peer]
	return ok
}

// List returns every currently authorized peer.
func (ak *AuthorizedKeys) List() []core.NodeId {
	ak.mu.Lock()
	defer ak.mu.Unlock()
	out := make([]core.NodeId, 0, len(ak.cache))
	for id := range ak.cache {
		out = append(out, id)
	}
	return out
}
