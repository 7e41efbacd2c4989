package p2p

import "sync"

// Settings is the small key/value configuration surface the admin
// protocol's SettingsGet/Set/Unset/Schema/Scopes requests operate on
// (spec §4.K). This module has no persistent implementation: the node and
// the tests use InMemorySettings, which keeps nothing across restarts.
type Settings interface {
	Get(scope string) ([]byte, bool, error)
	Set(scope string, value []byte) error
	Unset(scope string) error
	Schema(scope string) ([]byte, error)
	Scopes() ([]string, error)
}

// InMemorySettings is the default Settings until a real store is wired in.
type InMemorySettings struct {
	mu     sync.Mutex
	values map[string][]byte
}

func NewInMemorySettings() *InMemorySettings {
	return &InMemorySettings{values: make(map[string][]byte)}
}

func (s *InMemorySettings) Get(scope string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[scope]
	return v, ok, nil
}

func (s *InMemorySettings) Set(scope string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[scope] = append([]byte(nil), value...)
	return nil
}

func (s *InMemorySettings) Unset(scope string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, scope)
	return nil
}

// Schema has no schema registry behind it yet; every scope reports an
// empty (permissive) schema.
func (s *InMemorySettings) Schema(scope string) ([]byte, error) {
	return []byte("{}"), nil
}

func (s *InMemorySettings) Scopes() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.values))
	for k := range s.values {
		out = append(out, k)
	}
	return out, nil
}
