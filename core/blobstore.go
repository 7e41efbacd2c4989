package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
)

// Link is a content-addressed reference to a block, wrapping an IPFS-style
// CIDv1 over a raw-codec SHA2-256 multihash. Two Links are equal iff the
// blocks they reference are byte-identical.
type Link struct {
	c cid.Cid
}

// LinkOf computes the Link for a block's bytes without storing anything.
func LinkOf(block []byte) (Link, error) {
	sum, err := mh.Sum(block, mh.SHA2_256, -1)
	if err != nil {
		return Link{}, fmt.Errorf("core: hash block: %w", err)
	}
	return Link{c: cid.NewCidV1(cid.Raw, sum)}, nil
}

// String renders the Link's canonical textual form (lower-case base32 CIDv1).
func (l Link) String() string { return l.c.String() }

// IsZero reports whether l is the unset Link value.
func (l Link) IsZero() bool { return !l.c.Defined() }

// ParseLink decodes the textual form produced by String.
func ParseLink(s string) (Link, error) {
	c, err := cid.Decode(s)
	if err != nil {
		return Link{}, fmt.Errorf("%w: link %q: %v", ErrParse, s, err)
	}
	return Link{c: c}, nil
}

// SyncEventKind distinguishes the two shapes a SyncEvent can take.
type SyncEventKind int

const (
	// SyncProgress reports the set of blocks still missing.
	SyncProgress SyncEventKind = iota
	// SyncComplete reports that sync has finished, successfully or not.
	SyncComplete
)

// SyncEvent is one item of the stream Sync emits: either a progress report
// or a terminal completion (spec §4.C).
type SyncEvent struct {
	Kind    SyncEventKind
	Missing []Link // valid when Kind == SyncProgress
	Err     error  // valid when Kind == SyncComplete; nil means Ok
}

// Pin is an opaque handle returned by CreateTempPin. While held, it prevents
// garbage collection of every Link later attached to it via TempPin. A Pin
// is dropped, and its protection released, by calling Release.
type Pin struct {
	id uuid.UUID
}

// ErrNotFound is returned when a block or alias is absent.
var ErrNotFound = errors.New("core: not found")

// BlobStore is the content-addressed block store the core relies on as an
// external contract (spec §4.C). Implementations must guarantee: aliases
// are durable, atomic and immediately visible after Alias returns; temp
// pins prevent GC of reachable blocks until released; Sync delivers every
// block reachable from link before emitting SyncComplete.
type BlobStore interface {
	// Put stores block and returns its Link. Storing the same bytes twice
	// returns the same Link and is idempotent.
	Put(ctx context.Context, block []byte) (Link, error)

	// Get retrieves the block for link. Returns ErrNotFound if absent.
	Get(ctx context.Context, link Link) ([]byte, error)

	// Alias durably associates name with link. A nil link removes the
	// alias. The association is atomic and visible to Resolve as soon as
	// Alias returns.
	Alias(ctx context.Context, name []byte, link *Link) error

	// Resolve looks up the Link currently aliased to name. Returns
	// ErrNotFound if the alias is unset.
	Resolve(ctx context.Context, name []byte) (Link, error)

	// CreateTempPin allocates a new, initially empty Pin.
	CreateTempPin(ctx context.Context) (Pin, error)

	// TempPin extends pin to cover link (and everything link transitively
	// references), preventing its collection.
	TempPin(ctx context.Context, pin Pin, link Link) error

	// Release drops a Pin, allowing GC of anything it alone protected.
	Release(ctx context.Context, pin Pin) error

	// Sync ensures every block reachable from link is locally present,
	// fetching missing ones from peers. The returned channel is closed
	// after a SyncComplete event is sent.
	Sync(ctx context.Context, link Link, peers []NodeId) (<-chan SyncEvent, error)
}

// -----------------------------------------------------------------------
// localBlobStore: an on-disk implementation, bounded by MaxEntries with the
// oldest-written unpinned block evicted first (reads do not refresh a
// block's position), used by a single
// node when it is not delegating to a remote IPFS-compatible gateway.
// Grounded on core/storage.go's diskLRU cache, generalized from a
// pin-to-gateway cache into the store of record.
// -----------------------------------------------------------------------

// LocalBlobStoreConfig configures a localBlobStore.
type LocalBlobStoreConfig struct {
	// Dir is the directory blocks are written to, one file per Link.
	Dir string
	// MaxEntries bounds the number of blocks kept before the oldest
	// unpinned entry is evicted. Zero means unbounded.
	MaxEntries int
}

type blockEntry struct {
	path string
	size int64
	at   time.Time
}

// localBlobStore is a disk-backed BlobStore with an in-process alias table
// and reference-counted temp pins. It does not talk to peers; Sync only
// reports whether a link is already present locally, and no peer-backed
// BlobStore exists in this module.
type localBlobStore struct {
	mu         sync.Mutex
	dir        string
	maxEntries int
	blocks     map[string]*blockEntry // cid string -> entry
	order      []*blockEntry
	aliases    map[string]Link
	pins       map[uuid.UUID]map[string]struct{} // pin -> set of cid strings held
	log        *logrus.Logger
}

// NewLocalBlobStore wires a disk-backed BlobStore rooted at cfg.Dir.
func NewLocalBlobStore(cfg LocalBlobStoreConfig, log *logrus.Logger) (BlobStore, error) {
	if cfg.Dir == "" {
		return nil, errors.New("core: blob store dir must not be empty")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("core: create blob dir: %w", err)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &localBlobStore{
		dir:        cfg.Dir,
		maxEntries: cfg.MaxEntries,
		blocks:     make(map[string]*blockEntry),
		aliases:    make(map[string]Link),
		pins:       make(map[uuid.UUID]map[string]struct{}),
		log:        log,
	}
	log.WithField("dir", cfg.Dir).Info("blob store: opened")
	return s, nil
}

func (s *localBlobStore) Put(_ context.Context, block []byte) (Link, error) {
	link, err := LinkOf(block)
	if err != nil {
		return Link{}, err
	}
	key := link.String()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blocks[key]; ok {
		return link, nil
	}
	s.evictLocked()
	path := filepath.Join(s.dir, key)
	if err := os.WriteFile(path, block, 0o644); err != nil {
		zap.L().Sugar().Errorf("write block %s: %v", key, err)
		return Link{}, fmt.Errorf("core: write block %s: %w", key, err)
	}
	ent := &blockEntry{path: path, size: int64(len(block)), at: time.Now()}
	s.blocks[key] = ent
	s.order = append(s.order, ent)
	return link, nil
}

func (s *localBlobStore) evictLocked() {
	if s.maxEntries <= 0 {
		return
	}
	sugar := zap.L().Sugar()
	skipped := 0
	for len(s.blocks) >= s.maxEntries && len(s.order) > 0 && skipped < len(s.order) {
		oldest := s.order[0]
		key := filepath.Base(oldest.path)
		if s.isPinnedLocked(key) {
			// rotate to the back instead of evicting a pinned block; stop
			// once every remaining block has been seen pinned
			s.order = append(s.order[1:], oldest)
			skipped++
			continue
		}
		if err := os.Remove(oldest.path); err != nil && !os.IsNotExist(err) {
			sugar.Errorf("evict block %s: %v", key, err)
		}
		delete(s.blocks, key)
		s.order = s.order[1:]
		sugar.Infof("evicted block %s", key)
	}
}

func (s *localBlobStore) isPinnedLocked(key string) bool {
	for _, set := range s.pins {
		if _, ok := set[key]; ok {
			return true
		}
	}
	return false
}

func (s *localBlobStore) Get(_ context.Context, link Link) ([]byte, error) {
	key := link.String()
	s.mu.Lock()
	ent, ok := s.blocks[key]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(ent.path)
	if err != nil {
		return nil, fmt.Errorf("core: read block %s: %w", key, err)
	}
	return data, nil
}

func (s *localBlobStore) Alias(_ context.Context, name []byte, link *Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := string(name)
	if link == nil {
		delete(s.aliases, key)
		return nil
	}
	s.aliases[key] = *link
	return nil
}

func (s *localBlobStore) Resolve(_ context.Context, name []byte) (Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.aliases[string(name)]
	if !ok {
		return Link{}, ErrNotFound
	}
	return l, nil
}

func (s *localBlobStore) CreateTempPin(_ context.Context) (Pin, error) {
	p := Pin{id: uuid.New()}
	s.mu.Lock()
	s.pins[p.id] = make(map[string]struct{})
	s.mu.Unlock()
	return p, nil
}

func (s *localBlobStore) TempPin(_ context.Context, pin Pin, link Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.pins[pin.id]
	if !ok {
		return fmt.Errorf("core: unknown pin %s", pin.id)
	}
	set[link.String()] = struct{}{}
	return nil
}

func (s *localBlobStore) Release(_ context.Context, pin Pin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pins, pin.id)
	return nil
}

// Sync reports only on the local store and never contacts peers: a link
// that is present completes at once; a missing one yields a Progress event
// naming it, then Complete with ErrNotFound.
func (s *localBlobStore) Sync(_ context.Context, link Link, _ []NodeId) (<-chan SyncEvent, error) {
	ch := make(chan SyncEvent, 2)
	key := link.String()
	s.mu.Lock()
	_, have := s.blocks[key]
	s.mu.Unlock()
	if have {
		ch <- SyncEvent{Kind: SyncComplete, Err: nil}
	} else {
		ch <- SyncEvent{Kind: SyncProgress, Missing: []Link{link}}
		ch <- SyncEvent{Kind: SyncComplete, Err: ErrNotFound}
	}
	close(ch)
	return ch, nil
}
