package swarm

import (
	"context"
	"errors"
	"sync"

	"banyanswarm/core"
	"banyanswarm/core/banyan"

	"github.com/sirupsen/logrus"
)

// IncomingRoot is one candidate update to a replicated stream's tree, as
// advertised by gossip: a content-addressed Link plus the header (summary)
// that travels with the advertisement itself, so the Lamport check in step
// 3 of careful ingestion never has to fetch the tree body first.
type IncomingRoot struct {
	Link   core.Link
	Header banyan.Summary
}

// Offer hands a freshly observed root to stream s, superseding whatever
// candidate (if any) is currently queued — only the latest matters (spec
// §4.F: "starts a validation attempt that supersedes any running attempt").
func Offer(s *ReplicatedStream, root IncomingRoot) {
	for {
		select {
		case s.incoming <- root:
			return
		default:
			select {
			case <-s.incoming:
			default:
			}
		}
	}
}

// Validator runs careful ingestion: for each replicated stream it watches,
// it validates incoming roots one at a time, canceling an in-flight
// validation the moment a newer candidate arrives (spec §4.F). Grounded on
// the cancel-on-newer state machine core/replication.go's Replicator uses
// for block sync, generalized from block hashes to tree roots.
type Validator struct {
	store BlobStore
	clock *core.Clock
	log   *logrus.Logger

	// onValidated is invoked after a root is admitted, letting the offset
	// tracker and event store observe the new tree.
	onValidated func(*ReplicatedStream, *banyan.Node)
}

// BlobStore is the subset of core.BlobStore the validator needs.
type BlobStore interface {
	Get(ctx context.Context, link core.Link) ([]byte, error)
	Alias(ctx context.Context, name []byte, link *core.Link) error
	CreateTempPin(ctx context.Context) (core.Pin, error)
	TempPin(ctx context.Context, pin core.Pin, link core.Link) error
	Release(ctx context.Context, pin core.Pin) error
	Sync(ctx context.Context, link core.Link, peers []core.NodeId) (<-chan core.SyncEvent, error)
}

// NewValidator wires a careful-ingestion validator against store.
func NewValidator(store BlobStore, clock *core.Clock, log *logrus.Logger) *Validator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Validator{store: store, clock: clock, log: log}
}

// OnValidated registers the callback fired whenever a root is admitted.
func (v *Validator) OnValidated(fn func(*ReplicatedStream, *banyan.Node)) {
	v.onValidated = fn
}

// Run watches s.incoming until ctx is canceled, validating one candidate at
// a time and canceling any attempt still running when a fresher candidate
// arrives.
func (v *Validator) Run(ctx context.Context, s *ReplicatedStream) {
	var wg sync.WaitGroup
	var cancelAttempt context.CancelFunc
	defer func() {
		if cancelAttempt != nil {
			cancelAttempt()
		}
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case candidate := <-s.incoming:
			if cancelAttempt != nil {
				cancelAttempt()
				wg.Wait()
			}
			attemptCtx, cancel := context.WithCancel(ctx)
			cancelAttempt = cancel
			wg.Add(1)
			go func() {
				defer wg.Done()
				v.attempt(attemptCtx, s, candidate)
			}()
		}
	}
}

// ErrStale is returned (and only logged, never surfaced as a fault) when a
// candidate's header is not strictly newer than the currently validated
// tree.
var ErrStale = errors.New("swarm: candidate root is not newer than validated tree")

func (v *Validator) attempt(ctx context.Context, s *ReplicatedStream, candidate IncomingRoot) {
	log := v.log.WithField("stream", s.StreamId.String())

	current := s.root()
	if current != nil && candidate.Header.Lamport.Max <= current.Summary.Lamport.Max {
		log.WithField("candidate_lamport", candidate.Header.Lamport.Max).Debug("swarm: dropping stale candidate root")
		return
	}

	pin, err := v.store.CreateTempPin(ctx)
	if err != nil {
		log.WithError(err).Warn("swarm: create temp pin failed, will retry on next root")
		return
	}
	defer func() { _ = v.store.Release(context.Background(), pin) }()

	if err := v.store.TempPin(ctx, pin, candidate.Link); err != nil {
		log.WithError(err).Warn("swarm: temp pin failed, will retry on next root")
		return
	}

	events, err := v.store.Sync(ctx, candidate.Link, nil)
	if err != nil {
		log.WithError(err).Warn("swarm: sync start failed, will retry on next root")
		return
	}
	for ev := range events {
		if ctx.Err() != nil {
			return // superseded mid-sync; attempt dropped, pin released by defer
		}
		if ev.Kind == core.SyncComplete && ev.Err != nil {
			log.WithError(ev.Err).Warn("swarm: sync failed, will retry on next root")
			return
		}
	}
	if ctx.Err() != nil {
		return
	}

	data, err := v.store.Get(ctx, candidate.Link)
	if err != nil {
		log.WithError(err).Warn("swarm: fetch of synced root failed")
		return
	}
	newRoot, _, err := banyan.DecodeSnapshot(data)
	if err != nil {
		log.WithError(err).Warn("swarm: malformed tree header, aborting without moving alias")
		return
	}

	alias := s.StreamId.AliasName()
	link := candidate.Link
	if err := v.store.Alias(ctx, alias[:], &link); err != nil {
		log.WithError(err).Warn("swarm: failed to move stream alias to new root")
		return
	}

	s.setRoot(newRoot)
	v.clock.Receive(newRoot.Summary.Lamport.Max)
	log.WithField("lamport", newRoot.Summary.Lamport.Max).Info("swarm: admitted new validated root")
	if v.onValidated != nil {
		v.onValidated(s, newRoot)
	}
}
