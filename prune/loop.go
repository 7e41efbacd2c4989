package prune

import (
	"sync"
	"time"

	"banyanswarm/core"
	"banyanswarm/core/swarm"
	"banyanswarm/internal/metrics"

	"github.com/sirupsen/logrus"
)

// Loop periodically applies each configured stream's policy to its own
// stream's tree, the way fault_tolerance.go's BackupManager runs its
// snapshot loop on a ticker with a stop channel and WaitGroup.
type Loop struct {
	registry *swarm.Registry
	interval time.Duration
	log      *logrus.Logger

	// Metrics, if set, is incremented whenever a pass actually retains
	// (tombstones part of) a stream's tree. Nil disables counting.
	Metrics *metrics.Registry

	mu       sync.Mutex
	policies map[core.StreamNr]Policy

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewLoop builds a prune loop over registry, ticking every interval.
func NewLoop(registry *swarm.Registry, interval time.Duration, log *logrus.Logger) *Loop {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Loop{
		registry: registry,
		interval: interval,
		log:      log,
		policies: make(map[core.StreamNr]Policy),
		stop:     make(chan struct{}),
	}
}

// Configure sets (or replaces) the retention policy for one of this node's
// own streams. A stream with no configured policy is never pruned.
func (l *Loop) Configure(nr core.StreamNr, p Policy) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.policies[nr] = p
}

// Unconfigure removes nr's policy, if any.
func (l *Loop) Unconfigure(nr core.StreamNr) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.policies, nr)
}

// Start launches the background ticker. Stop must be called to release it.
func (l *Loop) Start() {
	l.wg.Add(1)
	go l.run()
}

// Stop terminates the loop and waits for it to exit.
func (l *Loop) Stop() {
	close(l.stop)
	l.wg.Wait()
}

func (l *Loop) run() {
	defer l.wg.Done()
	t := time.NewTicker(l.interval)
	defer t.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-t.C:
			l.tick()
		}
	}
}

// tick applies every configured policy once, in isolation from the ticker
// so a single slow retain pass can't back up subsequent ticks beyond the
// usual Go ticker drop-if-busy behavior.
func (l *Loop) tick() {
	now := core.TimestampFromMicros(time.Now().UnixMicro())
	l.mu.Lock()
	snapshot := make(map[core.StreamNr]Policy, len(l.policies))
	for nr, p := range l.policies {
		snapshot[nr] = p
	}
	l.mu.Unlock()

	for nr, p := range snapshot {
		l.applyOne(nr, p, now)
	}
}

func (l *Loop) applyOne(nr core.StreamNr, p Policy, now core.Timestamp) {
	s, ok := l.registry.OwnStreamByNr(nr)
	if !ok {
		return
	}
	s.RootMu.Lock()
	defer s.RootMu.Unlock()
	retained := Apply(s.Root, p, now)
	if retained != s.Root {
		s.Root = retained
		l.log.WithField("stream_nr", nr).Info("prune: retained stream")
		if l.Metrics != nil {
			l.Metrics.EventsPruned.Inc()
		}
	}
}
