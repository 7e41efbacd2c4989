package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/libp2p/go-libp2p"
	ic "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"golang.org/x/crypto/ed25519"

	"banyanswarm/api"
	"banyanswarm/core"
	"banyanswarm/core/banyan"
	"banyanswarm/core/swarm"
	"banyanswarm/internal/config"
	"banyanswarm/internal/logging"
	"banyanswarm/internal/metrics"
	"banyanswarm/p2p"
	"banyanswarm/prune"
	"banyanswarm/service"
)

const defaultAPIAddr = "http://127.0.0.1:4454"

// runNode wires every subsystem together and blocks until interrupted
// (spec §6 "Exit codes: 0 clean; non-zero on component failures").
func runNode(configDir string) error {
	log := logging.New()

	// bootstrap the zap global logger early — core/blobstore.go's eviction
	// path logs through zap.L(), which is a no-op until replaced.
	if zapLog, err := zap.NewProduction(); err == nil {
		zap.ReplaceGlobals(zapLog)
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("banyanode: loading config: %w", err)
	}

	if err := os.MkdirAll(cfg.Node.DataDir, 0o755); err != nil {
		return fmt.Errorf("banyanode: creating data dir: %w", err)
	}

	nodeKey, err := loadOrCreateNodeKey(cfg.Node.DataDir)
	if err != nil {
		return fmt.Errorf("banyanode: loading node key: %w", err)
	}
	cycle, err := nextCycle(cfg.Node.DataDir)
	if err != nil {
		return fmt.Errorf("banyanode: advancing restart cycle: %w", err)
	}

	blobStore, err := core.NewLocalBlobStore(core.LocalBlobStoreConfig{Dir: filepath.Join(cfg.Node.DataDir, "blobs")}, log)
	if err != nil {
		return fmt.Errorf("banyanode: opening blob store: %w", err)
	}

	var self core.NodeId
	copy(self[:], nodeKey.Public().(ed25519.PublicKey))

	mtx := metrics.New()

	registry := swarm.NewRegistry(self, log)
	tracker := swarm.NewOffsetTracker()
	clock := core.NewClock(0)
	store := swarm.NewEventStore(self, registry, tracker, clock, blobStore, banyan.DefaultShape, log)
	events := service.NewEventService(store, true, log)
	events.SetMetrics(mtx)

	pruneLoop := prune.NewLoop(registry, cfg.Prune.Tick, log)
	pruneLoop.Metrics = mtx
	for _, sp := range cfg.Prune.Streams {
		pruneLoop.Configure(core.StreamNr(sp.StreamNr), streamPolicyOf(sp))
	}
	pruneLoop.Start()
	defer pruneLoop.Stop()

	config.WatchAndReload([]string{configDir}, func(next *config.Config) {
		for _, sp := range next.Prune.Streams {
			pruneLoop.Configure(core.StreamNr(sp.StreamNr), streamPolicyOf(sp))
		}
		log.Info("banyanode: reloaded prune policies from config change")
	})

	identity, err := ic.UnmarshalEd25519PrivateKey(nodeKey)
	if err != nil {
		return fmt.Errorf("banyanode: building libp2p identity: %w", err)
	}
	h, err := libp2p.New(libp2p.Identity(identity), libp2p.ListenAddrStrings(cfg.Node.ListenAddr))
	if err != nil {
		return fmt.Errorf("banyanode: starting libp2p host: %w", err)
	}
	defer h.Close()

	authKeys, err := p2p.NewAuthorizedKeys(p2p.NewInMemoryKeyStore())
	if err != nil {
		return fmt.Errorf("banyanode: building authorized keys: %w", err)
	}
	settings := p2p.NewInMemorySettings()

	shutdownCtx, cancel := context.WithCancel(context.Background())
	p2pServer := p2p.NewServer(self, h, authKeys, settings, events, registry, cancel, log)
	p2pServer.RegisterHandlers()

	p2p.StartMdnsDiscovery(shutdownCtx, h, log)
	dialBootstrapPeers(shutdownCtx, h, cfg.Bootstrap, log)

	gossip, err := p2p.NewGossip(h, log)
	if err != nil {
		return fmt.Errorf("banyanode: starting gossip: %w", err)
	}
	defer gossip.Close()
	gossip.OnAnnouncement(func(node core.NodeId, offset core.Offset) {
		log.WithField("peer", node.String()).WithField("offset", offset).Debug("banyanode: peer root advanced")
	})
	gossip.Start(shutdownCtx)
	go announceOwnOffsetsLoop(shutdownCtx, gossip, store, self, log)
	go reportPeerCountLoop(shutdownCtx, h, mtx)

	httpServer := api.NewServer(events, registry, settings, nodeKey, nodeKey.Public().(ed25519.PublicKey), cycle, cfg.Node.TokenValidity, mtx, log)
	srv := &http.Server{Addr: cfg.Node.HTTPAddr, Handler: httpServer.Router()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithField("error", err).Error("banyanode: http server stopped")
		}
	}()
	defer srv.Close()

	log.WithField("node_id", self.String()).WithField("node_id_short", self.Short()).WithField("http_addr", cfg.Node.HTTPAddr).Info("banyanode: node running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		log.Info("banyanode: shutting down on signal")
	case <-shutdownCtx.Done():
		log.Info("banyanode: shutting down on admin request")
	}
	return nil
}

// dialBootstrapPeers connects to every configured bootstrap multiaddr,
// generalizing the teacher's Node.DialSeed (core/network.go) to this host's
// plain libp2p.Host. Dial failures are logged, not fatal: mDNS and gossip
// can still bring the node into a swarm.
func dialBootstrapPeers(ctx context.Context, h host.Host, addrs []string, log *logrus.Logger) {
	for _, addr := range addrs {
		info, err := peer.AddrInfoFromString(addr)
		if err != nil {
			log.WithField("addr", addr).WithField("error", err).Warn("banyanode: invalid bootstrap address")
			continue
		}
		if err := h.Connect(ctx, *info); err != nil {
			log.WithField("addr", addr).WithField("error", err).Warn("banyanode: bootstrap dial failed")
			continue
		}
		log.WithField("peer", info.ID.String()).Info("banyanode: connected to bootstrap peer")
	}
}

// announceOwnOffsetsLoop periodically gossips this node's own-stream offset
// so peers watching rootsTopic know when to dial in for new events.
func announceOwnOffsetsLoop(ctx context.Context, gossip *p2p.Gossip, store *swarm.EventStore, self core.NodeId, log *logrus.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	ownStream := core.StreamId{Node: self, Nr: core.StreamNr(0)}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			offset := store.Offsets().Present.Offset(ownStream)
			o, ok := core.FromOffsetOrMin(offset)
			if !ok {
				continue
			}
			if err := gossip.Announce(ctx, self, o); err != nil {
				log.WithField("error", err).Debug("banyanode: gossip announce failed")
			}
		}
	}
}

// reportPeerCountLoop keeps the peer_count gauge in step with the number of
// peers the libp2p host is currently connected to, the way the teacher's HealthLogger polls chain state on
// a ticker rather than hooking every connect/disconnect event.
func reportPeerCountLoop(ctx context.Context, h host.Host, mtx *metrics.Registry) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		mtx.PeerCount.Set(float64(len(h.Network().Peers())))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func streamPolicyOf(sp config.StreamPolicy) prune.Policy {
	switch {
	case sp.Events > 0:
		return prune.EventsPolicy(sp.Events)
	case sp.Age > 0:
		return prune.AgePolicy(sp.Age)
	case sp.SizeBytes > 0:
		return prune.SizePolicy(sp.SizeBytes)
	default:
		return prune.Policy{}
	}
}

// loadOrCreateNodeKey reads the node's Ed25519 signing key from dataDir,
// generating and persisting a fresh one on first run (spec §4.M: a node's
// id is its own public key, stable across restarts).
func loadOrCreateNodeKey(dataDir string) (ed25519.PrivateKey, error) {
	path := filepath.Join(dataDir, "node.key")
	if raw, err := os.ReadFile(path); err == nil {
		if len(raw) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("banyanode: %s has unexpected length %d", path, len(raw))
		}
		return ed25519.PrivateKey(raw), nil
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, priv, 0o600); err != nil {
		return nil, err
	}
	return priv, nil
}

// nextCycle increments and persists the node's restart cycle counter,
// invalidating every bearer token minted under the previous run (spec
// §4.M: "node cycle count (invalidates tokens created before the last
// restart)").
func nextCycle(dataDir string) (uint64, error) {
	path := filepath.Join(dataDir, "cycle")
	var cur uint64
	if raw, err := os.ReadFile(path); err == nil {
		cur, _ = strconv.ParseUint(string(raw), 10, 64)
	} else if !os.IsNotExist(err) {
		return 0, err
	}
	next := cur + 1
	if err := os.WriteFile(path, []byte(strconv.FormatUint(next, 10)), 0o644); err != nil {
		return 0, err
	}
	return next, nil
}
