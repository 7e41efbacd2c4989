package p2p

import (
	"context"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/sirupsen/logrus"
)

// mdnsServiceTag namespaces local-network peer discovery so unrelated
// libp2p applications on the same LAN don't cross-connect.
const mdnsServiceTag = "banyanswarm-discovery"

// discoveryNotifee implements mdns.Notifee, dialing every peer mDNS finds on
// the local network. It generalizes the teacher's Node.HandlePeerFound
// (core/network.go) from a blockchain peer table to a plain host.Host.
type discoveryNotifee struct {
	ctx  context.Context
	host host.Host
	log  *logrus.Logger
}

var _ mdns.Notifee = (*discoveryNotifee)(nil)

// StartMdnsDiscovery registers h with mDNS under mdnsServiceTag and
// connects to every peer found for as long as ctx is live.
func StartMdnsDiscovery(ctx context.Context, h host.Host, log *logrus.Logger) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	notifee := &discoveryNotifee{ctx: ctx, host: h, log: log}
	mdns.NewMdnsService(h, mdnsServiceTag, notifee)
}

func (n *discoveryNotifee) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.host.ID() {
		return
	}
	if n.host.Network().Connectedness(info.ID) == network.Connected {
		return
	}
	if err := n.host.Connect(n.ctx, info); err != nil {
		n.log.WithField("peer", info.ID.String()).WithField("error", err).Debug("p2p: mdns peer connect failed")
		return
	}
	n.log.WithField("peer", info.ID.String()).Info("p2p: connected to peer via mdns")
}
