package p2p

import (
	"sync"

	"banyanswarm/core"
	"banyanswarm/core/swarm"
	"banyanswarm/service"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/sirupsen/logrus"
)

// Server wires host.Host's stream handling to the admin/events/bulk
// protocols, gating every stream on AuthorizedKeys (spec §4.K). It takes a
// concrete host.Host rather than an abstracted transport, matching how the
// node type elsewhere in this module depends on host.Host directly.
type Server struct {
	self     core.NodeId
	host     host.Host
	authKeys *AuthorizedKeys
	settings Settings
	events   *service.EventService
	registry *swarm.Registry
	log      *logrus.Logger

	shutdown func()

	bulkMu          sync.Mutex
	committedTopics map[string]struct{}
}

// NewServer builds a Server around an already-constructed event service and
// registry. shutdown, if non-nil, is invoked (in its own goroutine) when a
// peer issues NodesShutdown.
func NewServer(self core.NodeId, h host.Host, authKeys *AuthorizedKeys, settings Settings, events *service.EventService, registry *swarm.Registry, shutdown func(), log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		self:     self,
		host:     h,
		authKeys: authKeys,
		settings: settings,
		events:   events,
		registry: registry,
		shutdown: shutdown,
		log:      log,
	}
}

// RegisterHandlers attaches the three protocol handlers to the host. Call
// once, after NewServer, before the host starts accepting connections from
// untrusted peers.
func (srv *Server) RegisterHandlers() {
	srv.host.SetStreamHandler(ProtocolAdmin, srv.handleAdmin)
	srv.host.SetStreamHandler(ProtocolEvents, srv.handleEvents)
	srv.host.SetStreamHandler(ProtocolBulk, srv.handleBulk)
}
