// Package api implements the §6 HTTP surface: JSON over HTTP/1.1 under
// `/api/v2`, unary responses as application/json and streaming ones as
// application/x-ndjson, with a controller/service split (gorilla/mux
// routing, logrus request logging) and a chi sub-router mounted for the
// supplemental admin-over-HTTP endpoints.
package api

import (
	"golang.org/x/crypto/ed25519"

	"banyanswarm/core/swarm"
	"banyanswarm/internal/metrics"
	"banyanswarm/p2p"
	"banyanswarm/service"

	"github.com/sirupsen/logrus"
)

// Server holds every dependency the HTTP handlers need: the event service,
// this node's signing/verification keys, its settings store, and its
// restart cycle count (spec §4.M token staleness).
type Server struct {
	Events   *service.EventService
	Registry *swarm.Registry
	Settings p2p.Settings

	NodeKey      ed25519.PrivateKey
	NodePublic   ed25519.PublicKey
	AxPublicKey  ed25519.PublicKey
	CurrentCycle uint64
	TokenValidity uint32

	Metrics *metrics.Registry
	Log     *logrus.Logger
}

// NewServer builds a Server. log defaults to the standard logger. metrics
// may be nil, in which case request counting and the /metrics route are
// skipped.
func NewServer(events *service.EventService, registry *swarm.Registry, settings p2p.Settings, nodeKey ed25519.PrivateKey, axPublicKey ed25519.PublicKey, currentCycle uint64, tokenValidity uint32, m *metrics.Registry, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		Events:        events,
		Registry:      registry,
		Settings:      settings,
		NodeKey:       nodeKey,
		NodePublic:    nodeKey.Public().(ed25519.PublicKey),
		AxPublicKey:   axPublicKey,
		CurrentCycle:  currentCycle,
		TokenValidity: tokenValidity,
		Metrics:       m,
		Log:           log,
	}
}
