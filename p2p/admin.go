package p2p

import (
	"fmt"
	"io"

	"banyanswarm/core"

	"github.com/libp2p/go-libp2p/core/network"
)

// AdminRequestKind names one of the single-shot admin requests (spec §4.K).
type AdminRequestKind string

const (
	AdminNodesLs         AdminRequestKind = "nodesLs"
	AdminNodesInspect    AdminRequestKind = "nodesInspect"
	AdminNodesShutdown   AdminRequestKind = "nodesShutdown"
	AdminSettingsGet     AdminRequestKind = "settingsGet"
	AdminSettingsSet     AdminRequestKind = "settingsSet"
	AdminSettingsUnset   AdminRequestKind = "settingsUnset"
	AdminSettingsSchema  AdminRequestKind = "settingsSchema"
	AdminSettingsScopes  AdminRequestKind = "settingsScopes"
	AdminTopicLs         AdminRequestKind = "topicLs"
)

// AdminRequest is the single message an admin stream carries before the
// server replies once and closes the stream.
type AdminRequest struct {
	Kind  AdminRequestKind
	Scope string // SettingsGet/Set/Unset/Schema
	Value []byte // SettingsSet
}

// NodeInfo is a snapshot of one node's identity and known streams, returned
// by NodesLs/NodesInspect.
type NodeInfo struct {
	Id      core.NodeId
	Streams []core.StreamId
}

// AdminResponse is the server's single reply to an AdminRequest.
type AdminResponse struct {
	Kind  AdminRequestKind
	Err   string
	Nodes []NodeInfo
	Value []byte
	Exists bool
	Schema []byte
	Scopes []string
	Topics []string
}

// handleAdmin serves one admin stream: authorize the peer, read exactly one
// AdminRequest, reply with exactly one AdminResponse, close.
func (srv *Server) handleAdmin(s network.Stream) {
	defer s.Close()
	id, err := peerNodeId(s)
	if err != nil {
		srv.log.Warnf("p2p: admin stream: %v", err)
		return
	}
	granted, first, err := srv.authKeys.Authorize(id)
	if err != nil || !granted {
		conn := newFrameConn(s)
		_ = conn.WriteMsg(&AdminResponse{Err: ErrUnauthorized.Error()})
		return
	}
	if first {
		srv.onFirstPeerAuthorized(id)
	}

	conn := newFrameConn(s)
	var req AdminRequest
	if err := conn.ReadMsg(&req); err != nil {
		if err != io.EOF {
			srv.log.Warnf("p2p: admin: reading request: %v", err)
		}
		return
	}
	resp := srv.dispatchAdmin(req)
	if err := conn.WriteMsg(&resp); err != nil {
		srv.log.Warnf("p2p: admin: writing response: %v", err)
	}
}

func (srv *Server) dispatchAdmin(req AdminRequest) AdminResponse {
	resp := AdminResponse{Kind: req.Kind}
	switch req.Kind {
	case AdminNodesLs:
		resp.Nodes = srv.knownNodes()
	case AdminNodesInspect:
		for _, n := range srv.knownNodes() {
			if n.Id == srv.self {
				resp.Nodes = []NodeInfo{n}
				break
			}
		}
	case AdminNodesShutdown:
		if srv.shutdown != nil {
			go srv.shutdown()
		}
	case AdminSettingsGet:
		v, ok, err := srv.settings.Get(req.Scope)
		if err != nil {
			resp.Err = err.Error()
			break
		}
		resp.Value, resp.Exists = v, ok
	case AdminSettingsSet:
		if err := srv.settings.Set(req.Scope, req.Value); err != nil {
			resp.Err = err.Error()
		}
	case AdminSettingsUnset:
		if err := srv.settings.Unset(req.Scope); err != nil {
			resp.Err = err.Error()
		}
	case AdminSettingsSchema:
		schema, err := srv.settings.Schema(req.Scope)
		if err != nil {
			resp.Err = err.Error()
			break
		}
		resp.Schema = schema
	case AdminSettingsScopes:
		scopes, err := srv.settings.Scopes()
		if err != nil {
			resp.Err = err.Error()
			break
		}
		resp.Scopes = scopes
	case AdminTopicLs:
		resp.Topics = srv.topics()
	default:
		resp.Err = fmt.Sprintf("p2p: unknown admin request kind %q", req.Kind)
	}
	return resp
}

// knownNodes reports this node and, for each, the streams currently held in
// the registry (own plus replicated).
func (srv *Server) knownNodes() []NodeInfo {
	roots := srv.registry.AllRoots()
	byNode := map[core.NodeId][]core.StreamId{}
	for id := range roots {
		byNode[id.Node] = append(byNode[id.Node], id)
	}
	out := make([]NodeInfo, 0, len(byNode)+1)
	if _, ok := byNode[srv.self]; !ok {
		out = append(out, NodeInfo{Id: srv.self})
	}
	for node, streams := range byNode {
		out = append(out, NodeInfo{Id: node, Streams: streams})
	}
	return out
}

func (srv *Server) topics() []string {
	srv.bulkMu.Lock()
	defer srv.bulkMu.Unlock()
	out := make([]string, 0, len(srv.committedTopics))
	for t := range srv.committedTopics {
		out = append(out, t)
	}
	return out
}

// onFirstPeerAuthorized is invoked the moment authorized_keys transitions
// from empty to having exactly this one peer (spec §4.K: "which also
// triggers a settings write").
func (srv *Server) onFirstPeerAuthorized(id core.NodeId) {
	if err := srv.settings.Set("authorizedKeys.first", []byte(id.String())); err != nil {
		srv.log.Warnf("p2p: recording first authorized peer: %v", err)
	}
}
