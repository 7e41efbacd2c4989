package p2p

import (
	"context"
	"fmt"
	"io"
	"sync"

	"banyanswarm/core/swarm"

	"github.com/libp2p/go-libp2p/core/network"
)

// BulkState is a topic import's position in the state machine spec §4.K
// draws:
//
//	Idle -> MakeFreshTopic -> Ready
//	Ready -> AppendEvents -> Ready
//	Ready -> Finalise -> SwitchingSettings -> Ok | Error
//	any state -> Error on malformed input (resets topic to Idle, drops buffers)
type BulkState int

const (
	BulkIdle BulkState = iota
	BulkMakeFreshTopic
	BulkReady
	BulkAppendEvents
	BulkFinalise
	BulkSwitchingSettings
	BulkOk
	BulkError
)

func (s BulkState) String() string {
	switch s {
	case BulkMakeFreshTopic:
		return "makeFreshTopic"
	case BulkReady:
		return "ready"
	case BulkAppendEvents:
		return "appendEvents"
	case BulkFinalise:
		return "finalise"
	case BulkSwitchingSettings:
		return "switchingSettings"
	case BulkOk:
		return "ok"
	case BulkError:
		return "error"
	default:
		return "idle"
	}
}

// BulkRequestKind names one message on the bulk protocol.
type BulkRequestKind string

const (
	BulkReqMakeFreshTopic BulkRequestKind = "makeFreshTopic"
	BulkReqAppendEvents   BulkRequestKind = "appendEvents"
	BulkReqFinalise       BulkRequestKind = "finalise"
)

// BulkRequest is one message sent on a bulk stream.
type BulkRequest struct {
	Kind   BulkRequestKind
	Topic  string
	Events []swarm.PublishRequest
}

// BulkResponse is the server's reply to a BulkRequest.
type BulkResponse struct {
	State BulkState
	Err   string
}

// BulkImport is one topic import's state machine, guarded by its own mutex
// so MakeFreshTopic/AppendEvents/Finalise calls serialize even if a peer
// pipelines requests ahead of replies.
type BulkImport struct {
	mu     sync.Mutex
	state  BulkState
	topic  string
	buffer []swarm.PublishRequest
	commit func(ctx context.Context, topic string, events []swarm.PublishRequest) error
}

func newBulkImport(commit func(ctx context.Context, topic string, events []swarm.PublishRequest) error) *BulkImport {
	return &BulkImport{state: BulkIdle, commit: commit}
}

// fail resets the import to Idle and drops any buffered events, per spec
// §4.K's "any state -> Error on malformed input (resets topic to Idle,
// drops buffers)". Error itself is therefore never a state a later request
// can observe; it is reported once in the response and the machine is
// already back at Idle by the time that response is sent.
func (b *BulkImport) fail(err error) BulkResponse {
	b.state = BulkIdle
	b.topic = ""
	b.buffer = nil
	return BulkResponse{State: BulkError, Err: err.Error()}
}

func (b *BulkImport) handle(ctx context.Context, req BulkRequest) BulkResponse {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch req.Kind {
	case BulkReqMakeFreshTopic:
		return b.makeFreshTopic(req.Topic)
	case BulkReqAppendEvents:
		return b.appendEvents(req.Events)
	case BulkReqFinalise:
		return b.finalise(ctx)
	default:
		return b.fail(fmt.Errorf("p2p: unknown bulk request kind %q", req.Kind))
	}
}

func (b *BulkImport) makeFreshTopic(topic string) BulkResponse {
	if b.state != BulkIdle {
		return b.fail(fmt.Errorf("p2p: makeFreshTopic: import already in progress"))
	}
	if topic == "" {
		return b.fail(fmt.Errorf("p2p: makeFreshTopic: topic name must not be empty"))
	}
	b.state = BulkMakeFreshTopic
	b.topic = topic
	b.buffer = nil
	b.state = BulkReady
	return BulkResponse{State: b.state}
}

func (b *BulkImport) appendEvents(events []swarm.PublishRequest) BulkResponse {
	if b.state != BulkReady {
		return b.fail(fmt.Errorf("p2p: appendEvents: import not ready (state %v)", b.state))
	}
	b.state = BulkAppendEvents
	b.buffer = append(b.buffer, events...)
	b.state = BulkReady
	return BulkResponse{State: b.state}
}

func (b *BulkImport) finalise(ctx context.Context) BulkResponse {
	if b.state != BulkReady {
		return b.fail(fmt.Errorf("p2p: finalise: import not ready (state %v)", b.state))
	}
	b.state = BulkFinalise
	b.state = BulkSwitchingSettings
	if err := b.commit(ctx, b.topic, b.buffer); err != nil {
		return b.fail(err)
	}
	// Ok is reported once; the machine is back at Idle for the next import.
	b.state = BulkIdle
	b.topic, b.buffer = "", nil
	return BulkResponse{State: BulkOk}
}

// handleBulk serves one bulk stream: every request gets exactly one
// response, and the stream stays open across MakeFreshTopic/AppendEvents/
// Finalise so one import can span many request/response round trips.
func (srv *Server) handleBulk(s network.Stream) {
	defer s.Close()
	id, err := peerNodeId(s)
	if err != nil {
		srv.log.Warnf("p2p: bulk stream: %v", err)
		return
	}
	if !srv.authKeys.Contains(id) {
		conn := newFrameConn(s)
		_ = conn.WriteMsg(&BulkResponse{State: BulkError, Err: ErrUnauthorized.Error()})
		return
	}

	conn := newFrameConn(s)
	imp := newBulkImport(srv.commitBulkImport)
	for {
		var req BulkRequest
		if err := conn.ReadMsg(&req); err != nil {
			if err != io.EOF {
				srv.log.Warnf("p2p: bulk: reading request: %v", err)
			}
			return
		}
		resp := imp.handle(context.Background(), req)
		if err := conn.WriteMsg(&resp); err != nil {
			srv.log.Warnf("p2p: bulk: writing response: %v", err)
			return
		}
	}
}

// commitBulkImport persists the buffered events under a dedicated
// bulk-import app id, then switches the node's topic settings (spec §4.K:
// "rooted, aliased, and the node is instructed to switch to the new
// topic"). A real topic switch that changes settings would also need to
// restart the store component to pick up the new topic; that orchestration
// belongs to the process entrypoint (cmd/), not here.
func (srv *Server) commitBulkImport(ctx context.Context, topic string, events []swarm.PublishRequest) error {
	resp := srv.events.Publish(ctx, bulkImportAppId, events)
	if resp.Err != nil {
		return resp.Err
	}
	if err := srv.settings.Set("topic", []byte(topic)); err != nil {
		return err
	}
	if err := srv.settings.Set("readOnly", []byte("true")); err != nil {
		return err
	}
	srv.bulkMu.Lock()
	if srv.committedTopics == nil {
		srv.committedTopics = make(map[string]struct{})
	}
	srv.committedTopics[topic] = struct{}{}
	srv.bulkMu.Unlock()
	return nil
}

const bulkImportAppId = "com.example.bulk-import"
