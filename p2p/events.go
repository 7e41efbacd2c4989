package p2p

import (
	"context"
	"fmt"
	"io"
	"sync"

	"banyanswarm/core"
	"banyanswarm/core/query"
	"banyanswarm/core/swarm"
	"banyanswarm/service"

	"github.com/libp2p/go-libp2p/core/network"
)

// EventsRequestKind names one of the event-service operations a peer may
// drive over the events protocol (spec §4.J exposed across §4.K's wire).
type EventsRequestKind string

const (
	EventsOffsets            EventsRequestKind = "offsets"
	EventsPublish            EventsRequestKind = "publish"
	EventsQuery              EventsRequestKind = "query"
	EventsSubscribe          EventsRequestKind = "subscribe"
	EventsSubscribeMonotonic EventsRequestKind = "subscribeMonotonic"
	EventsCancel             EventsRequestKind = "cancel"
)

// EventsRequest is one message on the events stream. ChannelId scopes a
// streaming request (query/subscribe/subscribeMonotonic) so the peer can
// later send an EventsCancel with the same ChannelId to stop it without
// closing the whole stream.
type EventsRequest struct {
	Kind      EventsRequestKind
	ChannelId string
	AppId     string
	Events    []swarm.PublishRequest
	Query     query.Query
	Lower     *core.OffsetMap
	Upper     *core.OffsetMap
	Order     service.Order
}

// EventsResponse mirrors service.Response over the wire, tagged with the
// ChannelId of the request that produced it so replies from concurrent
// streaming requests can be multiplexed on one connection. Err is carried
// as a string since error is not itself a serializable type.
type EventsResponse struct {
	ChannelId string
	Kind      service.ResponseKind
	Event     core.Event
	Values    []query.Value
	CaughtUp  bool
	Offsets   swarm.OffsetsReport
	Err       string
	NewStart  core.EventKey
	Published []swarm.PersistedEvent
}

func toWire(channelId string, r service.Response) EventsResponse {
	w := EventsResponse{
		ChannelId: channelId,
		Kind:      r.Kind,
		Event:     r.Event,
		Values:    r.Values,
		CaughtUp:  r.CaughtUp,
		Offsets:   r.Offsets,
		NewStart:  r.NewStart,
		Published: r.Published,
	}
	if r.Err != nil {
		w.Err = r.Err.Error()
	}
	return w
}

func errResponse(channelId string, err error) EventsResponse {
	return toWire(channelId, service.Response{Kind: service.RespError, Err: err})
}

// handleEvents serves one events stream for its entire lifetime: requests
// come in continuously (including cancellations), responses for every open
// channel are serialized onto the one connection by a single writer
// goroutine.
func (srv *Server) handleEvents(s network.Stream) {
	defer s.Close()
	id, err := peerNodeId(s)
	if err != nil {
		srv.log.Warnf("p2p: events stream: %v", err)
		return
	}
	if !srv.authKeys.Contains(id) {
		conn := newFrameConn(s)
		_ = conn.WriteMsg(errResponse("", ErrUnauthorized))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := newFrameConn(s)
	out := make(chan EventsResponse, 64)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for resp := range out {
			if err := conn.WriteMsg(&resp); err != nil {
				cancel()
				return
			}
		}
	}()

	channels := &channelSet{cancels: make(map[string]context.CancelFunc)}
	defer channels.cancelAll()

	for {
		var req EventsRequest
		if err := conn.ReadMsg(&req); err != nil {
			if err != io.EOF {
				srv.log.Warnf("p2p: events: reading request: %v", err)
			}
			break
		}
		srv.dispatchEvents(ctx, channels, &req, out)
	}

	cancel()
	wg.Wait()
}

// channelSet tracks the cancel funcs of currently open streaming channels
// on one events connection.
type channelSet struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func (c *channelSet) add(id string, cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancels[id] = cancel
}

func (c *channelSet) cancel(id string) {
	c.mu.Lock()
	cancel, ok := c.cancels[id]
	delete(c.cancels, id)
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

func (c *channelSet) cancelAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cancel := range c.cancels {
		cancel()
	}
}

func (srv *Server) dispatchEvents(ctx context.Context, channels *channelSet, req *EventsRequest, out chan<- EventsResponse) {
	switch req.Kind {
	case EventsOffsets:
		out <- toWire(req.ChannelId, srv.events.Offsets())
	case EventsPublish:
		out <- toWire(req.ChannelId, srv.events.Publish(ctx, req.AppId, req.Events))
	case EventsCancel:
		channels.cancel(req.ChannelId)
	case EventsQuery, EventsSubscribe, EventsSubscribeMonotonic:
		srv.startStreamingChannel(ctx, channels, req, out)
	default:
		out <- errResponse(req.ChannelId, fmt.Errorf("p2p: unknown events request kind %q", req.Kind))
	}
}

func (srv *Server) startStreamingChannel(ctx context.Context, channels *channelSet, req *EventsRequest, out chan<- EventsResponse) {
	chCtx, cancel := context.WithCancel(ctx)
	channels.add(req.ChannelId, cancel)

	var (
		respCh <-chan service.Response
		err    error
	)
	switch req.Kind {
	case EventsQuery:
		respCh, err = srv.events.Query(chCtx, service.QueryRequest{Query: req.Query, Lower: req.Lower, Upper: req.Upper, Order: req.Order})
	case EventsSubscribe:
		respCh, err = srv.events.Subscribe(chCtx, service.SubscribeRequest{Query: req.Query, Lower: req.Lower})
	case EventsSubscribeMonotonic:
		respCh, err = srv.events.SubscribeMonotonic(chCtx, service.SubscribeRequest{Query: req.Query, Lower: req.Lower})
	}
	if err != nil {
		cancel()
		out <- errResponse(req.ChannelId, err)
		return
	}

	go func() {
		defer cancel()
		for resp := range respCh {
			select {
			case out <- toWire(req.ChannelId, resp):
			case <-chCtx.Done():
				return
			}
		}
	}()
}
