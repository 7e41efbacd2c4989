package api

import (
	"encoding/json"
	"net/http"

	"github.com/fxamacker/cbor/v2"

	"banyanswarm/core"
	"banyanswarm/core/query"
	"banyanswarm/core/swarm"
	"banyanswarm/internal/apierr"
	"banyanswarm/service"
)

// handleOffsets implements GET /api/v2/events/offsets.
func (s *Server) handleOffsets(w http.ResponseWriter, r *http.Request) {
	resp := s.Events.Offsets()
	writeJSON(w, offsetsResponse{Present: resp.Offsets.Present, ToReplicate: toReplicateWire(resp.Offsets.ToReplicate)})
}

type offsetsResponse struct {
	Present     *core.OffsetMap  `json:"present"`
	ToReplicate map[string]uint64 `json:"toReplicate"`
}

func toReplicateWire(m map[core.StreamId]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(m))
	for s, n := range m {
		out[s.String()] = n
	}
	return out
}

type publishEventWire struct {
	Tags    []string        `json:"tags"`
	Payload json.RawMessage `json:"payload"`
}

type publishRequestWire struct {
	Data []publishEventWire `json:"data"`
}

type persistedEventWire struct {
	Lamport   core.LamportTimestamp `json:"lamport"`
	Offset    core.Offset           `json:"offset"`
	Stream    string                `json:"stream"`
	Timestamp core.Timestamp        `json:"timestamp"`
}

type publishResponseWire struct {
	Data []persistedEventWire `json:"data"`
}

// handlePublish implements POST /api/v2/events/publish. Payloads arrive as
// arbitrary JSON and are re-encoded to CBOR for storage, the format
// core/query.DecodePayload expects on the read side.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	appId, _ := AppIdFromContext(r.Context())

	var req publishRequestWire
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.New(apierr.ErrBadRequest, "malformed request body: "+err.Error()))
		return
	}

	events := make([]swarm.PublishRequest, 0, len(req.Data))
	for _, e := range req.Data {
		tags := make(core.TagSet, 0, len(e.Tags))
		for _, t := range e.Tags {
			tag, err := core.NewTag(t)
			if err != nil {
				writeError(w, apierr.New(apierr.ErrBadRequest, err.Error()))
				return
			}
			tags = append(tags, tag)
		}
		var raw interface{}
		if len(e.Payload) > 0 {
			if err := json.Unmarshal(e.Payload, &raw); err != nil {
				writeError(w, apierr.New(apierr.ErrBadRequest, "malformed payload: "+err.Error()))
				return
			}
		}
		payload, err := cbor.Marshal(raw)
		if err != nil {
			writeError(w, apierr.New(apierr.ErrBadRequest, "encoding payload: "+err.Error()))
			return
		}
		events = append(events, swarm.PublishRequest{Tags: core.NewTagSet(tags...), Payload: payload})
	}

	resp := s.Events.Publish(r.Context(), appId, events)
	if resp.Kind == service.RespError {
		s.Log.Errorf("publish for %s: %v", appId, resp.Err)
		writeError(w, apierr.New(apierr.ErrInternal, resp.Err.Error()))
		return
	}

	out := make([]persistedEventWire, 0, len(resp.Published))
	for _, p := range resp.Published {
		out = append(out, persistedEventWire{
			Lamport:   p.Lamport,
			Offset:    p.Offset,
			Stream:    core.StreamId{Node: s.selfNodeId(), Nr: p.Stream}.String(),
			Timestamp: p.Timestamp,
		})
	}
	writeJSON(w, publishResponseWire{Data: out})
}

// selfNodeId derives this node's id from its own ed25519 public key, the
// same 32-byte value p2p/protocol.go reads off the libp2p peer identity
// (spec §4.E: a node id is its public key).
func (s *Server) selfNodeId() core.NodeId {
	var id core.NodeId
	copy(id[:], s.NodePublic)
	return id
}

type queryRequestWire struct {
	LowerBound *core.OffsetMap `json:"lowerBound,omitempty"`
	UpperBound *core.OffsetMap `json:"upperBound,omitempty"`
	Query      string          `json:"query"`
	Order      string          `json:"order"`
}

func parseOrder(s string) service.Order {
	switch s {
	case "desc":
		return service.OrderDesc
	case "streamAsc":
		return service.OrderStreamAsc
	default:
		return service.OrderAsc
	}
}

type responseWire struct {
	Type     string           `json:"type"`
	Event    *eventWire       `json:"event,omitempty"`
	Offsets  *offsetsResponse `json:"offsets,omitempty"`
	Message  string           `json:"message,omitempty"`
	NewStart *eventKeyWire    `json:"newStart,omitempty"`
}

type eventKeyWire struct {
	Lamport core.LamportTimestamp `json:"lamport"`
	Stream  string                `json:"stream"`
	Offset  core.Offset           `json:"offset"`
}

type eventWire struct {
	Lamport core.LamportTimestamp `json:"lamport"`
	Stream  string                `json:"stream"`
	Offset  core.Offset           `json:"offset"`
	AppId   string                `json:"appId"`
	Tags    core.TagSet           `json:"tags"`
	Payload []query.Value         `json:"payload"`
}

func toResponseWire(r service.Response) responseWire {
	switch r.Kind {
	case service.RespEvent:
		return responseWire{Type: "event", Event: &eventWire{
			Lamport: r.Event.Key.Lamport,
			Stream:  r.Event.Key.Stream.String(),
			Offset:  r.Event.Key.Offset,
			AppId:   r.Event.Meta.AppId,
			Tags:    r.Event.Meta.Tags,
			Payload: r.Values,
		}}
	case service.RespOffsets:
		return responseWire{Type: "offsets", Offsets: &offsetsResponse{Present: r.Offsets.Present, ToReplicate: toReplicateWire(r.Offsets.ToReplicate)}}
	case service.RespTimeTravel:
		return responseWire{Type: "timeTravel", NewStart: &eventKeyWire{
			Lamport: r.NewStart.Lamport,
			Stream:  r.NewStart.Stream.String(),
			Offset:  r.NewStart.Offset,
		}}
	default:
		msg := ""
		if r.Err != nil {
			msg = r.Err.Error()
		}
		return responseWire{Type: "diagnostic", Message: msg}
	}
}

// handleQuery implements POST /api/v2/events/query, streaming ndjson.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequestWire
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.New(apierr.ErrBadRequest, "malformed request body: "+err.Error()))
		return
	}
	q, err := query.Parse(req.Query)
	if err != nil {
		writeError(w, apierr.New(apierr.ErrBadRequest, "malformed query: "+err.Error()))
		return
	}

	ch, err := s.Events.Query(r.Context(), service.QueryRequest{
		Query: q, Lower: req.LowerBound, Upper: req.UpperBound, Order: parseOrder(req.Order),
	})
	if err != nil {
		writeError(w, apierr.New(apierr.ErrBadRequest, err.Error()))
		return
	}
	nd := newNdjsonWriter(w)
	for resp := range ch {
		if err := nd.write(toResponseWire(resp)); err != nil {
			return
		}
	}
}

type subscribeRequestWire struct {
	LowerBound *core.OffsetMap `json:"lowerBound,omitempty"`
	Query      string          `json:"query"`
}

// handleSubscribe implements POST /api/v2/events/subscribe, streaming ndjson
// until the client disconnects.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequestWire
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.New(apierr.ErrBadRequest, "malformed request body: "+err.Error()))
		return
	}
	q, err := query.Parse(req.Query)
	if err != nil {
		writeError(w, apierr.New(apierr.ErrBadRequest, "malformed query: "+err.Error()))
		return
	}
	ch, err := s.Events.Subscribe(r.Context(), service.SubscribeRequest{Query: q, Lower: req.LowerBound})
	if err != nil {
		writeError(w, apierr.New(apierr.ErrBadRequest, err.Error()))
		return
	}
	nd := newNdjsonWriter(w)
	for resp := range ch {
		if err := nd.write(toResponseWire(resp)); err != nil {
			return
		}
	}
}

type subscribeMonotonicRequestWire struct {
	Session string `json:"session,omitempty"`
	From    struct {
		LowerBound *core.OffsetMap `json:"lowerBound"`
	} `json:"from"`
	Query string `json:"query"`
}

// handleSubscribeMonotonic implements POST /api/v2/events/subscribe_monotonic.
// The session field is accepted for wire compatibility but this node keeps
// no cross-request session state; every call starts its own cursor.
func (s *Server) handleSubscribeMonotonic(w http.ResponseWriter, r *http.Request) {
	var req subscribeMonotonicRequestWire
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.New(apierr.ErrBadRequest, "malformed request body: "+err.Error()))
		return
	}
	q, err := query.Parse(req.Query)
	if err != nil {
		writeError(w, apierr.New(apierr.ErrBadRequest, "malformed query: "+err.Error()))
		return
	}
	ch, err := s.Events.SubscribeMonotonic(r.Context(), service.SubscribeRequest{Query: q, Lower: req.From.LowerBound})
	if err != nil {
		writeError(w, apierr.New(apierr.ErrBadRequest, err.Error()))
		return
	}
	nd := newNdjsonWriter(w)
	for resp := range ch {
		if err := nd.write(toResponseWire(resp)); err != nil {
			return
		}
	}
}
