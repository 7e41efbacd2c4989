// Package service implements the four public event-service contracts (spec
// §4.J): offsets, query, subscribe, subscribe_monotonic and publish. It is a
// thin orchestration layer over core/swarm.EventStore and core/query,
// keeping the HTTP API one layer up free of storage and query-evaluation
// details.
package service

import (
	"context"
	"fmt"

	"banyanswarm/core"
	"banyanswarm/core/query"
	"banyanswarm/core/swarm"
	"banyanswarm/internal/metrics"

	"github.com/sirupsen/logrus"
)

// Order selects a bounded cursor's iteration order for Query (spec §4.J).
type Order int

const (
	OrderAsc Order = iota
	OrderDesc
	OrderStreamAsc
)

// ResponseKind discriminates which field of a Response is populated.
type ResponseKind int

const (
	RespEvent ResponseKind = iota
	RespOffsets
	RespDiagnostic
	RespTimeTravel
	RespPublished
	RespError
)

// Response is one item of any of the four contracts' output streams. Only
// the field matching Kind is meaningful.
type Response struct {
	Kind ResponseKind

	// RespEvent
	Event    core.Event
	Values   []query.Value
	CaughtUp bool

	// RespOffsets
	Offsets swarm.OffsetsReport

	// RespDiagnostic / RespError
	Err error

	// RespTimeTravel
	NewStart core.EventKey

	// RespPublished
	Published []swarm.PersistedEvent
}

// QueryRequest is one query() call's parameters.
type QueryRequest struct {
	Query query.Query
	Lower *core.OffsetMap // nil means the empty map
	Upper *core.OffsetMap // nil means "present" at call time
	Order Order
}

// SubscribeRequest is one subscribe()/subscribe_monotonic() call's
// parameters.
type SubscribeRequest struct {
	Query query.Query
	Lower *core.OffsetMap // nil means the empty map
}

// EventService implements spec §4.J atop an EventStore and the observer's
// locality (whether this node owns the streams it serves, which gates
// IsLocalAtom clauses in from-expressions).
type EventService struct {
	store   *swarm.EventStore
	isLocal bool
	log     *logrus.Logger

	metrics *metrics.Registry
}

// NewEventService wires the service atop store.
func NewEventService(store *swarm.EventStore, isLocal bool, log *logrus.Logger) *EventService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &EventService{store: store, isLocal: isLocal, log: log}
}

// SetMetrics attaches m so Publish can count persisted events. Nil disables
// counting.
func (s *EventService) SetMetrics(m *metrics.Registry) {
	s.metrics = m
}

// Offsets returns present/to_replicate once; it never blocks beyond a single
// read (spec §4.J "offsets()").
func (s *EventService) Offsets() Response {
	return Response{Kind: RespOffsets, Offsets: s.store.Offsets()}
}

// Publish delegates to the event store's persist and wraps the result as one
// response (spec §4.J "publish(req)").
func (s *EventService) Publish(ctx context.Context, appId string, events []swarm.PublishRequest) Response {
	published, err := s.store.Persist(ctx, appId, events)
	if err != nil {
		return Response{Kind: RespError, Err: err}
	}
	if s.metrics != nil {
		s.metrics.EventsPersisted.Add(float64(len(published)))
	}
	return Response{Kind: RespPublished, Published: published}
}

// feed runs one decoded event through compiled. Each produced Result that
// failed becomes its own RespDiagnostic (spec §4.I: "one diagnostic per
// error... does not cancel peers"); every successful Value is collected
// into a single trailing RespEvent carrying ev. It also reports whether the
// pipeline signaled it is done (a Limit stage reached quota).
func feed(compiled *query.Compiled, ev core.Event) ([]Response, bool) {
	v, err := query.DecodePayload(ev.Payload)
	if err != nil {
		return []Response{{Kind: RespDiagnostic, Err: err}}, compiled.Done()
	}
	results := compiled.Feed(&v)
	var out []Response
	var values []query.Value
	for _, r := range results {
		if r.Err != nil {
			out = append(out, Response{Kind: RespDiagnostic, Err: r.Err})
			continue
		}
		values = append(values, r.Value)
	}
	if len(values) > 0 {
		out = append(out, Response{Kind: RespEvent, Event: ev, Values: values})
	}
	return out, compiled.Done()
}

// emitAll sends every response in resps to out, stopping early if ctx is
// canceled. It reports whether it returned because of cancellation.
func emitAll(ctx context.Context, out chan<- Response, resps []Response) bool {
	for _, r := range resps {
		select {
		case out <- r:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// Query materializes upper_bound/lower, compiles req.Query, opens the
// bounded cursor req.Order asks for, feeds every event through the
// pipeline, and terminates by emitting Offsets(upper_bound) then
// end-of-stream (spec §4.J "query(req)"). If the store fails mid-cursor the
// stream terminates with that error surfaced as a RespError.
func (s *EventService) Query(ctx context.Context, req QueryRequest) (<-chan Response, error) {
	present := s.store.Offsets().Present
	upper := req.Upper
	if upper == nil {
		upper = present
	}
	lower := req.Lower
	if lower == nil {
		lower = core.NewOffsetMap()
	}

	compiled, err := query.Compile(req.Query, s.isLocal, query.EndpointQuery)
	if err != nil {
		return nil, err
	}

	out := make(chan Response)
	go func() {
		defer close(out)
		if compiled.Inert {
			out <- Response{Kind: RespOffsets, Offsets: swarm.OffsetsReport{Present: upper}}
			return
		}

		var cursor <-chan core.Event
		var cursorErr error
		switch req.Order {
		case OrderDesc:
			cursor, cursorErr = s.store.BoundedBackward(ctx, compiled, lower, upper)
		case OrderStreamAsc:
			cursor, cursorErr = s.store.BoundedForward(ctx, compiled, lower, upper, true)
		default:
			cursor, cursorErr = s.store.BoundedForward(ctx, compiled, lower, upper, false)
		}
		if cursorErr != nil {
			out <- Response{Kind: RespError, Err: fmt.Errorf("service: query: %w", cursorErr)}
			return
		}

		for ev := range cursor {
			resps, done := feed(compiled, ev)
			if !emitAll(ctx, out, resps) {
				return
			}
			if done {
				break
			}
		}
		select {
		case out <- Response{Kind: RespOffsets, Offsets: swarm.OffsetsReport{Present: upper}}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

// Subscribe computes present at start, runs bounded_forward(lower, present),
// emits Offsets(present), then switches to unbounded_forward(from=present),
// reusing one compiled pipeline across both phases (spec §4.J
// "subscribe(req)"). Never completes absent cancellation or error.
func (s *EventService) Subscribe(ctx context.Context, req SubscribeRequest) (<-chan Response, error) {
	present := s.store.Offsets().Present
	lower := req.Lower
	if lower == nil {
		lower = core.NewOffsetMap()
	}

	compiled, err := query.Compile(req.Query, s.isLocal, query.EndpointSubscribe)
	if err != nil {
		return nil, err
	}

	out := make(chan Response)
	go func() {
		defer close(out)
		if compiled.Inert {
			return
		}

		bounded, err := s.store.BoundedForward(ctx, compiled, lower, present, false)
		if err != nil {
			out <- Response{Kind: RespError, Err: fmt.Errorf("service: subscribe: %w", err)}
			return
		}
		for ev := range bounded {
			resps, done := feed(compiled, ev)
			if !emitAll(ctx, out, resps) {
				return
			}
			if done {
				return
			}
		}
		select {
		case out <- Response{Kind: RespOffsets, Offsets: swarm.OffsetsReport{Present: present}}:
		case <-ctx.Done():
			return
		}

		live := s.store.UnboundedForward(ctx, compiled, present)
		for ev := range live {
			resps, done := feed(compiled, ev)
			if !emitAll(ctx, out, resps) {
				return
			}
			if done {
				return
			}
		}
	}()
	return out, nil
}
