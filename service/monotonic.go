package service

import (
	"context"
	"fmt"

	"banyanswarm/core"
	"banyanswarm/core/query"
	"banyanswarm/core/swarm"
)

// beforeAll is the sentinel "less than every real event key" used to seed
// latest_key when no prior event exists at or below the requested lower
// bound; every real Lamport timestamp is strictly positive.
var beforeAll = core.EventKey{}

// greatestKeyAtOrBelow finds the greatest event key matching compiled with
// an offset in (∅, lower], by walking the matching bounded_backward cursor
// and taking its first (i.e. greatest) element.
func greatestKeyAtOrBelow(ctx context.Context, store *swarm.EventStore, compiled *query.Compiled, lower *core.OffsetMap) (core.EventKey, error) {
	if lower == nil || lower.StreamCount() == 0 {
		return beforeAll, nil
	}
	cursor, err := store.BoundedBackward(ctx, compiled, core.NewOffsetMap(), lower)
	if err != nil {
		return core.EventKey{}, err
	}
	for ev := range cursor {
		return ev.Key, nil
	}
	return beforeAll, nil
}

// markCaughtUp stamps every RespEvent in resps with caughtUp.
func markCaughtUp(resps []Response, caughtUp bool) {
	for i := range resps {
		if resps[i].Kind == RespEvent {
			resps[i].CaughtUp = caughtUp
		}
	}
}

// SubscribeMonotonic is Subscribe with the time-travel contract layered on
// top (spec §4.J "subscribe_monotonic(req)"): latest_key starts as the
// greatest key at or below req.Lower; the bounded (catch-up) phase always
// forwards events with caught_up=false; an Offsets(present) marker then
// signals the end of catch-up; from there every event either advances
// latest_key and is forwarded with caught_up=true, or - if its key does not
// exceed latest_key - ends the stream with a TimeTravel response.
func (s *EventService) SubscribeMonotonic(ctx context.Context, req SubscribeRequest) (<-chan Response, error) {
	present := s.store.Offsets().Present
	lower := req.Lower
	if lower == nil {
		lower = core.NewOffsetMap()
	}

	compiled, err := query.Compile(req.Query, s.isLocal, query.EndpointSubscribeMonotonic)
	if err != nil {
		return nil, err
	}

	out := make(chan Response)
	go func() {
		defer close(out)
		if compiled.Inert {
			return
		}

		latestKey, err := greatestKeyAtOrBelow(ctx, s.store, compiled, lower)
		if err != nil {
			out <- Response{Kind: RespError, Err: fmt.Errorf("service: subscribeMonotonic: %w", err)}
			return
		}

		bounded, err := s.store.BoundedForward(ctx, compiled, lower, present, false)
		if err != nil {
			out <- Response{Kind: RespError, Err: fmt.Errorf("service: subscribeMonotonic: %w", err)}
			return
		}
		for ev := range bounded {
			resps, done := feed(compiled, ev)
			markCaughtUp(resps, false)
			if latestKey.Less(ev.Key) {
				latestKey = ev.Key
			}
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
			if !latestKey.Less(ev.Key) {
				select {
				case out <- Response{Kind: RespTimeTravel, NewStart: ev.Key}:
				case <-ctx.Done():
				}
				return
			}
			latestKey = ev.Key
			resps, done := feed(compiled, ev)
			markCaughtUp(resps, true)
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
