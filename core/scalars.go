// Package core defines the scalar identifiers and value types shared by
// every layer of the swarm: node and stream identity, offsets, the Lamport
// clock, tags and the event envelope itself (spec §4.A).
package core

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/multiformats/go-multibase"
)

// ErrParse is wrapped by every scalar parse failure so callers can test with
// errors.Is(err, ErrParse) regardless of which scalar failed to parse.
var ErrParse = errors.New("core: parse error")

// NodeId is the 32-byte opaque identity derived from a node's public key.
// Node ids compare byte-wise; the zero value is never a valid node id.
type NodeId [32]byte

// String renders the node id as a base64url-multibase string.
func (n NodeId) String() string {
	s, err := multibase.Encode(multibase.Base64url, n[:])
	if err != nil {
		// multibase.Encode only fails for unknown encodings; Base64url is
		// always valid, so this is unreachable.
		panic(fmt.Sprintf("core: encode node id: %v", err))
	}
	return s
}

// Short renders the leading 8 bytes of the node id as base58, for
// log/display contexts where the full multibase string is too noisy (e.g.
// peer-found log lines).
func (n NodeId) Short() string {
	return base58.Encode(n[:8])
}

// ParseNodeId decodes the textual form produced by String.
func ParseNodeId(s string) (NodeId, error) {
	var n NodeId
	_, data, err := multibase.Decode(s)
	if err != nil {
		return n, fmt.Errorf("%w: node id %q: %v", ErrParse, s, err)
	}
	if len(data) != len(n) {
		return n, fmt.Errorf("%w: node id %q: expected %d bytes, got %d", ErrParse, s, len(n), len(data))
	}
	copy(n[:], data)
	return n, nil
}

// Less reports whether n sorts before o under the canonical byte-wise order.
func (n NodeId) Less(o NodeId) bool {
	for i := range n {
		if n[i] != o[i] {
			return n[i] < o[i]
		}
	}
	return false
}

// Stream builds the StreamId for stream number nr owned by this node.
func (n NodeId) Stream(nr StreamNr) StreamId {
	return StreamId{Node: n, Nr: nr}
}

// StreamNr is a 64-bit counter local to a node, used to distinguish the
// streams a single node produces.
type StreamNr uint64

// StreamId identifies a stream uniquely across the swarm: the node that owns
// it plus that node's local stream counter. A node owns streams whose Node
// field equals its own id; all other streams it observes are replicated.
type StreamId struct {
	Node NodeId
	Nr   StreamNr
}

// String renders the canonical "<nodeid>.<stream_nr>" textual form.
func (s StreamId) String() string {
	return s.Node.String() + "." + strconv.FormatUint(uint64(s.Nr), 10)
}

// ParseStreamId parses the textual form produced by String.
func ParseStreamId(s string) (StreamId, error) {
	idx := strings.LastIndexByte(s, '.')
	if idx < 0 {
		return StreamId{}, fmt.Errorf("%w: stream id %q: missing '.'", ErrParse, s)
	}
	node, err := ParseNodeId(s[:idx])
	if err != nil {
		return StreamId{}, err
	}
	nr, err := strconv.ParseUint(s[idx+1:], 10, 64)
	if err != nil {
		return StreamId{}, fmt.Errorf("%w: stream id %q: bad stream_nr: %v", ErrParse, s, err)
	}
	return StreamId{Node: node, Nr: StreamNr(nr)}, nil
}

// Less gives StreamId a total order, used to break ties in sort-merge cursors.
func (s StreamId) Less(o StreamId) bool {
	if s.Node != o.Node {
		return s.Node.Less(o.Node)
	}
	return s.Nr < o.Nr
}

// streamAliasPrefix is the first byte of a stream's blob-store alias name,
// matching the persisted-state layout fixed by spec §6.
const streamAliasPrefix = 'S'

// AliasName returns the 41-byte blob-store alias name for this stream's root:
// 'S' || node_id[32] || stream_nr_be[8].
func (s StreamId) AliasName() [41]byte {
	var out [41]byte
	out[0] = streamAliasPrefix
	copy(out[1:33], s.Node[:])
	binary.BigEndian.PutUint64(out[33:41], uint64(s.Nr))
	return out
}

// StreamIdFromAlias is the inverse of AliasName.
func StreamIdFromAlias(b []byte) (StreamId, error) {
	if len(b) != 41 {
		return StreamId{}, fmt.Errorf("%w: stream alias must be 41 bytes, got %d", ErrParse, len(b))
	}
	if b[0] != streamAliasPrefix {
		return StreamId{}, fmt.Errorf("%w: stream alias prefix must be 'S'", ErrParse)
	}
	var node NodeId
	copy(node[:], b[1:33])
	nr := binary.BigEndian.Uint64(b[33:41])
	return StreamId{Node: node, Nr: StreamNr(nr)}, nil
}

// Offset is the dense, monotone, zero-based index of an event within its
// stream. The maximum representable offset must round-trip through a
// 64-bit IEEE-754 float, i.e. 2^53-1.
type Offset int64

// MaxOffset is the largest representable offset (2^53 - 1).
const MaxOffset Offset = (1 << 53) - 1

// ErrOffsetOverflow is returned by arithmetic that would exceed MaxOffset.
var ErrOffsetOverflow = errors.New("core: offset overflow")

// Succ returns the next offset after o, failing if that would overflow.
func (o Offset) Succ() (Offset, error) {
	if o >= MaxOffset {
		return 0, ErrOffsetOverflow
	}
	return o + 1, nil
}

// Pred returns the offset preceding o, or false if o is already zero.
func (o Offset) Pred() (Offset, bool) {
	if o <= 0 {
		return 0, false
	}
	return o - 1, true
}

// Add returns o+delta, saturating-checked against MaxOffset.
func (o Offset) Add(delta uint32) (Offset, error) {
	next := o + Offset(delta)
	if next < o || next > MaxOffset {
		return 0, ErrOffsetOverflow
	}
	return next, nil
}

// OffsetOrMin widens Offset with a sentinel value representing "no events
// yet" (an empty stream, or a stream absent from an OffsetMap).
type OffsetOrMin int64

// OffsetMin is the sentinel used where a stream has not produced any events.
const OffsetMin OffsetOrMin = -1

// FromOffsetOrMin narrows o to a concrete Offset; ok is false for OffsetMin.
func FromOffsetOrMin(o OffsetOrMin) (Offset, bool) {
	if o == OffsetMin {
		return 0, false
	}
	return Offset(o), true
}

// Widen converts a concrete Offset to OffsetOrMin.
func (o Offset) Widen() OffsetOrMin { return OffsetOrMin(o) }

// Sub returns o-other as a signed count, treating OffsetMin as -1 the way
// the arithmetic identity requires (so an empty-to-empty subtraction is 0).
func (o OffsetOrMin) Sub(other OffsetOrMin) int64 {
	return int64(o) - int64(other)
}

// LamportTimestamp is the swarm-wide logical clock: strictly monotone on the
// node that stamps it, and merged via max(local+1, received) across nodes.
type LamportTimestamp uint64

// Clock is a single shared, thread-safe Lamport counter (spec §5: "a single
// shared counter; increase(n) and receive(v) are atomic").
type Clock struct {
	mu      chan struct{} // 1-buffered mutex so zero value is usable
	current LamportTimestamp
}

// NewClock creates a Lamport clock starting at the given value (0 for a
// fresh node, or the last persisted value when resuming).
func NewClock(start LamportTimestamp) *Clock {
	c := &Clock{mu: make(chan struct{}, 1), current: start}
	c.mu <- struct{}{}
	return c
}

func (c *Clock) lock()   { <-c.mu }
func (c *Clock) unlock() { c.mu <- struct{}{} }

// Increase advances the clock by n (n >= 1) and returns the new value, the
// one to be stamped on an event about to be emitted.
func (c *Clock) Increase(n uint64) LamportTimestamp {
	if n == 0 {
		n = 1
	}
	c.lock()
	defer c.unlock()
	c.current += LamportTimestamp(n)
	return c.current
}

// Receive folds an externally observed timestamp into the clock: the new
// local value is max(local+1, v).
func (c *Clock) Receive(v LamportTimestamp) LamportTimestamp {
	c.lock()
	defer c.unlock()
	next := c.current + 1
	if v > next {
		next = v
	}
	c.current = next
	return c.current
}

// Current returns the clock's present value without advancing it.
func (c *Clock) Current() LamportTimestamp {
	c.lock()
	defer c.unlock()
	return c.current
}

// Timestamp is microseconds since the Unix epoch. It is the physical wall
// clock and is never authoritative for ordering — LamportTimestamp is.
type Timestamp int64

// TimestampFromMicros constructs a Timestamp from a raw microsecond count.
func TimestampFromMicros(us int64) Timestamp { return Timestamp(us) }

// Tag is a non-empty UTF-8 label attached to an event.
type Tag string

// ErrEmptyTag is returned when constructing a Tag from an empty string.
var ErrEmptyTag = errors.New("core: tag must not be empty")

// NewTag validates and wraps s as a Tag.
func NewTag(s string) (Tag, error) {
	if s == "" {
		return "", ErrEmptyTag
	}
	return Tag(s), nil
}

// TagSet is a sorted, deduplicated collection of tags; two TagSets are equal
// iff they contain the same tags (set equality, not sequence equality).
type TagSet []Tag

// NewTagSet sorts and deduplicates tags into canonical form.
func NewTagSet(tags ...Tag) TagSet {
	if len(tags) == 0 {
		return nil
	}
	cp := append(TagSet(nil), tags...)
	sort.Slice(cp, func(i, j int) bool { return cp[i] < cp[j] })
	out := cp[:1]
	for _, t := range cp[1:] {
		if out[len(out)-1] != t {
			out = append(out, t)
		}
	}
	return out
}

// Contains reports whether the set includes tag t.
func (ts TagSet) Contains(t Tag) bool {
	i := sort.Search(len(ts), func(i int) bool { return ts[i] >= t })
	return i < len(ts) && ts[i] == t
}

// Equal reports set equality with other.
func (ts TagSet) Equal(other TagSet) bool {
	if len(ts) != len(other) {
		return false
	}
	for i := range ts {
		if ts[i] != other[i] {
			return false
		}
	}
	return true
}

// Subset reports whether every tag in ts is also in other.
func (ts TagSet) Subset(other TagSet) bool {
	for _, t := range ts {
		if !other.Contains(t) {
			return false
		}
	}
	return true
}

// EventKey is the sort key of an event: Lamport first (causal order), then
// stream, then offset (to order events a single stream produced together).
type EventKey struct {
	Lamport LamportTimestamp
	Stream  StreamId
	Offset  Offset
}

// Less orders keys by (lamport, stream, offset), the order bounded_forward
// and bounded_backward use when per_stream_order is false.
func (k EventKey) Less(o EventKey) bool {
	if k.Lamport != o.Lamport {
		return k.Lamport < o.Lamport
	}
	if k.Stream != o.Stream {
		return k.Stream.Less(o.Stream)
	}
	return k.Offset < o.Offset
}

// EventMeta carries the event's side information: wall-clock timestamp, the
// tags it was published with, and the app that published it.
type EventMeta struct {
	Timestamp Timestamp
	Tags      TagSet
	AppId     string
}

// Event is the unit the swarm stores, replicates and delivers: a sort key,
// metadata, and an opaque payload.
type Event struct {
	Key     EventKey
	Meta    EventMeta
	Payload []byte
}
