// Package p2p implements the authenticated peer-to-peer RPC surface (spec
// §4.K): two streaming-response protocols (admin, events) and one
// request/response protocol (bulk), each carried over its own libp2p
// stream protocol ID with authorized_keys gating who may open one.
package p2p

import (
	"fmt"
	"io"

	"banyanswarm/core"

	"github.com/fxamacker/cbor/v2"
	ic "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-msgio"
)

const (
	ProtocolAdmin  protocol.ID = "/banyanswarm/admin/1.0.0"
	ProtocolEvents protocol.ID = "/banyanswarm/events/1.0.0"
	ProtocolBulk   protocol.ID = "/banyanswarm/bulk/1.0.0"
)

// frameConn wraps one libp2p stream with varint-delimited CBOR framing
// (via go-msgio, already pulled in transitively by libp2p's own
// transports), so a single stream can carry many discrete messages without
// either side needing to know each message's length in advance.
type frameConn struct {
	w msgio.Writer
	r msgio.Reader
}

func newFrameConn(s network.Stream) *frameConn {
	return &frameConn{w: msgio.NewVarintWriter(s), r: msgio.NewVarintReader(s)}
}

func (c *frameConn) WriteMsg(v interface{}) error {
	data, err := cbor.Marshal(v)
	if err != nil {
		return fmt.Errorf("p2p: encoding frame: %w", err)
	}
	return c.w.WriteMsg(data)
}

func (c *frameConn) ReadMsg(v interface{}) error {
	data, err := c.r.ReadMsg()
	if err != nil {
		if err == io.EOF {
			return io.EOF
		}
		return fmt.Errorf("p2p: reading frame: %w", err)
	}
	defer c.r.ReleaseMsg(data)
	if err := cbor.Unmarshal(data, v); err != nil {
		return fmt.Errorf("p2p: decoding frame: %w", err)
	}
	return nil
}

// peerNodeId derives the core.NodeId of the peer at the other end of s from
// its authenticated libp2p public key (an Ed25519 key, so its raw bytes are
// exactly the 32-byte NodeId).
func peerNodeId(s network.Stream) (core.NodeId, error) {
	var id core.NodeId
	pub := s.Conn().RemotePublicKey()
	if pub == nil {
		return id, fmt.Errorf("p2p: stream has no authenticated remote public key")
	}
	if pub.Type() != ic.Ed25519 {
		return id, fmt.Errorf("p2p: remote public key is not Ed25519")
	}
	raw, err := pub.Raw()
	if err != nil {
		return id, fmt.Errorf("p2p: reading remote public key: %w", err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("p2p: unexpected Ed25519 public key length %d", len(raw))
	}
	copy(id[:], raw)
	return id, nil
}
