package nattype

import (
	"net"
	"sync"

	"github.com/raknet-go/raknet/internal/peer"
	"github.com/raknet-go/raknet/internal/transport"
	"github.com/raknet-go/raknet/internal/wire"
	"github.com/raknet-go/raknet/pkg/logger"
)

// Client runs one NAT type detection attempt against a Server reachable
// through an already-connected peer.Peer. It installs itself as that
// Peer's raw-datagram receiver, since the server's s1p2/s2p3 full-cone and
// address-restricted probes arrive unconnected on the Peer's own bound
// socket (spec §4.7 step 2). The port-restricted probe is sent from that
// same socket through Peer.SendRaw, so s3p4 sees the address the server
// already knows for this client; only the none-probe uses a dedicated
// auxiliary socket (c2).
type Client struct {
	p            *peer.Peer
	c2           *transport.Transport
	serverAddr   *net.UDPAddr
	ownGUID      uint64
	// onResult is an optional embedder-side shortcut; the canonical result
	// delivery is always the ID_NAT_TYPE_DETECTION_RESULT Packet complete
	// enqueues on p (spec §4.7's closing sentence).
	onResult     func(Result)

	mu   sync.Mutex
	done bool
}

// NewClient binds the auxiliary c2 socket and installs the raw receiver.
// At most one Client (or natpunch.Client) may be attached to a given
// peer.Peer at a time, since SetRawReceiver only holds one callback.
func NewClient(p *peer.Peer, onResult func(Result)) (*Client, error) {
	c2, err := transport.Bind("udp4", 0)
	if err != nil {
		return nil, err
	}
	c := &Client{p: p, c2: c2, ownGUID: p.GUID(), onResult: onResult}
	p.SetRawReceiver(c.onRawDatagram)
	return c, nil
}

// DetectNATType starts one attempt against serverAddr, which must already
// be a connected system on the wrapped Peer.
func (c *Client) DetectNATType(serverAddr *net.UDPAddr) error {
	c.mu.Lock()
	c.serverAddr = serverAddr
	c.done = false
	c.mu.Unlock()

	req := detectionRequest{IsRequest: true, C2Port: uint16(c.c2.LocalAddr().Port)}
	return c.p.Send(serverAddr, encodeDetectionRequest(req), wire.Medium, wire.Reliable, 0, false, 0)
}

// Tick drains the c2 socket for the none-probe; everything else arrives
// via HandleControlPacket or the raw receiver.
func (c *Client) Tick() {
	c.mu.Lock()
	inProgress := !c.done
	c.mu.Unlock()
	if !inProgress {
		return
	}
	for {
		a, ok := c.c2.Receive()
		if !ok {
			return
		}
		if len(a.Data) == 1 && Result(a.Data[0]) == ResultNone {
			c.complete(ResultNone)
			return
		}
	}
}

// HandleControlPacket processes messages arriving over the reliable
// connection to the server: the final classification, or a request to fire
// the port-restricted probe at s3p4.
func (c *Client) HandleControlPacket(pk peer.Packet) {
	c.mu.Lock()
	inProgress := !c.done
	c.mu.Unlock()
	if !inProgress {
		return
	}

	raw := append([]byte{byte(pk.ID)}, pk.Data...)
	switch pk.ID {
	case wire.IDNatTypeDetectionResult:
		result, err := decodeDetectionResult(raw)
		if err != nil {
			return
		}
		c.complete(result)
	case wire.IDNatTypeDetectionRequest:
		req, err := decodePortRestrictedRequest(raw)
		if err != nil {
			return
		}
		target := &net.UDPAddr{IP: net.ParseIP(req.S3P4Addr), Port: int(req.S3P4Port)}
		if err := c.p.SendRaw(target, encodePortRestrictedProbe(c.ownGUID)); err != nil {
			logger.Debug("nattype: client port-restricted probe: %v", err)
		}
	}
}

// onRawDatagram handles the full-cone/address-restricted probes, which
// arrive unconnected on the wrapped Peer's main socket.
func (c *Client) onRawDatagram(addr *net.UDPAddr, data []byte) {
	c.mu.Lock()
	inProgress := !c.done
	c.mu.Unlock()
	if !inProgress || len(data) == 0 {
		return
	}
	if wire.MessageID(data[0]) != wire.IDNatTypeDetectionResult {
		return
	}
	result, err := decodeTypeDetectProbe(data)
	if err != nil {
		return
	}
	c.complete(result)
}

func (c *Client) complete(result Result) {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return
	}
	c.done = true
	serverAddr := c.serverAddr
	c.mu.Unlock()

	if c.onResult != nil {
		c.onResult(result)
	}
	c.p.Deliver(&peer.Packet{Addr: serverAddr, ID: wire.IDNatTypeDetectionResult, Data: []byte{byte(result)}})

	// Symmetric and port-restricted are determined server-side once the
	// client's probe lands on s3p4, so only a client-observed result needs
	// to tell the server to stop sending further probes.
	if result != ResultPortRestricted && result != ResultSymmetric && serverAddr != nil {
		req := detectionRequest{IsRequest: false}
		if err := c.p.Send(serverAddr, encodeDetectionRequest(req), wire.High, wire.Reliable, 0, false, 0); err != nil {
			logger.Debug("nattype: client done notification: %v", err)
		}
	}
}

// Close releases the c2 socket.
func (c *Client) Close() error {
	return c.c2.Close()
}
