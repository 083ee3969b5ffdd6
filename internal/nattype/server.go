package nattype

import (
	"net"
	"sync"
	"time"

	"github.com/raknet-go/raknet/internal/peer"
	"github.com/raknet-go/raknet/internal/transport"
	"github.com/raknet-go/raknet/internal/wire"
	"github.com/raknet-go/raknet/pkg/logger"
)

type probeState int

const (
	stateNone probeState = iota
	stateTestingNone1
	stateTestingNone2
	stateTestingFullCone1
	stateTestingFullCone2
	stateTestingAddressRestricted1
	stateTestingAddressRestricted2
	stateTestingPortRestricted1
	stateTestingPortRestricted2
	stateExhausted
)

type attempt struct {
	addr          *net.UDPAddr
	guid          uint64
	c2Port        uint16
	state         probeState
	nextStateTime time.Time
	interval      time.Duration
}

// Server runs the four-socket NAT type detection probe (spec §4.7) for
// clients connected to an accompanying peer.Peer. s1p2 shares that Peer's
// IP on a different port; s2p3, s3p4, and s4p5 are bound to distinct local
// IPs, so a client's receipt of (or failure to receive) each probe reveals
// which addresses/ports its NAT will forward traffic from.
type Server struct {
	p    *peer.Peer
	cfg  Config
	s1p2 *transport.Transport
	s2p3 *transport.Transport
	s3p4 *transport.Transport
	s4p5 *transport.Transport

	mu       sync.Mutex
	attempts map[uint64]*attempt
}

// NewServer binds the four auxiliary sockets (s1p2 reuses p's own IP) and
// starts no background goroutine of its own; callers drive it via Tick from
// their own update loop, the same pattern peer.Peer uses internally.
func NewServer(p *peer.Peer, cfg Config, ip2, ip3, ip4 string) (*Server, error) {
	s1p2, err := transport.BindAddr("udp4", p.LocalAddr().IP.String(), 0)
	if err != nil {
		return nil, err
	}
	s2p3, err := transport.BindAddr("udp4", ip2, 0)
	if err != nil {
		s1p2.Close()
		return nil, err
	}
	s3p4, err := transport.BindAddr("udp4", ip3, 0)
	if err != nil {
		s1p2.Close()
		s2p3.Close()
		return nil, err
	}
	s4p5, err := transport.BindAddr("udp4", ip4, 0)
	if err != nil {
		s1p2.Close()
		s2p3.Close()
		s3p4.Close()
		return nil, err
	}
	return &Server{
		p: p, cfg: cfg,
		s1p2: s1p2, s2p3: s2p3, s3p4: s3p4, s4p5: s4p5,
		attempts: make(map[uint64]*attempt),
	}, nil
}

// Close releases the four auxiliary sockets this Server bound.
func (s *Server) Close() error {
	s.s1p2.Close()
	s.s2p3.Close()
	s.s3p4.Close()
	return s.s4p5.Close()
}

// HandleControlPacket processes a detectionRequest arriving over the
// reliable connection, from the accompanying peer.Peer's plugin dispatch or
// Receive loop.
func (s *Server) HandleControlPacket(pk peer.Packet, senderGUID uint64, rtt time.Duration) {
	if pk.ID != wire.IDNatTypeDetectionRequest {
		return
	}
	req, err := decodeDetectionRequest(append([]byte{byte(pk.ID)}, pk.Data...))
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !req.IsRequest {
		delete(s.attempts, senderGUID)
		return
	}
	if _, inProgress := s.attempts[senderGUID]; inProgress {
		return
	}
	s.attempts[senderGUID] = &attempt{
		addr: pk.Addr, guid: senderGUID, c2Port: req.C2Port,
		state: stateNone, nextStateTime: time.Now(), interval: StateInterval(s.cfg, rtt),
	}
}

// Tick advances every in-progress attempt's state machine and drains
// s3p4's queue for incoming port-restricted probes.
func (s *Server) Tick(now time.Time) {
	s.drainPortRestrictedProbes()

	s.mu.Lock()
	guids := make([]uint64, 0, len(s.attempts))
	for g := range s.attempts {
		guids = append(guids, g)
	}
	s.mu.Unlock()

	for _, g := range guids {
		s.advance(g, now)
	}
}

func (s *Server) drainPortRestrictedProbes() {
	for {
		a, ok := s.s3p4.Receive()
		if !ok {
			return
		}
		guid, err := decodePortRestrictedProbe(a.Data)
		if err != nil {
			continue
		}
		s.mu.Lock()
		att, ok := s.attempts[guid]
		if !ok {
			s.mu.Unlock()
			continue
		}
		delete(s.attempts, guid)
		s.mu.Unlock()

		result := ResultSymmetric
		if att.addr.IP.Equal(a.Addr.IP) && att.addr.Port == a.Addr.Port {
			result = ResultPortRestricted
		}
		s.sendResult(att.addr, result)
	}
}

func (s *Server) advance(guid uint64, now time.Time) {
	s.mu.Lock()
	att, ok := s.attempts[guid]
	if !ok || now.Before(att.nextStateTime) {
		s.mu.Unlock()
		return
	}
	att.state++
	att.nextStateTime = now.Add(att.interval)
	state := att.state
	addr := att.addr
	c2Port := att.c2Port
	s.mu.Unlock()

	switch state {
	case stateTestingNone1, stateTestingNone2:
		target := &net.UDPAddr{IP: addr.IP, Port: int(c2Port)}
		if err := s.s4p5.Send(target, encodeNoneProbe()); err != nil {
			logger.Debug("nattype: s4p5 probe to %s: %v", target, err)
		}
	case stateTestingFullCone1, stateTestingFullCone2:
		// Different address, same port the client used to reach the main
		// connection: if it arrives, the client's NAT forwards from any
		// external address to that port (full-cone).
		if err := s.s2p3.Send(addr, encodeTypeDetectProbe(ResultFullCone)); err != nil {
			logger.Debug("nattype: s2p3 probe to %s: %v", addr, err)
		}
	case stateTestingAddressRestricted1, stateTestingAddressRestricted2:
		if err := s.s1p2.Send(addr, encodeTypeDetectProbe(ResultAddressRestricted)); err != nil {
			logger.Debug("nattype: s1p2 probe to %s: %v", addr, err)
		}
	case stateTestingPortRestricted1, stateTestingPortRestricted2:
		req := portRestrictedRequest{S3P4Addr: s.s3p4.LocalAddr().IP.String(), S3P4Port: uint16(s.s3p4.LocalAddr().Port)}
		if err := s.p.Send(addr, encodePortRestrictedRequest(req), wire.High, wire.Reliable, 0, false, 0); err != nil {
			logger.Debug("nattype: port-restricted request to %s: %v", addr, err)
		}
	default:
		s.mu.Lock()
		delete(s.attempts, guid)
		s.mu.Unlock()
		s.sendResult(addr, ResultSymmetric)
	}
}

func (s *Server) sendResult(addr *net.UDPAddr, result Result) {
	if err := s.p.Send(addr, encodeDetectionResult(result), wire.High, wire.Reliable, 0, false, 0); err != nil {
		logger.Debug("nattype: send result to %s: %v", addr, err)
	}
}
