package peer

import (
	"net"
	"time"

	"github.com/raknet-go/raknet/internal/bitstream"
	"github.com/raknet-go/raknet/internal/transport"
	"github.com/raknet-go/raknet/internal/wire"
	"github.com/raknet-go/raknet/pkg/logger"
)

// handleDatagram routes one arrival: connected traffic goes straight to
// its reliability.Layer; anything else is handshake control traffic,
// dispatched by its leading MessageID byte. This mirrors the teacher's
// Server.listen dispatching by address to a per-session handler
// (source/server/server.go), generalized to also cover the pre-connection
// handshake phase the teacher never modeled (SA-MP sessions spring into
// existence fully formed).
func (p *Peer) handleDatagram(a transport.Arrival, now time.Time) {
	if len(a.Data) == 0 {
		return
	}
	if s, ok := p.lookupSlot(a.Addr); ok && s.connected() {
		p.handleConnectedDatagram(s, a.Data, now)
		return
	}
	if p.bans.banned(a.Addr.IP) {
		_ = p.t.Send(a.Addr, []byte{byte(wire.IDConnectionBanned)})
		return
	}
	p.handleHandshakeDatagram(a.Addr, a.Data, now)
}

func (p *Peer) handleConnectedDatagram(s *slot, data []byte, now time.Time) {
	if p.cipher != nil {
		opened, err := p.cipher.Open(data)
		if err != nil {
			logger.Debug("peer: decrypt datagram from %s: %v", s.addr, err)
			return
		}
		data = opened
	}
	messages, receipts, err := s.layer.HandleDatagram(data, now)
	if err != nil {
		logger.Debug("peer: datagram from %s: %v", s.addr, err)
		return
	}
	for _, r := range receipts {
		id := wire.IDSndReceiptAcked
		if !r.Acked {
			id = wire.IDSndReceiptLoss
		}
		p.deliver(&Packet{Addr: s.addr, ID: id, Data: serialSuffix(r.Serial)})
	}
	for _, m := range messages {
		p.handleApplicationMessage(s, m.Data, now)
	}
}

func (p *Peer) handleApplicationMessage(s *slot, data []byte, now time.Time) {
	if len(data) == 0 {
		return
	}
	switch wire.MessageID(data[0]) {
	case wire.IDConnectedPing:
		r := bitstream.NewReader(data[1:])
		ts, err := r.ReadUint64()
		if err != nil {
			return
		}
		_ = s.layer.Send(encodePong(ts), 0, wire.Unreliable, 0, false, 0)
	case wire.IDConnectedPong:
		r := bitstream.NewReader(data[1:])
		ts, err := r.ReadUint64()
		if err != nil {
			return
		}
		sentAt := time.Unix(0, int64(ts))
		s.recordRTT(now.Sub(sentAt))
	default:
		// By convention every application send carries its own MessageID
		// as the first byte, at or above IDUserPacketEnum (spec §6.4);
		// the core never interprets that byte beyond routing ping/pong
		// internally above.
		p.deliver(&Packet{Addr: s.addr, ID: wire.MessageID(data[0]), Data: data[1:]})
	}
}

// handleHandshakeDatagram is the server (acceptor) and resend-completion
// side of the four-message exchange spec §4.5 describes: REQUEST_1 ->
// REPLY_1 -> REQUEST_2 -> REPLY_2. The client (initiator) side's sends
// live in peer.go's sendRequest1/tickHandshake; this function handles the
// replies that land back on an initiator slot too, since both roles
// share the same unconnected (pre-Layer) address space.
func (p *Peer) handleHandshakeDatagram(addr *net.UDPAddr, data []byte, now time.Time) {
	switch wire.MessageID(data[0]) {
	case wire.IDOpenConnectionRequest1:
		p.acceptRequest1(addr, data, now)
	case wire.IDOpenConnectionReply1:
		p.acceptReply1(addr, data, now)
	case wire.IDOpenConnectionRequest2:
		p.acceptRequest2(addr, data, now)
	case wire.IDOpenConnectionReply2:
		p.acceptReply2(addr, data, now)
	default:
		if p.rawReceiver != nil {
			p.rawReceiver(addr, data)
		}
	}
}

func (p *Peer) acceptRequest1(addr *net.UDPAddr, data []byte, now time.Time) {
	req, err := decodeOpenConnectionRequest1(data)
	if err != nil {
		return
	}
	if p.connectionCount() >= p.cfg.MaxConnections {
		_ = p.t.Send(addr, []byte{byte(wire.IDNoFreeIncomingConnections)})
		return
	}
	s := p.getOrCreateSlot(addr)
	if s.phase != phaseNone {
		return
	}
	if s.handshakeStart.IsZero() {
		s.handshakeStart = now
	}
	localCeiling := p.cfg.LayerConfig.MTU
	mtu := negotiatedMTU(req.MTUCandidate, localCeiling, p.cfg.EncryptionKey != nil)
	s.mtu = mtu
	if err := p.t.Send(addr, encodeOpenConnectionReply1(p.guid, mtu)); err != nil {
		logger.Debug("peer: send REPLY_1 to %s: %v", addr, err)
	}
}

func (p *Peer) acceptReply1(addr *net.UDPAddr, data []byte, now time.Time) {
	s, ok := p.lookupSlot(addr)
	if !ok || s.phase != phaseSentRequest1 {
		return
	}
	reply, err := decodeOpenConnectionReply1(data)
	if err != nil {
		return
	}
	s.mtu = reply.ConfirmedMTU
	s.phase = phaseSentRequest2
	s.lastAttempt = now
	if err := p.t.Send(addr, encodeOpenConnectionRequest2(p.guid, s.mtu)); err != nil {
		logger.Debug("peer: send REQUEST_2 to %s: %v", addr, err)
	}
}

func (p *Peer) acceptRequest2(addr *net.UDPAddr, data []byte, now time.Time) {
	s, ok := p.lookupSlot(addr)
	if !ok || s.phase != phaseNone {
		return
	}
	req, err := decodeOpenConnectionRequest2(data)
	if err != nil {
		return
	}
	s.connect(req.MTU, req.ClientGUID, p.cfg.LayerConfig, sendFunc(p, addr), now)
	if err := p.t.Send(addr, encodeOpenConnectionReply2(p.guid, req.MTU, true)); err != nil {
		logger.Debug("peer: send REPLY_2 to %s: %v", addr, err)
	}
	p.deliver(&Packet{Addr: addr, ID: wire.IDNewIncomingConnection})
}

func (p *Peer) acceptReply2(addr *net.UDPAddr, data []byte, now time.Time) {
	s, ok := p.lookupSlot(addr)
	if !ok || s.phase != phaseSentRequest2 {
		return
	}
	reply, err := decodeOpenConnectionReply2(data)
	if err != nil {
		return
	}
	if !reply.Accepted {
		p.removeSlot(addr)
		p.deliver(&Packet{Addr: addr, ID: wire.IDConnectionAttemptFailed})
		return
	}
	s.connect(s.mtu, reply.ServerGUID, p.cfg.LayerConfig, sendFunc(p, addr), now)
	p.deliver(&Packet{Addr: addr, ID: wire.IDConnectionRequestAccepted})
}

// sendFunc is the reliability.Layer's write callback for one connected
// slot: raw bytes in, an outgoing datagram on the wire. When the peer is
// configured with an encryption key every connected datagram is sealed
// here, after the reliability layer has already framed it - the
// handshake itself is never encrypted.
func sendFunc(p *Peer, addr *net.UDPAddr) func([]byte) error {
	return func(b []byte) error {
		if p.cipher != nil {
			sealed, err := p.cipher.Seal(b)
			if err != nil {
				return err
			}
			b = sealed
		}
		return p.t.Send(addr, b)
	}
}
