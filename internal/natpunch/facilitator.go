package natpunch

import (
	"net"
	"sync"
	"time"

	"github.com/raknet-go/raknet/internal/peer"
	"github.com/raknet-go/raknet/internal/wire"
	"github.com/raknet-go/raknet/pkg/logger"
)

type pendingAttempt struct {
	sessionID    SessionID
	senderGUID   uint64
	targetGUID   uint64
	start        time.Time
	senderPort   uint16
	targetPort   uint16
	senderReady  bool
	targetReady  bool
}

func (a *pendingAttempt) bothReplied() bool { return a.senderReady && a.targetReady }

// Facilitator runs alongside a publicly reachable peer.Peer and brokers
// punchthrough attempts between two of its connected clients (spec §4.6).
// Per-user readiness and the pending-attempt table are guarded by the
// Facilitator's own mutex.
type Facilitator struct {
	p   *peer.Peer
	cfg Config

	mu       sync.Mutex // guards pending/ready, since HandlePacket may be invoked from a plugin callback off the update goroutine in some embeddings
	pending  map[SessionID]*pendingAttempt
	byPair   map[[2]uint64]SessionID
	readyFor map[uint64]bool
}

// NewFacilitator wraps an already-started peer.Peer.
func NewFacilitator(p *peer.Peer, cfg Config) *Facilitator {
	return &Facilitator{
		p:        p,
		cfg:      cfg,
		pending:  make(map[SessionID]*pendingAttempt),
		byPair:   make(map[[2]uint64]SessionID),
		readyFor: make(map[uint64]bool),
	}
}

func pairKey(a, b uint64) [2]uint64 {
	if a < b {
		return [2]uint64{a, b}
	}
	return [2]uint64{b, a}
}

func (f *Facilitator) ready(guid uint64) bool {
	r, ok := f.readyFor[guid]
	return !ok || r
}

func (f *Facilitator) guidAddr(guid uint64) (peer.SystemInfo, bool) {
	for _, s := range f.p.GetSystemList() {
		if s.GUID == guid {
			return s, true
		}
	}
	return peer.SystemInfo{}, false
}

// HandlePacket dispatches one arriving NAT-relevant packet. Callers -
// typically the embedding Peer's own plugin or update loop - should route
// every packet with a wire.MessageID in the NAT_* range here.
func (f *Facilitator) HandlePacket(pk peer.Packet, senderGUID uint64) {
	switch pk.ID {
	case wire.IDNatPunchthroughRequest:
		f.onRequest(pk, senderGUID)
	case wire.IDNatGetMostRecentPort:
		f.onRecentPortReply(pk, senderGUID)
	}
}

func (f *Facilitator) onRequest(pk peer.Packet, senderGUID uint64) {
	targetGUID, err := decodePunchthroughRequest(append([]byte{byte(pk.ID)}, pk.Data...))
	if err != nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	target, ok := f.guidAddr(targetGUID)
	if !ok {
		f.send(pk.Addr, []byte{byte(wire.IDNatTargetNotConnected)})
		return
	}
	key := pairKey(senderGUID, targetGUID)
	if _, inProgress := f.byPair[key]; inProgress {
		f.send(pk.Addr, []byte{byte(wire.IDNatAlreadyInProgress)})
		return
	}
	if !f.ready(senderGUID) || !f.ready(targetGUID) {
		f.send(pk.Addr, []byte{byte(wire.IDNatAlreadyInProgress)})
		return
	}

	sid := NewSessionID()
	attempt := &pendingAttempt{sessionID: sid, senderGUID: senderGUID, targetGUID: targetGUID, start: time.Now()}
	f.pending[sid] = attempt
	f.byPair[key] = sid
	f.readyFor[senderGUID] = false
	f.readyFor[targetGUID] = false

	f.send(pk.Addr, encodeGetMostRecentPortQuery(sid))
	f.send(target.Addr, encodeGetMostRecentPortQuery(sid))
}

func (f *Facilitator) onRecentPortReply(pk peer.Packet, senderGUID uint64) {
	raw := append([]byte{byte(pk.ID)}, pk.Data...)
	m, err := decodeGetMostRecentPort(raw)
	if err != nil || !m.IsReply {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	attempt, ok := f.pending[m.SessionID]
	if !ok {
		return
	}
	switch senderGUID {
	case attempt.senderGUID:
		attempt.senderPort = m.Port
		attempt.senderReady = true
	case attempt.targetGUID:
		attempt.targetPort = m.Port
		attempt.targetReady = true
	default:
		return
	}
	if !attempt.bothReplied() {
		return
	}
	f.completeAttempt(attempt)
}

func (f *Facilitator) completeAttempt(attempt *pendingAttempt) {
	sender, senderOK := f.guidAddr(attempt.senderGUID)
	target, targetOK := f.guidAddr(attempt.targetGUID)
	if !senderOK || !targetOK {
		f.abandon(attempt, wire.IDNatConnectionToTargetLost)
		return
	}

	now := time.Now()
	rendezvous := RendezvousTime(now, sender.AverageRTT, target.AverageRTT)

	f.send(sender.Addr, encodeConnectAtTime(connectAtTime{
		SessionID: attempt.sessionID, RendezvousTime: rendezvous,
		TargetPublic: target.Addr, TargetGUID: attempt.targetGUID, WeAreSender: true,
	}))
	f.send(target.Addr, encodeConnectAtTime(connectAtTime{
		SessionID: attempt.sessionID, RendezvousTime: rendezvous,
		TargetPublic: sender.Addr, TargetGUID: attempt.senderGUID, WeAreSender: false,
	}))

	delete(f.pending, attempt.sessionID)
	delete(f.byPair, pairKey(attempt.senderGUID, attempt.targetGUID))
	f.readyFor[attempt.senderGUID] = true
	f.readyFor[attempt.targetGUID] = true
}

func (f *Facilitator) abandon(attempt *pendingAttempt, notify wire.MessageID) {
	if s, ok := f.guidAddr(attempt.senderGUID); ok {
		f.send(s.Addr, []byte{byte(notify)})
	}
	delete(f.pending, attempt.sessionID)
	delete(f.byPair, pairKey(attempt.senderGUID, attempt.targetGUID))
	f.readyFor[attempt.senderGUID] = true
	f.readyFor[attempt.targetGUID] = true
}

// ExpireStale drops attempts that have sat unresolved past
// UnresponsiveTimeout, notifying the requesting side with
// NAT_TARGET_UNRESPONSIVE (spec §4.6's failure notification table).
func (f *Facilitator) ExpireStale(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, attempt := range f.pending {
		if now.Sub(attempt.start) > f.cfg.UnresponsiveTimeout {
			f.abandon(attempt, wire.IDNatTargetUnresponsive)
		}
	}
}

func (f *Facilitator) send(addr *net.UDPAddr, data []byte) {
	if err := f.p.Send(addr, data, wire.High, wire.Reliable, 0, false, 0); err != nil {
		logger.Debug("natpunch: facilitator send to %s: %v", addr, err)
	}
}
