package natpunch

import (
	"net"
	"sync"
	"time"

	"github.com/raknet-go/raknet/internal/peer"
	"github.com/raknet-go/raknet/internal/wire"
	"github.com/raknet-go/raknet/pkg/logger"
)

// attempt is the client-side ping-sequence state for one punchthrough.
type attempt struct {
	sessionID SessionID
	phase     Phase
	weAreSender bool

	targetGUID    uint64
	targetPublic  *net.UDPAddr
	targetInternal []*net.UDPAddr

	rendezvousAt time.Time
	phaseDeadline time.Time

	candidatePorts []int
	portIndex      int

	lockedAddr *net.UDPAddr
	retries    int

	lastPing time.Duration
}

// Client runs the punchthrough ping sequence against a facilitator it
// reaches through an ordinary connected peer.Peer, and sends its direct
// probe datagrams through that same Peer's bound socket via SendRaw/
// SetRawReceiver (spec §4.6 step 5).
type Client struct {
	p             *peer.Peer
	facilitator   *net.UDPAddr
	cfg           Config
	lastKnownPort int
	stride        int

	mu               sync.Mutex
	attempts         map[SessionID]*attempt
	failedOnceTarget map[uint64]bool // targetGUID -> already failed this target once, retry spent

	// onResult is an optional embedder-side shortcut. For an attempt that
	// ran, the canonical result delivery is the ID_NAT_PUNCHTHROUGH_SUCCEEDED/
	// _FAILED Packet finish enqueues on p (spec §4.6 steps 6/7), the same
	// queue every other core notification rides out through. The
	// facilitator's failure notifications handled in HandleFacilitatorPacket
	// are reported through onResult only; no Packet is enqueued for them.
	onResult func(success bool, remote *net.UDPAddr, targetGUID uint64)
}

// NewClient wires a Client against an already-connected peer.Peer whose
// Connect(facilitator) has already completed, and installs it as the
// Peer's raw-datagram receiver.
func NewClient(p *peer.Peer, facilitator *net.UDPAddr, cfg Config, onResult func(success bool, remote *net.UDPAddr, targetGUID uint64)) *Client {
	c := &Client{p: p, facilitator: facilitator, cfg: cfg, attempts: make(map[SessionID]*attempt), failedOnceTarget: make(map[uint64]bool), onResult: onResult}
	p.SetRawReceiver(c.onRawDatagram)
	return c
}

// RequestPunchthrough asks the facilitator to broker a direct path to
// targetGUID.
func (c *Client) RequestPunchthrough(targetGUID uint64) error {
	return c.p.Send(c.facilitator, encodePunchthroughRequest(targetGUID), wire.High, wire.Reliable, 0, false, 0)
}

// HandleFacilitatorPacket dispatches control messages arriving over the
// connected facilitator link (GET_MOST_RECENT_PORT queries, CONNECT_AT_TIME,
// and the four failure notifications).
func (c *Client) HandleFacilitatorPacket(pk peer.Packet) {
	raw := append([]byte{byte(pk.ID)}, pk.Data...)
	switch pk.ID {
	case wire.IDNatGetMostRecentPort:
		m, err := decodeGetMostRecentPort(raw)
		if err != nil || m.IsReply {
			return
		}
		port := c.lastKnownPort + c.stride
		reply := encodeGetMostRecentPortReply(m.SessionID, uint16(port))
		_ = c.p.Send(c.facilitator, reply, wire.High, wire.Reliable, 0, false, 0)
	case wire.IDNatConnectAtTime:
		m, err := decodeConnectAtTime(raw)
		if err != nil {
			return
		}
		c.beginAttempt(m)
	case wire.IDNatTargetNotConnected, wire.IDNatTargetUnresponsive,
		wire.IDNatConnectionToTargetLost, wire.IDNatAlreadyInProgress:
		if c.onResult != nil {
			c.onResult(false, nil, 0)
		}
	}
}

func (c *Client) beginAttempt(m connectAtTime) {
	a := &attempt{
		sessionID: m.SessionID, phase: PhaseGettingRecentPorts,
		weAreSender: m.WeAreSender, targetGUID: m.TargetGUID,
		targetPublic: m.TargetPublic, targetInternal: m.TargetInternal,
		rendezvousAt: m.RendezvousTime,
	}
	c.mu.Lock()
	c.attempts[a.sessionID] = a
	c.mu.Unlock()
}

// Tick drives every in-flight attempt's ping sequence; called from the
// embedding application's own update loop (e.g. alongside Peer.tick).
func (c *Client) Tick(now time.Time) {
	c.mu.Lock()
	active := make([]*attempt, 0, len(c.attempts))
	for _, a := range c.attempts {
		active = append(active, a)
	}
	c.mu.Unlock()

	for _, a := range active {
		c.tickAttempt(a, now)
	}
}

func (c *Client) tickAttempt(a *attempt, now time.Time) {
	switch a.phase {
	case PhaseGettingRecentPorts:
		if now.Before(a.rendezvousAt) {
			return
		}
		a.phase = PhaseTestingInternalIPs
		a.phaseDeadline = now.Add(c.spacing(a))
		for _, addr := range a.targetInternal {
			_ = c.p.SendRaw(addr, encodeEstablishUnidirectional(a.sessionID))
		}
		a.phase = PhaseWaitingForInternalIPsResponse

	case PhaseWaitingForInternalIPsResponse:
		if now.Before(a.phaseDeadline) {
			return
		}
		a.phase = PhaseTestingExternalIPs
		a.candidatePorts = candidatePorts(a.targetPublic.Port, c.stride, c.cfg.MaxPredictivePortRange)
		a.portIndex = 0
		a.phaseDeadline = now

	case PhaseTestingExternalIPs:
		if now.Before(a.phaseDeadline) {
			return
		}
		if a.portIndex >= len(a.candidatePorts) {
			a.phase = PhaseWaitingAfterAllAttempts
			a.phaseDeadline = now.Add(c.spacing(a))
			return
		}
		target := &net.UDPAddr{IP: a.targetPublic.IP, Port: a.candidatePorts[a.portIndex]}
		_ = c.p.SendRaw(target, encodeEstablishUnidirectional(a.sessionID))
		a.portIndex++
		a.retries++
		if a.retries%c.cfg.UDPSendsPerPortExternal == 0 {
			a.phaseDeadline = now.Add(c.spacing(a))
		}

	case PhaseWaitingAfterAllAttempts:
		if now.Before(a.phaseDeadline) {
			return
		}
		c.finish(a, false)

	case PhasePunchingFixedPort:
		if now.Sub(a.phaseDeadline) > c.spacing(a)*time.Duration(c.cfg.UDPSendsPerPortExternal) {
			c.finish(a, false)
			return
		}
		_ = c.p.SendRaw(a.lockedAddr, encodeEstablishBidirectional(a.sessionID))
	}
}

func (c *Client) spacing(a *attempt) time.Duration {
	if a.lastPing <= 0 {
		return 50 * time.Millisecond
	}
	return 3*a.lastPing + 50*time.Millisecond
}

func candidatePorts(base, stride, rangeN int) []int {
	ports := make([]int, 0, 2*rangeN+1)
	for i := -rangeN; i <= rangeN; i++ {
		p := base + i
		if stride != 0 {
			p = base + stride*i
		}
		if p > 0 && p < 65536 {
			ports = append(ports, p)
		}
	}
	return ports
}

// onRawDatagram handles ESTABLISH_UNIDIRECTIONAL/BIDIRECTIONAL arriving
// directly from a target address, bypassing the facilitator entirely -
// exactly the traffic the punchthrough is trying to provoke.
func (c *Client) onRawDatagram(addr *net.UDPAddr, data []byte) {
	if len(data) == 0 {
		return
	}
	switch wire.MessageID(data[0]) {
	case wire.IDNatEstablishUnidirectional:
		sid, err := decodeSessionID(data)
		if err != nil {
			return
		}
		c.mu.Lock()
		a, ok := c.attempts[sid]
		c.mu.Unlock()
		if !ok {
			return
		}
		a.lockedAddr = addr
		a.phase = PhasePunchingFixedPort
		a.phaseDeadline = time.Now()
		_ = c.p.SendRaw(addr, encodeEstablishBidirectional(sid))

	case wire.IDNatEstablishBidirectional:
		sid, err := decodeSessionID(data)
		if err != nil {
			return
		}
		c.mu.Lock()
		a, ok := c.attempts[sid]
		c.mu.Unlock()
		if !ok {
			return
		}
		a.lockedAddr = addr
		c.finish(a, true)
	}
}

func (c *Client) finish(a *attempt, success bool) {
	c.mu.Lock()
	delete(c.attempts, a.sessionID)
	c.mu.Unlock()

	if success {
		a.phase = PhaseSucceeded
		logger.Debug("natpunch: client punchthrough to guid=%d succeeded via %s", a.targetGUID, a.lockedAddr)
		c.mu.Lock()
		delete(c.failedOnceTarget, a.targetGUID)
		c.mu.Unlock()
		c.surfaceResult(success, a.lockedAddr, a.targetGUID)
		return
	}

	a.phase = PhaseFailed

	// spec §4.6 step 7: on the sending side's first failure, with
	// retry-on-failure enabled, re-request the same target once instead of
	// surfacing failure immediately.
	c.mu.Lock()
	alreadyRetried := c.failedOnceTarget[a.targetGUID]
	if c.cfg.RetryOnFailure && a.weAreSender && !alreadyRetried {
		c.failedOnceTarget[a.targetGUID] = true
	}
	c.mu.Unlock()

	if c.cfg.RetryOnFailure && a.weAreSender && !alreadyRetried {
		logger.Debug("natpunch: client punchthrough to guid=%d failed once, retrying", a.targetGUID)
		if err := c.RequestPunchthrough(a.targetGUID); err != nil {
			logger.Debug("natpunch: client retry request for guid=%d: %v", a.targetGUID, err)
		} else {
			return
		}
	}

	c.mu.Lock()
	delete(c.failedOnceTarget, a.targetGUID)
	c.mu.Unlock()
	logger.Debug("natpunch: client punchthrough to guid=%d failed", a.targetGUID)
	c.surfaceResult(success, a.lockedAddr, a.targetGUID)
}

func (c *Client) surfaceResult(success bool, remote *net.UDPAddr, targetGUID uint64) {
	if c.onResult != nil {
		c.onResult(success, remote, targetGUID)
	}
	id := wire.IDNatPunchthroughFailed
	if success {
		id = wire.IDNatPunchthroughSucceeded
	}
	c.p.Deliver(&peer.Packet{Addr: remote, ID: id, Data: encodeGUID(targetGUID)})
}
