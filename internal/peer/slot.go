package peer

import (
	"net"
	"time"

	"github.com/raknet-go/raknet/internal/bitstream"
	"github.com/raknet-go/raknet/internal/congestion"
	"github.com/raknet-go/raknet/internal/reliability"
	"github.com/raknet-go/raknet/internal/wire"
)

type handshakePhase int

const (
	phaseNone handshakePhase = iota
	phaseSentRequest1
	phaseSentRequest2
	phaseConnected
)

const handshakeRetryInterval = 500 * time.Millisecond
const handshakeTimeout = 5 * time.Second

// mtuCandidates are tried largest-first on the client side of a handshake,
// mirroring original RakNet's descending MTU probe ladder so the first
// candidate that survives a hostile path (e.g. a tunnel with a low MTU)
// still completes the handshake instead of failing outright.
var mtuCandidates = []int{1492, 1200, 576}

// slot holds everything the Peer tracks for one remote address: either a
// half-open handshake or a live reliability.Layer. One slot per remote;
// the update goroutine is the only thing that touches slot fields.
type slot struct {
	addr *net.UDPAddr

	phase           handshakePhase
	isInitiator     bool // we called Connect; false if we're the handshake acceptor
	mtuAttemptIndex int
	lastAttempt     time.Time
	handshakeStart  time.Time

	remoteGUID uint64
	mtu        uint16

	layer *reliability.Layer

	rtts     []time.Duration
	rttIndex int

	lastPingSent time.Time
}

const rttRingSize = 16

func newSlot(addr *net.UDPAddr) *slot {
	return &slot{addr: addr, rtts: make([]time.Duration, 0, rttRingSize)}
}

func (s *slot) recordRTT(d time.Duration) {
	if len(s.rtts) < rttRingSize {
		s.rtts = append(s.rtts, d)
	} else {
		s.rtts[s.rttIndex] = d
	}
	s.rttIndex = (s.rttIndex + 1) % rttRingSize
}

func (s *slot) averageRTT() time.Duration {
	if len(s.rtts) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range s.rtts {
		total += d
	}
	return total / time.Duration(len(s.rtts))
}

func (s *slot) connect(mtu uint16, guid uint64, cfg reliability.Config, send func([]byte) error, now time.Time) {
	s.mtu = mtu
	s.remoteGUID = guid
	cfg.MTU = int(mtu)
	s.layer = reliability.NewLayer(cfg, congestion.NewSlidingWindow(int(mtu)), send, now)
	s.phase = phaseConnected
}

func (s *slot) connected() bool { return s.phase == phaseConnected }

func (s *slot) pingPayload(now time.Time) []byte {
	return encodePing(now)
}

func encodePing(now time.Time) []byte {
	w := bitstream.NewWriter()
	w.WriteByte(byte(wire.IDConnectedPing))
	w.WriteUint64(uint64(now.UnixNano()))
	return w.Bytes()
}

func encodePong(echoTimestamp uint64) []byte {
	w := bitstream.NewWriter()
	w.WriteByte(byte(wire.IDConnectedPong))
	w.WriteUint64(echoTimestamp)
	return w.Bytes()
}
