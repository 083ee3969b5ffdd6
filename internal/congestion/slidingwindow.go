package congestion

import (
	"sync"
	"time"
)

// SlidingWindow is an AIMD, TCP-Reno-style controller: slow start doubles
// the congestion window every RTT until the first loss or until the window
// reaches the slow-start threshold (64 MTUs initially), then congestion
// avoidance grows it by one MTU per RTT and halves it on loss. This is the
// default controller spec §4.4 alludes to ("a sliding-window scheme").
//
// Grounded on the call shape original_source/Source/ReliabilityLayer.cpp
// expects of its CCRakNetSlidingWindow companion (congestionManager.Get*
// calls around its retransmission and fresh-send passes, see lines 1506,
// 1565-1608 there) — the AIMD discipline itself is the standard TCP
// congestion-avoidance algorithm, not lifted from any one file.
type SlidingWindow struct {
	mu sync.Mutex

	mtu int

	cwndBytes       float64
	ssthreshBytes   float64
	inSlowStart     bool
	lastACKTime     time.Time
	lastNAKTime     time.Time
	smoothedRTT     time.Duration
	rttVariance     time.Duration
	lastContinuousSeq  uint32
	haveLastSeq        bool
	lastACKSendTime    time.Time
	ackSendInterval    time.Duration
}

// NewSlidingWindow constructs a SlidingWindow controller for the given MTU,
// starting in slow start with an initial window of a few MTUs, matching
// conventional TCP initial-window guidance.
func NewSlidingWindow(mtu int) *SlidingWindow {
	return &SlidingWindow{
		mtu:             mtu,
		cwndBytes:       float64(mtu) * 4,
		ssthreshBytes:   float64(mtu) * 64,
		inSlowStart:     true,
		smoothedRTT:     100 * time.Millisecond,
		rttVariance:     50 * time.Millisecond,
		ackSendInterval: 20 * time.Millisecond,
	}
}

func (s *SlidingWindow) OnSendBytes(now time.Time, n int) {
	// Byte accounting for this scheme lives in bytesInFlight, tracked by the
	// caller (the reliability layer) and passed back into GetTransmission/
	// RetransmissionBandwidth; SlidingWindow itself only needs to know the
	// window size, not a running total.
}

func (s *SlidingWindow) OnGotPacket(seqNum uint32, isContinuousSend bool, now time.Time, sizeBytes int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.haveLastSeq {
		s.lastContinuousSeq = seqNum
		s.haveLastSeq = true
		return 0
	}
	expected := s.lastContinuousSeq + 1
	skipped := 0
	if seqNum >= expected {
		skipped = int(seqNum - expected)
		s.lastContinuousSeq = seqNum
	}
	return skipped
}

func (s *SlidingWindow) OnAck(now time.Time, rtt time.Duration, sampleHasBandAS bool, b, as float64, totalUserDataBytesAcked int, bandwidthExceeded bool, seqNum uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rtt > 0 {
		delta := rtt - s.smoothedRTT
		if delta < 0 {
			delta = -delta
		}
		s.rttVariance = (3*s.rttVariance + delta) / 4
		s.smoothedRTT = (7*s.smoothedRTT + rtt) / 8
	}

	if s.inSlowStart {
		s.cwndBytes += float64(totalUserDataBytesAcked)
		if s.cwndBytes >= s.ssthreshBytes {
			s.inSlowStart = false
		}
	} else {
		// Congestion avoidance: roughly +1 MTU per window-worth of bytes acked.
		if s.cwndBytes > 0 {
			s.cwndBytes += float64(s.mtu) * float64(totalUserDataBytesAcked) / s.cwndBytes
		}
	}
	s.lastACKTime = now
}

func (s *SlidingWindow) OnNAK(now time.Time, seqNum uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ssthreshBytes = s.cwndBytes / 2
	if s.ssthreshBytes < float64(s.mtu)*2 {
		s.ssthreshBytes = float64(s.mtu) * 2
	}
	s.cwndBytes = s.ssthreshBytes
	s.inSlowStart = false
	s.lastNAKTime = now
}

func (s *SlidingWindow) GetTransmissionBandwidth(now time.Time, dt time.Duration, bytesInFlight int, continuousSend bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	available := int(s.cwndBytes) - bytesInFlight
	if available < 0 {
		return 0
	}
	return available
}

func (s *SlidingWindow) GetRetransmissionBandwidth(now time.Time, dt time.Duration, bytesInFlight int, continuousSend bool) int {
	// Retransmits get their own budget independent of the fresh-send window
	// so that loss recovery is not itself starved by congestion control,
	// matching the two-budget split spec §4.3.2 describes.
	return s.mtu * 8
}

func (s *SlidingWindow) GetRTOForRetransmission(timesSent int) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	rto := s.smoothedRTT + 4*s.rttVariance
	if rto < 100*time.Millisecond {
		rto = 100 * time.Millisecond
	}
	// Exponential backoff per additional attempt, capped to avoid unbounded growth.
	for i := 1; i < timesSent && i < 6; i++ {
		rto *= 2
	}
	if rto > 3*time.Second {
		rto = 3 * time.Second
	}
	return rto
}

func (s *SlidingWindow) ShouldSendACKs(now time.Time, dt time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Sub(s.lastACKSendTime) >= s.ackSendInterval {
		s.lastACKSendTime = now
		return true
	}
	return false
}

func (s *SlidingWindow) GetMTU() int { return s.mtu }

// GetIsInSlowStart reports whether the controller is still in slow start.
// It is not part of the Controller interface and the reliability layer does
// not call it: the layer sets the datagram header's needsBAndAs flag
// (spec §6.1) on every data datagram.
func (s *SlidingWindow) GetIsInSlowStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inSlowStart
}
