package congestion

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateBased is a UDT-style rate controller: it estimates bottleneck
// bandwidth from packet-pair samples (spec §4.3.2 step 4) and sizes each
// tick's fresh-send budget as that estimate times the tick length (at
// least one MTU), cutting the rate multiplicatively on loss the way UDT's
// AIMD-on-packet-loss-events discipline does, rather than TCP-Reno's
// per-ACK window growth. The rate.Limiter's limit is kept equal to the
// estimate, but no tokens are ever drawn from it.
//
// spec §4.4 names both disciplines ("either a sliding-window scheme or a
// UDT-style rate-based controller") without mandating one. internal/peer
// creates a SlidingWindow for every connection, and pkg/config has no
// setting that selects RateBased.
type RateBased struct {
	mu sync.Mutex

	mtu int

	limiter *rate.Limiter
	rtoBase time.Duration

	bottleneckBytesPerSec float64
	lastPairSend          time.Time
	lastPairFirstSize     int

	lastLossTime    time.Time
	lastACKSendTime time.Time
	ackSendInterval time.Duration
}

// NewRateBased constructs a RateBased controller for the given MTU and an
// initial bandwidth guess (bytes/sec) before any packet-pair sample lands.
func NewRateBased(mtu int, initialBytesPerSec float64) *RateBased {
	if initialBytesPerSec <= 0 {
		initialBytesPerSec = float64(mtu) * 100 // ~100 datagrams/sec guess
	}
	return &RateBased{
		mtu:                   mtu,
		limiter:               rate.NewLimiter(rate.Limit(initialBytesPerSec), mtu*8),
		rtoBase:               150 * time.Millisecond,
		bottleneckBytesPerSec: initialBytesPerSec,
		ackSendInterval:       20 * time.Millisecond,
	}
}

func (r *RateBased) OnSendBytes(now time.Time, n int) {
	// The send budget is computed from the bandwidth estimate alone, so
	// sent bytes need no accounting here; the limiter's tokens are not
	// consumed anywhere.
}

func (r *RateBased) OnGotPacket(seqNum uint32, isContinuousSend bool, now time.Time, sizeBytes int) int {
	return 0 // reorder/gap detection for NAKs is driven by the reliability
	// layer's own hole queue on the data path; the rate controller only
	// needs arrival timing for bandwidth estimation, not sequence tracking.
}

// OnPacketPairSample feeds a bottleneck-bandwidth estimate derived from the
// arrival-time delta between the two datagrams of a packet pair, per spec
// §4.3.2 step 4 and the GLOSSARY's "Packet pair" entry.
func (r *RateBased) OnPacketPairSample(firstSize, secondSize int, arrivalDelta time.Duration) {
	if arrivalDelta <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	sample := float64(secondSize) / arrivalDelta.Seconds()
	// Exponential moving average smooths a single noisy sample without
	// letting one outlier dictate the whole send rate.
	r.bottleneckBytesPerSec = 0.8*r.bottleneckBytesPerSec + 0.2*sample
	r.limiter.SetLimit(rate.Limit(r.bottleneckBytesPerSec))
}

func (r *RateBased) OnAck(now time.Time, rtt time.Duration, sampleHasBandAS bool, b, as float64, totalUserDataBytesAcked int, bandwidthExceeded bool, seqNum uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sampleHasBandAS && as > 0 {
		r.bottleneckBytesPerSec = 0.9*r.bottleneckBytesPerSec + 0.1*as
		r.limiter.SetLimit(rate.Limit(r.bottleneckBytesPerSec))
	}
	if rtt > 0 {
		r.rtoBase = (r.rtoBase*3 + rtt) / 4
	}
}

func (r *RateBased) OnNAK(now time.Time, seqNum uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if now.Sub(r.lastLossTime) < r.rtoBase {
		return // already backed off for this loss episode
	}
	r.bottleneckBytesPerSec *= 0.5
	if r.bottleneckBytesPerSec < float64(r.mtu) {
		r.bottleneckBytesPerSec = float64(r.mtu)
	}
	r.limiter.SetLimit(rate.Limit(r.bottleneckBytesPerSec))
	r.lastLossTime = now
}

func (r *RateBased) GetTransmissionBandwidth(now time.Time, dt time.Duration, bytesInFlight int, continuousSend bool) int {
	r.mu.Lock()
	budget := r.bottleneckBytesPerSec * dt.Seconds()
	r.mu.Unlock()
	if budget < float64(r.mtu) {
		budget = float64(r.mtu)
	}
	return int(budget)
}

func (r *RateBased) GetRetransmissionBandwidth(now time.Time, dt time.Duration, bytesInFlight int, continuousSend bool) int {
	return r.mtu * 8
}

func (r *RateBased) GetRTOForRetransmission(timesSent int) time.Duration {
	r.mu.Lock()
	rto := r.rtoBase
	r.mu.Unlock()
	for i := 1; i < timesSent && i < 6; i++ {
		rto *= 2
	}
	if rto > 3*time.Second {
		rto = 3 * time.Second
	}
	return rto
}

func (r *RateBased) ShouldSendACKs(now time.Time, dt time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if now.Sub(r.lastACKSendTime) >= r.ackSendInterval {
		r.lastACKSendTime = now
		return true
	}
	return false
}

func (r *RateBased) GetMTU() int { return r.mtu }
