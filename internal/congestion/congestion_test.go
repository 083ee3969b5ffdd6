package congestion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestBytesInFlightNeverNegative exercises the law from spec §8: "The
// congestion-controller's onSendBytes/onAck pair preserves: bytesInFlight
// >= 0." bytesInFlight is tracked by the caller (the reliability layer) but
// the controller must never authorize sending more than it tracks as
// available, which would drive the caller's accounting negative.
func TestBytesInFlightNeverNegative(t *testing.T) {
	for _, ctor := range []func() Controller{
		func() Controller { return NewSlidingWindow(1200) },
		func() Controller { return NewRateBased(1200, 0) },
	} {
		c := ctor()
		bytesInFlight := 0
		now := time.Unix(0, 0)
		for i := 0; i < 50; i++ {
			budget := c.GetTransmissionBandwidth(now, 50*time.Millisecond, bytesInFlight, true)
			require.GreaterOrEqual(t, budget, 0, "negative transmission budget")
			sent := budget
			bytesInFlight += sent
			c.OnSendBytes(now, sent)
			if i%3 == 0 {
				c.OnAck(now, 40*time.Millisecond, true, 1000, 1000, sent, false, uint32(i))
				bytesInFlight -= sent
			}
			require.GreaterOrEqual(t, bytesInFlight, 0, "bytesInFlight went negative")
			now = now.Add(50 * time.Millisecond)
		}
	}
}

func TestSlidingWindowNAKHalvesWindow(t *testing.T) {
	sw := NewSlidingWindow(1200)
	before := sw.cwndBytes
	sw.OnNAK(time.Now(), 1)
	require.Less(t, sw.cwndBytes, before, "cwnd should shrink after a NAK")
	require.False(t, sw.inSlowStart, "expected slow start to end after a NAK")
}

func TestRateBasedPacketPairKeepsEstimatePositive(t *testing.T) {
	rb := NewRateBased(1200, 100000)
	rb.OnPacketPairSample(1200, 1200, 2*time.Millisecond)
	require.Greater(t, rb.bottleneckBytesPerSec, 0.0, "bottleneck estimate should stay positive")
}

func TestRTOGrowsWithRetries(t *testing.T) {
	sw := NewSlidingWindow(1200)
	first := sw.GetRTOForRetransmission(1)
	later := sw.GetRTOForRetransmission(4)
	require.Greater(t, later, first, "RTO should grow with retry count")
}
