package reliability

import (
	"math/rand"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/raknet-go/raknet/internal/congestion"
	"github.com/raknet-go/raknet/internal/wire"
)

func TestReliabilityScenarios(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Reliability Layer Scenarios")
}

// lossyLoopback is loopback (layer_test.go) plus an independent, seeded
// chance of dropping a datagram before it reaches the peer, so a scenario
// can exercise resend and reordering behavior at a known loss rate without
// a real socket.
type lossyLoopback struct {
	peer      *Layer
	delivered *[]*InternalPacket
	rng       *rand.Rand
	lossPct   int
}

func (l *lossyLoopback) sendTo(data []byte) error {
	if l.rng.Intn(100) < l.lossPct {
		return nil // dropped on the wire
	}
	msgs, _, err := l.peer.HandleDatagram(append([]byte(nil), data...), time.Now())
	*l.delivered = append(*l.delivered, msgs...)
	return err
}

func newLossyLinkedLayers(now time.Time, lossPct int, seed int64) (a, b *Layer, deliveredToA, deliveredToB *[]*InternalPacket) {
	deliveredToA = &[]*InternalPacket{}
	deliveredToB = &[]*InternalPacket{}
	a = NewLayer(DefaultConfig(), congestion.NewSlidingWindow(1400), nil, now)
	b = NewLayer(DefaultConfig(), congestion.NewSlidingWindow(1400), nil, now)
	a.send = (&lossyLoopback{peer: b, delivered: deliveredToB, rng: rand.New(rand.NewSource(seed)), lossPct: lossPct}).sendTo
	b.send = (&lossyLoopback{peer: a, delivered: deliveredToA, rng: rand.New(rand.NewSource(seed + 1)), lossPct: lossPct}).sendTo
	return a, b, deliveredToA, deliveredToB
}

// pumpUntil advances both layers' clocks in fixed steps, driving resends and
// ACKs each tick, until cond reports done or the step budget is spent.
func pumpUntil(a, b *Layer, start time.Time, step time.Duration, maxSteps int, cond func() bool) {
	now := start
	for i := 0; i < maxSteps && !cond(); i++ {
		now = now.Add(step)
		a.Update(now)
		b.Update(now)
	}
}

var _ = Describe("reliable-ordered delivery under packet loss", func() {
	It("delivers every message in submission order despite 30% loss", func() {
		now := time.Now()
		a, b, _, deliveredToB := newLossyLinkedLayers(now, 30, 1)

		const n = 20
		for i := 0; i < n; i++ {
			Expect(a.Send([]byte{byte(i)}, wire.Medium, wire.ReliableOrdered, 0, false, 0)).To(Succeed())
		}

		pumpUntil(a, b, now, 50*time.Millisecond, 2000, func() bool {
			return len(*deliveredToB) >= n
		})

		Expect(*deliveredToB).To(HaveLen(n))
		for i, p := range *deliveredToB {
			Expect(p.Data).To(Equal([]byte{byte(i)}))
		}
	})
})

var _ = Describe("unreliable send with an ack receipt under total loss", func() {
	It("reports the receipt as lost once the receipt window expires", func() {
		now := time.Now()
		a, b, _, _ := newLossyLinkedLayers(now, 100, 2)

		Expect(a.Send([]byte("ping"), wire.Immediate, wire.UnreliableWithAckReceipt, 0, true, 7)).To(Succeed())

		var receipts []Receipt
		deadline := now
		for i := 0; i < 200 && len(receipts) == 0; i++ {
			deadline = deadline.Add(50 * time.Millisecond)
			got, err := a.Update(deadline)
			Expect(err).NotTo(HaveOccurred())
			receipts = append(receipts, got...)
			if _, err := b.Update(deadline); err != nil {
				Expect(err).NotTo(HaveOccurred())
			}
		}

		Expect(receipts).To(ContainElement(Receipt{Serial: 7, Acked: false}))
	})
})

var _ = Describe("split-packet progress notifications", func() {
	It("reports strictly increasing fragment progress before the reassembled message completes", func() {
		now := time.Now()
		a, _, _, deliveredToB := newLossyLinkedLayers(now, 0, 3)
		a.cfg.MTU = 128

		payload := make([]byte, 900)
		for i := range payload {
			payload[i] = byte(i % 250)
		}
		Expect(a.Send(payload, wire.Low, wire.Reliable, 0, false, 0)).To(Succeed())

		deadline := now
		for i := 0; i < 100 && len(*deliveredToB) == 0; i++ {
			deadline = deadline.Add(10 * time.Millisecond)
			_, err := a.Update(deadline)
			Expect(err).NotTo(HaveOccurred())
		}

		Expect(*deliveredToB).ToNot(BeEmpty())
		// Every notification shorter than the original payload is a progress
		// update (IDDownloadProgress + split id + two counts); the one
		// matching the payload length is the reassembled message itself.
		progressNotifications := 0
		lastReceived := 0
		var reassembled *InternalPacket
		for _, p := range *deliveredToB {
			if len(p.Data) == len(payload) {
				reassembled = p
				continue
			}
			Expect(wire.MessageID(p.Data[0])).To(Equal(wire.IDDownloadProgress))
			Expect(reassembled).To(BeNil(), "progress notification after the reassembled message")
			prog, err := DecodeProgress(p.Data[1:])
			Expect(err).NotTo(HaveOccurred())
			Expect(prog.Received).To(BeNumerically(">", lastReceived))
			lastReceived = prog.Received
			progressNotifications++
		}
		Expect(progressNotifications).To(BeNumerically(">", 0))
		Expect(reassembled).ToNot(BeNil())
		Expect(reassembled.Data).To(Equal(payload))
	})
})
