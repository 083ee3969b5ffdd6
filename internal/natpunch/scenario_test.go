package natpunch

import (
	"fmt"
	"net"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/raknet-go/raknet/internal/peer"
	"github.com/raknet-go/raknet/internal/wire"
)

func TestNatPunchScenarios(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "NAT Punchthrough Scenarios")
}

func newScenarioPeer() *peer.Peer {
	cfg := peer.DefaultConfig()
	cfg.Port = 0
	cfg.TickInterval = 2 * time.Millisecond
	p, err := peer.New(cfg)
	Expect(err).NotTo(HaveOccurred())
	Expect(p.Start()).To(Succeed())
	DeferCleanup(func() { _ = p.Stop() })
	return p
}

func connectAndWait(a, b *peer.Peer) {
	a.Connect(b.LocalAddr())
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pk, ok := a.Receive(); ok && pk.ID == wire.IDConnectionRequestAccepted {
			return
		}
		time.Sleep(time.Millisecond)
	}
	Fail(fmt.Sprintf("timed out waiting for %s to connect to %s", a.LocalAddr(), b.LocalAddr()))
}

func guidForAddr(p *peer.Peer, addr *net.UDPAddr) uint64 {
	for _, s := range p.GetSystemList() {
		if s.Addr.IP.Equal(addr.IP) && s.Addr.Port == addr.Port {
			return s.GUID
		}
	}
	return 0
}

// isFacilitatorControl reports whether id is one of the messages a
// Facilitator's HandlePacket understands.
func isFacilitatorControl(id wire.MessageID) bool {
	return id == wire.IDNatPunchthroughRequest || id == wire.IDNatGetMostRecentPort
}

// isClientControl reports whether id is one of the messages a Client's
// HandleFacilitatorPacket understands.
func isClientControl(id wire.MessageID) bool {
	switch id {
	case wire.IDNatGetMostRecentPort, wire.IDNatConnectAtTime,
		wire.IDNatTargetNotConnected, wire.IDNatTargetUnresponsive,
		wire.IDNatConnectionToTargetLost, wire.IDNatAlreadyInProgress:
		return true
	default:
		return false
	}
}

type punchResult struct {
	success bool
	remote  *net.UDPAddr
	target  uint64
}

var _ = Describe("NAT punchthrough happy path", func() {
	It("establishes a direct path between two clients already connected to a facilitator", func() {
		facilitatorPeer := newScenarioPeer()
		clientAPeer := newScenarioPeer()
		clientBPeer := newScenarioPeer()

		connectAndWait(clientAPeer, facilitatorPeer)
		connectAndWait(clientBPeer, facilitatorPeer)

		guidA := clientAPeer.GUID()
		guidB := clientBPeer.GUID()

		facilitator := NewFacilitator(facilitatorPeer, DefaultConfig())

		resultsA := make(chan punchResult, 1)
		resultsB := make(chan punchResult, 1)
		clientA := NewClient(clientAPeer, facilitatorPeer.LocalAddr(), DefaultConfig(), func(success bool, remote *net.UDPAddr, targetGUID uint64) {
			resultsA <- punchResult{success, remote, targetGUID}
		})
		clientB := NewClient(clientBPeer, facilitatorPeer.LocalAddr(), DefaultConfig(), func(success bool, remote *net.UDPAddr, targetGUID uint64) {
			resultsB <- punchResult{success, remote, targetGUID}
		})

		Expect(clientA.RequestPunchthrough(guidB)).To(Succeed())

		deadline := time.Now().Add(5 * time.Second)
		var gotA, gotB *punchResult
		var packetA, packetB *peer.Packet
		for time.Now().Before(deadline) && (gotA == nil || gotB == nil || packetA == nil || packetB == nil) {
			for {
				pk, ok := facilitatorPeer.Receive()
				if !ok {
					break
				}
				if isFacilitatorControl(pk.ID) {
					facilitator.HandlePacket(pk, guidForAddr(facilitatorPeer, pk.Addr))
				}
			}
			for {
				pk, ok := clientAPeer.Receive()
				if !ok {
					break
				}
				if isClientControl(pk.ID) {
					clientA.HandleFacilitatorPacket(pk)
				} else if pk.ID == wire.IDNatPunchthroughSucceeded || pk.ID == wire.IDNatPunchthroughFailed {
					pkCopy := pk
					packetA = &pkCopy
				}
			}
			for {
				pk, ok := clientBPeer.Receive()
				if !ok {
					break
				}
				if isClientControl(pk.ID) {
					clientB.HandleFacilitatorPacket(pk)
				} else if pk.ID == wire.IDNatPunchthroughSucceeded || pk.ID == wire.IDNatPunchthroughFailed {
					pkCopy := pk
					packetB = &pkCopy
				}
			}

			now := time.Now()
			facilitator.ExpireStale(now)
			clientA.Tick(now)
			clientB.Tick(now)

			select {
			case r := <-resultsA:
				gotA = &r
			default:
			}
			select {
			case r := <-resultsB:
				gotB = &r
			default:
			}
			if gotA == nil || gotB == nil || packetA == nil || packetB == nil {
				time.Sleep(time.Millisecond)
			}
		}

		Expect(gotA).ToNot(BeNil(), "client A never received a punchthrough result via its callback")
		Expect(gotB).ToNot(BeNil(), "client B never received a punchthrough result via its callback")
		Expect(gotA.success).To(BeTrue())
		Expect(gotB.success).To(BeTrue())
		Expect(gotA.target).To(Equal(guidB))
		Expect(gotB.target).To(Equal(guidA))

		Expect(packetA).ToNot(BeNil(), "client A never received an ID_NAT_PUNCHTHROUGH_SUCCEEDED Packet")
		Expect(packetB).ToNot(BeNil(), "client B never received an ID_NAT_PUNCHTHROUGH_SUCCEEDED Packet")
		Expect(packetA.ID).To(Equal(wire.IDNatPunchthroughSucceeded))
		Expect(packetB.ID).To(Equal(wire.IDNatPunchthroughSucceeded))
		Expect(decodeGUID(packetA.Data)).To(Equal(guidB))
		Expect(decodeGUID(packetB.Data)).To(Equal(guidA))
	})
})
