package peer

import (
	"fmt"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/raknet-go/raknet/internal/wire"
)

func TestPeerScenarios(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Peer Scenarios")
}

func newScenarioPeer() *Peer {
	cfg := DefaultConfig()
	cfg.Port = 0
	cfg.TickInterval = 2 * time.Millisecond
	p, err := New(cfg)
	Expect(err).NotTo(HaveOccurred())
	Expect(p.Start()).To(Succeed())
	DeferCleanup(func() { _ = p.Stop() })
	return p
}

func waitForPacketG(p *Peer, id wire.MessageID, timeout time.Duration) Packet {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if pk, ok := p.Receive(); ok {
			if pk.ID == id {
				return pk
			}
			continue
		}
		time.Sleep(time.Millisecond)
	}
	Fail(fmt.Sprintf("timed out waiting for %s", id))
	return Packet{}
}

func waitForConnectionCount(p *Peer, want int, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if p.connectionCount() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	Fail(fmt.Sprintf("timed out waiting for connectionCount()==%d, last was %d", want, p.connectionCount()))
}

var _ = Describe("reconnect churn", func() {
	It("survives repeated connect/disconnect cycles against the same remote", func() {
		a := newScenarioPeer()
		b := newScenarioPeer()

		for i := 0; i < 5; i++ {
			a.Connect(b.LocalAddr())
			waitForPacketG(a, wire.IDConnectionRequestAccepted, 2*time.Second)
			waitForPacketG(b, wire.IDNewIncomingConnection, 2*time.Second)
			Expect(a.connectionCount()).To(Equal(1), "cycle %d", i)
			Expect(b.connectionCount()).To(Equal(1), "cycle %d", i)

			a.CloseConnection(b.LocalAddr(), true)
			waitForPacketG(b, wire.IDDisconnectionNotification, time.Second)
			b.CloseConnection(a.LocalAddr(), false)
			waitForConnectionCount(a, 0, time.Second)
			waitForConnectionCount(b, 0, time.Second)
		}
	})
})

var _ = Describe("cross-connect race", func() {
	It("ends with exactly one connection on each side when both peers dial each other at once", func() {
		a := newScenarioPeer()
		b := newScenarioPeer()

		done := make(chan struct{})
		go func() { a.Connect(b.LocalAddr()); close(done) }()
		b.Connect(a.LocalAddr())
		<-done

		waitForConnectionCount(a, 1, 2*time.Second)
		waitForConnectionCount(b, 1, 2*time.Second)

		// Give any duplicate in-flight handshake traffic a chance to land
		// before asserting the count held steady.
		time.Sleep(50 * time.Millisecond)
		Expect(a.connectionCount()).To(Equal(1))
		Expect(b.connectionCount()).To(Equal(1))
	})
})
