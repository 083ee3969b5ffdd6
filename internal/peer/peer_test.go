package peer

import (
	"net"
	"testing"
	"time"

	"github.com/raknet-go/raknet/internal/wire"
)

func newTestPeer(t *testing.T) *Peer {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Port = 0
	cfg.TickInterval = 2 * time.Millisecond
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("new peer: %v", err)
	}
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = p.Stop() })
	return p
}

func waitForPacket(t *testing.T, p *Peer, id wire.MessageID, timeout time.Duration) Packet {
	t.Helper()
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
	t.Fatalf("timed out waiting for %s", id)
	return Packet{}
}

func TestHandshakeCompletesBothSides(t *testing.T) {
	a := newTestPeer(t)
	b := newTestPeer(t)

	a.Connect(b.LocalAddr())

	waitForPacket(t, a, wire.IDConnectionRequestAccepted, 2*time.Second)
	waitForPacket(t, b, wire.IDNewIncomingConnection, 2*time.Second)

	if got := a.connectionCount(); got != 1 {
		t.Fatalf("expected a to have 1 connection, got %d", got)
	}
	if got := b.connectionCount(); got != 1 {
		t.Fatalf("expected b to have 1 connection, got %d", got)
	}
}

func TestCloseConnectionNotifiesRemote(t *testing.T) {
	a := newTestPeer(t)
	b := newTestPeer(t)

	a.Connect(b.LocalAddr())
	waitForPacket(t, a, wire.IDConnectionRequestAccepted, 2*time.Second)
	waitForPacket(t, b, wire.IDNewIncomingConnection, 2*time.Second)

	a.CloseConnection(b.LocalAddr(), true)
	waitForPacket(t, b, wire.IDDisconnectionNotification, 2*time.Second)
}

func TestBannedPeerRefused(t *testing.T) {
	a := newTestPeer(t)
	b := newTestPeer(t)

	// a is bound to the wildcard address; b sees its datagrams arrive from
	// the loopback address, which is what the banlist is checked against.
	b.AddToBanList(net.IPv4(127, 0, 0, 1))
	a.Connect(b.LocalAddr())

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if a.connectionCount() > 0 {
			t.Fatal("expected no connection to form against a banned peer")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSendDeliversAcrossConnectedPeersWhenEncrypted(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	cfgA := DefaultConfig()
	cfgA.Port = 0
	cfgA.TickInterval = 2 * time.Millisecond
	cfgA.EncryptionKey = key
	a, err := New(cfgA)
	if err != nil {
		t.Fatalf("new peer a: %v", err)
	}
	if err := a.Start(); err != nil {
		t.Fatalf("start a: %v", err)
	}
	t.Cleanup(func() { _ = a.Stop() })

	cfgB := cfgA
	b, err := New(cfgB)
	if err != nil {
		t.Fatalf("new peer b: %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("start b: %v", err)
	}
	t.Cleanup(func() { _ = b.Stop() })

	a.Connect(b.LocalAddr())
	waitForPacket(t, a, wire.IDConnectionRequestAccepted, 2*time.Second)

	payload := append([]byte{byte(wire.IDUserPacketEnum)}, []byte("secret")...)
	if err := a.Send(b.LocalAddr(), payload, wire.High, wire.Reliable, 0, false, 0); err != nil {
		t.Fatalf("send: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pk, ok := b.Receive(); ok && string(pk.Data) == "secret" && pk.ID == wire.IDUserPacketEnum {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("encrypted message never arrived at b")
}

func TestSendDeliversAcrossConnectedPeers(t *testing.T) {
	a := newTestPeer(t)
	b := newTestPeer(t)

	a.Connect(b.LocalAddr())
	waitForPacket(t, a, wire.IDConnectionRequestAccepted, 2*time.Second)

	payload := append([]byte{byte(wire.IDUserPacketEnum)}, []byte("hi")...)
	if err := a.Send(b.LocalAddr(), payload, wire.High, wire.Reliable, 0, false, 0); err != nil {
		t.Fatalf("send: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pk, ok := b.Receive(); ok && string(pk.Data) == "hi" && pk.ID == wire.IDUserPacketEnum {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("message never arrived at b")
}
