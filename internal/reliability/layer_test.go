package reliability

import (
	"testing"
	"time"

	"github.com/raknet-go/raknet/internal/congestion"
	"github.com/raknet-go/raknet/internal/wire"
)

// loopback wires two Layers directly together in memory, bypassing
// internal/transport, to exercise the full submit -> encode -> decode ->
// deliver -> ack round trip this package alone is responsible for. Every
// message the peer's HandleDatagram delivers is appended to delivered.
type loopback struct {
	peer      *Layer
	delivered *[]*InternalPacket
}

func (l *loopback) sendTo(data []byte) error {
	msgs, _, err := l.peer.HandleDatagram(append([]byte(nil), data...), time.Now())
	*l.delivered = append(*l.delivered, msgs...)
	return err
}

func newLinkedLayers(now time.Time) (a, b *Layer, deliveredToA, deliveredToB *[]*InternalPacket) {
	deliveredToA = &[]*InternalPacket{}
	deliveredToB = &[]*InternalPacket{}
	a = NewLayer(DefaultConfig(), congestion.NewSlidingWindow(1400), nil, now)
	b = NewLayer(DefaultConfig(), congestion.NewSlidingWindow(1400), nil, now)
	a.send = (&loopback{peer: b, delivered: deliveredToB}).sendTo
	b.send = (&loopback{peer: a, delivered: deliveredToA}).sendTo
	return a, b, deliveredToA, deliveredToB
}

func TestReliableMessageDeliversAndAcks(t *testing.T) {
	now := time.Now()
	a, b, _, deliveredToB := newLinkedLayers(now)

	if err := a.Send([]byte("hello"), wire.High, wire.Reliable, 0, false, 0); err != nil {
		t.Fatalf("send: %v", err)
	}

	// a's fresh-send pass pushes the datagram straight into b via the
	// loopback send function, which calls b.HandleDatagram synchronously.
	if _, err := a.Update(now); err != nil {
		t.Fatalf("a.Update: %v", err)
	}
	if len(*deliveredToB) != 1 || string((*deliveredToB)[0].Data) != "hello" {
		t.Fatalf("expected b to receive %q, got %v", "hello", *deliveredToB)
	}

	// b now has a pending ACK queued; its own Update tick emits it back to a.
	if _, err := b.Update(now.Add(time.Millisecond)); err != nil {
		t.Fatalf("b.Update: %v", err)
	}
	if a.resendList.Len() != 0 {
		t.Fatalf("expected a's resend list to be cleared by the ACK, got %d outstanding", a.resendList.Len())
	}
}

func TestOversizedMessageSplitsAndReassembles(t *testing.T) {
	now := time.Now()
	a, _, _, deliveredToB := newLinkedLayers(now)
	a.cfg.MTU = 128

	payload := make([]byte, 1000)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	if err := a.Send(payload, wire.Medium, wire.Reliable, 0, false, 0); err != nil {
		t.Fatalf("send: %v", err)
	}

	deadline := now
	for i := 0; i < 50 && len(*deliveredToB) == 0; i++ {
		deadline = deadline.Add(10 * time.Millisecond)
		if _, err := a.Update(deadline); err != nil {
			t.Fatalf("a.Update: %v", err)
		}
	}
	if len(*deliveredToB) != 1 {
		t.Fatalf("expected exactly one reassembled message, got %d", len(*deliveredToB))
	}
	if string((*deliveredToB)[0].Data) != string(payload) {
		t.Fatal("reassembled payload does not match what was sent")
	}
}

func TestReceiptSurfacedOnAck(t *testing.T) {
	now := time.Now()
	a, b, _, _ := newLinkedLayers(now)

	if err := a.Send([]byte("ping"), wire.Immediate, wire.UnreliableWithAckReceipt, 0, true, 42); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := a.Update(now); err != nil {
		t.Fatalf("a.Update: %v", err)
	}
	// Receipts resolved by an incoming ACK are returned from HandleDatagram,
	// so b's link to a collects them as well as a.Update's own.
	var receipts []Receipt
	b.send = func(data []byte) error {
		_, got, err := a.HandleDatagram(append([]byte(nil), data...), time.Now())
		receipts = append(receipts, got...)
		return err
	}
	if _, err := b.Update(now.Add(time.Millisecond)); err != nil {
		t.Fatalf("b.Update: %v", err)
	}
	got, err := a.Update(now.Add(2 * time.Millisecond))
	if err != nil {
		t.Fatalf("a.Update: %v", err)
	}
	receipts = append(receipts, got...)
	found := false
	for _, r := range receipts {
		if r.Serial == 42 && r.Acked {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an acked receipt for serial 42, got %v", receipts)
	}
}
