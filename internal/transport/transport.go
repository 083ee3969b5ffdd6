// Package transport provides the datagram I/O boundary: a non-blocking UDP
// socket with a dedicated receive goroutine and a pull-style Receive API.
// Grounded on the teacher's source/server/server.go Start/listen loop
// (net.ListenUDP, a buffer reused per ReadFromUDP call, a copy handed
// onward), generalized from its fire-and-forget goroutine-per-packet
// dispatch into a bounded MPSC queue the core drains on its own tick.
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Arrival is one datagram pulled off the wire: its source address, payload,
// and a per-socket serial number counting the datagrams read so far.
type Arrival struct {
	Addr   *net.UDPAddr
	Data   []byte
	Serial uint64
}

// Transport owns a single UDP socket. Send is safe to call concurrently
// with itself and with the receive goroutine; Receive is a non-blocking
// pull drained by the core on each update tick.
type Transport struct {
	conn *net.UDPConn

	queue    chan Arrival
	dropped  uint64
	received uint64

	group  *errgroup.Group
	cancel context.CancelFunc

	closeOnce sync.Once
}

// DefaultQueueSize bounds the MPSC arrival queue. Sized generously above a
// single update tick's worth of traffic at the reliability layer's default
// MTU so a slow consumer only loses packets under genuine overload, not
// routine scheduling jitter.
const DefaultQueueSize = 4096

// Bind opens a UDP socket on the given address family ("udp4" or "udp6",
// or "udp" for either) and port, and starts the background receive loop.
func Bind(network string, port int) (*Transport, error) {
	return BindQueueSize(network, port, DefaultQueueSize)
}

// BindQueueSize is Bind with an explicit arrival queue capacity.
func BindQueueSize(network string, port int, queueSize int) (*Transport, error) {
	return BindAddrQueueSize(network, "", port, queueSize)
}

// BindAddr is Bind against a specific local IP rather than the wildcard
// address, for callers that own more than one interface/public IP and need
// a socket with a distinct, known bound address (internal/nattype's
// four-socket probe server is the only current caller).
func BindAddr(network, ip string, port int) (*Transport, error) {
	return BindAddrQueueSize(network, ip, port, DefaultQueueSize)
}

// BindAddrQueueSize is BindAddr with an explicit arrival queue capacity.
func BindAddrQueueSize(network, ip string, port int, queueSize int) (*Transport, error) {
	addr := &net.UDPAddr{Port: port}
	if ip != "" {
		addr.IP = net.ParseIP(ip)
	}
	conn, err := net.ListenUDP(network, addr)
	if err != nil {
		return nil, fmt.Errorf("transport: bind %s:%d: %w", network, port, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	t := &Transport{
		conn:   conn,
		queue:  make(chan Arrival, queueSize),
		group:  group,
		cancel: cancel,
	}

	group.Go(func() error {
		return t.receiveLoop(gctx)
	})

	return t, nil
}

// LocalAddr reports the bound local address.
func (t *Transport) LocalAddr() *net.UDPAddr {
	return t.conn.LocalAddr().(*net.UDPAddr)
}

// receiveLoop is the dedicated receive goroutine. It never blocks the
// caller of Send: a full queue drops the oldest pending arrival rather
// than applying backpressure, matching UDP's own no-delivery-guarantee
// semantics (spec: "if the queue is full the oldest is dropped").
func (t *Transport) receiveLoop(ctx context.Context) error {
	buf := make([]byte, 65535)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if isTemporary(err) {
				continue
			}
			return fmt.Errorf("transport: read: %w", err)
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		serial := atomic.AddUint64(&t.received, 1)
		arrival := Arrival{Addr: addr, Data: data, Serial: serial}

		select {
		case t.queue <- arrival:
		default:
			// Queue full: drop the oldest to make room, never the newest -
			// an application reading the queue sees a contiguous tail of
			// recent arrivals rather than a stale head plus a gap.
			select {
			case <-t.queue:
				atomic.AddUint64(&t.dropped, 1)
			default:
			}
			select {
			case t.queue <- arrival:
			default:
				atomic.AddUint64(&t.dropped, 1)
			}
		}
	}
}

func isTemporary(err error) bool {
	type temporary interface{ Temporary() bool }
	if te, ok := err.(temporary); ok {
		return te.Temporary()
	}
	return false
}

// Receive is the pull API: it returns the next queued arrival, or ok=false
// if none is currently available. It never blocks.
func (t *Transport) Receive() (Arrival, bool) {
	select {
	case a := <-t.queue:
		return a, true
	default:
		return Arrival{}, false
	}
}

// Send writes a datagram to addr. The core never suspends on Send: UDP
// writes to a bound socket do not block under normal conditions, and a
// partial write (possible only for pathologically large payloads exceeding
// the platform's UDP ceiling) is reported as an error rather than retried.
func (t *Transport) Send(addr *net.UDPAddr, data []byte) error {
	n, err := t.conn.WriteToUDP(data, addr)
	if err != nil {
		return fmt.Errorf("transport: write to %s: %w", addr, err)
	}
	if n != len(data) {
		return fmt.Errorf("transport: partial write to %s: wrote %d of %d bytes", addr, n, len(data))
	}
	return nil
}

// Stats reports lifetime receive/drop counters, exposed for Peer.GetStatistics.
func (t *Transport) Stats() (received, dropped uint64) {
	return atomic.LoadUint64(&t.received), atomic.LoadUint64(&t.dropped)
}

// Close stops the receive goroutine and closes the underlying socket. It
// blocks until the receive goroutine has exited.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.cancel()
		err = t.conn.Close()
		_ = t.group.Wait()
	})
	return err
}
