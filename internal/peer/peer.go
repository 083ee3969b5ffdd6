package peer

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	multierror "github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/raknet-go/raknet/internal/reliability"
	"github.com/raknet-go/raknet/internal/security"
	"github.com/raknet-go/raknet/internal/transport"
	"github.com/raknet-go/raknet/internal/wire"
	"github.com/raknet-go/raknet/pkg/logger"
)

// Config bundles the knobs Peer needs at construction: the bound network,
// port, connection ceiling, reliability-layer defaults and ping cadence.
type Config struct {
	Network        string // "udp4" or "udp6"
	Port           int
	MaxConnections int
	LayerConfig    reliability.Config
	PingInterval   time.Duration
	TickInterval   time.Duration

	// EncryptionKey, if non-nil, must be security.KeySize bytes and turns
	// on the optional AEAD layer (spec §1) for every connected datagram
	// past the handshake. Both sides of a connection must carry the same
	// key out of band; the handshake itself always stays in the clear.
	EncryptionKey []byte
}

// DefaultConfig mirrors the reliability layer's own defaults plus a modest
// connection ceiling and a ping cadence typical of a game server.
func DefaultConfig() Config {
	return Config{
		Network:        "udp4",
		Port:           0,
		MaxConnections: 64,
		LayerConfig:    reliability.DefaultConfig(),
		PingInterval:   3 * time.Second,
		TickInterval:   10 * time.Millisecond,
	}
}

type command func(p *Peer)

// Peer is the connection multiplexer (spec §4.5). Exactly one goroutine
// (started by Start) owns every slot's mutable state; the methods that
// change connections (Connect, Send, CloseConnection,
// CancelConnectionAttempt) enqueue a command instead of touching slot
// state directly, per spec §5's thread model. Read-side calls such as
// GetStatistics and GetSystemList take mu, and the banlist has its own lock.
type Peer struct {
	cfg Config
	t   *transport.Transport
	guid uint64

	bans    *banlist
	plugins []Plugin

	commands chan command
	output   chan Packet

	group  *errgroup.Group
	cancel context.CancelFunc

	mu    sync.Mutex // guards the slots map: every lookup, insert and delete, from any goroutine
	slots map[string]*slot

	rawReceiver func(addr *net.UDPAddr, data []byte)

	cipher *security.Cipher

	closed int32
}

// New binds a UDP socket per cfg and starts the transport's receive
// goroutine, but does not yet start the update goroutine - call Start for
// that, so callers can attach plugins first.
func New(cfg Config) (*Peer, error) {
	t, err := transport.Bind(cfg.Network, cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("peer: %w", err)
	}
	p := &Peer{
		cfg:      cfg,
		t:        t,
		guid:     mintGUID(),
		bans:     newBanlist(),
		commands: make(chan command, 256),
		output:   make(chan Packet, 256),
		slots:    make(map[string]*slot),
	}
	if cfg.EncryptionKey != nil {
		c, err := security.New(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("peer: %w", err)
		}
		p.cipher = c
	}
	return p, nil
}

// mintGUID draws a random 64-bit remote-system identifier. Reuses
// google/uuid as the entropy source (the same library the NAT
// punchthrough session-id allocator uses) rather than rolling a separate
// crypto/rand call site.
func mintGUID() uint64 {
	id := uuid.New()
	b := id[:8]
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}

// LocalAddr reports the bound local address.
func (p *Peer) LocalAddr() *net.UDPAddr { return p.t.LocalAddr() }

// SendRaw writes an unconnected datagram straight through the bound
// transport, bypassing any reliability.Layer. Used for handshake control
// traffic and by internal/natpunch, whose direct address-to-address punch
// probes must originate from this same bound socket so the NAT's punched
// external port matches the one the facilitator observed.
func (p *Peer) SendRaw(addr *net.UDPAddr, data []byte) error { return p.t.Send(addr, data) }

// SetRawReceiver lets an embedder (natpunch, nattype) see every raw arrival
// this Peer's transport receives that did not match a connected slot or a
// handshake MessageID, so it can dispatch NAT control traffic itself.
// Installing one is optional; at most one may be installed.
func (p *Peer) SetRawReceiver(fn func(addr *net.UDPAddr, data []byte)) {
	p.rawReceiver = fn
}

// GUID reports this peer's locally-minted remote-system identifier.
func (p *Peer) GUID() uint64 { return p.guid }

// AttachPlugin registers a plugin; must be called before Start.
func (p *Peer) AttachPlugin(pl Plugin) {
	p.plugins = append(p.plugins, pl)
}

// Start launches the update goroutine, which drains commands and incoming
// datagrams, ticks every connected slot's reliability layer, and emits
// ping probes - spec §5's "one update thread per Peer".
func (p *Peer) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)
	p.group = group
	p.cancel = cancel

	group.Go(func() error {
		p.updateLoop(gctx)
		return nil
	})
	return nil
}

// Stop tears down the update goroutine and the underlying transport.
func (p *Peer) Stop() error {
	if !atomic.CompareAndSwapInt32(&p.closed, 0, 1) {
		return nil
	}
	if p.cancel != nil {
		p.cancel()
	}
	var result *multierror.Error
	if p.group != nil {
		if err := p.group.Wait(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := p.t.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func (p *Peer) updateLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-p.commands:
			cmd(p)
		case <-ticker.C:
			p.tick(time.Now())
		}
	}
}

func (p *Peer) tick(now time.Time) {
	for a, ok := p.t.Receive(); ok; a, ok = p.t.Receive() {
		p.handleDatagram(a, now)
	}

	p.mu.Lock()
	slots := make([]*slot, 0, len(p.slots))
	for _, s := range p.slots {
		slots = append(slots, s)
	}
	p.mu.Unlock()

	for _, s := range slots {
		p.tickSlot(s, now)
	}
}

func (p *Peer) tickSlot(s *slot, now time.Time) {
	switch s.phase {
	case phaseNone:
		if !s.handshakeStart.IsZero() && now.Sub(s.handshakeStart) > handshakeTimeout {
			p.removeSlot(s.addr)
		}
	case phaseSentRequest1, phaseSentRequest2:
		p.tickHandshake(s, now)
	case phaseConnected:
		p.tickConnected(s, now)
	}
}

func (p *Peer) tickConnected(s *slot, now time.Time) {
	receipts, err := s.layer.Update(now)
	if err != nil {
		logger.Debug("peer: layer update for %s: %v", s.addr, err)
	}
	for _, r := range receipts {
		id := wire.IDSndReceiptAcked
		if !r.Acked {
			id = wire.IDSndReceiptLoss
		}
		p.deliver(&Packet{Addr: s.addr, ID: id, Data: serialSuffix(r.Serial)})
	}
	if s.layer.IsDead() {
		p.removeSlot(s.addr)
		p.deliver(&Packet{Addr: s.addr, ID: wire.IDConnectionLost})
		return
	}
	if now.Sub(s.lastPingSent) >= p.cfg.PingInterval {
		s.lastPingSent = now
		_ = s.layer.Send(s.pingPayload(now), 0, 0, 0, false, 0)
	}
}

func serialSuffix(serial uint32) []byte {
	return []byte{byte(serial >> 24), byte(serial >> 16), byte(serial >> 8), byte(serial)}
}

// Deliver enqueues a packet fabricated outside the ordinary reliability/
// handshake receive path, the same way a reassembled message or a reserved
// lifecycle notification (ID_CONNECTION_LOST, ID_SND_RECEIPT_ACKED) is
// enqueued internally. internal/natpunch and internal/nattype use this to
// surface their results as ordinary Packets (spec §4.6 steps 6/7, §4.7's
// closing sentence) rather than only through a side-channel callback.
func (p *Peer) Deliver(pk *Packet) {
	p.deliver(pk)
}

func (p *Peer) deliver(pk *Packet) {
	for _, pl := range p.plugins {
		switch pl.OnPacket(pk) {
		case StopProcessingAndDeallocate:
			return
		case StopProcessing:
			select {
			case p.output <- *pk:
			default:
			}
			return
		}
	}
	select {
	case p.output <- *pk:
	default:
		// Output queue full and application isn't draining Receive fast
		// enough: drop, matching the no-backpressure-on-the-update-thread
		// policy spec §5 sets for every suspension point.
	}
}

func (p *Peer) removeSlot(addr *net.UDPAddr) {
	p.mu.Lock()
	delete(p.slots, addr.String())
	p.mu.Unlock()
}

func (p *Peer) getOrCreateSlot(addr *net.UDPAddr) *slot {
	key := addr.String()
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.slots[key]; ok {
		return s
	}
	s := newSlot(addr)
	p.slots[key] = s
	return s
}

func (p *Peer) lookupSlot(addr *net.UDPAddr) (*slot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.slots[addr.String()]
	return s, ok
}

func (p *Peer) connectionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.slots {
		if s.connected() {
			n++
		}
	}
	return n
}

// Connect begins a handshake with addr; spec §4.5's client side of the
// four-message exchange. Safe to call from any goroutine.
func (p *Peer) Connect(addr *net.UDPAddr) {
	p.commands <- func(p *Peer) {
		if p.bans.banned(addr.IP) {
			return
		}
		s := p.getOrCreateSlot(addr)
		if s.phase != phaseNone {
			return
		}
		s.isInitiator = true
		s.handshakeStart = time.Now()
		p.sendRequest1(s, time.Now())
	}
}

func (p *Peer) sendRequest1(s *slot, now time.Time) {
	candidate := mtuCandidates[s.mtuAttemptIndex]
	if err := p.t.Send(s.addr, encodeOpenConnectionRequest1(candidate)); err != nil {
		logger.Debug("peer: send REQUEST_1 to %s: %v", s.addr, err)
	}
	s.phase = phaseSentRequest1
	s.lastAttempt = now
}

func (p *Peer) tickHandshake(s *slot, now time.Time) {
	if now.Sub(s.handshakeStart) > handshakeTimeout {
		p.removeSlot(s.addr)
		p.deliver(&Packet{Addr: s.addr, ID: wire.IDConnectionAttemptFailed})
		return
	}
	if !s.isInitiator || now.Sub(s.lastAttempt) < handshakeRetryInterval {
		return
	}
	switch s.phase {
	case phaseSentRequest1:
		s.mtuAttemptIndex++
		if s.mtuAttemptIndex >= len(mtuCandidates) {
			s.mtuAttemptIndex = len(mtuCandidates) - 1
		}
		p.sendRequest1(s, now)
	case phaseSentRequest2:
		w := encodeOpenConnectionRequest2(p.guid, s.mtu)
		if err := p.t.Send(s.addr, w); err != nil {
			logger.Debug("peer: resend REQUEST_2 to %s: %v", s.addr, err)
		}
		s.lastAttempt = now
	}
}

// Send submits data on an existing connected slot. See reliability.Layer.Send
// for the reliability/priority/ordering semantics.
func (p *Peer) Send(addr *net.UDPAddr, data []byte, priority wire.Priority, reliabilityType wire.ReliabilityType, orderingChannel uint8, hasReceipt bool, receiptSerial uint32) error {
	errCh := make(chan error, 1)
	p.commands <- func(p *Peer) {
		s, ok := p.lookupSlot(addr)
		if !ok || !s.connected() {
			errCh <- fmt.Errorf("peer: no connected slot for %s", addr)
			return
		}
		errCh <- s.layer.Send(data, priority, reliabilityType, orderingChannel, hasReceipt, receiptSerial)
	}
	return <-errCh
}

// Receive is the non-blocking pull API for application-visible packets.
func (p *Peer) Receive() (Packet, bool) {
	select {
	case pk := <-p.output:
		return pk, true
	default:
		return Packet{}, false
	}
}

// CloseConnection tears a slot down, optionally notifying the remote first.
// The notification rides the slot's own reliability layer, reliably, so the
// remote's application sees it the same way it sees every other message -
// a bare unframed byte would be rejected as a malformed datagram by a
// still-connected remote's HandleDatagram.
func (p *Peer) CloseConnection(addr *net.UDPAddr, sendDisconnectNotification bool) {
	p.commands <- func(p *Peer) {
		if sendDisconnectNotification {
			if s, ok := p.lookupSlot(addr); ok && s.connected() {
				_ = s.layer.Send([]byte{byte(wire.IDDisconnectionNotification)}, wire.Immediate, wire.Reliable, 0, false, 0)
				_, _ = s.layer.Update(time.Now())
			} else {
				_ = p.t.Send(addr, []byte{byte(wire.IDDisconnectionNotification)})
			}
		}
		p.removeSlot(addr)
		p.deliver(&Packet{Addr: addr, ID: wire.IDDisconnectionNotification})
	}
}

// CancelConnectionAttempt tears down a half-open handshake.
func (p *Peer) CancelConnectionAttempt(addr *net.UDPAddr) {
	p.commands <- func(p *Peer) {
		if s, ok := p.lookupSlot(addr); ok && !s.connected() {
			p.removeSlot(addr)
		}
	}
}

// AddToBanList bans an IP; safe from any goroutine (banlist is its own
// read-mostly lock, not update-goroutine-owned state).
func (p *Peer) AddToBanList(ip net.IP) { p.bans.add(ip) }

// RemoveFromBanList lifts a ban.
func (p *Peer) RemoveFromBanList(ip net.IP) { p.bans.remove(ip) }

// GetBanList reports every currently banned IP.
func (p *Peer) GetBanList() []string { return p.bans.list() }

// SystemInfo is one row of GetSystemList.
type SystemInfo struct {
	Addr       *net.UDPAddr
	GUID       uint64
	AverageRTT time.Duration
}

// GetSystemList reports every connected remote.
func (p *Peer) GetSystemList() []SystemInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SystemInfo, 0, len(p.slots))
	for _, s := range p.slots {
		if !s.connected() {
			continue
		}
		out = append(out, SystemInfo{Addr: s.addr, GUID: s.remoteGUID, AverageRTT: s.averageRTT()})
	}
	return out
}
