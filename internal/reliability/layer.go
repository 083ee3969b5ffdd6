package reliability

// Layer ties sendqueue.go, resendlist.go, holequeue.go, ordering.go,
// splitpacket.go and datagramhistory.go together into the per-tick state
// machine spec §4.3.2-§4.3.5 describes.

import (
	"fmt"
	"time"

	"github.com/raknet-go/raknet/internal/bitstream"
	"github.com/raknet-go/raknet/internal/congestion"
	"github.com/raknet-go/raknet/internal/wire"
)

// Receipt reports the outcome of a send made with a receipt serial, surfaced
// to the application as ID_SND_RECEIPT_ACKED / ID_SND_RECEIPT_LOSS (spec
// §4.3.2 step 6, §4.3.3 step 2).
type Receipt struct {
	Serial uint32
	Acked  bool
}

// Config holds the per-Layer tunables spec §4.3.4 and §4.3.1 describe.
type Config struct {
	MTU                     int
	TimeoutTime             time.Duration
	UnreliableTimeout       time.Duration // 0 disables culling
	PacketPairInterval      int           // every Nth datagram is the 2nd of a pair; 0 disables
	HoleQueueMaxOutstanding int
	SplitPacketMaxOpen      int
	DatagramHistorySize     int
	ResendRingBits          uint
}

// DefaultConfig returns the tunables the teacher's zero-dependency defaults
// generalize to: a conservative MTU, RakNet's traditional 10s timeout (spec
// §4.3.4), and bounded auxiliary structures sized for a few hundred
// in-flight reliable messages.
func DefaultConfig() Config {
	return Config{
		MTU:                     1400,
		TimeoutTime:             10 * time.Second,
		UnreliableTimeout:       0,
		PacketPairInterval:      16,
		HoleQueueMaxOutstanding: 4096,
		SplitPacketMaxOpen:      64,
		DatagramHistorySize:     2048,
		ResendRingBits:          12,
	}
}

// ackReceiptEntry tracks one unreliable-with-ack-receipt send pending its
// carrying datagram's ACK or timeout (spec §4.3.2 step 6).
type ackReceiptEntry struct {
	serial uint32
	seq    wire.SequenceNumber
	expiry time.Time
}

// unreliableNode records when an unreliable send entered the heap, for
// unreliableTimeout culling (spec §4.3.4). Culling walks every recorded
// node and then removes the expired packets with a scan of the whole send
// queue, so its cost grows with the number of queued sends, not with the
// number culled.
type unreliableNode struct {
	packet   *InternalPacket
	queuedAt time.Time
}

// Layer is the reliability engine for one remote peer.
type Layer struct {
	cfg        Config
	controller congestion.Controller
	send       func([]byte) error

	sendQueue  *SendQueue
	resendList *ResendList
	holes      *HoleQueue
	reliableDedup *HoleQueue
	ordering   *OrderingChannels
	splits     *SplitPacketChannels
	history    *DatagramHistory

	ringOccupied []bool

	nextReliableMessageNumber uint32
	nextOrderingIndex         [wire.MaxOrderingChannels]uint32
	nextSequencingIndex       [wire.MaxOrderingChannels]uint32
	nextSplitPacketID         uint16
	nextDatagramSeq           wire.SequenceNumber

	pendingACKs []wire.SequenceNumber
	pendingNAKs []wire.SequenceNumber

	ackReceipts []ackReceiptEntry
	unreliables []unreliableNode

	datagramsSent int
	bytesInFlight int

	lastReceiveTime time.Time
	oldestUnacked   time.Time
	haveOldestUnacked bool
	dead            bool
}

// NewLayer constructs a reliability layer for one remote, sending encoded
// datagrams through send (the transport's per-remote write path).
func NewLayer(cfg Config, controller congestion.Controller, send func([]byte) error, now time.Time) *Layer {
	return &Layer{
		cfg:             cfg,
		controller:      controller,
		send:            send,
		sendQueue:       NewSendQueue(),
		resendList:      NewResendList(),
		holes:           NewHoleQueue(cfg.HoleQueueMaxOutstanding),
		reliableDedup:   NewHoleQueue(cfg.HoleQueueMaxOutstanding),
		ordering:        NewOrderingChannels(),
		splits:          NewSplitPacketChannels(cfg.SplitPacketMaxOpen),
		history:         NewDatagramHistory(cfg.DatagramHistorySize),
		ringOccupied:    make([]bool, 1<<cfg.ResendRingBits),
		lastReceiveTime: now,
	}
}

// IsDead reports whether this connection should be torn down per spec
// §4.3.4/§4.3.5.
func (l *Layer) IsDead() bool { return l.dead }

// Send implements submission, spec §4.3.1.
func (l *Layer) Send(data []byte, priority wire.Priority, reliability wire.ReliabilityType, orderingChannel uint8, hasReceipt bool, receiptSerial uint32) error {
	priority = priority.Clamp()
	orderingChannel = wire.ClampChannel(orderingChannel)

	maxPerDatagram := l.maxMessagePayload()
	if len(data) <= maxPerDatagram {
		p := l.buildPacket(data, priority, reliability, orderingChannel, hasReceipt, receiptSerial)
		l.assignOrderingIndices(p)
		l.enqueue(p)
		return nil
	}

	// Step 1: oversized messages upgrade to a reliability class a lost
	// fragment cannot silently corrupt.
	reliability = reliability.Upgraded()
	splitID := l.nextSplitPacketID
	l.nextSplitPacketID++

	count := (len(data) + maxPerDatagram - 1) / maxPerDatagram
	orderingIndex, sequencingIndex := l.peekOrderingIndices(reliability, orderingChannel)
	for i := 0; i < count; i++ {
		start := i * maxPerDatagram
		end := start + maxPerDatagram
		if end > len(data) {
			end = len(data)
		}
		p := &InternalPacket{
			Data:             append([]byte(nil), data[start:end]...),
			Reliability:      reliability,
			Priority:         priority,
			OrderingChannel:  orderingChannel,
			OrderingIndex:    orderingIndex,
			SequencingIndex:  sequencingIndex,
			HasSplitPacket:   true,
			SplitPacketID:    splitID,
			SplitPacketIndex: uint32(i),
			SplitPacketCount: uint32(count),
			HasReceipt:       hasReceipt && i == count-1,
			ReceiptSerial:    receiptSerial,
		}
		l.enqueue(p)
	}
	l.commitOrderingIndices(reliability, orderingChannel)
	return nil
}

func (l *Layer) buildPacket(data []byte, priority wire.Priority, reliability wire.ReliabilityType, orderingChannel uint8, hasReceipt bool, receiptSerial uint32) *InternalPacket {
	return &InternalPacket{
		Data:            append([]byte(nil), data...),
		Reliability:     reliability,
		Priority:        priority,
		OrderingChannel: orderingChannel,
		HasReceipt:      hasReceipt,
		ReceiptSerial:   receiptSerial,
	}
}

// assignOrderingIndices implements step 2: RELIABLE_ORDERED advances
// orderingIndex; _SEQUENCED increments sequencingIndex but leaves
// orderingIndex fixed at the current write index; everything else leaves
// both zero.
func (l *Layer) assignOrderingIndices(p *InternalPacket) {
	p.OrderingIndex, p.SequencingIndex = l.peekOrderingIndices(p.Reliability, p.OrderingChannel)
	l.commitOrderingIndices(p.Reliability, p.OrderingChannel)
}

func (l *Layer) peekOrderingIndices(reliability wire.ReliabilityType, ch uint8) (ordering, sequencing uint32) {
	if reliability.IsOrdered() {
		return l.nextOrderingIndex[ch], 0
	}
	if reliability.IsSequenced() {
		return l.nextOrderingIndex[ch], l.nextSequencingIndex[ch]
	}
	return 0, 0
}

func (l *Layer) commitOrderingIndices(reliability wire.ReliabilityType, ch uint8) {
	if reliability.IsOrdered() {
		l.nextOrderingIndex[ch]++
	} else if reliability.IsSequenced() {
		l.nextSequencingIndex[ch]++
	}
}

func (l *Layer) enqueue(p *InternalPacket) {
	l.sendQueue.Push(p)
	if !p.Reliability.IsReliable() && l.cfg.UnreliableTimeout > 0 {
		l.unreliables = append(l.unreliables, unreliableNode{packet: p, queuedAt: time.Now()})
	}
}

func (l *Layer) maxMessagePayload() int {
	budget := l.cfg.MTU - 32 // datagram header + one message header, conservative
	if budget < 64 {
		budget = 64
	}
	return budget
}

// Update runs one tick of spec §4.3.2: retransmission pass, fresh send
// pass, packet-pair flagging, ACK/NAK emission, and ack-receipt timeouts.
// It returns any receipts resolved this tick.
func (l *Layer) Update(now time.Time) ([]Receipt, error) {
	if l.cfg.UnreliableTimeout > 0 {
		l.cullExpiredUnreliables(now)
	}
	if l.haveOldestUnacked && now.Sub(l.oldestUnacked) > l.cfg.TimeoutTime {
		l.dead = true
		return nil, nil
	}

	var receipts []Receipt

	dt := 50 * time.Millisecond
	bt := l.controller.GetTransmissionBandwidth(now, dt, l.bytesInFlight, true)
	br := l.controller.GetRetransmissionBandwidth(now, dt, l.bytesInFlight, true)

	if err := l.retransmissionPass(now, br); err != nil {
		return receipts, err
	}
	if err := l.freshSendPass(now, bt); err != nil {
		return receipts, err
	}
	if err := l.ackNakPass(now); err != nil {
		return receipts, err
	}

	for i := 0; i < len(l.ackReceipts); {
		e := l.ackReceipts[i]
		if now.After(e.expiry) {
			receipts = append(receipts, Receipt{Serial: e.serial, Acked: false})
			l.ackReceipts = append(l.ackReceipts[:i], l.ackReceipts[i+1:]...)
			continue
		}
		i++
	}

	l.recomputeOldestUnacked(now)
	return receipts, nil
}

func (l *Layer) cullExpiredUnreliables(now time.Time) {
	cutoff := now.Add(-l.cfg.UnreliableTimeout)
	kept := l.unreliables[:0]
	drop := make(map[*InternalPacket]bool)
	for _, n := range l.unreliables {
		if n.queuedAt.Before(cutoff) {
			drop[n.packet] = true
			continue
		}
		kept = append(kept, n)
	}
	l.unreliables = kept
	if len(drop) > 0 {
		l.sendQueue.RemoveMatching(func(p *InternalPacket) bool { return drop[p] })
	}
}

// retransmissionPass implements step 2: walk due entries and rebuild
// datagrams for them. Every due entry is resent in this pass; br does not
// limit the pass's total bytes, it only caps (together with the MTU) how
// many bytes are batched into each datagram.
func (l *Layer) retransmissionPass(now time.Time, br int) error {
	sent := 0
	due := l.resendList.PopDue(now, func(timesSent int) time.Duration {
		return l.controller.GetRTOForRetransmission(timesSent)
	})
	var batch []*InternalPacket
	for _, p := range due {
		if len(batch) > 0 && (sent+p.WireSize() > br || sent+p.WireSize() > l.cfg.MTU) {
			if err := l.flushDatagram(batch, now, false); err != nil {
				return err
			}
			batch = batch[:0]
			sent = 0
		}
		batch = append(batch, p)
		sent += p.WireSize()
	}
	if len(batch) > 0 {
		return l.flushDatagram(batch, now, false)
	}
	return nil
}

// freshSendPass implements step 3: pop by priority weight, assign
// reliableMessageNumber where needed, and record in the resend list/ring,
// refusing to send (backpressure) if the ring slot is still occupied.
func (l *Layer) freshSendPass(now time.Time, bt int) error {
	totalSent := 0
	var batch []*InternalPacket
	batchBytes := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := l.flushDatagram(batch, now, true)
		batch = nil
		batchBytes = 0
		return err
	}

	for totalSent < bt {
		p := l.sendQueue.Peek()
		if p == nil {
			break
		}
		if p.Reliability.IsReliable() {
			slot := l.nextReliableMessageNumber & uint32(len(l.ringOccupied)-1)
			if l.ringOccupied[slot] {
				break // resend-ring slot collision: stop accepting new reliable sends this tick
			}
		}
		if batchBytes > 0 && batchBytes+p.WireSize() > l.cfg.MTU {
			if err := flush(); err != nil {
				return err
			}
		}
		if totalSent+p.WireSize() > bt && len(batch) > 0 {
			break
		}
		l.sendQueue.Pop()
		if p.Reliability.IsReliable() {
			p.ReliableMessageNumber = l.nextReliableMessageNumber
			p.HasReliableMessageNumber = true
			l.ringOccupied[p.ReliableMessageNumber&uint32(len(l.ringOccupied)-1)] = true
			l.nextReliableMessageNumber++
		}
		batch = append(batch, p)
		batchBytes += p.WireSize()
		totalSent += p.WireSize()
	}
	return flush()
}

// flushDatagram encodes one or more messages into a single data datagram
// and transmits it, recording reliable message numbers in the resend list
// and datagram history, and arming ack-receipt timeouts.
func (l *Layer) flushDatagram(batch []*InternalPacket, now time.Time, fresh bool) error {
	seq := l.nextDatagramSeq
	l.nextDatagramSeq = l.nextDatagramSeq.Next()

	isPair := l.cfg.PacketPairInterval > 0 && l.datagramsSent > 0 && l.datagramsSent%l.cfg.PacketPairInterval == 1
	l.datagramsSent++

	w := bitstream.NewWriter()
	hdr := wire.DatagramHeader{
		Kind:             wire.KindData,
		IsPacketPair:     isPair,
		IsContinuousSend: fresh,
		NeedsBAndAS:      l.controller.GetMTU() > 0,
		SourceSystemTime: uint32(now.UnixMilli()),
		DatagramNumber:   seq,
	}
	hdr.Encode(w)

	var reliableNums []uint32
	totalBytes := 0
	for _, p := range batch {
		mh := p.toMessageHeader()
		mh.Encode(w)
		w.AlignToByte()
		w.WriteBytes(p.Data)
		totalBytes += p.WireSize()

		if p.Reliability.IsReliable() {
			reliableNums = append(reliableNums, p.ReliableMessageNumber)
			if fresh {
				l.resendList.Insert(p, uint32(seq), now.Add(l.controller.GetRTOForRetransmission(1)))
			}
		}
		if p.Reliability.HasAckReceipt() && !p.Reliability.IsReliable() {
			l.ackReceipts = append(l.ackReceipts, ackReceiptEntry{
				serial: p.ReceiptSerial,
				seq:    seq,
				expiry: now.Add(l.controller.GetRTOForRetransmission(1)),
			})
		}
	}
	if len(reliableNums) > 0 {
		l.history.Record(seq, now, reliableNums, isPair, totalBytes)
	}

	l.bytesInFlight += totalBytes
	l.controller.OnSendBytes(now, totalBytes)

	return l.send(w.Bytes())
}

// ackNakPass implements step 5: emit a combined ACK/NAK datagram if the
// controller authorizes an ACK tick or NAKs are pending.
func (l *Layer) ackNakPass(now time.Time) error {
	shouldACK := l.controller.ShouldSendACKs(now, 50*time.Millisecond)
	due := l.holes.DueForNAK(now, 0)
	l.pendingNAKs = append(l.pendingNAKs, due...)

	if !shouldACK && len(l.pendingNAKs) == 0 && len(l.pendingACKs) == 0 {
		return nil
	}

	if len(l.pendingACKs) > 0 || shouldACK {
		w := bitstream.NewWriter()
		hdr := wire.DatagramHeader{Kind: wire.KindACK, SourceSystemTime: uint32(now.UnixMilli())}
		hdr.Encode(w)
		wire.EncodeRangeList(w, wire.RangeListFromSequenceNumbers(l.pendingACKs))
		if err := l.send(w.Bytes()); err != nil {
			return err
		}
		l.pendingACKs = l.pendingACKs[:0]
	}

	if len(l.pendingNAKs) > 0 {
		w := bitstream.NewWriter()
		hdr := wire.DatagramHeader{Kind: wire.KindNAK}
		hdr.Encode(w)
		wire.EncodeRangeList(w, wire.RangeListFromSequenceNumbers(l.pendingNAKs))
		if err := l.send(w.Bytes()); err != nil {
			return err
		}
		l.pendingNAKs = l.pendingNAKs[:0]
	}
	return nil
}

// HandleDatagram implements the receive path, spec §4.3.3. It returns
// messages now ready for delivery to the application and any receipts
// resolved by ACKs carried in this datagram.
func (l *Layer) HandleDatagram(data []byte, now time.Time) ([]*InternalPacket, []Receipt, error) {
	l.lastReceiveTime = now
	r := bitstream.NewReader(data)
	hdr, err := wire.DecodeDatagramHeader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("reliability: drop malformed datagram: %w", err)
	}

	switch hdr.Kind {
	case wire.KindACK:
		return nil, l.handleACK(r, hdr, now), nil
	case wire.KindNAK:
		l.handleNAK(r, now)
		return nil, nil, nil
	default:
		return l.handleData(r, hdr, now)
	}
}

func (l *Layer) handleACK(r *bitstream.Reader, hdr wire.DatagramHeader, now time.Time) []Receipt {
	ranges, err := wire.DecodeRangeList(r)
	if err != nil {
		return nil
	}
	var receipts []Receipt
	for _, seq := range wire.SequenceNumbersFromRangeList(ranges) {
		for i := 0; i < len(l.ackReceipts); {
			if l.ackReceipts[i].seq == seq {
				receipts = append(receipts, Receipt{Serial: l.ackReceipts[i].serial, Acked: true})
				l.ackReceipts = append(l.ackReceipts[:i], l.ackReceipts[i+1:]...)
				continue
			}
			i++
		}
		nums, sentAt, ok := l.history.Lookup(seq)
		if !ok {
			continue
		}
		rtt := now.Sub(sentAt)
		for _, n := range nums {
			l.resendList.Ack(n)
			l.ringOccupied[n&uint32(len(l.ringOccupied)-1)] = false
		}
		isPair, pairBytes := l.history.PacketPairInfo(seq)
		var as float64
		if isPair && rtt > 0 {
			as = float64(pairBytes) / rtt.Seconds()
		}
		totalBytes := l.history.TotalBytes(seq)
		l.bytesInFlight -= totalBytes
		if l.bytesInFlight < 0 {
			l.bytesInFlight = 0
		}
		l.controller.OnAck(now, rtt, hdr.HasBAndAS, float64(hdr.AS), as, totalBytes, false, uint32(seq))
		l.history.Forget(seq)
	}
	return receipts
}

func (l *Layer) handleNAK(r *bitstream.Reader, now time.Time) {
	ranges, err := wire.DecodeRangeList(r)
	if err != nil {
		return
	}
	for _, seq := range wire.SequenceNumbersFromRangeList(ranges) {
		nums, _, ok := l.history.Lookup(seq)
		if !ok {
			continue
		}
		for _, n := range nums {
			l.resendList.Expedite(n, now)
		}
		l.controller.OnNAK(now, uint32(seq))
	}
}

func (l *Layer) handleData(r *bitstream.Reader, hdr wire.DatagramHeader, now time.Time) ([]*InternalPacket, []Receipt, error) {
	skipped := l.controller.OnGotPacket(uint32(hdr.DatagramNumber), hdr.IsContinuousSend, now, r.Remaining()/8)
	for i := 0; i < skipped; i++ {
		l.pendingNAKs = append(l.pendingNAKs, wire.SequenceNumber((uint32(hdr.DatagramNumber)-uint32(skipped)+uint32(i))&wire.SequenceNumberMask))
	}

	isDup, overflowed, newHoles := l.holes.Observe(hdr.DatagramNumber, now)
	l.pendingNAKs = append(l.pendingNAKs, newHoles...)
	if overflowed {
		l.dead = true
		return nil, nil, nil
	}
	if isDup {
		return nil, nil, nil
	}
	l.pendingACKs = append(l.pendingACKs, hdr.DatagramNumber)

	var delivered []*InternalPacket
	for r.Remaining() > 0 {
		mh, err := wire.DecodeMessageHeader(r)
		if err != nil {
			break // rest of datagram is unparseable; keep what we already got
		}
		r.AlignToByte()
		payload, err := r.ReadBytes(mh.PayloadByteLength())
		if err != nil {
			break
		}
		p := &InternalPacket{
			Data:                  payload,
			Reliability:           mh.Reliability,
			OrderingChannel:       mh.OrderingChannel,
			OrderingIndex:         mh.OrderingIndex,
			SequencingIndex:       mh.SequencingIndex,
			ReliableMessageNumber: mh.ReliableMessageNumber,
			HasReliableMessageNumber: mh.Reliability.IsReliable(),
			HasSplitPacket:        mh.HasSplitPacket,
			SplitPacketID:         mh.SplitPacketID,
			SplitPacketIndex:      mh.SplitPacketIndex,
			SplitPacketCount:      mh.SplitPacketCount,
		}

		if p.HasReliableMessageNumber {
			isMsgDup, msgOverflowed, _ := l.reliableDedup.Observe(wire.SequenceNumber(p.ReliableMessageNumber), now)
			if msgOverflowed {
				l.dead = true
				return delivered, nil, nil
			}
			if isMsgDup {
				continue // already delivered this reliableMessageNumber once
			}
		}

		delivered = append(delivered, l.processMessage(p, now)...)
	}
	return delivered, nil, nil
}

func (l *Layer) processMessage(p *InternalPacket, now time.Time) []*InternalPacket {
	if p.HasSplitPacket {
		full, progress, accepted := l.splits.Accept(p, p.Data, now)
		if !accepted {
			return nil
		}
		if full == nil {
			return []*InternalPacket{{
				Data:        EncodeProgress(progress),
				Reliability: wire.Unreliable,
			}}
		}
		p = full
	}

	if p.Reliability.IsOrdered() || p.Reliability.IsSequenced() {
		return l.ordering.Accept(p)
	}
	return []*InternalPacket{p}
}

func (l *Layer) recomputeOldestUnacked(now time.Time) {
	if l.resendList.Len() == 0 {
		l.haveOldestUnacked = false
		return
	}
	if !l.haveOldestUnacked {
		l.oldestUnacked = now
		l.haveOldestUnacked = true
	}
}

// Close tears down the layer, bulk-freeing outstanding sends and split
// reassembly buffers (spec §4.3's lifecycle note).
func (l *Layer) Close() {
	l.resendList.RemoveAll()
	l.sendQueue.RemoveMatching(func(*InternalPacket) bool { return true })
	l.splits = NewSplitPacketChannels(l.cfg.SplitPacketMaxOpen)
	l.dead = true
}
