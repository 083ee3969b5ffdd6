package natpunch

import (
	"net"
	"time"

	"github.com/raknet-go/raknet/internal/bitstream"
	"github.com/raknet-go/raknet/internal/wire"
)

func encodeRequest(id wire.MessageID, sessionID SessionID) []byte {
	w := bitstream.NewWriter()
	w.WriteByte(byte(id))
	w.WriteBytes(sessionID[:])
	return w.Bytes()
}

func decodeSessionID(data []byte) (SessionID, error) {
	var s SessionID
	if len(data) < 1+len(s) {
		return s, errShort
	}
	copy(s[:], data[1:1+len(s)])
	return s, nil
}

var errShort = errShortErr("natpunch: message too short")

type errShortErr string

func (e errShortErr) Error() string { return string(e) }

// punchthroughRequest: NAT_PUNCHTHROUGH_REQUEST(targetGUID).
func encodePunchthroughRequest(targetGUID uint64) []byte {
	w := bitstream.NewWriter()
	w.WriteByte(byte(wire.IDNatPunchthroughRequest))
	w.WriteUint64(targetGUID)
	return w.Bytes()
}

func decodePunchthroughRequest(data []byte) (uint64, error) {
	r := bitstream.NewReader(data[1:])
	return r.ReadUint64()
}

// encodeGUID is the payload of a locally-delivered
// ID_NAT_PUNCHTHROUGH_SUCCEEDED/_FAILED Packet: just the target GUID, since
// the MessageID itself already distinguishes success from failure.
func encodeGUID(guid uint64) []byte {
	w := bitstream.NewWriter()
	w.WriteUint64(guid)
	return w.Bytes()
}

func decodeGUID(data []byte) uint64 {
	r := bitstream.NewReader(data)
	guid, _ := r.ReadUint64()
	return guid
}

// getMostRecentPort: facilitator->client carries just the session id;
// client->facilitator reply additionally carries the observed port. The
// leading bool disambiguates without relying on message direction alone.
func encodeGetMostRecentPortQuery(sessionID SessionID) []byte {
	w := bitstream.NewWriter()
	w.WriteByte(byte(wire.IDNatGetMostRecentPort))
	w.WriteBool(false)
	w.WriteBytes(sessionID[:])
	return w.Bytes()
}

func encodeGetMostRecentPortReply(sessionID SessionID, port uint16) []byte {
	w := bitstream.NewWriter()
	w.WriteByte(byte(wire.IDNatGetMostRecentPort))
	w.WriteBool(true)
	w.WriteBytes(sessionID[:])
	w.WriteUint16(port)
	return w.Bytes()
}

type recentPortMessage struct {
	IsReply   bool
	SessionID SessionID
	Port      uint16
}

func decodeGetMostRecentPort(data []byte) (recentPortMessage, error) {
	r := bitstream.NewReader(data[1:])
	isReply, err := r.ReadBool()
	if err != nil {
		return recentPortMessage{}, err
	}
	var sid SessionID
	b, err := r.ReadBytes(len(sid))
	if err != nil {
		return recentPortMessage{}, err
	}
	copy(sid[:], b)
	m := recentPortMessage{IsReply: isReply, SessionID: sid}
	if isReply {
		port, err := r.ReadUint16()
		if err != nil {
			return recentPortMessage{}, err
		}
		m.Port = port
	}
	return m, nil
}

type connectAtTime struct {
	SessionID       SessionID
	RendezvousTime  time.Time
	TargetPublic    *net.UDPAddr
	TargetInternal  []*net.UDPAddr
	TargetGUID      uint64
	WeAreSender     bool
}

func encodeConnectAtTime(m connectAtTime) []byte {
	w := bitstream.NewWriter()
	w.WriteByte(byte(wire.IDNatConnectAtTime))
	w.WriteBytes(m.SessionID[:])
	w.WriteUint64(uint64(m.RendezvousTime.UnixNano()))
	wire.WriteAddr(w, m.TargetPublic)
	w.WriteByte(byte(len(m.TargetInternal)))
	for _, a := range m.TargetInternal {
		wire.WriteAddr(w, a)
	}
	w.WriteUint64(m.TargetGUID)
	w.WriteBool(m.WeAreSender)
	return w.Bytes()
}

func decodeConnectAtTime(data []byte) (connectAtTime, error) {
	r := bitstream.NewReader(data[1:])
	var m connectAtTime
	b, err := r.ReadBytes(len(m.SessionID))
	if err != nil {
		return m, err
	}
	copy(m.SessionID[:], b)
	ts, err := r.ReadUint64()
	if err != nil {
		return m, err
	}
	m.RendezvousTime = time.Unix(0, int64(ts))
	m.TargetPublic, err = wire.ReadAddr(r)
	if err != nil {
		return m, err
	}
	count, err := r.ReadByte()
	if err != nil {
		return m, err
	}
	for i := 0; i < int(count); i++ {
		a, err := wire.ReadAddr(r)
		if err != nil {
			return m, err
		}
		m.TargetInternal = append(m.TargetInternal, a)
	}
	m.TargetGUID, err = r.ReadUint64()
	if err != nil {
		return m, err
	}
	m.WeAreSender, err = r.ReadBool()
	return m, err
}

func encodeEstablishUnidirectional(sessionID SessionID) []byte {
	return encodeRequest(wire.IDNatEstablishUnidirectional, sessionID)
}

func encodeEstablishBidirectional(sessionID SessionID) []byte {
	return encodeRequest(wire.IDNatEstablishBidirectional, sessionID)
}
