package nattype

import (
	"github.com/raknet-go/raknet/internal/bitstream"
	"github.com/raknet-go/raknet/internal/wire"
)

// detectionRequest rides the reliable control connection both ways: a
// client sets IsRequest=true to start an attempt (and reports the port its
// auxiliary c2 socket bound), and sets it false to tell the server it has
// finished and can stop sending probes.
type detectionRequest struct {
	IsRequest bool
	C2Port    uint16
}

func encodeDetectionRequest(m detectionRequest) []byte {
	w := bitstream.NewWriter()
	w.WriteByte(byte(wire.IDNatTypeDetectionRequest))
	w.WriteBool(m.IsRequest)
	if m.IsRequest {
		w.WriteUint16(m.C2Port)
	}
	return w.Bytes()
}

func decodeDetectionRequest(data []byte) (detectionRequest, error) {
	r := bitstream.NewReader(data[1:])
	var m detectionRequest
	var err error
	m.IsRequest, err = r.ReadBool()
	if err != nil {
		return m, err
	}
	if m.IsRequest {
		m.C2Port, err = r.ReadUint16()
	}
	return m, err
}

// encodeDetectionResult is the server's final classification, delivered
// over the reliable control connection.
func encodeDetectionResult(result Result) []byte {
	w := bitstream.NewWriter()
	w.WriteByte(byte(wire.IDNatTypeDetectionResult))
	w.WriteByte(byte(result))
	return w.Bytes()
}

func decodeDetectionResult(data []byte) (Result, error) {
	r := bitstream.NewReader(data[1:])
	b, err := r.ReadByte()
	return Result(b), err
}

// encodeNoneProbe is the single-byte probe s4p5 fires at the client's c2
// socket: arrival alone proves an unrestricted (no-NAT) path, so the only
// content needed is the result byte itself.
func encodeNoneProbe() []byte { return []byte{byte(ResultNone)} }

// encodeTypeDetectProbe is what s1p2/s2p3 send directly to the client's
// main connected address - arriving there unconnected, it is delivered to
// the client's raw receiver rather than through the reliability layer.
func encodeTypeDetectProbe(result Result) []byte {
	w := bitstream.NewWriter()
	w.WriteByte(byte(wire.IDNatTypeDetectionResult))
	w.WriteByte(byte(result))
	return w.Bytes()
}

// decodeTypeDetectProbe reads what encodeTypeDetectProbe wrote; shares its
// wire shape with encodeDetectionResult deliberately, since both carry just
// a classification byte, but arrives over a different channel (raw vs.
// reliable) so callers decode it separately.
func decodeTypeDetectProbe(data []byte) (Result, error) {
	return decodeDetectionResult(data)
}

// portRestrictedRequest tells the client which address/port (s3p4) to fire
// its own raw probe at, so the server can compare the observed sender
// address against the one it already knows for this client.
type portRestrictedRequest struct {
	S3P4Addr string
	S3P4Port uint16
}

func encodePortRestrictedRequest(m portRestrictedRequest) []byte {
	w := bitstream.NewWriter()
	w.WriteByte(byte(wire.IDNatTypeDetectionRequest))
	w.WriteByte(byte(len(m.S3P4Addr)))
	w.WriteBytes([]byte(m.S3P4Addr))
	w.WriteUint16(m.S3P4Port)
	return w.Bytes()
}

func decodePortRestrictedRequest(data []byte) (portRestrictedRequest, error) {
	r := bitstream.NewReader(data[1:])
	var m portRestrictedRequest
	n, err := r.ReadByte()
	if err != nil {
		return m, err
	}
	b, err := r.ReadBytes(int(n))
	if err != nil {
		return m, err
	}
	m.S3P4Addr = string(b)
	m.S3P4Port, err = r.ReadUint16()
	return m, err
}

// portRestrictedProbe is what the client fires at s3p4 in response to a
// portRestrictedRequest: its own GUID, so the server can match the probe's
// observed sender address to the client's known connected address.
func encodePortRestrictedProbe(clientGUID uint64) []byte {
	w := bitstream.NewWriter()
	w.WriteByte(byte(ResultPortRestricted))
	w.WriteUint64(clientGUID)
	return w.Bytes()
}

func decodePortRestrictedProbe(data []byte) (uint64, error) {
	r := bitstream.NewReader(data[1:])
	return r.ReadUint64()
}
