package wire

import (
	"fmt"
	"net"

	"github.com/raknet-go/raknet/internal/bitstream"
)

// WriteAddr encodes a UDP address as 4 bytes of IPv4 plus a big-endian
// port, the same fixed-width encoding NAT punchthrough and NAT type
// detection messages carry addresses in (spec §4.6/§4.7 exchange internal
// and external address lists).
func WriteAddr(w *bitstream.Writer, addr *net.UDPAddr) {
	ip4 := addr.IP.To4()
	if ip4 == nil {
		ip4 = net.IPv4zero.To4()
	}
	w.WriteBytes(ip4)
	w.WriteUint16(uint16(addr.Port))
}

// ReadAddr decodes an address written by WriteAddr.
func ReadAddr(r *bitstream.Reader) (*net.UDPAddr, error) {
	b, err := r.ReadBytes(4)
	if err != nil {
		return nil, fmt.Errorf("wire: read addr: %w", err)
	}
	port, err := r.ReadUint16()
	if err != nil {
		return nil, fmt.Errorf("wire: read addr port: %w", err)
	}
	return &net.UDPAddr{IP: net.IPv4(b[0], b[1], b[2], b[3]), Port: int(port)}, nil
}
