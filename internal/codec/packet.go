package codec

import (
	"encoding/binary"
	"fmt"
)

// TunPrefix selects how many leading bytes of a raw TUN read must be
// stripped before the IPv4 header begins. Some platforms prepend a 4-byte
// address-family header to every packet; others hand back the IPv4 header
// directly. This is never inferred from the runtime platform — it is always
// set explicitly from configuration, because guessing wrong silently
// corrupts every packet on the wire.
type TunPrefix int

const (
	PrefixNone TunPrefix = iota
	PrefixFour
)

// Strip removes the configured prefix from a raw TUN read, returning the
// IPv4 datagram that follows it.
func (p TunPrefix) Strip(raw []byte) ([]byte, error) {
	switch p {
	case PrefixNone:
		return raw, nil
	case PrefixFour:
		if len(raw) < 4 {
			return nil, fmt.Errorf("codec: tun frame too short for 4-byte prefix: %d bytes", len(raw))
		}
		return raw[4:], nil
	default:
		return nil, fmt.Errorf("codec: unknown tun prefix mode %d", p)
	}
}

// Prepend re-attaches the configured prefix ahead of an outbound IPv4
// datagram before it is written back to the TUN device.
func (p TunPrefix) Prepend(datagram []byte) []byte {
	switch p {
	case PrefixFour:
		out := make([]byte, 4+len(datagram))
		// AF_INET in host byte order, as the BSD/Darwin utun convention expects.
		binary.LittleEndian.PutUint32(out[0:4], 2)
		copy(out[4:], datagram)
		return out
	default:
		return datagram
	}
}

const (
	ProtoTCP = 6
	ProtoUDP = 17
)

// IPv4Header is a parsed view over an IPv4 packet's fixed header fields.
// Options, if present, are skipped over but not interpreted: spec scope is
// IHL=5 traffic, and packets carrying options are treated as having an
// opaque, unparsed options region rather than rejected outright.
type IPv4Header struct {
	IHL      int
	TotalLen int
	Protocol uint8
	SrcIP    [4]byte
	DstIP    [4]byte
	Payload  []byte // transport-layer bytes, i.e. everything after the header
}

// ParseIPv4 parses the fixed IPv4 header plus an options region (if any),
// returning the protocol payload as Payload. It returns an error for
// anything shorter than a minimal header or whose declared lengths don't
// fit the buffer; it does not validate the header checksum of inbound
// packets, since a userspace TUN device never sees wire corruption.
func ParseIPv4(b []byte) (*IPv4Header, error) {
	if len(b) < 20 {
		return nil, fmt.Errorf("codec: ipv4 packet too short: %d bytes", len(b))
	}
	if b[0]>>4 != 4 {
		return nil, fmt.Errorf("codec: not an ipv4 packet (version=%d)", b[0]>>4)
	}
	ihl := int(b[0]&0x0f) * 4
	if ihl < 20 {
		return nil, fmt.Errorf("codec: invalid ipv4 ihl: %d", ihl)
	}
	totalLen := int(binary.BigEndian.Uint16(b[2:4]))
	if totalLen < ihl || totalLen > len(b) {
		return nil, fmt.Errorf("codec: invalid ipv4 total length %d for buffer of %d", totalLen, len(b))
	}
	if len(b) < ihl {
		return nil, fmt.Errorf("codec: ipv4 header truncated: ihl=%d, have %d", ihl, len(b))
	}

	h := &IPv4Header{
		IHL:      ihl,
		TotalLen: totalLen,
		Protocol: b[9],
	}
	copy(h.SrcIP[:], b[12:16])
	copy(h.DstIP[:], b[16:20])
	h.Payload = b[ihl:totalLen]
	return h, nil
}

// TCPHeader is a parsed view over a TCP segment.
type TCPHeader struct {
	SrcPort  uint16
	DstPort  uint16
	Seq      uint32
	Ack      uint32
	DataOff  int // header length in bytes
	Flags    uint8
	Window   uint16
	Payload  []byte
}

const (
	FlagFIN uint8 = 1 << 0
	FlagSYN uint8 = 1 << 1
	FlagRST uint8 = 1 << 2
	FlagPSH uint8 = 1 << 3
	FlagACK uint8 = 1 << 4
)

// ParseTCP parses a TCP segment, ignoring options beyond the fixed header;
// RFC 793 option negotiation (MSS, window scale, SACK) is out of scope.
func ParseTCP(b []byte) (*TCPHeader, error) {
	if len(b) < 20 {
		return nil, fmt.Errorf("codec: tcp segment too short: %d bytes", len(b))
	}
	dataOff := int(b[12]>>4) * 4
	if dataOff < 20 || dataOff > len(b) {
		return nil, fmt.Errorf("codec: invalid tcp data offset %d for segment of %d", dataOff, len(b))
	}
	return &TCPHeader{
		SrcPort: binary.BigEndian.Uint16(b[0:2]),
		DstPort: binary.BigEndian.Uint16(b[2:4]),
		Seq:     binary.BigEndian.Uint32(b[4:8]),
		Ack:     binary.BigEndian.Uint32(b[8:12]),
		DataOff: dataOff,
		Flags:   b[13],
		Window:  binary.BigEndian.Uint16(b[14:16]),
		Payload: b[dataOff:],
	}, nil
}

// UDPHeader is a parsed view over a UDP datagram.
type UDPHeader struct {
	SrcPort uint16
	DstPort uint16
	Payload []byte
}

func ParseUDP(b []byte) (*UDPHeader, error) {
	if len(b) < 8 {
		return nil, fmt.Errorf("codec: udp datagram too short: %d bytes", len(b))
	}
	length := int(binary.BigEndian.Uint16(b[4:6]))
	if length < 8 || length > len(b) {
		return nil, fmt.Errorf("codec: invalid udp length %d for buffer of %d", length, len(b))
	}
	return &UDPHeader{
		SrcPort: binary.BigEndian.Uint16(b[0:2]),
		DstPort: binary.BigEndian.Uint16(b[2:4]),
		Payload: b[8:length],
	}, nil
}
