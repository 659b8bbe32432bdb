package codec

import "encoding/binary"

const mss = 1460

// dontFragment is the IPv4 flags/fragment-offset word with only the DF bit
// set: every packet this gateway synthesizes is a single, unfragmented
// datagram, per spec §4.1.
const dontFragment = 0x4000

// TCPSegmentParams describes the fields needed to build an outbound TCP
// segment back toward the TUN device. The gateway is always replying to a
// flow it owns, so SrcIP/SrcPort here are the flow's original destination
// (the "server" side the client thinks it's talking to) and DstIP/DstPort
// are the flow's original source.
type TCPSegmentParams struct {
	SrcIP, DstIP     [4]byte
	SrcPort, DstPort uint16
	Seq, Ack         uint32
	Flags            uint8
	Window           uint16
	Payload          []byte
}

// BuildTCP constructs a full IPv4+TCP packet, computing both checksums.
// Payload is truncated to at most mss bytes per call; callers needing to
// send more arrange multiple calls with advancing sequence numbers.
func BuildTCP(p TCPSegmentParams) []byte {
	payload := p.Payload
	if len(payload) > mss {
		payload = payload[:mss]
	}

	tcpLen := 20 + len(payload)
	totalLen := 20 + tcpLen

	buf := make([]byte, totalLen)

	// IPv4 header
	buf[0] = 0x45 // version 4, IHL 5
	buf[1] = 0    // DSCP/ECN
	binary.BigEndian.PutUint16(buf[2:4], uint16(totalLen))
	binary.BigEndian.PutUint16(buf[4:6], 0)            // identification
	binary.BigEndian.PutUint16(buf[6:8], dontFragment) // flags/fragment offset
	buf[8] = 64                                        // TTL
	buf[9] = ProtoTCP
	copy(buf[12:16], p.SrcIP[:])
	copy(buf[16:20], p.DstIP[:])
	binary.BigEndian.PutUint16(buf[10:12], 0)
	binary.BigEndian.PutUint16(buf[10:12], ipv4Checksum(buf[0:20]))

	// TCP header
	tcp := buf[20:]
	binary.BigEndian.PutUint16(tcp[0:2], p.SrcPort)
	binary.BigEndian.PutUint16(tcp[2:4], p.DstPort)
	binary.BigEndian.PutUint32(tcp[4:8], p.Seq)
	binary.BigEndian.PutUint32(tcp[8:12], p.Ack)
	tcp[12] = 5 << 4 // data offset, no options
	tcp[13] = p.Flags
	binary.BigEndian.PutUint16(tcp[14:16], p.Window)
	binary.BigEndian.PutUint16(tcp[16:18], 0) // checksum placeholder
	binary.BigEndian.PutUint16(tcp[18:20], 0) // urgent pointer
	copy(tcp[20:], payload)

	binary.BigEndian.PutUint16(tcp[16:18], tcpChecksum(p.SrcIP, p.DstIP, tcp))

	return buf
}

// BuildSYNACK builds the gateway's reply to an inbound SYN, choosing isn as
// its own initial sequence number.
func BuildSYNACK(srcIP, dstIP [4]byte, srcPort, dstPort uint16, isn, ackSeq uint32, window uint16) []byte {
	return BuildTCP(TCPSegmentParams{
		SrcIP: srcIP, DstIP: dstIP,
		SrcPort: srcPort, DstPort: dstPort,
		Seq: isn, Ack: ackSeq,
		Flags: FlagSYN | FlagACK, Window: window,
	})
}

// BuildACK builds a pure (or data-carrying) ACK segment.
func BuildACK(srcIP, dstIP [4]byte, srcPort, dstPort uint16, seq, ack uint32, window uint16, payload []byte) []byte {
	return BuildTCP(TCPSegmentParams{
		SrcIP: srcIP, DstIP: dstIP,
		SrcPort: srcPort, DstPort: dstPort,
		Seq: seq, Ack: ack,
		Flags: FlagACK, Window: window,
		Payload: payload,
	})
}

// BuildFINACK builds a FIN+ACK segment, used when the gateway initiates or
// acknowledges the close of its half of a flow.
func BuildFINACK(srcIP, dstIP [4]byte, srcPort, dstPort uint16, seq, ack uint32, window uint16) []byte {
	return BuildTCP(TCPSegmentParams{
		SrcIP: srcIP, DstIP: dstIP,
		SrcPort: srcPort, DstPort: dstPort,
		Seq: seq, Ack: ack,
		Flags: FlagFIN | FlagACK, Window: window,
	})
}

// BuildRSTACK builds a reset segment, used to reject out-of-policy segments
// (overflow, no route, malformed state) per the flow engine's edge-case
// handling.
func BuildRSTACK(srcIP, dstIP [4]byte, srcPort, dstPort uint16, seq, ack uint32) []byte {
	return BuildTCP(TCPSegmentParams{
		SrcIP: srcIP, DstIP: dstIP,
		SrcPort: srcPort, DstPort: dstPort,
		Seq: seq, Ack: ack,
		Flags: FlagRST | FlagACK,
	})
}

// UDPDatagramParams describes the fields needed to build an outbound UDP
// datagram, used exclusively by the DNS relay to carry resolver replies
// back toward the TUN device.
type UDPDatagramParams struct {
	SrcIP, DstIP     [4]byte
	SrcPort, DstPort uint16
	Payload          []byte
}

// BuildUDP constructs a full IPv4+UDP packet, computing both checksums.
func BuildUDP(p UDPDatagramParams) []byte {
	udpLen := 8 + len(p.Payload)
	totalLen := 20 + udpLen

	buf := make([]byte, totalLen)

	buf[0] = 0x45
	binary.BigEndian.PutUint16(buf[2:4], uint16(totalLen))
	binary.BigEndian.PutUint16(buf[6:8], dontFragment)
	buf[8] = 64
	buf[9] = ProtoUDP
	copy(buf[12:16], p.SrcIP[:])
	copy(buf[16:20], p.DstIP[:])
	binary.BigEndian.PutUint16(buf[10:12], ipv4Checksum(buf[0:20]))

	udp := buf[20:]
	binary.BigEndian.PutUint16(udp[0:2], p.SrcPort)
	binary.BigEndian.PutUint16(udp[2:4], p.DstPort)
	binary.BigEndian.PutUint16(udp[4:6], uint16(udpLen))
	binary.BigEndian.PutUint16(udp[6:8], 0)
	copy(udp[8:], p.Payload)

	binary.BigEndian.PutUint16(udp[6:8], udpChecksum(p.SrcIP, p.DstIP, udp))

	return buf
}
