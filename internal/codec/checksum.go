// Package codec parses and builds the IPv4/TCP/UDP headers this gateway
// terminates. It never reaches for a packet-capture library: the whole
// point of this package is the byte-level construct-and-checksum work
// those libraries don't do for you.
package codec

import "encoding/binary"

// sum16 computes the one's-complement sum of 16-bit big-endian words over b,
// folding any odd trailing byte in as a zero-padded word. Callers add this
// to a pseudo-header sum before folding and complementing.
func sum16(b []byte) uint32 {
	var sum uint32
	n := len(b)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(binary.BigEndian.Uint16(b[i : i+2]))
	}
	if n%2 == 1 {
		sum += uint32(b[n-1]) << 8
	}
	return sum
}

// foldChecksum folds a 32-bit accumulator down to the 16-bit one's-complement
// checksum, handling end-around carry.
func foldChecksum(sum uint32) uint16 {
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

// ipv4Checksum computes the IPv4 header checksum. The checksum field within
// header must be zeroed by the caller before calling this.
func ipv4Checksum(header []byte) uint16 {
	return foldChecksum(sum16(header))
}

// pseudoHeaderSum accumulates the IPv4 pseudo-header used by TCP and UDP
// checksums: source address, destination address, zero byte, protocol,
// and the transport-layer length.
func pseudoHeaderSum(srcIP, dstIP [4]byte, proto uint8, length int) uint32 {
	var sum uint32
	sum += uint32(binary.BigEndian.Uint16(srcIP[0:2]))
	sum += uint32(binary.BigEndian.Uint16(srcIP[2:4]))
	sum += uint32(binary.BigEndian.Uint16(dstIP[0:2]))
	sum += uint32(binary.BigEndian.Uint16(dstIP[2:4]))
	sum += uint32(proto)
	sum += uint32(length)
	return sum
}

// tcpChecksum computes the TCP checksum over the pseudo-header, TCP header,
// and payload. The checksum field within tcpSegment must be zeroed first.
func tcpChecksum(srcIP, dstIP [4]byte, tcpSegment []byte) uint16 {
	sum := pseudoHeaderSum(srcIP, dstIP, 6, len(tcpSegment))
	sum += sum16(tcpSegment)
	return foldChecksum(sum)
}

// udpChecksum computes the UDP checksum over the pseudo-header and
// datagram. Per RFC 768, a computed result of zero is transmitted as
// all-ones; a disabled (zero, not computed) checksum is never produced by
// this codec.
func udpChecksum(srcIP, dstIP [4]byte, udpDatagram []byte) uint16 {
	sum := pseudoHeaderSum(srcIP, dstIP, 17, len(udpDatagram))
	sum += sum16(udpDatagram)
	cs := foldChecksum(sum)
	if cs == 0 {
		return 0xffff
	}
	return cs
}
