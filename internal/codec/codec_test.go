package codec

import (
	"bytes"
	"testing"
)

func TestTunPrefixStrip(t *testing.T) {
	cases := []struct {
		name    string
		prefix  TunPrefix
		raw     []byte
		want    []byte
		wantErr bool
	}{
		{"none passthrough", PrefixNone, []byte{1, 2, 3}, []byte{1, 2, 3}, false},
		{"four strips header", PrefixFour, []byte{0, 0, 0, 2, 0x45, 0x00}, []byte{0x45, 0x00}, false},
		{"four too short", PrefixFour, []byte{0, 0}, nil, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := c.prefix.Strip(c.raw)
			if c.wantErr {
				if err == nil {
					t.Fatalf("expected error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !bytes.Equal(got, c.want) {
				t.Fatalf("got %v, want %v", got, c.want)
			}
		})
	}
}

func TestBuildAndParseTCPRoundTrip(t *testing.T) {
	src := [4]byte{10, 0, 0, 1}
	dst := [4]byte{93, 184, 216, 34}
	payload := []byte("hello")

	pkt := BuildACK(src, dst, 443, 55000, 1000, 2000, 65535, payload)

	ip, err := ParseIPv4(pkt)
	if err != nil {
		t.Fatalf("ParseIPv4: %v", err)
	}
	if ip.Protocol != ProtoTCP {
		t.Fatalf("protocol = %d, want TCP", ip.Protocol)
	}
	if ip.SrcIP != src || ip.DstIP != dst {
		t.Fatalf("ip addrs mismatch: %v -> %v", ip.SrcIP, ip.DstIP)
	}

	tcp, err := ParseTCP(ip.Payload)
	if err != nil {
		t.Fatalf("ParseTCP: %v", err)
	}
	if tcp.SrcPort != 443 || tcp.DstPort != 55000 {
		t.Fatalf("ports mismatch: %d -> %d", tcp.SrcPort, tcp.DstPort)
	}
	if tcp.Flags != FlagACK {
		t.Fatalf("flags = %x, want ACK", tcp.Flags)
	}
	if !bytes.Equal(tcp.Payload, payload) {
		t.Fatalf("payload = %q, want %q", tcp.Payload, payload)
	}
}

func TestTCPChecksumDetectsCorruption(t *testing.T) {
	src := [4]byte{10, 0, 0, 1}
	dst := [4]byte{1, 1, 1, 1}
	pkt := BuildSYNACK(src, dst, 80, 9000, 111, 222, 65535)

	// Flip the destination port's high byte in the TCP header and confirm
	// the checksum we'd recompute no longer matches the transmitted one.
	corrupted := append([]byte(nil), pkt...)
	corrupted[20+2] ^= 0xff // dest port high byte

	ip, _ := ParseIPv4(corrupted)
	tcpSeg := append([]byte(nil), ip.Payload...)
	wantChecksum := uint16(tcpSeg[16])<<8 | uint16(tcpSeg[17])
	// zero it before recomputation, as the wire format requires
	tcpSeg[16], tcpSeg[17] = 0, 0
	gotChecksum := tcpChecksum(ip.SrcIP, ip.DstIP, tcpSeg)
	if wantChecksum == gotChecksum {
		t.Fatalf("checksum failed to detect corruption")
	}
}

func TestUDPChecksumAllOnesWhenZero(t *testing.T) {
	src := [4]byte{10, 0, 0, 1}
	dst := [4]byte{1, 1, 1, 1}
	// With these addresses and an empty payload, destination port 62374
	// brings the one's-complement sum to exactly 0xffff, so the computed
	// checksum is zero.
	pkt := BuildUDP(UDPDatagramParams{SrcIP: src, DstIP: dst, SrcPort: 53, DstPort: 62374})

	ip, err := ParseIPv4(pkt)
	if err != nil {
		t.Fatalf("ParseIPv4: %v", err)
	}
	udp, err := ParseUDP(ip.Payload)
	if err != nil {
		t.Fatalf("ParseUDP: %v", err)
	}
	if udp.SrcPort != 53 {
		t.Fatalf("SrcPort = %d", udp.SrcPort)
	}
	checksum := ip.Payload[6:8]
	if checksum[0] != 0xff || checksum[1] != 0xff {
		t.Fatalf("udp checksum transmitted as %x, want all-ones when computed result is zero", checksum)
	}
}

func TestParseIPv4RejectsTruncated(t *testing.T) {
	if _, err := ParseIPv4([]byte{0x45, 0, 0, 20}); err == nil {
		t.Fatalf("expected error for truncated ipv4 header")
	}
}
