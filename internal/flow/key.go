// Package flow implements the hand-rolled TCP state machine and the flow
// table that owns one entry per (src_ip, src_port, dst_ip, dst_port) tuple.
package flow

import "fmt"

// Key identifies a flow by its IPv4 4-tuple.
type Key struct {
	SrcIP   [4]byte
	SrcPort uint16
	DstIP   [4]byte
	DstPort uint16
}

func (k Key) String() string {
	return fmt.Sprintf("%d.%d.%d.%d:%d->%d.%d.%d.%d:%d",
		k.SrcIP[0], k.SrcIP[1], k.SrcIP[2], k.SrcIP[3], k.SrcPort,
		k.DstIP[0], k.DstIP[1], k.DstIP[2], k.DstIP[3], k.DstPort)
}
