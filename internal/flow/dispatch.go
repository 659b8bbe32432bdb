package flow

import (
	"github.com/outline-cli-ws/gatewayd/internal/codec"
)

// Dialer is the minimal surface the dispatcher needs to start a new
// outbound connection for a freshly accepted flow; internal/proxy and
// internal/supervisor supply the concrete implementation, keeping this
// package free of any proxy-protocol or socket-protection knowledge.
type Dialer interface {
	// Dial opens and fully establishes (including any proxy handshake) a
	// socket toward dstIP:dstPort, then calls onEstablished with it as a
	// ProxyWriter, or onFailed with the error. Dispatch only writes to the
	// socket; the implementation (supervisor) owns the read-side copier
	// goroutine.
	Dial(key Key, dstIP [4]byte, dstPort uint16, onEstablished func(ProxyWriter), onFailed func(error))
}

// Dispatcher owns the flow table and turns inbound IPv4/TCP frames into
// flow-state transitions plus outbound frames for the TUN writer.
type Dispatcher struct {
	Table  *Table
	Dialer Dialer
	// Emit is called with each outbound IPv4 packet the dispatcher
	// synthesizes; the caller feeds it into the TUN writer channel.
	Emit func(packet []byte)
	// OnTeardown is called once a flow is fully closed and removed from
	// the table, so the owner can cancel its copier goroutines.
	OnTeardown func(key Key)
	// OnFlowOverflow is called when a flow's pre-dial buffer exceeds its
	// cap and the flow is RST as a result, so the owner can record it.
	OnFlowOverflow func()
}

// HandleTCP processes one parsed inbound IPv4+TCP packet.
func (d *Dispatcher) HandleTCP(ip *codec.IPv4Header, tcp *codec.TCPHeader) {
	key := Key{SrcIP: ip.SrcIP, SrcPort: tcp.SrcPort, DstIP: ip.DstIP, DstPort: tcp.DstPort}

	if tcp.Flags&codec.FlagSYN != 0 && tcp.Flags&codec.FlagACK == 0 {
		d.handleSYN(key, tcp.Seq)
		return
	}

	f, ok := d.Table.Get(key)
	if !ok {
		// Unknown flow: reply RST/ACK per the codec helper's contract.
		d.Emit(codec.BuildRSTACK(ip.DstIP, ip.SrcIP, tcp.DstPort, tcp.SrcPort, tcp.Ack, tcp.Seq+1))
		return
	}

	if f.State() == StateSynRcvd && len(tcp.Payload) > 0 {
		if !f.BufferPreDial(tcp.Payload) {
			if d.OnFlowOverflow != nil {
				d.OnFlowOverflow()
			}
			d.rstAndRemove(f, ip, tcp)
		}
		return
	}

	if tcp.Flags&codec.FlagACK != 0 {
		f.HandleAck(tcp.Ack)
	}

	res := f.HandleSegment(tcp.Seq, tcp.Flags, tcp.Payload)

	if res.ToProxy != nil && f.ProxyConn != nil {
		if _, err := f.ProxyConn.Write(res.ToProxy); err != nil {
			f.ProxyError()
			d.rstAndRemove(f, ip, tcp)
			return
		}
	}
	if res.CloseProxyWrite && f.ProxyConn != nil {
		// The client FIN'd and every byte before it is already flushed
		// above; half-close the proxy write side so an upstream waiting on
		// EOF before replying doesn't stall until the idle sweep.
		if cw, ok := f.ProxyConn.(interface{ CloseWrite() error }); ok {
			_ = cw.CloseWrite()
		}
	}
	if res.AckNow {
		d.emitAck(f, ip, tcp, nil)
	}
	if res.Done {
		d.Table.Remove(key)
		if d.OnTeardown != nil {
			d.OnTeardown(key)
		}
	}
}

func (d *Dispatcher) handleSYN(key Key, clientSeq uint32) {
	f, _ := d.Table.GetOrCreate(key)
	retransmit, isn := f.HandleSYN(clientSeq)

	if retransmit {
		d.emitSynAck(f, key, isn)
		return
	}

	d.Dialer.Dial(key, key.DstIP, key.DstPort,
		func(conn ProxyWriter) {
			f.ProxyConn = conn
			buffered := f.DialSucceeded()
			d.emitSynAck(f, key, isn)
			if len(buffered) > 0 {
				_, _ = conn.Write(buffered)
			}
		},
		func(err error) {
			f.DialFailed()
			d.Emit(codec.BuildRSTACK(key.DstIP, key.SrcIP, key.DstPort, key.SrcPort, isn, f.ClientISN()+1))
			d.Table.Remove(key)
		},
	)
}

func (d *Dispatcher) emitSynAck(f *Flow, key Key, isn uint32) {
	d.Emit(codec.BuildSYNACK(key.DstIP, key.SrcIP, key.DstPort, key.SrcPort, isn, f.ClientISN()+1, f.Window()))
}

func (d *Dispatcher) emitAck(f *Flow, ip *codec.IPv4Header, tcp *codec.TCPHeader, payload []byte) {
	seq := f.NextOutboundSegment(len(payload))
	d.Emit(codec.BuildACK(ip.DstIP, ip.SrcIP, tcp.DstPort, tcp.SrcPort, seq, f.AckValue(), f.Window(), payload))
}

// EmitFromProxy is called by a flow's proxy->device copier with bytes read
// from the proxy socket; it slices them into MSS-bounded segments.
func (d *Dispatcher) EmitFromProxy(key Key, data []byte) {
	f, ok := d.Table.Get(key)
	if !ok {
		return
	}
	const mss = 1460
	for len(data) > 0 {
		n := len(data)
		if n > mss {
			n = mss
		}
		chunk := data[:n]
		data = data[n:]
		seq := f.NextOutboundSegment(len(chunk))
		d.Emit(codec.BuildACK(key.DstIP, key.SrcIP, key.DstPort, key.SrcPort, seq, f.AckValue(), f.Window(), chunk))
	}
}

// ProxyClosed is called by a flow's proxy->device copier when the proxy
// socket hits EOF after every read byte has been emitted.
func (d *Dispatcher) ProxyClosed(key Key) {
	f, ok := d.Table.Get(key)
	if !ok {
		return
	}
	f.ProxyEOF()
	seq := f.NextOutboundFIN()
	d.Emit(codec.BuildFINACK(key.DstIP, key.SrcIP, key.DstPort, key.SrcPort, seq, f.AckValue(), f.Window()))
}

// ProxyFailed is called when the proxy socket's write side errors; the
// flow is RST and removed.
func (d *Dispatcher) ProxyFailed(key Key) {
	f := d.Table.Remove(key)
	if f == nil {
		return
	}
	seq := f.NextOutboundSegment(0)
	d.Emit(codec.BuildRSTACK(key.DstIP, key.SrcIP, key.DstPort, key.SrcPort, seq, f.AckValue()))
	if d.OnTeardown != nil {
		d.OnTeardown(key)
	}
}

func (d *Dispatcher) rstAndRemove(f *Flow, ip *codec.IPv4Header, tcp *codec.TCPHeader) {
	seq := f.NextOutboundSegment(0)
	d.Emit(codec.BuildRSTACK(ip.DstIP, ip.SrcIP, tcp.DstPort, tcp.SrcPort, seq, f.AckValue()))
	d.Table.Remove(f.Key)
	if d.OnTeardown != nil {
		d.OnTeardown(f.Key)
	}
}

// RSTFlowByKey sends an RST for key and removes it from the table; used by
// the supervisor's idle-eviction sweep (Table.IterExpired feeds the keys).
func (d *Dispatcher) RSTFlowByKey(key Key) {
	f := d.Table.Remove(key)
	if f == nil {
		return
	}
	seq := f.NextOutboundSegment(0)
	d.Emit(codec.BuildRSTACK(key.DstIP, key.SrcIP, key.DstPort, key.SrcPort, seq, f.AckValue()))
	if d.OnTeardown != nil {
		d.OnTeardown(key)
	}
}

// ReapTimeWait removes a flow that has lingered in TIME_WAIT past
// Table.TimeWaitDuration, used by the supervisor's sweep (Table.IterTimeWait
// feeds the keys). The close already completed cleanly on both sides, so no
// RST is sent — this only frees the table slot and tears down the proxy
// socket via OnTeardown.
func (d *Dispatcher) ReapTimeWait(key Key) {
	if d.Table.Remove(key) == nil {
		return
	}
	if d.OnTeardown != nil {
		d.OnTeardown(key)
	}
}
