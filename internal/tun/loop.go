package tun

import (
	"context"
	"fmt"

	"github.com/songgao/water"

	"github.com/outline-cli-ws/gatewayd/internal/codec"
	"github.com/outline-cli-ws/gatewayd/internal/dnsrelay"
	"github.com/outline-cli-ws/gatewayd/internal/flow"
)

// Loop owns the TUN device and runs the single reader task plus the
// single writer task (fed by a channel) described in spec §4.5.
type Loop struct {
	ifce   *water.Interface
	mtu    int
	prefix codec.TunPrefix

	writeCh chan []byte

	Dispatcher *flow.Dispatcher
	DNS        *dnsrelay.Relay

	// OnActivity is called once per non-empty read, so the supervisor can
	// stamp the session's last-packet-seen timestamp (spec §3 invariant).
	OnActivity func()
}

// Open opens the named TUN device and wires a Loop around it. prefix
// selects the platform TUN framing mode (spec §9 open question: always
// explicit, never inferred).
func Open(device string, prefix codec.TunPrefix) (*Loop, error) {
	ifce, mtu, err := openDevice(device)
	if err != nil {
		return nil, err
	}
	l := &Loop{
		ifce:    ifce,
		mtu:     mtu,
		prefix:  prefix,
		writeCh: make(chan []byte, 1024),
	}
	return l, nil
}

func (l *Loop) Close() error {
	return l.ifce.Close()
}

// Enqueue schedules packet for the single TUN writer; this is the
// function flow.Dispatcher.Emit and dnsrelay.Relay.Emit are wired to, and
// it's the total ordering point spec §5 requires for all outbound frames.
func (l *Loop) Enqueue(packet []byte) {
	select {
	case l.writeCh <- packet:
	default:
		// Writer is backed up; drop rather than block the caller
		// indefinitely. A full channel here means the TUN fd itself is
		// the bottleneck, and backpressure already propagates to the
		// flow copiers via their own blocking writes to this channel in
		// the normal (non-full) case.
	}
}

// Run drives the reader and writer loops until ctx is cancelled or an I/O
// error occurs.
func (l *Loop) Run(ctx context.Context) error {
	errCh := make(chan error, 2)
	go func() { errCh <- l.readLoop(ctx) }()
	go func() { errCh <- l.writeLoop(ctx) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (l *Loop) readLoop(ctx context.Context) error {
	buf := make([]byte, l.mtu+4)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := l.ifce.Read(buf)
		if err != nil {
			return fmt.Errorf("tun: read: %w", err)
		}
		if n == 0 {
			continue
		}
		if l.OnActivity != nil {
			l.OnActivity()
		}

		raw := buf[:n]
		datagram, err := l.prefix.Strip(raw)
		if err != nil {
			continue // malformed framing: drop, never fatal
		}

		ip, err := codec.ParseIPv4(datagram)
		if err != nil {
			continue
		}

		switch ip.Protocol {
		case codec.ProtoTCP:
			tcp, err := codec.ParseTCP(ip.Payload)
			if err != nil {
				continue
			}
			l.Dispatcher.HandleTCP(ip, tcp)
		case codec.ProtoUDP:
			udp, err := codec.ParseUDP(ip.Payload)
			if err != nil {
				continue
			}
			if udp.DstPort == 53 {
				l.DNS.HandleQuery(ip.SrcIP, ip.DstIP, udp.SrcPort, udp.DstPort, udp.Payload)
			}
		default:
			// anything else (ICMP, IPv6-in-v4, etc. are explicitly out of
			// scope) is dropped; no counter records it
		}
	}
}

func (l *Loop) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case packet := <-l.writeCh:
			framed := l.prefix.Prepend(packet)
			if _, err := l.ifce.Write(framed); err != nil {
				return fmt.Errorf("tun: write: %w", err)
			}
		}
	}
}
