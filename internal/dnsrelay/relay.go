// Package dnsrelay forwards UDP/53 queries arriving over the TUN device to
// configured upstream resolvers and relays the answers back as synthesized
// UDP packets, per spec §4.6. Each query is unpacked with miekg/dns only to
// read its transaction ID; query and answer bytes are relayed unchanged.
package dnsrelay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/outline-cli-ws/gatewayd/internal/codec"
	"github.com/outline-cli-ws/gatewayd/internal/gwerrors"
	"github.com/outline-cli-ws/gatewayd/internal/metrics"
	"github.com/outline-cli-ws/gatewayd/internal/protect"
)

const defaultQueryTimeout = 3 * time.Second

// txKey identifies one pending query: spec requires at most one pending
// query per (src_ip, src_port, txid).
type txKey struct {
	srcIP   [4]byte
	srcPort uint16
	txid    uint16
}

// resolver is one upstream DNS server with a short failure cooldown,
// adapted from the teacher's load-balancer health/cooldown idiom scaled
// down to a fixed two-resolver pool.
type resolver struct {
	addr          string
	mu            sync.Mutex
	cooldownUntil time.Time
}

func (r *resolver) available(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return now.After(r.cooldownUntil)
}

func (r *resolver) markFailed(now time.Time, cooldown time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cooldownUntil = now.Add(cooldown)
}

// Relay forwards queries to a primary resolver with fallback to a
// secondary, per spec §4.6.
type Relay struct {
	primary   *resolver
	secondary *resolver
	fwmark    uint32
	timeout   time.Duration
	cooldown  time.Duration
	metrics   *metrics.Registry

	// Emit is called with each synthesized outbound IPv4+UDP response
	// packet, destined for the TUN writer.
	Emit func(packet []byte)

	mu      sync.Mutex
	pending map[txKey]context.CancelFunc
}

// NewRelay creates a relay forwarding to primary/secondary resolver
// addresses ("host:53"). reg may be nil, in which case query outcomes are
// not recorded.
func NewRelay(primary, secondary string, fwmark uint32, reg *metrics.Registry) *Relay {
	return &Relay{
		primary:   &resolver{addr: primary},
		secondary: &resolver{addr: secondary},
		fwmark:    fwmark,
		timeout:   defaultQueryTimeout,
		cooldown:  10 * time.Second,
		metrics:   reg,
		pending:   make(map[txKey]context.CancelFunc),
	}
}

// HandleQuery processes one inbound UDP/53 datagram. srcIP/srcPort/dstIP/
// dstPort are the original packet's addresses (srcIP:srcPort is the
// device-side application; dstIP:dstPort is whichever resolver address the
// device thinks it queried — used only to build the reply's source).
func (r *Relay) HandleQuery(srcIP, dstIP [4]byte, srcPort, dstPort uint16, query []byte) {
	msg := new(dns.Msg)
	if err := msg.Unpack(query); err != nil {
		return
	}
	key := txKey{srcIP: srcIP, srcPort: srcPort, txid: msg.Id}

	r.mu.Lock()
	if _, dup := r.pending[key]; dup {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	r.pending[key] = cancel
	r.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			r.mu.Lock()
			delete(r.pending, key)
			r.mu.Unlock()
		}()

		resp, err := r.forward(ctx, query)
		if err != nil {
			if r.metrics != nil {
				r.metrics.IncDNSQuery(dnsQueryResultLabel(err))
			}
			return
		}
		if r.metrics != nil {
			r.metrics.IncDNSQuery("ok")
		}
		r.Emit(codec.BuildUDP(codec.UDPDatagramParams{
			SrcIP: dstIP, DstIP: srcIP,
			SrcPort: dstPort, DstPort: srcPort,
			Payload: resp,
		}))
	}()
}

// forward sends query to whichever resolver is available, preferring
// primary, and returns the raw answer bytes. Both resolvers share the one
// query deadline in ctx (r.timeout): the secondary is tried only when the
// primary is in cooldown or fails before that deadline, so a primary that
// times out leaves no time for the secondary.
func (r *Relay) forward(ctx context.Context, query []byte) ([]byte, error) {
	now := time.Now()
	order := []*resolver{r.primary}
	if r.secondary.addr != "" {
		order = append(order, r.secondary)
	}

	var lastErr error
	for _, res := range order {
		if ctx.Err() != nil {
			// The deadline is spent: a resolver not yet tried is neither
			// queried nor put in cooldown.
			break
		}
		if res.addr == "" || !res.available(now) {
			continue
		}
		answer, err := r.queryOne(ctx, res.addr, query)
		if err == nil {
			return answer, nil
		}
		res.markFailed(now, r.cooldown)
		lastErr = err
	}
	if lastErr == nil {
		lastErr = gwerrors.ErrDNSTimeout
	}
	return nil, lastErr
}

func dnsQueryResultLabel(err error) string {
	if errors.Is(err, gwerrors.ErrDNSTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "error"
}

func (r *Relay) queryOne(ctx context.Context, addr string, query []byte) ([]byte, error) {
	d := net.Dialer{Control: protect.Control(r.fwmark)}
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("dns relay: dial %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if _, err := conn.Write(query); err != nil {
		return nil, fmt.Errorf("dns relay: write to %s: %w", addr, err)
	}

	buf := make([]byte, 65535)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("dns relay: read from %s: %w", addr, err)
	}
	return buf[:n], nil
}
