package flow

import (
	"sync"
	"time"

	"github.com/outline-cli-ws/gatewayd/internal/codec"
	"github.com/outline-cli-ws/gatewayd/internal/rng"
)

// State is the per-flow TCP state, a subset of RFC 793 sufficient for
// transparent forwarding. All states are from the gateway's perspective as
// the pretended remote server.
type State int

const (
	StateClosed State = iota
	StateSynRcvd
	StateEstablished
	StateCloseWait
	StateFinWait
	StateLastAck
	StateTimeWait
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateSynRcvd:
		return "SYN_RCVD"
	case StateEstablished:
		return "ESTABLISHED"
	case StateCloseWait:
		return "CLOSE_WAIT"
	case StateFinWait:
		return "FIN_WAIT"
	case StateLastAck:
		return "LAST_ACK"
	case StateTimeWait:
		return "TIME_WAIT"
	default:
		return "UNKNOWN"
	}
}

const (
	defaultWindow     = 65535
	preDialBufferCap  = 64 * 1024
	defaultIdleTO     = 10 * time.Minute
	timeWaitDuration  = 2 * time.Second
)

// Flow holds the mutable state of one TCP flow. All mutation happens
// through the exported methods below, which a single owning goroutine
// (the TUN reader's dispatch call, plus the flow's own proxy->device
// copier) is expected to serialize via mu.
type Flow struct {
	Key Key

	mu sync.Mutex

	state State

	// nextExpectedClientByte is the next client sequence number we expect
	// (our "ack" value toward the client).
	nextExpectedClientByte uint32
	// clientISN is the client's initial sequence number (SYN seq).
	clientISN uint32

	// ourSeq is the next sequence number we will use when sending.
	ourSeq uint32
	// ourISN is the ISN we chose at SYN/ACK time.
	ourISN uint32

	window uint16

	// preDialBuf accumulates client payload bytes arriving while the proxy
	// dial is still pending.
	preDialBuf []byte

	// counters, read via atomics from outside in a real deployment; kept
	// simple here since all mutation is already mu-guarded.
	bytesToProxy   uint64
	bytesToDevice  uint64
	retransmitDrop uint64
	ackBeyondSent  uint64

	lastActivity time.Time

	// Cancel, set by the owner, is invoked once on teardown to stop the
	// flow's copier goroutines. Nil until the caller installs one.
	Cancel func()

	// ProxyConn is the dialed outbound socket, set once the proxy dialer
	// succeeds. Nil until then.
	ProxyConn ProxyWriter
}

// ProxyWriter is the minimal surface the flow needs from the outbound
// proxy socket: a place to deliver client payload bytes. The full
// net.Conn lives in the supervisor/proxy packages; flow only needs Write.
type ProxyWriter interface {
	Write(b []byte) (int, error)
}

// NewFlow creates a fresh CLOSED flow for key; the caller transitions it to
// SYN_RCVD via HandleSYN once the first SYN arrives.
func NewFlow(key Key) *Flow {
	return &Flow{
		Key:          key,
		state:        StateClosed,
		lastActivity: time.Now(),
	}
}

func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Flow) touch() { f.lastActivity = time.Now() }

// IdleFor reports how long the flow has seen no ingress or egress bytes.
func (f *Flow) IdleFor(now time.Time) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return now.Sub(f.lastActivity)
}

// HandleSYN processes an inbound SYN. If the flow is CLOSED or TIME_WAIT it
// transitions to SYN_RCVD, records the client ISN, and returns a fresh
// flow-local ISN for the caller to build the SYN/ACK with once the proxy
// dial succeeds. In any other state the SYN is treated as a retransmit,
// whatever its sequence number: the caller should re-send the last SYN/ACK
// without disturbing any state.
func (f *Flow) HandleSYN(clientSeq uint32) (isRetransmit bool, ourISN uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == StateClosed || f.state == StateTimeWait {
		f.state = StateSynRcvd
		f.clientISN = clientSeq
		f.nextExpectedClientByte = clientSeq + 1
		f.ourISN = rng.NextISN()
		f.ourSeq = f.ourISN + 1 // SYN consumes one sequence number
		f.preDialBuf = f.preDialBuf[:0]
		f.touch()
		return false, f.ourISN
	}

	// Retransmit of the SYN that created the current handshake.
	f.touch()
	return true, f.ourISN
}

// DialSucceeded transitions SYN_RCVD -> ESTABLISHED once the proxy dial
// completes, returning any bytes that were buffered while the dial was
// pending so the caller can flush them to the proxy socket immediately.
func (f *Flow) DialSucceeded() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateSynRcvd {
		return nil
	}
	f.state = StateEstablished
	buffered := f.preDialBuf
	f.preDialBuf = nil
	f.bytesToProxy += uint64(len(buffered))
	return buffered
}

// DialFailed marks the flow for RST; the caller is responsible for sending
// the RST and removing the flow from the table.
func (f *Flow) DialFailed() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = StateClosed
}

// SegmentResult tells the TUN dispatch loop what to do after feeding one
// inbound TCP segment to the flow.
type SegmentResult struct {
	// ToProxy is payload that should now be written to the proxy socket
	// (only non-nil once ESTABLISHED and in sequence).
	ToProxy []byte
	// AckNow, if true, means the caller should emit a pure ACK segment
	// immediately (e.g. to acknowledge a FIN).
	AckNow bool
	// SendFINACK, if true, the caller should emit our FIN/ACK (CLOSE_WAIT
	// transitioning toward LAST_ACK).
	SendFINACK bool
	// Done, if true, the flow is now CLOSED and should be removed.
	Done bool
	// CloseProxyWrite, if true, the client has FIN'd and every byte before
	// it has been forwarded: the caller should half-close the write side of
	// the proxy socket so an upstream waiting on EOF sees it.
	CloseProxyWrite bool
}

// HandleSegment processes one inbound TCP segment (not a SYN — callers
// dispatch SYNs through HandleSYN first) against the flow's current state.
func (f *Flow) HandleSegment(seq uint32, flags uint8, payload []byte) SegmentResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touch()

	if flags&codec.FlagRST != 0 {
		f.state = StateClosed
		return SegmentResult{Done: true}
	}

	switch f.state {
	case StateSynRcvd:
		// Data before handshake complete: drop silently.
		return SegmentResult{}

	case StateEstablished, StateCloseWait:
		res := f.acceptPayload(seq, payload)
		if flags&codec.FlagFIN != 0 && seq+uint32(len(payload)) == f.nextExpectedClientByte {
			f.nextExpectedClientByte++
			if f.state == StateEstablished {
				f.state = StateCloseWait
				res.CloseProxyWrite = true
			}
			res.AckNow = true
		}
		return res

	case StateFinWait:
		// We've already seen proxy EOF and sent our FIN/ACK; waiting for
		// the client's FIN to complete teardown.
		if flags&codec.FlagFIN != 0 && seq == f.nextExpectedClientByte {
			f.nextExpectedClientByte++
			f.state = StateTimeWait
			return SegmentResult{AckNow: true}
		}
		return SegmentResult{}

	case StateLastAck:
		if flags&codec.FlagACK != 0 {
			f.state = StateClosed
			return SegmentResult{Done: true}
		}
		return SegmentResult{}

	case StateClosed:
		// HandleAck has already moved LAST_ACK -> CLOSED on this segment's
		// ACK of our FIN; report it so the caller removes the flow.
		return SegmentResult{Done: true}

	default:
		return SegmentResult{}
	}
}

// acceptPayload applies ordering/retransmit rules to an inbound payload,
// updating nextExpectedClientByte and returning bytes to forward. Callers
// hold f.mu already.
func (f *Flow) acceptPayload(seq uint32, payload []byte) SegmentResult {
	if len(payload) == 0 {
		return SegmentResult{}
	}

	// Sequence numbers strictly before nextExpectedClientByte are a
	// retransmit; ack the highest contiguous byte and do not re-deliver.
	if seqLess(seq, f.nextExpectedClientByte) {
		f.retransmitDrop++
		return SegmentResult{AckNow: true}
	}

	if seq != f.nextExpectedClientByte {
		// Out-of-order / gap: not modeled (no reassembly in scope); drop.
		return SegmentResult{AckNow: true}
	}

	f.nextExpectedClientByte += uint32(len(payload))
	f.bytesToProxy += uint64(len(payload))
	return SegmentResult{ToProxy: payload, AckNow: true}
}

// HandleAck validates that an inbound ACK covers bytes we actually sent.
// Acks covering unsent bytes are dropped and counted, never RST. Since our
// FIN reserves a sequence number (NextOutboundFIN), an ACK of our FIN has
// ackNum == f.ourSeq exactly — not beyond it — so the LAST_ACK->CLOSED
// transition below is reachable on the client's FIN-ACK.
func (f *Flow) HandleAck(ackNum uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if seqLess(f.ourSeq, ackNum) {
		f.ackBeyondSent++
		return
	}
	if f.state == StateLastAck && ackNum == f.ourSeq {
		f.state = StateClosed
	}
}

// BufferPreDial appends client payload bytes that arrived while the proxy
// dial is still pending, enforcing the bounded cap. Returns false if the
// cap was exceeded, in which case the caller must RST the flow.
func (f *Flow) BufferPreDial(payload []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.preDialBuf)+len(payload) > preDialBufferCap {
		return false
	}
	f.preDialBuf = append(f.preDialBuf, payload...)
	f.nextExpectedClientByte += uint32(len(payload))
	return true
}

// NextOutboundSegment reserves seqLen bytes of outbound sequence space and
// returns the sequence number to send them with, advancing ourSeq.
func (f *Flow) NextOutboundSegment(seqLen int) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	seq := f.ourSeq
	f.ourSeq += uint32(seqLen)
	f.bytesToDevice += uint64(seqLen)
	f.touch()
	return seq
}

// NextOutboundFIN reserves the one sequence number our FIN consumes,
// mirroring the SYN accounting in HandleSYN, and returns the sequence
// number to send it with. Unlike NextOutboundSegment this does not count
// toward bytesToDevice, since a FIN carries no payload.
func (f *Flow) NextOutboundFIN() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	seq := f.ourSeq
	f.ourSeq++
	f.touch()
	return seq
}

// AckValue returns the ack number to stamp on our next outbound segment.
func (f *Flow) AckValue() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nextExpectedClientByte
}

// Window returns the advertised receive window.
func (f *Flow) Window() uint16 {
	return defaultWindow
}

// ProxyEOF transitions ESTABLISHED/CLOSE_WAIT toward our own FIN once the
// proxy socket has hit EOF and every byte read from it has been delivered
// (caller guarantees ordering by only calling this after flushing).
func (f *Flow) ProxyEOF() {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.state {
	case StateEstablished:
		f.state = StateFinWait
	case StateCloseWait:
		f.state = StateLastAck
	}
}

// ProxyError marks the flow for RST due to a proxy socket write failure.
func (f *Flow) ProxyError() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = StateClosed
}

// ISN returns the ISN we chose for this flow, for building the SYN/ACK.
func (f *Flow) ISN() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ourISN
}

// ClientISN returns the client's SYN sequence number.
func (f *Flow) ClientISN() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clientISN
}

// seqLess compares TCP sequence numbers respecting 32-bit wraparound, per
// RFC 1323 serial-number arithmetic: a < b iff (a - b) has its high bit
// set when treated as a signed 32-bit difference.
func seqLess(a, b uint32) bool {
	return int32(a-b) < 0
}
