package flow

import (
	"testing"
	"time"

	"github.com/outline-cli-ws/gatewayd/internal/codec"
)

func testKey() Key {
	return Key{SrcIP: [4]byte{10, 0, 0, 2}, SrcPort: 55000, DstIP: [4]byte{93, 184, 216, 34}, DstPort: 80}
}

func TestHandshakeCorrectness(t *testing.T) {
	f := NewFlow(testKey())
	retransmit, isn := f.HandleSYN(1000)
	if retransmit {
		t.Fatalf("first SYN should not be a retransmit")
	}
	if f.ClientISN() != 1000 {
		t.Fatalf("clientISN = %d, want 1000", f.ClientISN())
	}
	if f.AckValue() != 1001 {
		t.Fatalf("ack after SYN = %d, want 1001 (P4)", f.AckValue())
	}

	f.DialSucceeded()
	res := f.HandleSegment(1001, codec.FlagACK|codec.FlagPSH, []byte("hello"))
	if res.ToProxy == nil {
		t.Fatalf("expected payload to forward")
	}
	if f.AckValue() != 1001+5 {
		t.Fatalf("ack after 5-byte payload = %d, want %d", f.AckValue(), 1001+5)
	}
	_ = isn
}

func TestRetransmitSYNAbsorbed(t *testing.T) {
	f := NewFlow(testKey())
	retransmit1, isn1 := f.HandleSYN(2000)
	retransmit2, isn2 := f.HandleSYN(2000)
	if retransmit1 {
		t.Fatalf("first SYN should create the handshake, not retransmit")
	}
	if !retransmit2 {
		t.Fatalf("second identical SYN should be treated as a retransmit (scenario 3)")
	}
	if isn1 != isn2 {
		t.Fatalf("retransmit must re-send the same ISN: %d != %d", isn1, isn2)
	}
}

func TestDataBeforeHandshakeDropped(t *testing.T) {
	f := NewFlow(testKey())
	f.HandleSYN(3000)
	res := f.HandleSegment(3001, codec.FlagACK, []byte("early"))
	if res.ToProxy != nil {
		t.Fatalf("payload before handshake complete must be dropped silently")
	}
}

func TestAckBeyondSentDroppedNotRST(t *testing.T) {
	f := NewFlow(testKey())
	f.HandleSYN(4000)
	f.DialSucceeded()
	f.HandleAck(f.ISN() + 100000) // way beyond anything sent
	if f.State() == StateClosed {
		t.Fatalf("ack covering unsent bytes must not RST the flow")
	}
}

func TestPreDialBufferOverflowSignalsRST(t *testing.T) {
	f := NewFlow(testKey())
	f.HandleSYN(5000)
	big := make([]byte, preDialBufferCap)
	if !f.BufferPreDial(big) {
		t.Fatalf("buffering exactly the cap should succeed")
	}
	if f.BufferPreDial([]byte{1}) {
		t.Fatalf("buffering past the cap must fail so the caller RSTs the flow")
	}
}

func TestByteConservationOnCleanClose(t *testing.T) {
	f := NewFlow(testKey())
	f.HandleSYN(6000)
	f.DialSucceeded()

	payload := []byte("request bytes")
	res := f.HandleSegment(6001, codec.FlagACK, payload)
	if len(res.ToProxy) != len(payload) {
		t.Fatalf("expected all payload bytes forwarded")
	}
	if f.bytesToProxy != uint64(len(payload)) {
		t.Fatalf("bytesToProxy = %d, want %d (P3)", f.bytesToProxy, len(payload))
	}

	// Proxy responds then EOFs.
	reply := []byte("response bytes from origin")
	seq := f.NextOutboundSegment(len(reply))
	if seq != f.ISN()+1 {
		t.Fatalf("first data segment seq = %d, want ISN+1 = %d", seq, f.ISN()+1)
	}
	f.ProxyEOF()
	if f.State() != StateFinWait {
		t.Fatalf("state after proxy EOF = %v, want FIN_WAIT", f.State())
	}

	finSeq := f.nextExpectedClientByte
	finRes := f.HandleSegment(finSeq, codec.FlagFIN|codec.FlagACK, nil)
	if f.State() != StateTimeWait {
		t.Fatalf("state after client FIN in FIN_WAIT = %v, want TIME_WAIT", f.State())
	}
	if !finRes.AckNow {
		t.Fatalf("client FIN must be acked")
	}
}

func TestSequenceMonotonicity(t *testing.T) {
	f := NewFlow(testKey())
	f.HandleSYN(7000)
	f.DialSucceeded()

	var last uint32
	for i := 0; i < 5; i++ {
		seq := f.NextOutboundSegment(100)
		if i > 0 && !seqLess(last, seq) {
			t.Fatalf("sequence numbers not monotonic: %d then %d", last, seq)
		}
		last = seq
	}
}

func TestClientFINHalfClosesProxyWrite(t *testing.T) {
	f := NewFlow(testKey())
	f.HandleSYN(9000)
	f.DialSucceeded()

	finSeq := f.nextExpectedClientByte
	res := f.HandleSegment(finSeq, codec.FlagFIN|codec.FlagACK, nil)
	if f.State() != StateCloseWait {
		t.Fatalf("state after client FIN in ESTABLISHED = %v, want CLOSE_WAIT", f.State())
	}
	if !res.CloseProxyWrite {
		t.Fatalf("client FIN in ESTABLISHED must signal CloseProxyWrite")
	}
	if !res.AckNow {
		t.Fatalf("client FIN must be acked")
	}
}

func TestFINReservesSequenceAndLastAckClosesOnAck(t *testing.T) {
	f := NewFlow(testKey())
	f.HandleSYN(10000)
	f.DialSucceeded()

	finSeq := f.nextExpectedClientByte
	f.HandleSegment(finSeq, codec.FlagFIN|codec.FlagACK, nil) // -> CLOSE_WAIT

	before := f.ourSeq
	ourFINSeq := f.NextOutboundFIN()
	if ourFINSeq != before {
		t.Fatalf("NextOutboundFIN seq = %d, want %d", ourFINSeq, before)
	}
	if f.ourSeq != before+1 {
		t.Fatalf("FIN did not reserve a sequence number: ourSeq = %d, want %d", f.ourSeq, before+1)
	}
	f.ProxyEOF() // CLOSE_WAIT -> LAST_ACK

	// The client's FIN-ACK acks exactly our post-FIN sequence number, not
	// one beyond it.
	f.HandleAck(f.ourSeq)
	if f.State() != StateClosed {
		t.Fatalf("state after FIN-ACK in LAST_ACK = %v, want CLOSED", f.State())
	}
}

func TestIdleEvictionThreshold(t *testing.T) {
	table := NewTable()
	f, _ := table.GetOrCreate(testKey())
	f.HandleSYN(8000)

	// Not idle yet at a zero duration threshold comparison trivially true;
	// exercise the table's sweep mechanics rather than real wall-clock time.
	expired := table.IterExpired(f.lastActivity.Add(DefaultIdleTimeout+time.Second), DefaultIdleTimeout)
	if len(expired) != 1 || expired[0] != testKey() {
		t.Fatalf("expected the idle flow to be reported expired, got %v", expired)
	}
}
