package dnsrelay

import (
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"

	"github.com/outline-cli-ws/gatewayd/internal/metrics"
)

// TestDNSForwarding implements boundary scenario 6: a query for
// example.com with txid 0xABCD from 10.0.0.2:49152 is forwarded verbatim
// to the resolver, and its answer comes back as a UDP packet with swapped
// addresses/ports.
func TestDNSForwarding(t *testing.T) {
	fakeResolver, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer fakeResolver.Close()

	query := new(dns.Msg)
	query.Id = 0xABCD
	query.SetQuestion("example.com.", dns.TypeA)
	queryBytes, err := query.Pack()
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		buf := make([]byte, 512)
		n, clientAddr, err := fakeResolver.ReadFromUDP(buf)
		if err != nil {
			t.Errorf("resolver read: %v", err)
			return
		}
		got := new(dns.Msg)
		if err := got.Unpack(buf[:n]); err != nil {
			t.Errorf("resolver unpack: %v", err)
			return
		}
		if got.Id != 0xABCD {
			t.Errorf("resolver saw txid=%x, want ABCD", got.Id)
		}

		answer := new(dns.Msg)
		answer.SetReply(got)
		rr, _ := dns.NewRR("example.com. 300 IN A 93.184.216.34")
		answer.Answer = append(answer.Answer, rr)
		answerBytes, _ := answer.Pack()
		fakeResolver.WriteToUDP(answerBytes, clientAddr)
	}()

	relay := NewRelay(fakeResolver.LocalAddr().String(), "", 0, nil)

	received := make(chan []byte, 1)
	relay.Emit = func(packet []byte) { received <- packet }

	relay.HandleQuery(
		[4]byte{10, 0, 0, 2}, [4]byte{1, 1, 1, 1},
		49152, 53,
		queryBytes,
	)

	select {
	case packet := <-received:
		if len(packet) < 28 {
			t.Fatalf("response packet too short: %d bytes", len(packet))
		}
		// swapped: src should be the original dst (1.1.1.1), dst the
		// original src (10.0.0.2)
		if packet[12] != 1 || packet[16] != 10 {
			t.Fatalf("addresses not swapped correctly: src=%v dst=%v", packet[12:16], packet[16:20])
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for relayed response")
	}

	wg.Wait()
}

func TestDNSRelayDropsOnTotalTimeout(t *testing.T) {
	// Dead resolver address: nothing listens there, so the query gets no
	// answer within its deadline and nothing may be emitted.
	relay := NewRelay("127.0.0.1:1", "", 0, nil)
	relay.timeout = 200 * time.Millisecond

	var called bool
	relay.Emit = func(packet []byte) { called = true }

	q := new(dns.Msg)
	q.Id = 1
	q.SetQuestion("example.com.", dns.TypeA)
	qb, _ := q.Pack()

	relay.HandleQuery([4]byte{10, 0, 0, 2}, [4]byte{1, 1, 1, 1}, 12345, 53, qb)
	time.Sleep(500 * time.Millisecond)

	if called {
		t.Fatalf("expected no response to be emitted when the resolver never answers")
	}
}

// TestDNSRelayRecordsTimeoutMetric exercises the optional metrics.Registry
// wiring: a relay given a non-nil registry must not panic, and the query
// result must be visible on the registry's exposition endpoint.
func TestDNSRelayRecordsTimeoutMetric(t *testing.T) {
	reg := metrics.NewRegistry()
	relay := NewRelay("127.0.0.1:1", "", 0, reg)
	relay.timeout = 200 * time.Millisecond
	relay.Emit = func([]byte) {}

	q := new(dns.Msg)
	q.Id = 2
	q.SetQuestion("example.com.", dns.TypeA)
	qb, _ := q.Pack()

	relay.HandleQuery([4]byte{10, 0, 0, 2}, [4]byte{1, 1, 1, 1}, 12345, 53, qb)
	time.Sleep(500 * time.Millisecond)

	body := metrics.Expose(reg)
	if !strings.Contains(body, `gateway_dns_queries_total{result="timeout"} 1`) &&
		!strings.Contains(body, `gateway_dns_queries_total{result="error"} 1`) {
		t.Fatalf("expected a dns query failure to be recorded, got:\n%s", body)
	}
}
