package flow

import (
	"sync"
	"testing"
	"time"

	"github.com/outline-cli-ws/gatewayd/internal/codec"
)

func TestGetOrCreateSingleWinner(t *testing.T) {
	table := NewTable()
	key := testKey()

	var wg sync.WaitGroup
	results := make([]*Flow, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f, _ := table.GetOrCreate(key)
			results[i] = f
		}(i)
	}
	wg.Wait()

	first := results[0]
	for _, f := range results {
		if f != first {
			t.Fatalf("concurrent GetOrCreate returned different flows for the same key (P5)")
		}
	}
	if table.Len() != 1 {
		t.Fatalf("table.Len() = %d, want 1", table.Len())
	}
}

func TestRemoveThenGetOrCreateFreshFlow(t *testing.T) {
	table := NewTable()
	key := testKey()

	f1, _ := table.GetOrCreate(key)
	table.Remove(key)

	f2, created := table.GetOrCreate(key)
	if !created {
		t.Fatalf("expected a fresh flow after removal")
	}
	if f1 == f2 {
		t.Fatalf("expected a distinct flow object after removal")
	}
}

func TestIterTimeWaitOnlyReportsLingeringTimeWaitFlows(t *testing.T) {
	table := NewTable()

	established, _ := table.GetOrCreate(Key{SrcIP: [4]byte{10, 0, 0, 2}, SrcPort: 1, DstIP: [4]byte{1, 1, 1, 1}, DstPort: 80})
	established.HandleSYN(1)
	established.DialSucceeded()

	timeWaitKey := Key{SrcIP: [4]byte{10, 0, 0, 2}, SrcPort: 2, DstIP: [4]byte{1, 1, 1, 1}, DstPort: 80}
	tw, _ := table.GetOrCreate(timeWaitKey)
	tw.HandleSYN(1)
	tw.DialSucceeded()
	tw.ProxyEOF() // ESTABLISHED -> FIN_WAIT
	finSeq := tw.nextExpectedClientByte
	tw.HandleSegment(finSeq, codec.FlagFIN, nil) // client FIN -> TIME_WAIT

	if tw.State() != StateTimeWait {
		t.Fatalf("setup failed: flow state = %v, want TIME_WAIT", tw.State())
	}

	// Not lingering long enough yet: nothing reported.
	if expired := table.IterTimeWait(tw.lastActivity, time.Second); len(expired) != 0 {
		t.Fatalf("expected no TIME_WAIT flow reported before the linger elapses, got %v", expired)
	}

	expired := table.IterTimeWait(tw.lastActivity.Add(2*time.Second), time.Second)
	if len(expired) != 1 || expired[0] != timeWaitKey {
		t.Fatalf("expected only the lingering TIME_WAIT flow reported, got %v", expired)
	}
}
