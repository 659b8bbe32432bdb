package supervisor

import (
	"testing"
	"time"

	"github.com/outline-cli-ws/gatewayd/internal/config"
)

func TestSessionByteCounters(t *testing.T) {
	s := NewSession(&config.Profile{Name: "test"})
	s.AddBytesUp(100)
	s.AddBytesUp(50)
	s.AddBytesDown(30)

	if got := s.BytesUp(); got != 150 {
		t.Fatalf("BytesUp: got %d, want 150", got)
	}
	if got := s.BytesDown(); got != 30 {
		t.Fatalf("BytesDown: got %d, want 30", got)
	}
}

func TestSessionIdleForAdvancesWithoutActivity(t *testing.T) {
	s := NewSession(&config.Profile{Name: "test"})
	s.TouchActivity()
	time.Sleep(5 * time.Millisecond)
	if got := s.IdleFor(); got <= 0 {
		t.Fatalf("IdleFor: expected positive duration, got %v", got)
	}
}

func TestSessionSnapshotReflectsState(t *testing.T) {
	s := NewSession(&config.Profile{Name: "test"})
	s.setState(StateConnected)
	s.SetPublicIP("203.0.113.5")

	snap := s.Snapshot()
	if !snap.IsConnected {
		t.Fatalf("expected IsConnected true for StateConnected")
	}
	if snap.PublicIP != "203.0.113.5" {
		t.Fatalf("PublicIP: got %q", snap.PublicIP)
	}

	s.setState(StateProxyError)
	if s.Snapshot().IsConnected {
		t.Fatalf("expected IsConnected false for StateProxyError")
	}
}
