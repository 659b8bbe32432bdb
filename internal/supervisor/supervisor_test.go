package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/outline-cli-ws/gatewayd/internal/config"
)

func newTestStore(t *testing.T) *config.Store {
	t.Helper()
	s, err := config.Open(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func newTestDaemon() *config.Daemon {
	d, _ := config.LoadDaemon(os.DevNull)
	return d
}

func TestStatusReportsDisconnectedWithNoSession(t *testing.T) {
	sv := New(zap.NewNop(), newTestStore(t), newTestDaemon(), nil)
	st := sv.Status()
	if st.State != StateDisconnected {
		t.Fatalf("expected disconnected, got %v", st.State)
	}
}

func TestStopRefusedDuringAutomationSession(t *testing.T) {
	store := newTestStore(t)
	if err := store.SetAutomationSessionActive(true); err != nil {
		t.Fatalf("SetAutomationSessionActive: %v", err)
	}
	sv := New(zap.NewNop(), store, newTestDaemon(), nil)

	if err := sv.Stop(false); err == nil {
		t.Fatalf("expected soft stop to be refused during an automation session")
	}
	if err := sv.Stop(true); err != nil {
		t.Fatalf("force stop should always succeed: %v", err)
	}
}

func TestStartRejectsInvalidProfile(t *testing.T) {
	sv := New(zap.NewNop(), newTestStore(t), newTestDaemon(), nil)
	err := sv.Start(context.Background(), &config.Profile{Name: "bad"})
	if err == nil {
		t.Fatalf("expected validation error for empty host/port")
	}
}
