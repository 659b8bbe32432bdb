package control

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/outline-cli-ws/gatewayd/internal/config"
	"github.com/outline-cli-ws/gatewayd/internal/supervisor"
)

func newTestServer(t *testing.T) (*httptest.Server, *config.Store) {
	t.Helper()
	store, err := config.Open(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	daemon, _ := config.LoadDaemon(os.DevNull)
	sv := supervisor.New(zap.NewNop(), store, daemon, nil)
	s := NewServer(zap.NewNop(), store, sv)
	return httptest.NewServer(s.Handler()), store
}

func TestStatusRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	c := NewClient(srv.URL)
	st, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.State != supervisor.StateDisconnected {
		t.Fatalf("expected disconnected, got %v", st.State)
	}
}

func TestStartUnknownProfileReturnsError(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	c := NewClient(srv.URL)
	if err := c.Start(context.Background(), "does-not-exist"); err == nil {
		t.Fatalf("expected error for unknown profile")
	}
}

func TestStopWithoutActiveSessionSucceeds(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	c := NewClient(srv.URL)
	if err := c.Stop(context.Background(), true); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
