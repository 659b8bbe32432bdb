// Package gateway provides a small public surface for reusing this
// repository as a library. The implementation lives in internal/ and may
// change without notice.
package gateway

import (
	"context"

	"go.uber.org/zap"

	"github.com/outline-cli-ws/gatewayd/internal/config"
	"github.com/outline-cli-ws/gatewayd/internal/metrics"
	"github.com/outline-cli-ws/gatewayd/internal/supervisor"
)

// --- Config ---

type Profile = config.Profile

type ProxyType = config.ProxyType

const (
	ProxySOCKS5 = config.ProxySOCKS5
	ProxyHTTP   = config.ProxyHTTP
)

type Daemon = config.Daemon

// LoadDaemon loads the operator-tuned daemon YAML configuration.
func LoadDaemon(path string) (*Daemon, error) { return config.LoadDaemon(path) }

type Store = config.Store

// OpenStore loads the profile document at path, or starts empty.
func OpenStore(path string) (*Store, error) { return config.Open(path) }

// --- Core runtime ---

type Supervisor = supervisor.Supervisor

type Status = supervisor.Status

// NewSupervisor builds a Supervisor bound to store/daemon. reg may be nil.
func NewSupervisor(log *zap.Logger, store *Store, daemon *Daemon, reg *metrics.Registry) *Supervisor {
	return supervisor.New(log, store, daemon, reg)
}

// Start begins a tunnel session for profile, blocking only long enough to
// establish the TUN device and kick off its background tasks.
func Start(ctx context.Context, sv *Supervisor, profile *Profile) error {
	return sv.Start(ctx, profile)
}

// --- Metrics ---

type MetricsRegistry = metrics.Registry

// NewMetricsRegistry creates an empty metrics registry.
func NewMetricsRegistry() *MetricsRegistry { return metrics.NewRegistry() }
