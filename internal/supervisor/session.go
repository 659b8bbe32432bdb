// Package supervisor owns the session lifecycle described in spec §4.7:
// building the TUN device, transitioning through CONNECTING/HANDSHAKING/
// CONNECTED, running health-check and public-IP-probe tasks, and tearing
// everything down on stop. Grounded on the teacher's internal/manager/
// vpn_manager.go (Connect/Disconnect/GetStatus shape).
package supervisor

import (
	"sync/atomic"
	"time"

	"github.com/outline-cli-ws/gatewayd/internal/config"
)

// State is the session's externally-visible state, per spec §6's event
// surface.
type State string

const (
	StateConnecting   State = "connecting"
	StateHandshaking  State = "handshaking"
	StateConnected    State = "connected"
	StateProxyError   State = "proxy_error"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
)

// Session is the per-start/stop-cycle record spec §3 describes. Counters
// are atomics since many goroutines (per-flow copiers, the health-check
// task) update them concurrently.
type Session struct {
	Profile   *config.Profile
	StartTime time.Time

	state atomic.Value // State

	bytesUp   atomic.Int64
	bytesDown atomic.Int64

	lastPacketUnixNano atomic.Int64

	publicIP atomic.Value // string

	lastError atomic.Value // string
}

// NewSession creates a session in the CONNECTING state for profile.
func NewSession(profile *config.Profile) *Session {
	s := &Session{Profile: profile, StartTime: time.Now()}
	s.state.Store(StateConnecting)
	s.publicIP.Store("")
	s.lastError.Store("")
	s.lastPacketUnixNano.Store(time.Now().UnixNano())
	return s
}

func (s *Session) State() State { return s.state.Load().(State) }

func (s *Session) setState(st State) { s.state.Store(st) }

// AddBytesUp/AddBytesDown count TCP payload bytes written to and read from
// the flows' proxy sockets, never TUN framing. DNS query and answer bytes
// relayed by internal/dnsrelay are not counted.
func (s *Session) AddBytesUp(n int)   { s.bytesUp.Add(int64(n)) }
func (s *Session) AddBytesDown(n int) { s.bytesDown.Add(int64(n)) }

func (s *Session) BytesUp() int64   { return s.bytesUp.Load() }
func (s *Session) BytesDown() int64 { return s.bytesDown.Load() }

// TouchActivity stamps the last-packet-seen timestamp; called on every
// non-empty TUN read per spec §3's liveness invariant.
func (s *Session) TouchActivity() {
	s.lastPacketUnixNano.Store(time.Now().UnixNano())
}

// IdleFor reports how long it has been since the last observed packet.
func (s *Session) IdleFor() time.Duration {
	last := time.Unix(0, s.lastPacketUnixNano.Load())
	return time.Since(last)
}

func (s *Session) SetPublicIP(ip string) { s.publicIP.Store(ip) }
func (s *Session) PublicIP() string      { return s.publicIP.Load().(string) }

func (s *Session) SetLastError(msg string) { s.lastError.Store(msg) }
func (s *Session) LastError() string       { return s.lastError.Load().(string) }

// Status is the snapshot returned by the status command and published on
// the event topic, per spec §6.
type Status struct {
	State       State  `json:"state"`
	IsConnected bool   `json:"is_connected"`
	DurationMS  int64  `json:"duration_ms"`
	BytesUp     int64  `json:"bytes_up"`
	BytesDown   int64  `json:"bytes_down"`
	PublicIP    string `json:"public_ip,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Snapshot builds the current Status.
func (s *Session) Snapshot() Status {
	st := s.State()
	return Status{
		State:       st,
		IsConnected: st == StateConnected,
		DurationMS:  time.Since(s.StartTime).Milliseconds(),
		BytesUp:     s.BytesUp(),
		BytesDown:   s.BytesDown(),
		PublicIP:    s.PublicIP(),
		Error:       s.LastError(),
	}
}
