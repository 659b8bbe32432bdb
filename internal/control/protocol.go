// Package control implements the narrow local command surface spec §6
// names: start/stop/status sent from gwctl to the daemon, plus a status
// event stream gwctl can watch. The websocket transport here repurposes the
// teacher's nhooyr.io/websocket dependency (originally the upstream
// Shadowsocks-over-WebSocket transport) for a local loopback broadcast
// instead of a WAN tunnel.
package control

import "github.com/outline-cli-ws/gatewayd/internal/supervisor"

// StartRequest names the profile to connect, by ID.
type StartRequest struct {
	ProfileID string `json:"profile_id"`
}

// StopRequest carries the force flag spec §4.7's stop(force) accepts.
type StopRequest struct {
	Force bool `json:"force"`
}

// Response is the envelope every command reply uses.
type Response struct {
	OK     bool               `json:"ok"`
	Error  string             `json:"error,omitempty"`
	Status *supervisor.Status `json:"status,omitempty"`
}
