package supervisor

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/outline-cli-ws/gatewayd/internal/proxy"
)

// ipifyResponse is the body shape of the public-IP echo endpoint named in
// spec §4.7.6.
type ipifyResponse struct {
	IP string `json:"ip"`
}

// ProbePublicIP dials target (host:port) through dialer, completes a TLS
// handshake, issues GET /?format=json, and parses the echoed address. This
// is a direct adaptation of the teacher's active-probe.go dial-through-
// proxy-then-HTTP pattern, repointed at a public IP echo service instead of
// a transport-quality check.
func ProbePublicIP(ctx context.Context, dialer *proxy.Dialer, target string) (string, error) {
	conn, leftover, err := dialer.Dial(ctx, target)
	if err != nil {
		return "", fmt.Errorf("probe: dial: %w", err)
	}
	defer conn.Close()

	host, _, _ := splitHostPort(target)
	wrapped := connWithLeftover(conn, leftover)
	tlsConn := tls.Client(wrapped, &tls.Config{ServerName: host})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return "", fmt.Errorf("probe: tls handshake: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://"+target+"/?format=json", nil)
	if err != nil {
		return "", fmt.Errorf("probe: build request: %w", err)
	}
	req.Header.Set("Connection", "close")

	if err := req.Write(tlsConn); err != nil {
		return "", fmt.Errorf("probe: write request: %w", err)
	}

	resp, err := http.ReadResponse(newBufReader(tlsConn), req)
	if err != nil {
		return "", fmt.Errorf("probe: read response: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("probe: read body: %w", err)
	}

	var parsed ipifyResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("probe: parse json: %w", err)
	}
	if parsed.IP == "" {
		return "", fmt.Errorf("probe: empty ip in response")
	}
	return parsed.IP, nil
}
