package proxy

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"net"
	"time"

	"github.com/outline-cli-ws/gatewayd/internal/gwerrors"
)

// DialHTTPConnect performs an HTTP/1.1 CONNECT handshake on conn toward
// target. Any bytes already buffered past the blank line terminating the
// response headers are the first payload bytes from the target and are
// returned so the caller can deliver them before reading fresh bytes off
// the wire.
func DialHTTPConnect(conn net.Conn, target string, creds *Credentials) (leftover []byte, err error) {
	deadline := time.Now().Add(defaultHandshakeTimeout)
	_ = conn.SetDeadline(deadline)
	defer conn.SetDeadline(time.Time{})

	req := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\nProxy-Connection: keep-alive\r\n", target, target)
	if creds.configured() {
		token := base64.StdEncoding.EncodeToString([]byte(creds.Username + ":" + creds.Password))
		req += "Proxy-Authorization: Basic " + token + "\r\n"
	}
	req += "\r\n"

	if _, werr := conn.Write([]byte(req)); werr != nil {
		return nil, &gwerrors.ProxyHandshakeError{Reason: gwerrors.ProxyUnreachable, Err: werr}
	}

	br := bufio.NewReader(conn)
	statusLine, rerr := br.ReadString('\n')
	if rerr != nil {
		return nil, &gwerrors.ProxyHandshakeError{Reason: timeoutOr(rerr, gwerrors.ProxyUnreachable), Err: rerr}
	}

	code, perr := parseHTTPStatusCode(statusLine)
	if perr != nil {
		return nil, &gwerrors.ProxyHandshakeError{Reason: gwerrors.ProxyRejected, Err: perr}
	}

	// Consume headers up to the blank line.
	for {
		line, rerr := br.ReadString('\n')
		if rerr != nil {
			return nil, &gwerrors.ProxyHandshakeError{Reason: gwerrors.ProxyUnreachable, Err: rerr}
		}
		if line == "\r\n" || line == "\n" {
			break
		}
	}

	switch {
	case code == 200:
		// Success. Anything still buffered in br beyond the header
		// terminator is the first payload bytes from the target.
		n := br.Buffered()
		if n > 0 {
			leftover = make([]byte, n)
			_, _ = br.Read(leftover)
		}
		return leftover, nil
	case code == 407:
		return nil, &gwerrors.ProxyHandshakeError{Reason: gwerrors.ProxyAuthFailed, Err: fmt.Errorf("proxy returned 407")}
	default:
		return nil, &gwerrors.ProxyHandshakeError{Reason: gwerrors.ProxyRejected, Err: fmt.Errorf("proxy returned status %d", code)}
	}
}

func parseHTTPStatusCode(statusLine string) (int, error) {
	var version string
	var code int
	n, err := fmt.Sscanf(statusLine, "%s %d", &version, &code)
	if err != nil || n != 2 {
		return 0, fmt.Errorf("malformed status line %q", statusLine)
	}
	return code, nil
}
