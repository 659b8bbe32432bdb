// Package proxy implements the client-side SOCKS5 (RFC 1928 + RFC 1929
// auth) and HTTP CONNECT handshakes over a socket the caller has already
// connected and platform-protected. This is the dialer the teacher's own
// repo never had to write — it only ever dialed an Outline/Shadowsocks
// upstream — so it is hand-built here against the RFCs directly, reusing
// only the shadowsocks library's ATYP address-framing helper.
package proxy

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/shadowsocks/go-shadowsocks2/socks"

	"github.com/outline-cli-ws/gatewayd/internal/gwerrors"
)

const defaultHandshakeTimeout = 10 * time.Second

// Credentials holds optional SOCKS5 / HTTP Basic proxy credentials.
type Credentials struct {
	Username string
	Password string
}

func (c *Credentials) configured() bool {
	return c != nil && c.Username != ""
}

// DialSOCKS5 performs the RFC 1928 handshake (plus RFC 1929 auth, if creds
// is non-nil with a non-empty Username) on conn, requesting a CONNECT to
// target. On success conn is
// ready to carry application bytes transparently.
func DialSOCKS5(conn net.Conn, target string, creds *Credentials) error {
	deadline := time.Now().Add(defaultHandshakeTimeout)
	_ = conn.SetDeadline(deadline)
	defer conn.SetDeadline(time.Time{})

	methods := []byte{0x00}
	if creds.configured() {
		methods = append(methods, 0x02)
	}
	greeting := append([]byte{0x05, byte(len(methods))}, methods...)
	if _, err := conn.Write(greeting); err != nil {
		return &gwerrors.ProxyHandshakeError{Reason: gwerrors.ProxyUnreachable, Err: err}
	}

	reply := make([]byte, 2)
	if _, err := io.ReadFull(conn, reply); err != nil {
		return &gwerrors.ProxyHandshakeError{Reason: timeoutOr(err, gwerrors.ProxyUnreachable), Err: err}
	}
	if reply[0] != 0x05 {
		return &gwerrors.ProxyHandshakeError{Reason: gwerrors.ProxyRejected, Err: fmt.Errorf("bad socks version %d in method reply", reply[0])}
	}
	switch reply[1] {
	case 0x00:
		// no auth required
	case 0x02:
		if err := socks5UserPassAuth(conn, creds); err != nil {
			return err
		}
	case 0xFF:
		return &gwerrors.ProxyHandshakeError{Reason: gwerrors.ProxyAuthFailed, Err: fmt.Errorf("no acceptable auth method")}
	default:
		return &gwerrors.ProxyHandshakeError{Reason: gwerrors.ProxyRejected, Err: fmt.Errorf("unexpected auth method 0x%02x", reply[1])}
	}

	addr := socks.ParseAddr(target)
	if addr == nil {
		return &gwerrors.ProxyHandshakeError{Reason: gwerrors.ProxyRejected, Err: fmt.Errorf("invalid target address %q", target)}
	}
	req := append([]byte{0x05, 0x01, 0x00}, addr...)
	if _, err := conn.Write(req); err != nil {
		return &gwerrors.ProxyHandshakeError{Reason: gwerrors.ProxyUnreachable, Err: err}
	}

	return socks5ReadConnectReply(conn)
}

func socks5UserPassAuth(conn net.Conn, creds *Credentials) error {
	u, p := []byte(creds.Username), []byte(creds.Password)
	req := make([]byte, 0, 3+len(u)+len(p))
	req = append(req, 0x01, byte(len(u)))
	req = append(req, u...)
	req = append(req, byte(len(p)))
	req = append(req, p...)
	if _, err := conn.Write(req); err != nil {
		return &gwerrors.ProxyHandshakeError{Reason: gwerrors.ProxyUnreachable, Err: err}
	}

	reply := make([]byte, 2)
	if _, err := io.ReadFull(conn, reply); err != nil {
		return &gwerrors.ProxyHandshakeError{Reason: timeoutOr(err, gwerrors.ProxyUnreachable), Err: err}
	}
	if reply[0] != 0x01 || reply[1] != 0x00 {
		return &gwerrors.ProxyHandshakeError{Reason: gwerrors.ProxyAuthFailed, Err: fmt.Errorf("socks5 auth rejected (status=0x%02x)", reply[1])}
	}
	return nil
}

// socks5ReadConnectReply reads {0x05, REP, 0x00, ATYP, addr, port} and
// maps REP!=0 to a typed failure.
func socks5ReadConnectReply(conn net.Conn) error {
	hdr := make([]byte, 4)
	if _, err := io.ReadFull(conn, hdr); err != nil {
		return &gwerrors.ProxyHandshakeError{Reason: timeoutOr(err, gwerrors.ProxyUnreachable), Err: err}
	}
	if hdr[0] != 0x05 {
		return &gwerrors.ProxyHandshakeError{Reason: gwerrors.ProxyRejected, Err: fmt.Errorf("bad socks version %d in connect reply", hdr[0])}
	}
	rep := hdr[1]
	atyp := hdr[3]

	var addrLen int
	switch atyp {
	case 0x01:
		addrLen = 4
	case 0x03:
		lb := make([]byte, 1)
		if _, err := io.ReadFull(conn, lb); err != nil {
			return &gwerrors.ProxyHandshakeError{Reason: gwerrors.ProxyUnreachable, Err: err}
		}
		addrLen = int(lb[0])
	case 0x04:
		addrLen = 16
	default:
		return &gwerrors.ProxyHandshakeError{Reason: gwerrors.ProxyRejected, Err: fmt.Errorf("unknown ATYP 0x%02x in connect reply", atyp)}
	}
	rest := make([]byte, addrLen+2) // address + port
	if _, err := io.ReadFull(conn, rest); err != nil {
		return &gwerrors.ProxyHandshakeError{Reason: gwerrors.ProxyUnreachable, Err: err}
	}

	if rep != 0x00 {
		return &gwerrors.ProxyHandshakeError{Reason: socks5ReplyReason(rep), Err: fmt.Errorf("socks5 connect failed, REP=0x%02x", rep)}
	}
	return nil
}

func socks5ReplyReason(rep byte) gwerrors.ProxyHandshakeReason {
	switch rep {
	case 0x01, 0x02, 0x03, 0x07, 0x08:
		return gwerrors.ProxyRejected
	case 0x04, 0x05:
		return gwerrors.ProxyUnreachable
	case 0x06:
		return gwerrors.ProxyTimeout
	default:
		return gwerrors.ProxyRejected
	}
}

func timeoutOr(err error, fallback gwerrors.ProxyHandshakeReason) gwerrors.ProxyHandshakeReason {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return gwerrors.ProxyTimeout
	}
	return fallback
}
