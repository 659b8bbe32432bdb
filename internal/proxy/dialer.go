package proxy

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/outline-cli-ws/gatewayd/internal/gwerrors"
	"github.com/outline-cli-ws/gatewayd/internal/protect"
)

// Kind selects which upstream handshake a Dialer performs.
type Kind int

const (
	KindSOCKS5 Kind = iota
	KindHTTP
)

// Dialer dials the configured proxy host:port, protects the socket from
// the tunnel via fwmark, and performs the selected handshake toward a
// per-call target.
type Dialer struct {
	Kind        Kind
	ProxyHost   string
	ProxyPort   int
	Credentials *Credentials
	Fwmark      uint32
	DialTimeout time.Duration
}

// Dial connects to the proxy and completes the handshake toward target
// ("host:port"), returning a net.Conn ready to carry application bytes.
// Any leftover bytes already read as part of the handshake (HTTP CONNECT
// only) are returned separately so the caller delivers them first.
func (d *Dialer) Dial(ctx context.Context, target string) (conn net.Conn, leftover []byte, err error) {
	timeout := d.DialTimeout
	if timeout == 0 {
		timeout = defaultHandshakeTimeout
	}

	nd := net.Dialer{
		Timeout: timeout,
		Control: protect.Control(d.Fwmark),
	}

	proxyAddr := fmt.Sprintf("%s:%d", d.ProxyHost, d.ProxyPort)
	c, derr := nd.DialContext(ctx, "tcp", proxyAddr)
	if derr != nil {
		return nil, nil, &gwerrors.ProxyHandshakeError{Reason: gwerrors.ProxyUnreachable, Err: derr}
	}

	switch d.Kind {
	case KindSOCKS5:
		if herr := DialSOCKS5(c, target, d.Credentials); herr != nil {
			c.Close()
			return nil, nil, herr
		}
		return c, nil, nil
	case KindHTTP:
		lo, herr := DialHTTPConnect(c, target, d.Credentials)
		if herr != nil {
			c.Close()
			return nil, nil, herr
		}
		return c, lo, nil
	default:
		c.Close()
		return nil, nil, &gwerrors.ProxyHandshakeError{Reason: gwerrors.ProxyRejected, Err: fmt.Errorf("unknown proxy kind %d", d.Kind)}
	}
}
