package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/outline-cli-ws/gatewayd/internal/flow"
	"github.com/outline-cli-ws/gatewayd/internal/gwerrors"
	"github.com/outline-cli-ws/gatewayd/internal/metrics"
	"github.com/outline-cli-ws/gatewayd/internal/proxy"
)

// countingWriter tallies bytes_up as the flow state machine forwards client
// payload to the proxy socket, per spec §3's byte-counter invariant.
type countingWriter struct {
	net.Conn
	sess    *Session
	metrics *metrics.Registry
}

func (c *countingWriter) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	c.sess.AddBytesUp(n)
	if c.metrics != nil {
		c.metrics.AddBytesUp(n)
	}
	return n, err
}

// CloseWrite half-closes the proxy socket's write side, if the underlying
// conn supports it (proxy.Dialer hands back the *net.TCPConn it dialed,
// which does). net.Conn embedding only promotes the interface's own
// methods, so this passthrough is what lets dispatch.go's capability check
// actually reach it.
func (c *countingWriter) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}

func (fd *flowDialer) recordDown(n int) {
	fd.sess.AddBytesDown(n)
	if fd.metrics != nil {
		fd.metrics.AddBytesDown(n)
	}
}

func dialFailureReason(err error) string {
	var hs *gwerrors.ProxyHandshakeError
	if errors.As(err, &hs) {
		return hs.Reason.String()
	}
	return "unknown"
}

// flowDialer implements flow.Dialer: it performs the proxy handshake for a
// freshly accepted TCP flow and runs the proxy->device copier goroutine
// that feeds bytes back into the dispatcher. The dispatcher itself never
// sees a net.Conn or a goroutine — this is the glue the teacher's
// handleConnection/proxyConnections pair occupied for its local SOCKS5
// listener, repointed at the flow table instead of a second local socket.
type flowDialer struct {
	ctx     context.Context
	dialer  *proxy.Dialer
	sess    *Session
	log     *zap.Logger
	metrics *metrics.Registry

	// dispatch is set by Supervisor.Start once the Dispatcher exists, since
	// the dialer needs to call back into it (EmitFromProxy/ProxyClosed/
	// ProxyFailed) once bytes arrive from the proxy side.
	dispatch *flow.Dispatcher

	mu    sync.Mutex
	conns map[flow.Key]net.Conn
}

// CloseFlow closes and forgets the proxy socket for key, if one is still
// open. Wired as the Dispatcher's OnTeardown hook so a flow RST'd for any
// reason (idle sweep, bad segment, local FIN) unblocks its copier goroutine
// immediately instead of leaking it until the whole session tears down.
func (fd *flowDialer) CloseFlow(key flow.Key) {
	fd.mu.Lock()
	conn, ok := fd.conns[key]
	if ok {
		delete(fd.conns, key)
	}
	fd.mu.Unlock()
	if ok {
		conn.Close()
	}
}

func (fd *flowDialer) track(key flow.Key, conn net.Conn) {
	fd.mu.Lock()
	fd.conns[key] = conn
	fd.mu.Unlock()
}

func (fd *flowDialer) untrack(key flow.Key) {
	fd.mu.Lock()
	delete(fd.conns, key)
	fd.mu.Unlock()
}

func (fd *flowDialer) Dial(key flow.Key, dstIP [4]byte, dstPort uint16, onEstablished func(flow.ProxyWriter), onFailed func(error)) {
	target := fmt.Sprintf("%d.%d.%d.%d:%d", dstIP[0], dstIP[1], dstIP[2], dstIP[3], dstPort)
	go func() {
		conn, leftover, err := fd.dialer.Dial(fd.ctx, target)
		if err != nil {
			fd.log.Debug("flow dial failed", zap.String("target", target), zap.Error(err))
			if fd.metrics != nil {
				fd.metrics.IncDialFailure(dialFailureReason(err))
			}
			onFailed(err)
			return
		}
		if fd.metrics != nil {
			fd.metrics.IncFlowsTotal()
		}
		onEstablished(&countingWriter{Conn: conn, sess: fd.sess, metrics: fd.metrics})
		fd.track(key, conn)
		defer fd.untrack(key)

		if len(leftover) > 0 {
			fd.dispatch.EmitFromProxy(key, leftover)
			fd.recordDown(len(leftover))
		}

		// conn.Read below blocks on the socket and does not observe fd.ctx on
		// its own; this watcher closes conn as soon as the session is torn
		// down so the copier unblocks promptly instead of leaking until the
		// proxy itself notices the other end is gone.
		closed := make(chan struct{})
		go func() {
			select {
			case <-fd.ctx.Done():
				conn.Close()
			case <-closed:
			}
		}()

		buf := make([]byte, 16*1024)
		for {
			n, rerr := conn.Read(buf)
			if n > 0 {
				fd.dispatch.EmitFromProxy(key, buf[:n])
				fd.recordDown(n)
			}
			if rerr != nil {
				close(closed)
				conn.Close()
				if fd.ctx.Err() != nil {
					return
				}
				if errors.Is(rerr, io.EOF) {
					fd.dispatch.ProxyClosed(key)
				} else {
					fd.dispatch.ProxyFailed(key)
				}
				return
			}
		}
	}()
}
