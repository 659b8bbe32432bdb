package supervisor

import (
	"bufio"
	"net"
	"strings"
)

// prefixConn replays leftover bytes (captured during an HTTP CONNECT
// handshake, per spec §4.3's "any bytes beyond that boundary... MUST be
// retained") before falling through to the underlying connection's own
// reads.
type prefixConn struct {
	net.Conn
	leftover []byte
}

func (c *prefixConn) Read(b []byte) (int, error) {
	if len(c.leftover) > 0 {
		n := copy(b, c.leftover)
		c.leftover = c.leftover[n:]
		return n, nil
	}
	return c.Conn.Read(b)
}

// connWithLeftover wraps conn so any bytes already buffered from the
// proxy handshake are replayed first.
func connWithLeftover(conn net.Conn, leftover []byte) net.Conn {
	if len(leftover) == 0 {
		return conn
	}
	return &prefixConn{Conn: conn, leftover: leftover}
}

func newBufReader(conn net.Conn) *bufio.Reader {
	return bufio.NewReader(conn)
}

func splitHostPort(hostport string) (host, port string, err error) {
	idx := strings.LastIndex(hostport, ":")
	if idx < 0 {
		return hostport, "", nil
	}
	return hostport[:idx], hostport[idx+1:], nil
}
