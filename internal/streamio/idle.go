package streamio

import (
	"net"
	"time"
)

// IdleConn wraps a net.Conn with a single idle duration: a read or write
// that makes no progress within that duration since the operation began
// fails with a timeout error (spec.md §4.2). The timer is reset on every
// successful operation by re-arming the underlying connection's deadline
// before each call, which is exactly what a sliding net.Conn deadline
// already does — no extra timer goroutine needed.
type IdleConn struct {
	net.Conn
	timeout time.Duration
}

// NewIdleConn wraps conn with the given idle timeout. A non-positive
// timeout disables the wrapper (deadlines are never set).
func NewIdleConn(conn net.Conn, timeout time.Duration) *IdleConn {
	return &IdleConn{Conn: conn, timeout: timeout}
}

func (c *IdleConn) Read(b []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(b)
}

func (c *IdleConn) Write(b []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(b)
}
