// Package streamio provides the two stream wrappers relaygate composes
// around every proxied target connection: a byte counter (C1) and an
// idle-timeout enforcer (C2). Both wrap any net.Conn, the idiomatic Go
// analogue of "any duplex byte stream" (spec.md §9, "Dynamic dispatch").
//
// Grounded on the teacher's tcpRWTimeoutConn (modules/caddyhttp/reverseproxy
// /httptransport.go), which wraps *net.TCPConn with read/write deadlines;
// here the pattern is generalized to net.Conn and split into two
// single-purpose wrappers that compose instead of one that does both.
package streamio

import "net"

// ByteRecorder receives byte counts observed on a wrapped stream. It is
// satisfied by internal/metrics.AccessCounter.
type ByteRecorder interface {
	AddRx(n int)
	AddTx(n int)
}

// CountingConn wraps a net.Conn and reports every successfully read or
// written byte to a ByteRecorder. Errors are propagated unchanged; a
// partial read/write still counts exactly the bytes the caller observed
// (spec.md §4.1) — nothing is counted for bytes the caller never sees.
type CountingConn struct {
	net.Conn
	rec ByteRecorder
}

// NewCountingConn wraps conn so that rx/tx byte counts flow to rec.
func NewCountingConn(conn net.Conn, rec ByteRecorder) *CountingConn {
	return &CountingConn{Conn: conn, rec: rec}
}

func (c *CountingConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if n > 0 {
		c.rec.AddRx(n)
	}
	return n, err
}

func (c *CountingConn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	if n > 0 {
		c.rec.AddTx(n)
	}
	return n, err
}
