// Package netutil holds small network helpers shared across relaygate's
// proxy packages.
package netutil

import "net"

// LocalIP returns the IP address of the outbound interface that would be
// used to reach the public internet, without sending any traffic. It opens
// a UDP "connection" (no packets are sent for UDP connect) to a well-known
// address purely to let the kernel pick a route, then reads back the local
// address the kernel chose.
func LocalIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", net.InvalidAddrError("not a UDP address")
	}
	return addr.IP.String(), nil
}

// SplitHostPort is a small wrapper around net.SplitHostPort that falls back
// to treating addr as a bare host with the given default port when it
// carries no port of its own.
func SplitHostPort(addr string, defaultPort string) (host, port string) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, defaultPort
	}
	return host, port
}
