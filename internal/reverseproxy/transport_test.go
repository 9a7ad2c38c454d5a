package reverseproxy

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewTransportFetchesOverPlainHTTP(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hi"))
	}))
	defer upstream.Close()

	tr := NewTransport(TransportConfig{DialTimeout: time.Second}, nil, upstream.Listener.Addr().String(), "")
	defer tr.CloseIdleConnections()

	resp, err := tr.RoundTrip(httptest.NewRequest(http.MethodGet, upstream.URL, nil))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestWriteProxyProtocolHeaderV1(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	clientAddr := &net.TCPAddr{IP: net.ParseIP("192.0.2.10"), Port: 4242}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := writeProxyProtocolHeader(client, ProxyProtocolV1, clientAddr); err != nil {
			t.Error(err)
		}
	}()

	buf := make([]byte, 256)
	server.SetReadDeadline(time.Now().Add(time.Second))
	n, err := server.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	line := string(buf[:n])
	if line[:6] != "PROXY " {
		t.Fatalf("expected a PROXY protocol v1 header, got %q", line)
	}
	<-done
}

func TestWriteProxyProtocolHeaderNoneIsNoop(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan error, 1)
	go func() {
		done <- writeProxyProtocolHeader(client, ProxyProtocolNone, &net.TCPAddr{})
	}()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}
