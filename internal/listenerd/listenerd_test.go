package listenerd

import (
	"context"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/relaygate/relaygate/internal/supervisor"
)

func TestListenAndServeAttachesSupervisorContext(t *testing.T) {
	var sawContext *supervisor.Context
	s := &Server{
		Addr:        "127.0.0.1:0",
		IdleTimeout: time.Second,
		Log:         zap.NewNop(),
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sawContext = supervisor.FromContext(r.Context())
			w.Write([]byte("ok"))
		}),
	}

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		t.Fatal(err)
	}
	s.Addr = ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.ListenAndServe(ctx) }()

	var conn net.Conn
	for i := 0; i < 50; i++ {
		conn, err = net.DialTimeout("tcp", s.Addr, 50*time.Millisecond)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if conn == nil {
		t.Fatal("could not connect to server")
	}

	conn.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"))
	buf := make([]byte, 4096)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	conn.Read(buf)
	conn.Close()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-errCh:
	case <-time.After(time.Second):
		t.Fatal("server did not shut down")
	}

	if sawContext == nil {
		t.Fatal("expected a supervisor.Context to be attached to the request")
	}
}

// TestSlowHandlerSurvivesPastIdleTimeout proves that ConnState's
// StateActive/StateIdle wiring keeps a long-running in-flight request from
// being torn down by the idle watcher, even when the handler runs well past
// IdleTimeout before writing its response.
func TestSlowHandlerSurvivesPastIdleTimeout(t *testing.T) {
	handlerDone := make(chan struct{})
	s := &Server{
		Addr:        "127.0.0.1:0",
		IdleTimeout: 30 * time.Millisecond,
		Log:         zap.NewNop(),
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
			w.Write([]byte("ok"))
			close(handlerDone)
		}),
	}

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		t.Fatal(err)
	}
	s.Addr = ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- s.ListenAndServe(ctx) }()

	var conn net.Conn
	for i := 0; i < 50; i++ {
		conn, err = net.DialTimeout("tcp", s.Addr, 50*time.Millisecond)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if conn == nil {
		t.Fatal("could not connect to server")
	}
	defer conn.Close()

	conn.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"))
	buf := make([]byte, 4096)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	if err != nil || n == 0 {
		t.Fatalf("expected a response body, got n=%d err=%v", n, err)
	}

	select {
	case <-handlerDone:
	default:
		t.Fatal("handler did not complete before the read returned")
	}
	if got := string(buf[:n]); !strings.Contains(got, "ok") {
		t.Errorf("response = %q, want it to contain the handler's body", got)
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(time.Second):
		t.Fatal("server did not shut down")
	}
}
