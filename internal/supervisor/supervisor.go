// Package supervisor implements C4, the per-connection idle-shutdown
// state machine. net/http's Server has no per-connection idle timeout
// hook, so relaygate tracks activity itself with three atomics (no mutex,
// unlike the Rust original's RwLock<Context>) and runs a watcher
// goroutine alongside each connection's request loop.
//
// Grounded directly on the Rust original's serve() function (main.rs):
// the tokio::select! loop that races the connection future against
// tokio::time::sleep_until(last_instant + IDLE_SECONDS), refreshing the
// deadline forever while upgraded (a CONNECT tunnel is in progress) and
// otherwise shutting down only if no activity occurred since the timer
// armed (spec.md §4.4, §4.11).
package supervisor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Context is the per-connection state the idle watcher and the request
// handler share. The zero value is not ready; use NewContext.
type Context struct {
	id           string
	lastActivity atomic.Int64 // UnixNano
	upgraded     atomic.Bool
	active       atomic.Bool
}

// NewContext returns a Context with its activity clock started now and a
// random correlation ID, so every log line emitted for requests sharing
// one TCP connection (the supervisor, the tunnel copy loop, the forward
// dial) can be tied back together without threading the net.Conn itself
// through the logging call sites.
func NewContext() *Context {
	c := &Context{id: uuid.New().String()}
	c.Refresh()
	return c
}

// ID returns the connection's correlation ID.
func (c *Context) ID() string {
	return c.id
}

// Refresh records that activity happened now.
func (c *Context) Refresh() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity returns the time of the most recent Refresh.
func (c *Context) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// MarkUpgraded records that this connection has become a CONNECT tunnel.
// While upgraded, the idle watcher never shuts the connection down on
// its own account — the tunnel's own idle timeout (C2, streamio.IdleConn)
// governs it instead (spec.md Design Notes, Open Question #3).
func (c *Context) MarkUpgraded() {
	c.upgraded.Store(true)
	c.Refresh()
}

// Upgraded reports whether MarkUpgraded has been called.
func (c *Context) Upgraded() bool {
	return c.upgraded.Load()
}

// MarkActive records that a request is currently being read or handled on
// this connection, driven by http.Server's ConnState callback transitioning
// to StateActive. While active, the idle watcher must never close the
// connection — Invariant: idle shutdown only happens between requests, not
// mid-request (spec.md §4.11 state machine: "ACTIVE ── idle_timer fires &
// idle ▶ SHUTTING_DOWN", where "idle" excludes a request in flight).
func (c *Context) MarkActive() {
	c.active.Store(true)
	c.Refresh()
}

// MarkIdle records that the connection has finished handling its last
// request and is waiting for the next one (http.Server's StateIdle), which
// starts the idle clock for real.
func (c *Context) MarkIdle() {
	c.active.Store(false)
	c.Refresh()
}

// Active reports whether a request is currently in flight.
func (c *Context) Active() bool {
	return c.active.Load()
}

type contextKey struct{}

// IntoContext attaches sc to ctx, the way http.Server.ConnContext binds
// a connection's Context to every request served on it.
func IntoContext(ctx context.Context, sc *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, sc)
}

// FromContext retrieves the Context attached by IntoContext, or nil if
// none was attached — e.g. in a unit test that calls a handler directly
// without going through an http.Server.
func FromContext(ctx context.Context) *Context {
	sc, _ := ctx.Value(contextKey{}).(*Context)
	return sc
}

// Watcher races a connection's idle clock against a fixed timeout.
type Watcher struct {
	Context *Context
	Idle    time.Duration
}

// Run blocks until either done is closed (the connection's own request
// loop finished on its own) or the connection has been idle — not
// upgraded, and not in the middle of a request — for Idle, in which case
// onIdle is invoked exactly once and Run returns. A non-positive Idle
// disables the watcher.
//
// onIdle only fires between requests, never during one: a request in
// flight keeps Active() true for its whole lifetime (MarkActive at
// StateActive, MarkIdle only once the response is fully written and the
// connection goes back to waiting for the next request), so a slow
// upstream or a large streamed response can never be mistaken for an idle
// connection no matter how long it runs past Idle.
func (w *Watcher) Run(done <-chan struct{}, onIdle func()) {
	if w.Idle <= 0 {
		<-done
		return
	}
	for {
		last := w.Context.LastActivity()
		timer := time.NewTimer(time.Until(last.Add(w.Idle)))
		select {
		case <-done:
			timer.Stop()
			return
		case <-timer.C:
			if w.Context.Upgraded() || w.Context.Active() {
				w.Context.Refresh()
				continue
			}
			if w.Context.LastActivity().After(last) {
				continue
			}
			onIdle()
			return
		}
	}
}
