package supervisor

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestWatcherFiresOnIdleShutdown(t *testing.T) {
	ctx := NewContext()
	w := &Watcher{Context: ctx, Idle: 20 * time.Millisecond}

	done := make(chan struct{})
	var fired atomic.Bool
	finished := make(chan struct{})
	go func() {
		w.Run(done, func() { fired.Store(true) })
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("watcher never returned")
	}
	if !fired.Load() {
		t.Error("expected onIdle to fire")
	}
}

func TestWatcherDoesNotFireWhenDoneClosesFirst(t *testing.T) {
	ctx := NewContext()
	w := &Watcher{Context: ctx, Idle: 200 * time.Millisecond}

	done := make(chan struct{})
	var fired atomic.Bool
	finished := make(chan struct{})
	go func() {
		w.Run(done, func() { fired.Store(true) })
		close(finished)
	}()

	close(done)
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("watcher never returned")
	}
	if fired.Load() {
		t.Error("onIdle must not fire once done is closed")
	}
}

func TestWatcherNeverFiresWhileUpgraded(t *testing.T) {
	ctx := NewContext()
	ctx.MarkUpgraded()
	w := &Watcher{Context: ctx, Idle: 15 * time.Millisecond}

	done := make(chan struct{})
	var fired atomic.Bool
	finished := make(chan struct{})
	go func() {
		w.Run(done, func() { fired.Store(true) })
		close(finished)
	}()

	time.Sleep(100 * time.Millisecond)
	close(done)

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("watcher never returned")
	}
	if fired.Load() {
		t.Error("onIdle must never fire while upgraded")
	}
}

func TestWatcherNeverFiresWhileActive(t *testing.T) {
	ctx := NewContext()
	ctx.MarkActive()
	w := &Watcher{Context: ctx, Idle: 15 * time.Millisecond}

	done := make(chan struct{})
	var fired atomic.Bool
	finished := make(chan struct{})
	go func() {
		w.Run(done, func() { fired.Store(true) })
		close(finished)
	}()

	time.Sleep(100 * time.Millisecond)
	close(done)

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("watcher never returned")
	}
	if fired.Load() {
		t.Error("onIdle must never fire while a request is active, however long it runs")
	}
}

func TestWatcherFiresAfterMarkIdleElapsesIdleTimeout(t *testing.T) {
	ctx := NewContext()
	ctx.MarkActive()
	w := &Watcher{Context: ctx, Idle: 20 * time.Millisecond}

	done := make(chan struct{})
	var fired atomic.Bool
	finished := make(chan struct{})
	go func() {
		w.Run(done, func() { fired.Store(true) })
		close(finished)
	}()

	time.Sleep(50 * time.Millisecond)
	if fired.Load() {
		t.Fatal("onIdle fired while still active")
	}
	ctx.MarkIdle()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("watcher never returned after going idle")
	}
	if !fired.Load() {
		t.Error("expected onIdle to fire once idle for the full timeout after MarkIdle")
	}
}

func TestWatcherResetsOnRefresh(t *testing.T) {
	ctx := NewContext()
	w := &Watcher{Context: ctx, Idle: 40 * time.Millisecond}

	done := make(chan struct{})
	var fired atomic.Bool
	finished := make(chan struct{})
	go func() {
		w.Run(done, func() { fired.Store(true) })
		close(finished)
	}()

	time.Sleep(25 * time.Millisecond)
	ctx.Refresh()
	time.Sleep(25 * time.Millisecond)
	ctx.Refresh()

	select {
	case <-finished:
		t.Fatal("watcher fired despite continued refreshes")
	case <-time.After(30 * time.Millisecond):
	}
	close(done)
	<-finished
	if fired.Load() {
		t.Error("onIdle must not fire when refreshed before the deadline")
	}
}
