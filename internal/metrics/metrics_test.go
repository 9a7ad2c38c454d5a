package metrics

import (
	"testing"
	"time"
)

func countOf(t *testing.T, reg *Registry, name string) int {
	t.Helper()
	mfs, err := reg.Gatherer().Gather()
	if err != nil {
		t.Fatal(err)
	}
	total := 0
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += int(m.GetCounter().GetValue())
		}
	}
	return total
}

func TestAccessCounterIncrementsBothFamilies(t *testing.T) {
	reg := NewRegistry()
	ac := reg.AccessCounter(AccessLabel{Client: "1.2.3.4", Target: "example.com:443", Username: "alice"})

	ac.AddRx(10)
	ac.AddTx(5)

	if got := countOf(t, reg, "proxy_traffic"); got != 15 {
		t.Errorf("proxy_traffic total = %d, want 15", got)
	}
	if got := countOf(t, reg, "net_bytes"); got != 15 {
		t.Errorf("net_bytes total = %d, want 15", got)
	}
}

func TestAccessCounterIgnoresNonPositive(t *testing.T) {
	reg := NewRegistry()
	ac := reg.AccessCounter(AccessLabel{Client: "c", Target: "t", Username: "u"})

	ac.AddRx(0)
	ac.AddTx(-1)

	if got := countOf(t, reg, "proxy_traffic"); got != 0 {
		t.Errorf("proxy_traffic total = %d, want 0", got)
	}
}

func TestRequestFromOutIsNotResetByAccessLoop(t *testing.T) {
	reg := NewRegistry()
	reg.RequestFromOut("https://other.example/", "/img.png")
	ac := reg.AccessCounter(AccessLabel{Client: "c", Target: "t", Username: "u"})
	ac.AddRx(100)

	stop := make(chan struct{})
	reg.StartAccessResetLoop(10*time.Millisecond, stop)
	time.Sleep(35 * time.Millisecond)
	close(stop)

	if got := countOf(t, reg, "req_from_out"); got != 1 {
		t.Errorf("req_from_out total = %d, want 1 (must not be reset)", got)
	}
	if got := countOf(t, reg, "proxy_traffic"); got != 0 {
		t.Errorf("proxy_traffic total = %d, want 0 after reset loop ran", got)
	}
}
