package ratelimit

import (
	"net/netip"
	"testing"
	"time"

	"guest-dns/pkg/config"
	"guest-dns/pkg/logging"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(t *testing.T, cfg *config.RateLimitConfig) (*Limiter, *fakeClock) {
	t.Helper()
	l := New(cfg, logging.NewDiscard())
	if l == nil {
		t.Fatal("expected limiter instance")
	}
	t.Cleanup(l.Stop)
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	l.now = clock.now
	return l, clock
}

func TestLimiterAllow(t *testing.T) {
	l, clock := newTestLimiter(t, &config.RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 1,
		Burst:             1,
	})
	guest := netip.MustParseAddr("10.0.2.15")

	if allowed, label := l.Allow(guest); !allowed || label != "global" {
		t.Fatalf("first query should pass under the global limit (allowed=%v label=%s)", allowed, label)
	}
	if allowed, _ := l.Allow(guest); allowed {
		t.Fatal("second immediate query should be limited")
	}

	clock.advance(time.Second)
	if allowed, _ := l.Allow(guest); !allowed {
		t.Fatal("bucket should refill after one second")
	}
}

func TestLimiterClientsAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t, &config.RateLimitConfig{Enabled: true, RequestsPerSecond: 1, Burst: 1})

	l.Allow(netip.MustParseAddr("10.0.2.15"))
	if allowed, _ := l.Allow(netip.MustParseAddr("10.0.2.16")); !allowed {
		t.Fatal("a second guest must not share the first guest's bucket")
	}
	if got := l.Tracked(); got != 2 {
		t.Fatalf("expected 2 tracked clients, got %d", got)
	}
}

func TestLimiterOverrides(t *testing.T) {
	generous := 1000.0
	burst := 5
	l, _ := newTestLimiter(t, &config.RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 1,
		Burst:             1,
		Overrides: []config.RateLimitOverride{
			{Name: "build-vm", Clients: []string{"10.0.2.50"}, RequestsPerSecond: &generous, Burst: &burst},
			{Name: "lab", CIDRs: []string{"192.168.56.0/24", "not-a-cidr"}, Burst: &burst},
			{Name: "empty", Clients: []string{"bogus"}},
		},
	})

	tests := []struct {
		addr  string
		label string
		burst int
	}{
		{"10.0.2.50", "build-vm", 5},
		{"192.168.56.7", "lab", 5},
		{"::ffff:192.168.56.8", "lab", 5},
		{"10.0.2.15", "global", 1},
	}
	for _, tt := range tests {
		addr := netip.MustParseAddr(tt.addr)
		passed := 0
		for i := 0; i < 10; i++ {
			allowed, label := l.Allow(addr)
			if label != tt.label {
				t.Fatalf("%s: expected label %s, got %s", tt.addr, tt.label, label)
			}
			if allowed {
				passed++
			}
		}
		if passed != tt.burst {
			t.Errorf("%s: expected %d queries through the burst, got %d", tt.addr, tt.burst, passed)
		}
	}

	if len(l.overrides) != 2 {
		t.Errorf("override without valid matchers should be ignored, got %d overrides", len(l.overrides))
	}
}

func TestLimiterEvictsOldestClient(t *testing.T) {
	l, clock := newTestLimiter(t, &config.RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 1,
		Burst:             1,
		MaxTrackedClients: 2,
	})

	a := netip.MustParseAddr("10.0.0.1")
	l.Allow(a)
	clock.advance(time.Millisecond)
	l.Allow(netip.MustParseAddr("10.0.0.2"))
	clock.advance(time.Millisecond)
	l.Allow(netip.MustParseAddr("10.0.0.3"))

	if got := l.Tracked(); got != 2 {
		t.Fatalf("expected 2 tracked clients, got %d", got)
	}
	l.mu.Lock()
	_, stillThere := l.clients[a]
	l.mu.Unlock()
	if stillThere {
		t.Fatal("oldest client should have been evicted")
	}
}

func TestLimiterCleanup(t *testing.T) {
	l, clock := newTestLimiter(t, &config.RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 1,
		Burst:             1,
		CleanupInterval:   time.Hour,
	})

	l.Allow(netip.MustParseAddr("10.0.0.1"))
	clock.advance(2 * time.Hour)
	l.Allow(netip.MustParseAddr("10.0.0.2"))

	l.cleanup()
	if got := l.Tracked(); got != 1 {
		t.Fatalf("idle client should be swept, tracked=%d", got)
	}
}

func TestLimiterDisabled(t *testing.T) {
	if l := New(&config.RateLimitConfig{Enabled: false}, logging.NewDiscard()); l != nil {
		t.Fatal("disabled config should produce a nil limiter")
	}
	if l := New(nil, logging.NewDiscard()); l != nil {
		t.Fatal("nil config should produce a nil limiter")
	}

	var l *Limiter
	if allowed, _ := l.Allow(netip.MustParseAddr("10.0.0.1")); !allowed {
		t.Fatal("nil limiter must allow everything")
	}
	l.Stop()
	if l.Tracked() != 0 {
		t.Fatal("nil limiter tracks nobody")
	}
}
