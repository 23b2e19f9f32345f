// Package ratelimit throttles guest clients with per-address token buckets
// before their queries reach the device loop.
package ratelimit

import (
	"net/netip"
	"sync"
	"time"

	"guest-dns/pkg/config"
	"guest-dns/pkg/logging"

	"golang.org/x/time/rate"
)

const globalLabel = "global"

// Limiter enforces per-client request rates.
// A nil *Limiter allows everything.
type Limiter struct {
	cfg        *config.RateLimitConfig
	logger     *logging.Logger
	overrides  []override
	ipOverride map[netip.Addr]int

	mu      sync.Mutex
	clients map[netip.Addr]*client

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
	now      func() time.Time
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	label    string
}

type override struct {
	name  string
	cidrs []netip.Prefix
	limit rate.Limit
	burst int
}

// New returns a limiter, or nil when rate limiting is disabled.
// Call Stop to end the idle-client sweeper.
func New(cfg *config.RateLimitConfig, logger *logging.Logger) *Limiter {
	if cfg == nil || !cfg.Enabled {
		return nil
	}

	l := &Limiter{
		cfg:        cfg,
		logger:     logger,
		ipOverride: make(map[netip.Addr]int),
		clients:    make(map[netip.Addr]*client, 64),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
		now:        time.Now,
	}
	l.parseOverrides()

	if cfg.CleanupInterval > 0 {
		go l.cleanupLoop()
	} else {
		close(l.done)
	}

	logger.Info("Rate limiting enabled",
		"requests_per_second", cfg.RequestsPerSecond,
		"burst", cfg.Burst,
		"overrides", len(l.overrides),
	)
	return l
}

// Allow reports whether addr may send another query, and which limit applied
func (l *Limiter) Allow(addr netip.Addr) (allowed bool, label string) {
	if l == nil || !addr.IsValid() {
		return true, ""
	}
	addr = addr.Unmap()

	l.mu.Lock()
	c := l.clientLocked(addr)
	c.lastSeen = l.now()
	l.mu.Unlock()

	allowed = c.limiter.AllowN(l.now(), 1)
	if !allowed && l.cfg.LogViolations {
		l.logger.Warn("Client rate limited", "client", addr.String(), "limit", c.label)
	}
	return allowed, c.label
}

// Tracked returns the number of clients holding a bucket
func (l *Limiter) Tracked() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Stop ends the sweeper and waits for it to exit
func (l *Limiter) Stop() {
	if l == nil {
		return
	}
	l.stopOnce.Do(func() { close(l.stopCh) })
	<-l.done
}

func (l *Limiter) cleanupLoop() {
	defer close(l.done)

	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCh:
			return
		}
	}
}

// cleanup forgets clients idle for longer than the cleanup interval
func (l *Limiter) cleanup() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	for addr, c := range l.clients {
		if now.Sub(c.lastSeen) > l.cfg.CleanupInterval {
			delete(l.clients, addr)
		}
	}
}

func (l *Limiter) clientLocked(addr netip.Addr) *client {
	if c, ok := l.clients[addr]; ok {
		return c
	}

	if l.cfg.MaxTrackedClients > 0 && len(l.clients) >= l.cfg.MaxTrackedClients {
		l.evictOldestLocked()
	}

	limit, burst, label := rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst, globalLabel
	if ov := l.overrideFor(addr); ov != nil {
		limit, burst, label = ov.limit, ov.burst, ov.name
	}

	c := &client{
		limiter:  rate.NewLimiter(limit, burst),
		lastSeen: l.now(),
		label:    label,
	}
	l.clients[addr] = c
	return c
}

func (l *Limiter) evictOldestLocked() {
	var (
		oldest     netip.Addr
		oldestSeen time.Time
	)
	for addr, c := range l.clients {
		if !oldest.IsValid() || c.lastSeen.Before(oldestSeen) {
			oldest, oldestSeen = addr, c.lastSeen
		}
	}
	if oldest.IsValid() {
		delete(l.clients, oldest)
	}
}

func (l *Limiter) overrideFor(addr netip.Addr) *override {
	if idx, ok := l.ipOverride[addr]; ok {
		return &l.overrides[idx]
	}
	for i := range l.overrides {
		for _, prefix := range l.overrides[i].cidrs {
			if prefix.Contains(addr) {
				return &l.overrides[i]
			}
		}
	}
	return nil
}

func (l *Limiter) parseOverrides() {
	for idx, ov := range l.cfg.Overrides {
		o := override{
			name:  ov.Name,
			limit: rate.Limit(l.cfg.RequestsPerSecond),
			burst: l.cfg.Burst,
		}
		if o.name == "" {
			o.name = "override"
		}
		if ov.RequestsPerSecond != nil {
			o.limit = rate.Limit(*ov.RequestsPerSecond)
		}
		if ov.Burst != nil {
			o.burst = *ov.Burst
		}

		var clients []netip.Addr
		for _, s := range ov.Clients {
			addr, err := netip.ParseAddr(s)
			if err != nil {
				l.logger.Warn("Invalid rate limit override client", "override", ov.Name, "value", s, "index", idx, "error", err)
				continue
			}
			clients = append(clients, addr.Unmap())
		}
		for _, s := range ov.CIDRs {
			prefix, err := netip.ParsePrefix(s)
			if err != nil {
				l.logger.Warn("Invalid rate limit override CIDR", "override", ov.Name, "value", s, "index", idx, "error", err)
				continue
			}
			o.cidrs = append(o.cidrs, prefix.Masked())
		}

		if len(clients) == 0 && len(o.cidrs) == 0 {
			continue
		}

		pos := len(l.overrides)
		l.overrides = append(l.overrides, o)
		for _, addr := range clients {
			l.ipOverride[addr] = pos
		}
	}
}
