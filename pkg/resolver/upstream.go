package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"guest-dns/pkg/logging"
)

// Upstream resolves names through explicitly configured DNS servers instead
// of the host's /etc/resolv.conf. Servers are tried in order; an authoritative
// "no such host" ends the walk since another server would say the same.
type Upstream struct {
	logger    *logging.Logger
	dialer    *net.Dialer
	upstreams []string
	strict    bool     // when true, never fall back to the system resolver
	fallback  Lookuper // used when every upstream failed and strict is off
}

// NewUpstream creates a lookuper over the given "host:port" servers.
// With no servers it behaves like the system resolver.
//
// Example:
//
//	up := resolver.NewUpstream([]string{"1.1.1.1:53", "8.8.8.8:53"}, false, logger)
func NewUpstream(upstreams []string, strict bool, logger *logging.Logger) *Upstream {
	if len(upstreams) == 0 {
		logger.Warn("No upstream DNS servers configured, using system default resolver")
	} else {
		logger.Info("Upstream resolver initialized", "upstreams", upstreams, "strict", strict)
	}

	return &Upstream{
		upstreams: upstreams,
		logger:    logger,
		strict:    strict,
		fallback:  net.DefaultResolver,
		dialer: &net.Dialer{
			Timeout: 5 * time.Second,
		},
	}
}

// LookupIP implements Lookuper
func (u *Upstream) LookupIP(ctx context.Context, network, host string) ([]net.IP, error) {
	if len(u.upstreams) == 0 {
		return u.fallback.LookupIP(ctx, network, host)
	}

	var lastErr error
	for idx, upstream := range u.upstreams {
		netResolver := &net.Resolver{
			PreferGo: true,
			Dial: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return u.dialer.DialContext(ctx, "udp", upstream)
			},
		}

		ips, err := netResolver.LookupIP(ctx, network, host)
		if err == nil {
			u.logger.Debug("Upstream resolution successful",
				"host", host,
				"upstream", upstream,
				"ips", ips,
			)
			return ips, nil
		}

		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return nil, err
		}

		lastErr = err
		u.logger.Warn("Upstream resolution attempt failed",
			"host", host,
			"upstream", upstream,
			"attempt", idx+1,
			"error", err,
		)

		if ctx.Err() != nil {
			return nil, lastErr
		}
	}

	if u.strict {
		return nil, fmt.Errorf("failed to resolve %s via configured upstreams (strict mode): %w", host, lastErr)
	}

	u.logger.Warn("All upstream DNS servers failed, falling back to system resolver",
		"host", host,
		"attempts", len(u.upstreams),
		"error", lastErr,
	)
	ips, err := u.fallback.LookupIP(ctx, network, host)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s via configured upstreams: %w", host, errors.Join(lastErr, err))
	}
	return ips, nil
}

// Upstreams returns the configured upstream DNS servers
func (u *Upstream) Upstreams() []string {
	return u.upstreams
}
