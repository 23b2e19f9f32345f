package hosts

import (
	"fmt"
	"net"
	"strings"

	"guest-dns/pkg/config"
)

// normalizeDomain normalizes a domain name to lowercase FQDN with trailing dot.
// Guest questions arrive rooted ("example.test.") while config entries usually
// are not, so both sides go through here before comparing.
func normalizeDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))

	if !strings.HasSuffix(domain, ".") {
		domain += "."
	}

	return domain
}

// parseIPv4 parses an IPv4 address string into its 4-byte form
func parseIPv4(s string) (net.IP, error) {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return nil, ErrInvalidIP
	}
	v4 := ip.To4()
	if v4 == nil {
		return nil, ErrNotIPv4
	}
	return v4, nil
}

// EntriesFromConfig converts configured host overrides into table entries.
// Malformed entries are omitted and reported; they never fail the whole set.
func EntriesFromConfig(list []config.HostEntry) ([]Entry, []error) {
	entries := make([]Entry, 0, len(list))
	var errs []error

	for i, h := range list {
		name := strings.TrimSpace(h.URL)
		if name == "" || name == "." {
			errs = append(errs, fmt.Errorf("hosts[%d]: %w", i, ErrInvalidDomain))
			continue
		}

		ip, err := parseIPv4(h.Address)
		if err != nil {
			errs = append(errs, fmt.Errorf("hosts[%d] %s: %w", i, name, err))
			continue
		}

		entries = append(entries, Entry{
			Enabled: h.Enabled,
			Name:    name,
			Address: ip,
		})
	}

	return entries, errs
}
