// Package netenv discovers the host-side address of the virtual adapter.
// The guest sees this address in answers that would otherwise point at the
// host's own loopback.
package netenv

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"

	psnet "github.com/shirou/gopsutil/v3/net"
)

// ErrNoAdapterAddress is returned when no usable IPv4 address was found.
// The returned address is then the loopback fallback.
var ErrNoAdapterAddress = errors.New("no IPv4 address found on adapter")

// Loopback is used when the adapter address cannot be determined
var Loopback = net.IPv4(127, 0, 0, 1).To4()

// AdapterIPv4 returns the first IPv4 address bound to the interface called
// name. With an empty name the first non-loopback interface that is up wins.
// On failure it returns Loopback together with a wrapped error so callers can
// log and continue in degraded mode.
func AdapterIPv4(ctx context.Context, name string) (net.IP, error) {
	ifaces, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return Loopback, fmt.Errorf("list interfaces: %w", err)
	}
	return pick(ifaces, name)
}

func pick(ifaces psnet.InterfaceStatList, name string) (net.IP, error) {
	for _, iface := range ifaces {
		if name != "" && iface.Name != name {
			continue
		}
		if name == "" && (slices.Contains(iface.Flags, "loopback") || !slices.Contains(iface.Flags, "up")) {
			continue
		}
		for _, a := range iface.Addrs {
			if ip := parseAddr(a.Addr); ip != nil {
				return ip, nil
			}
		}
	}

	if name != "" {
		return Loopback, fmt.Errorf("%w: %s", ErrNoAdapterAddress, name)
	}
	return Loopback, ErrNoAdapterAddress
}

// parseAddr accepts both "10.0.2.2/24" and bare "10.0.2.2"
func parseAddr(s string) net.IP {
	ip, _, err := net.ParseCIDR(s)
	if err != nil {
		ip = net.ParseIP(s)
	}
	if ip == nil {
		return nil
	}
	v4 := ip.To4()
	if v4 == nil || v4.IsLoopback() {
		return nil
	}
	return v4
}
