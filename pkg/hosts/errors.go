package hosts

import "errors"

var (
	// ErrInvalidDomain is returned when a host entry has no usable name
	ErrInvalidDomain = errors.New("invalid domain name")

	// ErrInvalidIP is returned when a host entry address does not parse
	ErrInvalidIP = errors.New("invalid IP address")

	// ErrNotIPv4 is returned when a host entry address is not IPv4
	ErrNotIPv4 = errors.New("host override must be an IPv4 address")
)
