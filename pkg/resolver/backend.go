// Package resolver performs the host machine's non-blocking IPv4 name
// resolution on behalf of guest queries.
package resolver

import (
	"context"
	"errors"
	"net"
	"time"
)

// ErrClosed is reported to callbacks of lookups issued after Close
var ErrClosed = errors.New("resolver backend closed")

// Outcome classifies a completed lookup
type Outcome int

const (
	// Answer carries an IPv4 address
	Answer Outcome = iota
	// NotFound means the name does not exist or has no IPv4 address
	NotFound
	// TemporaryFailure means the resolver could not answer right now
	TemporaryFailure
	// OtherError is any other resolver failure
	OtherError
)

func (o Outcome) String() string {
	switch o {
	case Answer:
		return "answer"
	case NotFound:
		return "not_found"
	case TemporaryFailure:
		return "temporary_failure"
	case OtherError:
		return "other_error"
	default:
		return "unknown"
	}
}

// Result is delivered exactly once per Resolve call
type Result struct {
	Outcome  Outcome
	Addr     net.IP // set only for Answer
	Err      error  // set for OtherError, and for failures when known
	Duration time.Duration
}

// Backend issues asynchronous IPv4 lookups.
//
// Resolve must not block. onComplete fires exactly once, on a goroutine other
// than the caller's, with one of the four outcomes.
type Backend interface {
	Resolve(name string, onComplete func(Result))
}

// Lookuper is the blocking lookup a backend runs off the caller's goroutine.
// *net.Resolver satisfies it.
type Lookuper interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
}

// Classify turns a lookup result into an Outcome.
// Only the first IPv4 candidate is used; a success without one is NotFound.
func Classify(ips []net.IP, err error) Result {
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) {
			switch {
			case dnsErr.IsNotFound:
				return Result{Outcome: NotFound, Err: err}
			case dnsErr.IsTemporary, dnsErr.IsTimeout:
				return Result{Outcome: TemporaryFailure, Err: err}
			}
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, ErrClosed) {
			return Result{Outcome: TemporaryFailure, Err: err}
		}
		return Result{Outcome: OtherError, Err: err}
	}

	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			addr := make(net.IP, net.IPv4len)
			copy(addr, v4)
			return Result{Outcome: Answer, Addr: addr}
		}
	}

	return Result{Outcome: NotFound}
}
