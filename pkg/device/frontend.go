package device

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"guest-dns/pkg/logging"
	"guest-dns/pkg/packet"
	"guest-dns/pkg/ratelimit"
)

const maxDatagram = 65535

// Frontend feeds the device from a host UDP socket so the proxy can run
// without an emulator attached. Each remote port stands in for one guest.
type Frontend struct {
	conn    net.PacketConn
	gateway net.IP
	logger  *logging.Logger
	limiter *ratelimit.Limiter

	mu      sync.Mutex
	clients map[uint16]net.Addr
}

// NewFrontend binds addr
func NewFrontend(addr string, gateway net.IP, logger *logging.Logger) (*Frontend, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return &Frontend{
		conn:    conn,
		gateway: gateway.To4(),
		logger:  logger,
		clients: make(map[uint16]net.Addr),
	}, nil
}

// Addr returns the bound socket address
func (f *Frontend) Addr() net.Addr {
	return f.conn.LocalAddr()
}

// SetLimiter throttles remotes before their datagrams reach the device.
// Call before Serve.
func (f *Frontend) SetLimiter(l *ratelimit.Limiter) {
	f.limiter = l
}

// Serve reads datagrams into dev until ctx is done
func (f *Frontend) Serve(ctx context.Context, dev *Device) error {
	f.logger.Info("Frontend listening", "address", f.conn.LocalAddr().String())

	stop := context.AfterFunc(ctx, func() { _ = f.conn.Close() })
	defer stop()

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := f.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("frontend read failed: %w", err)
		}

		udp, ok := from.(*net.UDPAddr)
		if !ok {
			continue
		}
		if allowed, _ := f.limiter.Allow(udp.AddrPort().Addr()); !allowed {
			continue
		}
		port := uint16(udp.Port)

		f.mu.Lock()
		f.clients[port] = from
		f.mu.Unlock()

		src := udp.IP.To4()
		if src == nil {
			src = net.IPv4(127, 0, 0, 1).To4()
		}
		dg := &packet.Datagram{
			SrcIP:   src,
			DstIP:   f.gateway,
			SrcPort: port,
			DstPort: DNSPort,
			Payload: append([]byte(nil), buf[:n]...),
		}
		if err := dev.Deliver(dg); err != nil {
			f.logger.Warn("Dropping datagram", "from", from.String(), "error", err)
		}
	}
}

// WriteDatagram implements Sink by sending the payload back to the remote
// that used d.DstPort
func (f *Frontend) WriteDatagram(d *packet.Datagram) error {
	f.mu.Lock()
	to, ok := f.clients[d.DstPort]
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("no client for port %d", d.DstPort)
	}

	if _, err := f.conn.WriteTo(d.Payload, to); err != nil {
		return fmt.Errorf("failed to write reply to %s: %w", to, err)
	}
	return nil
}

// Close releases the socket
func (f *Frontend) Close() error {
	err := f.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
