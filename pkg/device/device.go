// Package device is the virtual network segment the guest talks to. Its run
// loop is the only goroutine that hands queries to the DNS server and pulls
// replies back out.
package device

import (
	"context"
	"errors"
	"fmt"
	"net"

	"guest-dns/pkg/logging"
	"guest-dns/pkg/packet"
)

// DNSPort is the only destination port routed to the DNS server
const DNSPort = 53

var (
	// ErrNotDNS is returned for datagrams not addressed to DNSPort
	ErrNotDNS = errors.New("datagram is not addressed to the DNS port")
	// ErrBacklogFull is returned when the device loop is not keeping up
	ErrBacklogFull = errors.New("device backlog full")
)

// Endpoint is the DNS server as seen by the device loop.
// *dns.Server satisfies it.
type Endpoint interface {
	Send(d *packet.Datagram) bool
	Recv() *packet.Datagram
}

// Sink receives reply datagrams addressed back to the guest
type Sink interface {
	WriteDatagram(d *packet.Datagram) error
}

// Device owns the Send/Recv side of the DNS server.
//
// Deliver and Notify may be called from any goroutine. Everything else runs
// on the goroutine executing Run.
type Device struct {
	server  Endpoint
	gateway net.IP
	sink    Sink
	logger  *logging.Logger

	inbound chan *packet.Datagram
	wake    chan struct{}

	// owned by Run
	clients map[uint16]net.IP
}

// New creates a device. Replies are addressed from gateway; backlog bounds
// the inbound datagrams waiting for the loop.
func New(server Endpoint, gateway net.IP, sink Sink, backlog int, logger *logging.Logger) *Device {
	if backlog <= 0 {
		backlog = 1
	}
	return &Device{
		server:  server,
		gateway: gateway.To4(),
		sink:    sink,
		logger:  logger,
		inbound: make(chan *packet.Datagram, backlog),
		wake:    make(chan struct{}, 1),
		clients: make(map[uint16]net.IP),
	}
}

// Notify wakes the loop to collect finished replies. It never blocks.
func (d *Device) Notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Deliver queues a guest datagram for the loop. It never blocks.
func (d *Device) Deliver(dg *packet.Datagram) error {
	if dg.DstPort != DNSPort {
		return ErrNotDNS
	}
	select {
	case d.inbound <- dg:
		return nil
	default:
		return ErrBacklogFull
	}
}

// DeliverFrame parses a raw IPv4 frame from the guest and queues it
func (d *Device) DeliverFrame(frame []byte) error {
	dg, err := packet.ParseIPv4(frame)
	if err != nil {
		return fmt.Errorf("failed to parse guest frame: %w", err)
	}
	// dg owns its bytes, so the caller may reuse frame immediately
	return d.Deliver(&dg)
}

// Run services the DNS server until ctx is done
func (d *Device) Run(ctx context.Context) error {
	d.logger.Info("Device loop started", "gateway", d.gateway)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Device loop stopped")
			return nil

		case dg := <-d.inbound:
			d.handle(dg)
			// override-only queries are answered inside Send
			d.drain()

		case <-d.wake:
			d.drain()
		}
	}
}

func (d *Device) handle(dg *packet.Datagram) {
	if ip := dg.SrcIP.To4(); ip != nil {
		d.clients[dg.SrcPort] = ip
	}
	d.server.Send(dg)
}

// drain forwards every finished reply to the sink
func (d *Device) drain() {
	for reply := d.server.Recv(); reply != nil; reply = d.server.Recv() {
		guest, ok := d.clients[reply.DstPort]
		if !ok {
			d.logger.Warn("No guest known for reply port, dropping", "port", reply.DstPort)
			continue
		}
		reply.SrcIP = d.gateway
		reply.DstIP = guest

		if err := d.sink.WriteDatagram(reply); err != nil {
			d.logger.Warn("Failed to deliver reply to guest", "reply", reply.String(), "error", err)
		}
	}
}
