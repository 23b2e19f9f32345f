// Package packet converts between raw IPv4/UDP frames from the guest and the
// plain datagrams the DNS proxy works on.
package packet

import (
	"errors"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	// ErrNotIPv4 is returned for frames that do not decode as IPv4
	ErrNotIPv4 = errors.New("frame is not IPv4")
	// ErrNotUDP is returned for IPv4 frames that do not carry UDP
	ErrNotUDP = errors.New("frame does not carry UDP")
)

// DefaultTTL is the IP TTL stamped on frames built by MarshalIPv4
const DefaultTTL = 64

// Datagram is one UDP payload together with its addressing
type Datagram struct {
	SrcIP   net.IP
	DstIP   net.IP
	SrcPort uint16
	DstPort uint16
	Payload []byte
}

func (d Datagram) String() string {
	return fmt.Sprintf("%s:%d -> %s:%d (%d bytes)", d.SrcIP, d.SrcPort, d.DstIP, d.DstPort, len(d.Payload))
}

// ParseIPv4 decodes a raw IPv4 frame. The returned datagram owns its
// addresses and payload; frame may be reused as soon as it returns.
func ParseIPv4(frame []byte) (Datagram, error) {
	p := gopacket.NewPacket(frame, layers.LayerTypeIPv4, gopacket.Default)

	ipLayer, ok := p.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if !ok {
		if errLayer := p.ErrorLayer(); errLayer != nil {
			return Datagram{}, fmt.Errorf("%w: %v", ErrNotIPv4, errLayer.Error())
		}
		return Datagram{}, ErrNotIPv4
	}
	if ipLayer.Version != 4 {
		return Datagram{}, fmt.Errorf("%w: version %d", ErrNotIPv4, ipLayer.Version)
	}

	udpLayer, ok := p.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if !ok {
		return Datagram{}, fmt.Errorf("%w: protocol %s", ErrNotUDP, ipLayer.Protocol)
	}

	return Datagram{
		SrcIP:   append(net.IP(nil), ipLayer.SrcIP.To4()...),
		DstIP:   append(net.IP(nil), ipLayer.DstIP.To4()...),
		SrcPort: uint16(udpLayer.SrcPort),
		DstPort: uint16(udpLayer.DstPort),
		Payload: append([]byte(nil), udpLayer.Payload...),
	}, nil
}

// MarshalIPv4 builds an IPv4/UDP frame with lengths and checksums filled in
func MarshalIPv4(d Datagram) ([]byte, error) {
	src, dst := d.SrcIP.To4(), d.DstIP.To4()
	if src == nil || dst == nil {
		return nil, fmt.Errorf("%w: %s -> %s", ErrNotIPv4, d.SrcIP, d.DstIP)
	}

	ip := &layers.IPv4{
		Version:  4,
		TTL:      DefaultTTL,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    src,
		DstIP:    dst,
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(d.SrcPort),
		DstPort: layers.UDPPort(d.DstPort),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, fmt.Errorf("failed to set checksum layer: %w", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ip, udp, gopacket.Payload(d.Payload)); err != nil {
		return nil, fmt.Errorf("failed to serialize frame: %w", err)
	}
	return buf.Bytes(), nil
}
