package packet

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalThenParse(t *testing.T) {
	in := Datagram{
		SrcIP:   net.ParseIP("10.0.2.15"),
		DstIP:   net.ParseIP("10.0.2.3"),
		SrcPort: 40000,
		DstPort: 53,
		Payload: []byte{0x12, 0x34, 0x01, 0x00},
	}

	frame, err := MarshalIPv4(in)
	require.NoError(t, err)
	require.Len(t, frame, 20+8+len(in.Payload))

	out, err := ParseIPv4(frame)
	require.NoError(t, err)
	assert.True(t, out.SrcIP.Equal(in.SrcIP))
	assert.True(t, out.DstIP.Equal(in.DstIP))
	assert.Equal(t, in.SrcPort, out.SrcPort)
	assert.Equal(t, in.DstPort, out.DstPort)
	assert.Equal(t, in.Payload, out.Payload)
}

func TestMarshalComputesChecksums(t *testing.T) {
	frame, err := MarshalIPv4(Datagram{
		SrcIP:   net.ParseIP("10.0.2.3"),
		DstIP:   net.ParseIP("10.0.2.15"),
		SrcPort: 53,
		DstPort: 40000,
		Payload: []byte("hello"),
	})
	require.NoError(t, err)

	p := gopacket.NewPacket(frame, layers.LayerTypeIPv4, gopacket.Default)
	ip, ok := p.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	require.True(t, ok)
	udp, ok := p.Layer(layers.LayerTypeUDP).(*layers.UDP)
	require.True(t, ok)

	assert.NotZero(t, ip.Checksum)
	assert.NotZero(t, udp.Checksum)
	assert.Equal(t, uint8(DefaultTTL), ip.TTL)
	assert.Equal(t, uint16(8+5), udp.Length)
}

func TestParseRejectsNonUDP(t *testing.T) {
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.IPv4(10, 0, 2, 15).To4(),
		DstIP:    net.IPv4(10, 0, 2, 3).To4(),
	}
	tcp := &layers.TCP{SrcPort: 1234, DstPort: 53, SYN: true}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf,
		gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}, ip, tcp))

	_, err := ParseIPv4(buf.Bytes())
	assert.ErrorIs(t, err, ErrNotUDP)
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, frame := range [][]byte{
		{0x01, 0x02, 0x03},
		{0x00, 0x01},
		{},
	} {
		_, err := ParseIPv4(frame)
		assert.ErrorIs(t, err, ErrNotIPv4, "frame % x", frame)
	}
}

func TestParseRejectsWrongVersion(t *testing.T) {
	frame, err := MarshalIPv4(Datagram{
		SrcIP:   net.ParseIP("10.0.2.15"),
		DstIP:   net.ParseIP("10.0.2.3"),
		SrcPort: 40000,
		DstPort: 53,
		Payload: []byte{0x00},
	})
	require.NoError(t, err)
	frame[0] = 0x65 // version 6, IHL 5

	_, err = ParseIPv4(frame)
	assert.ErrorIs(t, err, ErrNotIPv4)
}

func TestParseDoesNotAliasFrame(t *testing.T) {
	frame, err := MarshalIPv4(Datagram{
		SrcIP:   net.ParseIP("10.0.2.15"),
		DstIP:   net.ParseIP("10.0.2.3"),
		SrcPort: 40000,
		DstPort: 53,
		Payload: []byte{0xaa, 0xbb},
	})
	require.NoError(t, err)

	out, err := ParseIPv4(frame)
	require.NoError(t, err)
	for i := range frame {
		frame[i] = 0
	}

	assert.Equal(t, "10.0.2.15", out.SrcIP.String())
	assert.Equal(t, "10.0.2.3", out.DstIP.String())
	assert.Equal(t, []byte{0xaa, 0xbb}, out.Payload)
}

func TestMarshalRejectsIPv6(t *testing.T) {
	_, err := MarshalIPv4(Datagram{
		SrcIP: net.ParseIP("fe80::1"),
		DstIP: net.ParseIP("10.0.2.15"),
	})
	assert.ErrorIs(t, err, ErrNotIPv4)
}

func TestDatagramString(t *testing.T) {
	d := Datagram{
		SrcIP:   net.ParseIP("10.0.2.15"),
		DstIP:   net.ParseIP("10.0.2.3"),
		SrcPort: 40000,
		DstPort: 53,
		Payload: make([]byte, 12),
	}
	assert.Equal(t, "10.0.2.15:40000 -> 10.0.2.3:53 (12 bytes)", d.String())
}
