package device

import (
	"fmt"
	"io"

	"guest-dns/pkg/packet"
)

// FrameWriter is a Sink that emits each reply as a raw IPv4 frame
type FrameWriter struct {
	W io.Writer
}

// WriteDatagram implements Sink
func (f FrameWriter) WriteDatagram(d *packet.Datagram) error {
	frame, err := packet.MarshalIPv4(*d)
	if err != nil {
		return fmt.Errorf("failed to build reply frame: %w", err)
	}
	if _, err := f.W.Write(frame); err != nil {
		return fmt.Errorf("failed to write reply frame: %w", err)
	}
	return nil
}
