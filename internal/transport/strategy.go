package transport

import (
	"fmt"
	"io"
	"net"
	"time"
)

// Strategy writes one payload over an established connection. Stream and
// datagram delivery are interchangeable behind it.
type Strategy interface {
	Protocol() Protocol
	// Write sends the whole payload or fails.
	Write(conn net.Conn, payload []byte, timeout time.Duration) error
}

// StreamStrategy delivers a payload over a TCP connection, completing any
// short writes before it returns.
type StreamStrategy struct{}

func (StreamStrategy) Protocol() Protocol { return Stream }

func (StreamStrategy) Write(conn net.Conn, payload []byte, timeout time.Duration) error {
	if timeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}
	for written := 0; written < len(payload); {
		n, err := conn.Write(payload[written:])
		written += n
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
	}
	// Half-close so the peer sees end of stream once it has read the
	// message.
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}

// DatagramStrategy delivers a payload as a single UDP datagram. Payloads
// larger than MaxSize are refused rather than fragmented.
type DatagramStrategy struct {
	MaxSize int
}

// DefaultMaxDatagramSize is the largest UDP payload over IPv4.
const DefaultMaxDatagramSize = 65507

func (DatagramStrategy) Protocol() Protocol { return Datagram }

func (s DatagramStrategy) Write(conn net.Conn, payload []byte, timeout time.Duration) error {
	limit := s.MaxSize
	if limit <= 0 {
		limit = DefaultMaxDatagramSize
	}
	if len(payload) > limit {
		return fmt.Errorf("%w: %d bytes exceeds limit %d", ErrPayloadTooLarge, len(payload), limit)
	}
	if timeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}
	n, err := conn.Write(payload)
	if err != nil {
		return err
	}
	if n != len(payload) {
		return fmt.Errorf("datagram truncated: wrote %d of %d bytes", n, len(payload))
	}
	return nil
}
