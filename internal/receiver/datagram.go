package receiver

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/banshee-data/depthlink/internal/codec"
)

// ServeDatagram decodes one message per datagram read from conn. Unless
// NoReply is set, each datagram is answered with Ack when the frame was
// stored and Nack otherwise.
func (r *Receiver) ServeDatagram(ctx context.Context, conn net.PacketConn) error {
	diagf("datagram listener on %s", conn.LocalAddr())
	buf := make([]byte, r.cfg.DatagramBuffer)
	var deadlineErrLogged bool

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		// A short deadline lets the loop notice cancellation.
		if err := conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil && !deadlineErrLogged {
			opsf("set read deadline: %v", err)
			deadlineErrLogged = true
		}
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			opsf("datagram read: %v", err)
			continue
		}
		r.stats.datagrams.Add(1)

		reply := Ack
		if err := r.handleDatagram(buf[:n]); err != nil {
			reply = Nack
		}
		if r.cfg.NoReply {
			continue
		}
		if _, err := conn.WriteTo(reply, addr); err != nil {
			opsf("reply to %s: %v", addr, err)
		}
	}
}

func (r *Receiver) handleDatagram(payload []byte) error {
	f, err := codec.Decode(payload)
	if err != nil {
		r.stats.decodeErrors.Add(1)
		opsf("decode datagram of %d bytes: %v", len(payload), err)
		return err
	}
	return r.accept(f)
}
