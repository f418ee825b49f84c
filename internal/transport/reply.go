package transport

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

// Reply is the peer's answer to a datagram.
type Reply struct {
	Payload  []byte
	Received time.Time
}

// Ack interprets the reply as an acknowledgment. ok is false when the
// payload is not a recognised status.
func (r Reply) Ack() (ack, ok bool) {
	return ParseAck(r.Payload)
}

// ParseAck interprets "1", "true", "ok" or "ack" as a positive and "0",
// "false", "nack" or "error" as a negative acknowledgment, ignoring case
// and surrounding whitespace.
func ParseAck(payload []byte) (ack, ok bool) {
	switch strings.ToLower(string(bytes.TrimSpace(payload))) {
	case "1", "true", "ok", "ack":
		return true, true
	case "0", "false", "nack", "error":
		return false, true
	}
	return false, false
}

// ReplyFuture resolves once a datagram reply arrives, the reply timeout
// expires or the connection fails. It resolves exactly once.
type ReplyFuture struct {
	done  chan struct{}
	reply Reply
	err   error
}

func newReplyFuture() *ReplyFuture {
	return &ReplyFuture{done: make(chan struct{})}
}

func (f *ReplyFuture) resolve(r Reply, err error) {
	f.reply, f.err = r, err
	close(f.done)
}

// Done is closed when the future has resolved.
func (f *ReplyFuture) Done() <-chan struct{} { return f.done }

// Wait blocks until the reply resolves or ctx ends. Abandoning the wait
// does not cancel the read.
func (f *ReplyFuture) Wait(ctx context.Context) (Reply, error) {
	select {
	case <-f.done:
		return f.reply, f.err
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

// awaitReply reads one datagram from conn and closes it.
func awaitReply(conn net.Conn, timeout time.Duration, bufSize int, closed func()) *ReplyFuture {
	f := newReplyFuture()
	go func() {
		defer closed()
		defer conn.Close()
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			f.resolve(Reply{}, err)
			return
		}
		buf := make([]byte, bufSize)
		n, err := conn.Read(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				err = ErrNoReply
			}
			f.resolve(Reply{}, err)
			return
		}
		f.resolve(Reply{Payload: buf[:n], Received: time.Now()}, nil)
	}()
	return f
}
