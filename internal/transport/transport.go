// Package transport delivers encoded captures to a remote receiver over
// TCP or UDP.
//
// Every Send opens a fresh connection and moves it through
// Idle, Resolving, Connecting, Ready, Sending and then Completed or Failed,
// finishing in Closed. Send never retries; a failed attempt returns an
// *Error whose Kind is ErrResolutionFailed, ErrConnectFailed or
// ErrSendFailed.
package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Defaults applied by New for zero Config fields.
const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultWriteTimeout   = 10 * time.Second
	DefaultReplyTimeout   = 2 * time.Second
)

// Config configures a Transport.
type Config struct {
	Resolver Resolver
	Dialer   Dialer

	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	// ReplyTimeout bounds the wait for a datagram reply.
	ReplyTimeout time.Duration
	// AwaitReply makes datagram sends wait for one reply message, which is
	// delivered on Receipt.Reply.
	AwaitReply      bool
	MaxDatagramSize int

	// OnState, if set, observes every state change.
	OnState StateFunc
}

// Transport sends payloads. It holds no per-connection state and is safe
// for concurrent use; limiting concurrent sends is up to the caller.
type Transport struct {
	cfg        Config
	strategies map[Protocol]Strategy
}

// New returns a Transport using cfg, filling defaults for zero fields.
func New(cfg Config) *Transport {
	if cfg.Resolver == nil {
		cfg.Resolver = net.DefaultResolver
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &net.Dialer{}
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = DefaultReplyTimeout
	}
	if cfg.MaxDatagramSize <= 0 {
		cfg.MaxDatagramSize = DefaultMaxDatagramSize
	}
	return &Transport{
		cfg: cfg,
		strategies: map[Protocol]Strategy{
			Stream:   StreamStrategy{},
			Datagram: DatagramStrategy{MaxSize: cfg.MaxDatagramSize},
		},
	}
}

// Receipt describes a completed send.
type Receipt struct {
	Dest   Destination
	Remote string
	Bytes  int
	// Reply is set for datagram sends when AwaitReply is enabled. It
	// resolves after Send has returned.
	Reply *ReplyFuture
}

// Send delivers payload to dest over a new connection.
//
// A ctx that is already done prevents the attempt. Once the attempt has
// started it runs until it completes, fails or times out; later
// cancellation of ctx does not interrupt it. Use Go to stop waiting on an
// attempt without retracting it.
func (t *Transport) Send(ctx context.Context, payload []byte, dest Destination) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	strategy, ok := t.strategies[dest.Protocol]
	if !ok {
		return nil, fmt.Errorf("transport: unsupported protocol %q", dest.Protocol)
	}
	if dest.Protocol == Datagram && len(payload) > t.cfg.MaxDatagramSize {
		// Refused before any state change: no attempt can succeed.
		err := &Error{Kind: ErrSendFailed, Dest: dest, Err: fmt.Errorf("%w: %d bytes exceeds limit %d",
			ErrPayloadTooLarge, len(payload), t.cfg.MaxDatagramSize)}
		opsf("%v", err)
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)
	a := &attempt{t: t, dest: dest}
	a.set(Idle)

	a.set(Resolving)
	rctx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	addrs, err := resolve(rctx, t.cfg.Resolver, dest.Host)
	cancel()
	if err == nil && len(addrs) == 0 {
		err = fmt.Errorf("no addresses for %s", dest.Host)
	}
	if err != nil {
		return nil, a.fail(ErrResolutionFailed, err, nil)
	}

	a.set(Connecting)
	conn, err := t.dial(ctx, dest, addrs)
	if err != nil {
		return nil, a.fail(ErrConnectFailed, err, nil)
	}
	a.set(Ready)
	diagf("%s: connected to %s", dest, conn.RemoteAddr())

	a.set(Sending)
	if err := strategy.Write(conn, payload, t.cfg.WriteTimeout); err != nil {
		return nil, a.fail(ErrSendFailed, err, conn)
	}
	a.set(Completed)

	r := &Receipt{Dest: dest, Remote: conn.RemoteAddr().String(), Bytes: len(payload)}
	if dest.Protocol == Datagram && t.cfg.AwaitReply {
		r.Reply = awaitReply(conn, t.cfg.ReplyTimeout, t.cfg.MaxDatagramSize, func() { a.set(Closed) })
		return r, nil
	}
	conn.Close()
	a.set(Closed)
	return r, nil
}

// dial tries each resolved address in order and returns the first
// connection established.
func (t *Transport) dial(ctx context.Context, dest Destination, addrs []string) (net.Conn, error) {
	port := strconv.Itoa(dest.Port)
	var lastErr error
	for _, addr := range addrs {
		dctx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
		conn, err := t.cfg.Dialer.DialContext(dctx, string(dest.Protocol), net.JoinHostPort(addr, port))
		cancel()
		if err == nil {
			return conn, nil
		}
		tracef("%s: dial %s: %v", dest, addr, err)
		lastErr = err
	}
	return nil, lastErr
}

type attempt struct {
	t    *Transport
	dest Destination
}

func (a *attempt) set(s State) {
	tracef("%s: %s", a.dest, s)
	if a.t.cfg.OnState != nil {
		a.t.cfg.OnState(a.dest, s)
	}
}

func (a *attempt) fail(kind, cause error, conn net.Conn) error {
	a.set(Failed)
	if conn != nil {
		conn.Close()
	}
	a.set(Closed)
	err := &Error{Kind: kind, Dest: a.dest, Err: cause}
	opsf("%v", err)
	return err
}

// Call is an in-progress Send started by Go.
type Call struct {
	done    chan struct{}
	receipt *Receipt
	err     error
}

// Go starts Send in a new goroutine and returns immediately.
func (t *Transport) Go(ctx context.Context, payload []byte, dest Destination) *Call {
	c := &Call{done: make(chan struct{})}
	go func() {
		c.receipt, c.err = t.Send(ctx, payload, dest)
		close(c.done)
	}()
	return c
}

// Done is closed when the send has finished.
func (c *Call) Done() <-chan struct{} { return c.done }

// Wait blocks until the send finishes or ctx ends. When ctx ends first the
// send keeps running and ctx.Err() is returned.
func (c *Call) Wait(ctx context.Context) (*Receipt, error) {
	select {
	case <-c.done:
		return c.receipt, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
