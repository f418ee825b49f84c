package receiver

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/banshee-data/depthlink/internal/codec"
)

// ServeStream accepts connections on ln and decodes back-to-back messages
// from each until the peer closes its side. It returns when ctx is done or
// ln fails; open connections are closed before it returns.
func (r *Receiver) ServeStream(ctx context.Context, ln net.Listener) error {
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		conns = make(map[net.Conn]struct{})
	)
	stop := context.AfterFunc(ctx, func() {
		ln.Close()
		mu.Lock()
		for c := range conns {
			c.Close()
		}
		mu.Unlock()
	})
	defer stop()

	diagf("stream listener on %s", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			wg.Wait()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		r.stats.connections.Add(1)
		mu.Lock()
		conns[conn] = struct{}{}
		mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			r.serveConn(conn)
			mu.Lock()
			delete(conns, conn)
			mu.Unlock()
		}()
	}
}

func (r *Receiver) serveConn(conn net.Conn) {
	defer conn.Close()
	peer := conn.RemoteAddr()
	tracef("connection from %s", peer)

	dec := codec.NewDecoder(conn)
	if r.cfg.MaxPayload > 0 {
		dec.SetMaxPayload(r.cfg.MaxPayload)
	}
	n := 0
	for {
		f, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			diagf("%s sent %d captures", peer, n)
			return
		}
		if errors.Is(err, net.ErrClosed) {
			return
		}
		if err != nil {
			// The stream cannot be resynchronised after a bad message.
			r.stats.decodeErrors.Add(1)
			opsf("decode from %s after %d captures: %v", peer, n, err)
			return
		}
		n++
		_ = r.accept(f)
	}
}
