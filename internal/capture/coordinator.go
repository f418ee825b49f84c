// Package capture turns capture requests into persisted and delivered
// frames.
//
// A request samples the latest sensor readings, assembles a frame, writes
// it to local storage and sends its encoding to the configured
// destination. The two paths report independently: a failed send never
// undoes a successful save, and a failed save never blocks the send.
// Sends to one destination leave in request order, one at a time.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/depthlink/internal/codec"
	"github.com/banshee-data/depthlink/internal/frame"
	"github.com/banshee-data/depthlink/internal/timeutil"
	"github.com/banshee-data/depthlink/internal/transport"
)

var (
	// ErrQueueFull is the network error of a capture whose destination
	// already had QueueSize captures waiting. The frame is still saved.
	ErrQueueFull = errors.New("capture queue full")
	// ErrClosed is reported for requests made after Close.
	ErrClosed = errors.New("coordinator closed")
)

// DefaultQueueSize bounds the captures waiting per destination.
const DefaultQueueSize = 16

// Persister writes a frame to local storage. *sink.LocalSink implements it.
type Persister interface {
	Persist(f *frame.CaptureFrame) (string, error)
}

// Sender delivers one payload. *transport.Transport implements it.
type Sender interface {
	Send(ctx context.Context, payload []byte, dest transport.Destination) (*transport.Receipt, error)
}

// Recorder is told about every finished capture, for example to journal
// it. It runs on a background goroutine.
type Recorder interface {
	Record(ctx context.Context, o *Outcome) error
}

// Config wires a Coordinator.
type Config struct {
	Sources     Sources
	Assembler   *frame.Assembler
	Sink        Persister
	Transport   Sender
	Destination transport.Destination
	Retry       RetryPolicy
	Persist     PersistPolicy
	// QueueSize bounds the captures waiting per destination.
	QueueSize int
	// Clock times backoff waits.
	Clock timeutil.Clock
	// Recorder, if set, receives every outcome.
	Recorder Recorder
	// OnState, if set, observes the Waiting state between attempts.
	OnState transport.StateFunc
}

// Stats counts outcomes since the coordinator started.
type Stats struct {
	Requested  int64 `json:"requested"`
	Assembled  int64 `json:"assembled"`
	Persisted  int64 `json:"persisted"`
	PersistErr int64 `json:"persist_failed"`
	Sent       int64 `json:"sent"`
	SendErr    int64 `json:"send_failed"`
	Retries    int64 `json:"retries"`
	Dropped    int64 `json:"dropped"`
}

type counters struct {
	requested, assembled, persisted, persistErr atomic.Int64
	sent, sendErr, retries, dropped             atomic.Int64
}

// Coordinator runs capture requests. Create it with New, call Start, and
// Close it when done.
type Coordinator struct {
	cfg Config

	// mu guards the lanes and closed flag. Lane queues are the only state
	// shared between request callers and senders.
	mu     sync.Mutex
	lanes  map[transport.Destination]*lane
	closed bool

	runCtx  context.Context
	workers sync.WaitGroup
	senders sync.WaitGroup
	stats   counters
}

// New validates cfg and returns a Coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Assembler == nil {
		return nil, errors.New("capture: assembler is required")
	}
	if cfg.Transport == nil {
		return nil, errors.New("capture: transport is required")
	}
	if cfg.Sink == nil {
		return nil, errors.New("capture: sink is required")
	}
	if err := cfg.Destination.Validate(); err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = DefaultRetryPolicy()
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	if cfg.Persist == "" {
		cfg.Persist = PersistAlways
	}
	if _, err := ParsePersistPolicy(string(cfg.Persist)); err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Coordinator{
		cfg:    cfg,
		lanes:  make(map[transport.Destination]*lane),
		runCtx: context.Background(),
	}, nil
}

// Start binds the coordinator to ctx. Cancelling ctx abandons backoff
// waits; an attempt already on the wire still runs to completion.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runCtx = ctx
	diagf("started: destination %s, %d attempts, persist %s", c.cfg.Destination, c.cfg.Retry.MaxAttempts, c.cfg.Persist)
}

// Destination returns the default destination.
func (c *Coordinator) Destination() transport.Destination { return c.cfg.Destination }

// Capture requests a capture and waits for its outcome.
func (c *Coordinator) Capture(ctx context.Context) (*Outcome, error) {
	return c.Request(ctx).Wait(ctx)
}

// Request starts a capture to the default destination and returns without
// blocking.
func (c *Coordinator) Request(ctx context.Context) *Ticket {
	return c.RequestTo(ctx, c.cfg.Destination)
}

// RequestTo starts a capture to dest. The send slot is reserved before
// this returns, so requests leave in the order they were made.
//
// A request whose ctx ends before assembly starts is dropped without
// touching storage or the network.
func (c *Coordinator) RequestTo(ctx context.Context, dest transport.Destination) *Ticket {
	c.stats.requested.Add(1)
	if err := ctx.Err(); err != nil {
		return resolvedTicket(&Outcome{Destination: dest, Err: err})
	}
	j, err := c.enqueue(dest, false)
	if err != nil {
		return resolvedTicket(&Outcome{Destination: dest, Err: err})
	}
	go func() {
		defer c.workers.Done()
		c.run(ctx, j)
	}()
	return j.ticket
}

// Redeliver queues a previously persisted frame for sending only. The
// frame is not written again.
func (c *Coordinator) Redeliver(ctx context.Context, f *frame.CaptureFrame) *Ticket {
	dest := c.cfg.Destination
	o := &Outcome{Destination: dest, Redelivery: true}
	if f != nil {
		o.CaptureID, o.Timestamp = f.ID, f.Timestamp
	}
	if err := ctx.Err(); err != nil {
		o.Err = err
		return resolvedTicket(o)
	}
	payload, err := codec.Encode(f)
	if err != nil {
		o.Err = err
		return resolvedTicket(o)
	}
	j, err := c.enqueue(dest, true)
	if err != nil {
		o.Err = err
		return resolvedTicket(o)
	}
	j.outcome = o
	go func() {
		defer c.workers.Done()
		if j.overflow != nil {
			o.Network = NetworkResult{Status: Failed, Err: j.overflow}
		} else {
			j.ready <- payload
			o.Network = <-j.result
		}
		c.finish(j)
	}()
	return j.ticket
}

// run is the per-request worker: assemble, persist, encode, then hand the
// payload to the destination lane and wait for its result.
func (c *Coordinator) run(ctx context.Context, j *job) {
	o := &Outcome{Destination: j.dest}
	j.outcome = o
	if err := ctx.Err(); err != nil {
		o.Err = err
		close(j.ready)
		c.finish(j)
		return
	}

	cam, depth, loc := c.cfg.Sources.sample()
	f, err := c.cfg.Assembler.Assemble(cam, depth, loc)
	if err != nil {
		o.Err = err
		opsf("assemble: %v", err)
		close(j.ready)
		c.finish(j)
		return
	}
	c.stats.assembled.Add(1)
	o.CaptureID, o.Timestamp = f.ID, f.Timestamp
	tracef("%s: assembled at %d ns", f.ID, f.Timestamp.MonotonicNanos)

	if c.cfg.Persist == PersistAlways {
		o.Local = c.persist(f)
	}

	payload, err := codec.Encode(f)
	switch {
	case err != nil:
		// The frame passed assembly, so this only happens for frames the
		// codec cannot represent.
		o.Network = NetworkResult{Status: Failed, Err: err}
		close(j.ready)
	case j.overflow != nil:
		o.Network = NetworkResult{Status: Failed, Err: j.overflow}
	default:
		j.ready <- payload
		o.Network = <-j.result
	}

	if c.cfg.Persist == PersistOnSendFailure && o.Network.Status != Succeeded {
		o.Local = c.persist(f)
	}
	c.finish(j)
}

func (c *Coordinator) persist(f *frame.CaptureFrame) LocalResult {
	path, err := c.cfg.Sink.Persist(f)
	if err != nil {
		c.stats.persistErr.Add(1)
		opsf("%s: persist: %v", f.ID, err)
		return LocalResult{Status: Failed, Path: path, Err: err}
	}
	c.stats.persisted.Add(1)
	tracef("%s: persisted to %s", f.ID, path)
	return LocalResult{Status: Succeeded, Path: path}
}

func (c *Coordinator) finish(j *job) {
	o := j.outcome
	if c.cfg.Recorder != nil && o.CaptureID != "" {
		if err := c.cfg.Recorder.Record(context.WithoutCancel(c.context()), o); err != nil {
			opsf("%s: record outcome: %v", o.CaptureID, err)
		}
	}
	diagf("%s: %s", o.CaptureID, o.Summary())
	j.ticket.resolve(o)
}

func (c *Coordinator) context() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runCtx
}

// Stats returns a snapshot of the counters.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Requested:  c.stats.requested.Load(),
		Assembled:  c.stats.assembled.Load(),
		Persisted:  c.stats.persisted.Load(),
		PersistErr: c.stats.persistErr.Load(),
		Sent:       c.stats.sent.Load(),
		SendErr:    c.stats.sendErr.Load(),
		Retries:    c.stats.retries.Load(),
		Dropped:    c.stats.dropped.Load(),
	}
}

// Close stops accepting requests and waits for every accepted request to
// finish, including its retries.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.workers.Wait()
	c.mu.Lock()
	for _, l := range c.lanes {
		close(l.queue)
	}
	c.mu.Unlock()
	c.senders.Wait()
	return nil
}
