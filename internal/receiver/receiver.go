// Package receiver accepts capture messages over TCP and UDP, decodes them
// and stores them through a sink.
package receiver

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/banshee-data/depthlink/internal/frame"
	"github.com/banshee-data/depthlink/internal/sink"
)

// Ack and Nack are the datagram replies.
var (
	Ack  = []byte("1")
	Nack = []byte("0")
)

// Persister stores received frames.
type Persister interface {
	Persist(f *frame.CaptureFrame) (string, error)
}

// Config configures a Receiver.
type Config struct {
	// Sink stores every decoded frame. Frames are only kept in memory
	// when nil.
	Sink Persister
	// MaxPayload bounds the image+depth bytes of a stream message.
	MaxPayload int
	// DatagramBuffer is the read buffer for datagrams. Larger datagrams
	// are truncated and fail to decode.
	DatagramBuffer int
	// NoReply disables datagram acknowledgments.
	NoReply bool
	// OnFrame is called for every accepted frame.
	OnFrame func(f *frame.CaptureFrame)
}

// DefaultDatagramBuffer fits the largest UDP payload.
const DefaultDatagramBuffer = 65535

// Receiver decodes capture messages from any number of listeners.
type Receiver struct {
	cfg Config

	latest atomic.Pointer[frame.CaptureFrame]
	stats  counters
}

type counters struct {
	connections   atomic.Uint64
	datagrams     atomic.Uint64
	frames        atomic.Uint64
	bytes         atomic.Uint64
	decodeErrors  atomic.Uint64
	duplicates    atomic.Uint64
	persistErrors atomic.Uint64
	lastReceived  atomic.Int64
}

// Stats is a snapshot of receiver counters.
type Stats struct {
	Connections   uint64    `json:"connections"`
	Datagrams     uint64    `json:"datagrams"`
	Frames        uint64    `json:"frames"`
	PayloadBytes  uint64    `json:"payload_bytes"`
	DecodeErrors  uint64    `json:"decode_errors"`
	Duplicates    uint64    `json:"duplicates"`
	PersistErrors uint64    `json:"persist_errors"`
	LastReceived  time.Time `json:"last_received"`
	LatestID      string    `json:"latest_id,omitempty"`
}

// New creates a Receiver.
func New(cfg Config) *Receiver {
	if cfg.DatagramBuffer <= 0 {
		cfg.DatagramBuffer = DefaultDatagramBuffer
	}
	return &Receiver{cfg: cfg}
}

// Latest returns the most recently accepted frame, or nil.
func (r *Receiver) Latest() *frame.CaptureFrame { return r.latest.Load() }

// Stats returns a snapshot of the counters.
func (r *Receiver) Stats() Stats {
	s := Stats{
		Connections:   r.stats.connections.Load(),
		Datagrams:     r.stats.datagrams.Load(),
		Frames:        r.stats.frames.Load(),
		PayloadBytes:  r.stats.bytes.Load(),
		DecodeErrors:  r.stats.decodeErrors.Load(),
		Duplicates:    r.stats.duplicates.Load(),
		PersistErrors: r.stats.persistErrors.Load(),
	}
	if ns := r.stats.lastReceived.Load(); ns != 0 {
		s.LastReceived = time.Unix(0, ns)
	}
	if f := r.Latest(); f != nil {
		s.LatestID = f.ID
	}
	return s
}

// accept stores a decoded frame. A frame whose id was already stored is
// acknowledged again: the sender is retrying a delivery we completed.
func (r *Receiver) accept(f *frame.CaptureFrame) error {
	r.stats.frames.Add(1)
	r.stats.bytes.Add(uint64(len(f.Image) + len(f.Depth.Data)))
	r.stats.lastReceived.Store(time.Now().UnixNano())
	r.latest.Store(f)

	if r.cfg.Sink != nil {
		dir, err := r.cfg.Sink.Persist(f)
		switch {
		case errors.Is(err, sink.ErrDuplicateCaptureID):
			r.stats.duplicates.Add(1)
			diagf("capture %s already stored", f.ID)
			return nil
		case err != nil:
			r.stats.persistErrors.Add(1)
			opsf("store capture %s: %v", f.ID, err)
			return err
		}
		tracef("stored capture %s in %s", f.ID, dir)
	}
	if r.cfg.OnFrame != nil {
		r.cfg.OnFrame(f)
	}
	return nil
}
