package capture

import (
	"context"
	"fmt"

	"github.com/banshee-data/depthlink/internal/frame"
	"github.com/banshee-data/depthlink/internal/transport"
)

// Status is the result of one path of a capture.
type Status int

const (
	// NotAttempted means the path never ran: assembly failed, the request
	// was cancelled, or the persist policy skipped it.
	NotAttempted Status = iota
	Succeeded
	Failed
)

func (s Status) String() string {
	switch s {
	case Succeeded:
		return "ok"
	case Failed:
		return "failed"
	default:
		return "not_attempted"
	}
}

// LocalResult reports the local-persist path.
type LocalResult struct {
	Status Status
	Path   string
	Err    error
}

// NetworkResult reports the network path after all retries.
type NetworkResult struct {
	Status   Status
	Attempts int
	Err      error
	Receipt  *transport.Receipt
}

// Reply returns the datagram reply future, or nil.
func (n NetworkResult) Reply() *transport.ReplyFuture {
	if n.Receipt == nil {
		return nil
	}
	return n.Receipt.Reply
}

// Outcome reports both paths of one capture independently.
type Outcome struct {
	CaptureID   string
	Timestamp   frame.Timestamp
	Destination transport.Destination
	// Redelivery is true for sends of previously persisted frames.
	Redelivery bool
	// Err is set when no frame was produced: assembly failed, the request
	// was cancelled, or the coordinator was closed.
	Err     error
	Local   LocalResult
	Network NetworkResult
}

// Summary describes the outcome for a user.
func (o *Outcome) Summary() string {
	switch {
	case o.Err != nil:
		return fmt.Sprintf("capture failed: %v", o.Err)
	case o.Local.Status == Succeeded && o.Network.Status == Succeeded:
		return "saved and sent"
	case o.Local.Status == Succeeded:
		return "saved but not sent"
	case o.Network.Status == Succeeded:
		if o.Local.Status == Failed {
			return "sent but not saved"
		}
		return "sent"
	case o.Local.Status == Failed && o.Network.Status == Failed:
		return "not saved and not sent"
	default:
		return "not sent"
	}
}

// Ticket is the pending outcome of a capture request.
type Ticket struct {
	done    chan struct{}
	outcome *Outcome
}

func newTicket() *Ticket {
	return &Ticket{done: make(chan struct{})}
}

func resolvedTicket(o *Outcome) *Ticket {
	t := newTicket()
	t.resolve(o)
	return t
}

func (t *Ticket) resolve(o *Outcome) {
	t.outcome = o
	close(t.done)
}

// Done is closed once both paths have finished.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Wait blocks until the outcome is known or ctx ends. Abandoning the wait
// does not cancel work already started.
func (t *Ticket) Wait(ctx context.Context) (*Outcome, error) {
	select {
	case <-t.done:
		return t.outcome, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
