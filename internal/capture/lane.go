package capture

import (
	"context"

	"github.com/banshee-data/depthlink/internal/transport"
)

// job is one reserved send slot. The worker fills ready with the payload,
// or closes it when there is nothing to send; the lane answers on result.
type job struct {
	dest    transport.Destination
	ready   chan []byte
	result  chan NetworkResult
	ticket  *Ticket
	outcome *Outcome
	// overflow is set when the lane had no room. The job never reaches the
	// lane; it is still assembled and persisted.
	overflow error
}

// lane serialises sends to one destination. Its goroutine is the only
// place a connection to that destination is opened, so at most one send
// is in flight per destination.
type lane struct {
	dest  transport.Destination
	queue chan *job
}

// enqueue reserves the next slot on dest's lane without blocking. When the
// lane is full the job comes back with overflow set instead. Unless the
// coordinator is closed, the caller owns one count on c.workers.
func (c *Coordinator) enqueue(dest transport.Destination, redelivery bool) (*job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	l, ok := c.lanes[dest]
	if !ok {
		l = &lane{dest: dest, queue: make(chan *job, c.cfg.QueueSize)}
		c.lanes[dest] = l
		c.senders.Add(1)
		go func() {
			defer c.senders.Done()
			c.drain(l)
		}()
	}
	j := &job{
		dest:   dest,
		ready:  make(chan []byte, 1),
		result: make(chan NetworkResult, 1),
		ticket: newTicket(),
	}
	c.workers.Add(1)
	select {
	case l.queue <- j:
	default:
		c.stats.dropped.Add(1)
		opsf("%s: queue full (%d waiting), not sending", dest, cap(l.queue))
		j.overflow = ErrQueueFull
	}
	return j, nil
}

// drain sends queued jobs in order until the queue is closed.
func (c *Coordinator) drain(l *lane) {
	for j := range l.queue {
		payload, ok := <-j.ready
		if !ok {
			continue
		}
		j.result <- c.deliver(l.dest, payload)
	}
}

// deliver sends payload, retrying retryable failures with exponential
// backoff up to the attempt limit.
func (c *Coordinator) deliver(dest transport.Destination, payload []byte) NetworkResult {
	ctx := c.context()
	policy := c.cfg.Retry
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := policy.Delay(attempt - 1)
			c.stats.retries.Add(1)
			if c.cfg.OnState != nil {
				c.cfg.OnState(dest, transport.Waiting)
			}
			tracef("%s: attempt %d failed, waiting %s", dest, attempt-1, delay)
			select {
			case <-c.cfg.Clock.After(delay):
			case <-ctx.Done():
				c.stats.sendErr.Add(1)
				return NetworkResult{Status: Failed, Attempts: attempt - 1, Err: lastErr}
			}
		}
		receipt, err := c.cfg.Transport.Send(context.WithoutCancel(ctx), payload, dest)
		if err == nil {
			c.stats.sent.Add(1)
			return NetworkResult{Status: Succeeded, Attempts: attempt, Receipt: receipt}
		}
		lastErr = err
		if !transport.Retryable(err) {
			c.stats.sendErr.Add(1)
			return NetworkResult{Status: Failed, Attempts: attempt, Err: err}
		}
	}
	c.stats.sendErr.Add(1)
	opsf("%s: giving up after %d attempts: %v", dest, policy.MaxAttempts, lastErr)
	return NetworkResult{Status: Failed, Attempts: policy.MaxAttempts, Err: lastErr}
}
