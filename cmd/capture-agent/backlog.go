package main

import (
	"context"
	"fmt"

	"github.com/banshee-data/depthlink/internal/archive"
	"github.com/banshee-data/depthlink/internal/capture"
	"github.com/banshee-data/depthlink/internal/frame"
	"github.com/banshee-data/depthlink/internal/fsutil"
	"github.com/banshee-data/depthlink/internal/journal"
	"github.com/banshee-data/depthlink/internal/monitoring"
)

type pendingLister interface {
	Pending(ctx context.Context, limit int) ([]journal.Entry, error)
}

type redeliverer interface {
	Redeliver(ctx context.Context, f *frame.CaptureFrame) *capture.Ticket
}

// drainBacklog queues every saved but undelivered capture for sending.
// Captures whose directory is missing or incomplete are skipped.
func drainBacklog(ctx context.Context, pending pendingLister, c redeliverer, fsys fsutil.FileSystem, limit int) ([]*capture.Ticket, error) {
	entries, err := pending.Pending(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending captures: %w", err)
	}
	var tickets []*capture.Ticket
	for _, e := range entries {
		f, err := archive.LoadDir(fsys, e.StoredPath)
		if err != nil {
			monitoring.Logf("backlog: skipping %s: %v", e.CaptureID, err)
			continue
		}
		tickets = append(tickets, c.Redeliver(ctx, f))
	}
	return tickets, nil
}

// awaitBacklog waits for queued redeliveries and reports how many reached
// the destination.
func awaitBacklog(ctx context.Context, tickets []*capture.Ticket) (sent, failed int) {
	for _, t := range tickets {
		o, err := t.Wait(ctx)
		if err != nil {
			return sent, failed + 1
		}
		if o.Network.Status == capture.Succeeded {
			sent++
			continue
		}
		failed++
		monitoring.Logf("backlog: %s: %s", o.CaptureID, o.Summary())
	}
	return sent, failed
}
