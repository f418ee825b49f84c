package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/depthlink/internal/capture"
	"github.com/banshee-data/depthlink/internal/journal"
	"github.com/banshee-data/depthlink/internal/sensors"
	"github.com/banshee-data/depthlink/internal/transport"
	"github.com/banshee-data/depthlink/internal/version"
)

// PathResult is one path of an OutcomeResponse.
type PathResult struct {
	Status   string `json:"status"`
	Path     string `json:"path,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
	Error    string `json:"error,omitempty"`
	// Reply is "ack", "nack" or "unrecognised" once a datagram reply
	// has been awaited.
	Reply      string `json:"reply,omitempty"`
	ReplyError string `json:"reply_error,omitempty"`
}

// OutcomeResponse is the JSON form of a capture.Outcome.
type OutcomeResponse struct {
	CaptureID   string     `json:"capture_id,omitempty"`
	MonotonicNS int64      `json:"monotonic_ns,omitempty"`
	WallTime    string     `json:"wall_time,omitempty"`
	Destination string     `json:"destination"`
	Redelivery  bool       `json:"redelivery,omitempty"`
	Summary     string     `json:"summary"`
	Error       string     `json:"error,omitempty"`
	Local       PathResult `json:"local"`
	Network     PathResult `json:"network"`
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// NewOutcomeResponse converts o. It does not wait for a datagram reply.
func NewOutcomeResponse(o *capture.Outcome) OutcomeResponse {
	resp := OutcomeResponse{
		CaptureID:   o.CaptureID,
		MonotonicNS: o.Timestamp.MonotonicNanos,
		Destination: o.Destination.String(),
		Redelivery:  o.Redelivery,
		Summary:     o.Summary(),
		Error:       errString(o.Err),
		Local: PathResult{
			Status: o.Local.Status.String(),
			Path:   o.Local.Path,
			Error:  errString(o.Local.Err),
		},
		Network: PathResult{
			Status:   o.Network.Status.String(),
			Attempts: o.Network.Attempts,
			Error:    errString(o.Network.Err),
		},
	}
	if !o.Timestamp.Wall.IsZero() {
		resp.WallTime = o.Timestamp.Wall.Format(time.RFC3339Nano)
	}
	return resp
}

func describeReply(r transport.Reply) string {
	ack, ok := r.Ack()
	switch {
	case !ok:
		return "unrecognised"
	case ack:
		return "ack"
	default:
		return "nack"
	}
}

// handleCapture triggers one capture and reports its outcome.
//
//	POST /api/capture[?dest=udp://host:port][&await_reply=true]
func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	dest := s.cfg.Coordinator.Destination()
	if d := r.URL.Query().Get("dest"); d != "" {
		parsed, err := transport.ParseDestination(d)
		if err != nil {
			s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid 'dest' parameter: %v", err))
			return
		}
		dest = parsed
	}
	awaitReply := false
	if v := r.URL.Query().Get("await_reply"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.writeJSONError(w, http.StatusBadRequest, "invalid 'await_reply' parameter")
			return
		}
		awaitReply = b
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.CaptureTimeout)
	defer cancel()

	o, err := s.cfg.Coordinator.RequestTo(ctx, dest).Wait(ctx)
	if err != nil {
		s.writeJSONError(w, http.StatusGatewayTimeout, fmt.Sprintf("capture still in progress: %v", err))
		return
	}

	resp := NewOutcomeResponse(o)
	if reply := o.Network.Reply(); reply != nil && awaitReply {
		rep, err := reply.Wait(ctx)
		if err != nil {
			resp.Network.ReplyError = err.Error()
		} else {
			resp.Network.Reply = describeReply(rep)
		}
	}

	status := http.StatusOK
	switch {
	case errors.Is(o.Err, capture.ErrClosed):
		status = http.StatusServiceUnavailable
	case o.Err != nil:
		status = http.StatusInternalServerError
	}
	s.writeJSON(w, status, resp)
}

// handlePending lists captures saved locally but never delivered.
//
//	GET /api/captures/pending[?limit=N]
func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.cfg.Journal == nil {
		s.writeJSONError(w, http.StatusNotFound, "capture journal is disabled")
		return
	}

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			s.writeJSONError(w, http.StatusBadRequest, "invalid 'limit' parameter")
			return
		}
		limit = n
	}

	entries, err := s.cfg.Journal.Pending(r.Context(), limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list pending captures: %v", err))
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	s.writeJSON(w, http.StatusOK, entries)
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Version     string            `json:"version"`
	GitSHA      string            `json:"git_sha"`
	Destination string            `json:"destination"`
	Coordinator capture.Stats     `json:"coordinator"`
	Sensors     *sensors.HubStats `json:"sensors,omitempty"`
	GPS         *sensors.GPSStats `json:"gps,omitempty"`
	Journal     *journal.Counts   `json:"journal,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	resp := StatusResponse{
		Version:     version.Version,
		GitSHA:      version.GitSHA,
		Destination: s.cfg.Coordinator.Destination().String(),
		Coordinator: s.cfg.Coordinator.Stats(),
	}
	if s.cfg.Hub != nil {
		hs := s.cfg.Hub.Stats()
		resp.Sensors = &hs
	}
	if s.cfg.GPS != nil {
		gs := s.cfg.GPS.Stats()
		resp.GPS = &gs
	}
	if s.cfg.Journal != nil {
		c, err := s.cfg.Journal.Counts(r.Context())
		if err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to count journal entries: %v", err))
			return
		}
		resp.Journal = &c
	}
	s.writeJSON(w, http.StatusOK, resp)
}
