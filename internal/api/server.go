// Package api serves the capture agent's HTTP surface: triggering
// captures, listing undelivered captures and reporting status.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/depthlink/internal/capture"
	"github.com/banshee-data/depthlink/internal/journal"
	"github.com/banshee-data/depthlink/internal/sensors"
	"github.com/banshee-data/depthlink/internal/transport"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// DefaultCaptureTimeout bounds how long POST /api/capture waits for an
// outcome when the server is not configured otherwise.
const DefaultCaptureTimeout = 30 * time.Second

// Coordinator is the part of *capture.Coordinator the API drives.
type Coordinator interface {
	RequestTo(ctx context.Context, dest transport.Destination) *capture.Ticket
	Destination() transport.Destination
	Stats() capture.Stats
}

// Journal is the part of *journal.Journal the API reads.
type Journal interface {
	Pending(ctx context.Context, limit int) ([]journal.Entry, error)
	Counts(ctx context.Context) (journal.Counts, error)
}

// GPSStatser reports serial GPS counters. *sensors.GPS implements it.
type GPSStatser interface {
	Stats() sensors.GPSStats
}

// Config wires a Server. Only Coordinator is required.
type Config struct {
	Coordinator Coordinator
	Journal     Journal
	Hub         *sensors.Hub
	GPS         GPSStatser
	// CaptureTimeout bounds the wait for one capture outcome.
	CaptureTimeout time.Duration
}

type Server struct {
	cfg Config
}

func NewServer(cfg Config) *Server {
	if cfg.CaptureTimeout <= 0 {
		cfg.CaptureTimeout = DefaultCaptureTimeout
	}
	return &Server{cfg: cfg}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// RegisterRoutes adds the API routes to mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/capture", s.handleCapture)
	mux.HandleFunc("/api/captures/pending", s.handlePending)
	mux.HandleFunc("/api/status", s.handleStatus)
}

// ServeMux returns a mux with only the API routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode json response: %v", err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
