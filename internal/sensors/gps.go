package sensors

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.bug.st/serial"

	"github.com/banshee-data/depthlink/internal/frame"
	"github.com/banshee-data/depthlink/internal/monitoring"
)

// DefaultGPSBaudRate is the NMEA 0183 standard rate.
const DefaultGPSBaudRate = 9600

// LocationSink receives fixes decoded by a GPS reader.
type LocationSink interface {
	SetLocation(*frame.Geolocation)
	ClearLocation()
}

// GPS reads NMEA sentences from a serial device and publishes position
// fixes. A sentence reporting no fix clears the published location.
type GPS struct {
	port io.ReadCloser
	sink LocationSink

	closeOnce sync.Once
	closeErr  error

	lines    atomic.Uint64
	fixes    atomic.Uint64
	lost     atomic.Uint64
	failures atomic.Uint64
}

// GPSStats counts the sentences seen by a GPS reader.
type GPSStats struct {
	Lines  uint64 `json:"lines"`
	Fixes  uint64 `json:"fixes"`
	Lost   uint64 `json:"lost"`
	Errors uint64 `json:"errors"`
}

// SerialMode returns the 8N1 serial mode GPS receivers use.
func SerialMode(baud int) *serial.Mode {
	if baud <= 0 {
		baud = DefaultGPSBaudRate
	}
	return &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// OpenGPS opens the serial device at path.
func OpenGPS(path string, baud int, sink LocationSink) (*GPS, error) {
	port, err := serial.Open(path, SerialMode(baud))
	if err != nil {
		return nil, fmt.Errorf("open GPS port %s: %w", path, err)
	}
	return NewGPS(port, sink), nil
}

// NewGPS reads sentences from an already open port.
func NewGPS(port io.ReadCloser, sink LocationSink) *GPS {
	return &GPS{port: port, sink: sink}
}

// Monitor reads lines until the port reaches EOF, fails, or ctx is done.
// Scanning runs in its own goroutine so a blocked read never delays
// cancellation.
func (g *GPS) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(g.port)
	lines := make(chan string)
	scanErr := make(chan error, 1)

	go func() {
		defer close(lines)
		for scan.Scan() {
			select {
			case lines <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			scanErr <- err
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-scanErr:
			return err
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			g.handle(line)
		}
	}
}

func (g *GPS) handle(line string) {
	if line == "" {
		return
	}
	g.lines.Add(1)
	s, err := ParseNMEA(line)
	switch {
	case errors.Is(err, ErrUnsupportedSentence):
		return
	case err != nil:
		if g.failures.Add(1) == 1 {
			monitoring.Logf("gps: %v", err)
		}
		return
	}
	if s.Fix == nil {
		if g.lost.Add(1) == 1 {
			monitoring.Logf("gps: receiver reports no fix")
		}
		g.sink.ClearLocation()
		return
	}
	g.fixes.Add(1)
	g.sink.SetLocation(s.Fix)
}

// Stats returns a snapshot of the reader counters.
func (g *GPS) Stats() GPSStats {
	return GPSStats{
		Lines:  g.lines.Load(),
		Fixes:  g.fixes.Load(),
		Lost:   g.lost.Load(),
		Errors: g.failures.Load(),
	}
}

// Close closes the serial port, which also unblocks Monitor.
func (g *GPS) Close() error {
	g.closeOnce.Do(func() { g.closeErr = g.port.Close() })
	return g.closeErr
}
