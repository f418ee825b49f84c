package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/depthlink/internal/capture"
	"github.com/banshee-data/depthlink/internal/sensors"
	"github.com/banshee-data/depthlink/internal/timeutil"
	"github.com/banshee-data/depthlink/internal/transport"
)

// DefaultConfigPath is the path to the checked-in agent defaults.
const DefaultConfigPath = "config/agent.defaults.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// AgentConfig is the capture agent configuration. Every field is optional;
// the Get* methods supply defaults for fields left out of the file, and
// command-line flags override both.
type AgentConfig struct {
	// Delivery
	Destination       *string  `json:"destination,omitempty"` // "tcp://host:port" or "udp://host:port"
	MaxAttempts       *int     `json:"max_attempts,omitempty"`
	InitialBackoff    *string  `json:"initial_backoff,omitempty"` // duration string like "250ms"
	MaxBackoff        *string  `json:"max_backoff,omitempty"`
	BackoffMultiplier *float64 `json:"backoff_multiplier,omitempty"`
	QueueSize         *int     `json:"queue_size,omitempty"`

	// Transport
	ConnectTimeout  *string `json:"connect_timeout,omitempty"`
	WriteTimeout    *string `json:"write_timeout,omitempty"`
	ReplyTimeout    *string `json:"reply_timeout,omitempty"`
	AwaitReply      *bool   `json:"await_reply,omitempty"`
	MaxDatagramSize *int    `json:"max_datagram_size,omitempty"`

	// Storage
	CaptureRoot   *string `json:"capture_root,omitempty"`
	JournalPath   *string `json:"journal_path,omitempty"`
	PersistPolicy *string `json:"persist_policy,omitempty"` // "always" or "on_send_failure"
	TimeZone      *string `json:"time_zone,omitempty"`

	// Sensors
	GPSPort *string `json:"gps_port,omitempty"`
	GPSBaud *int    `json:"gps_baud,omitempty"`
}

// Helper functions to create pointers
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }

// DefaultAgentConfig returns a config with every field set to its default.
func DefaultAgentConfig() *AgentConfig {
	r := capture.DefaultRetryPolicy()
	return &AgentConfig{
		Destination:       ptrString(""),
		MaxAttempts:       ptrInt(r.MaxAttempts),
		InitialBackoff:    ptrString(r.InitialBackoff.String()),
		MaxBackoff:        ptrString(r.MaxBackoff.String()),
		BackoffMultiplier: ptrFloat64(r.Multiplier),
		QueueSize:         ptrInt(capture.DefaultQueueSize),
		ConnectTimeout:    ptrString(transport.DefaultConnectTimeout.String()),
		WriteTimeout:      ptrString(transport.DefaultWriteTimeout.String()),
		ReplyTimeout:      ptrString(transport.DefaultReplyTimeout.String()),
		AwaitReply:        ptrBool(true),
		MaxDatagramSize:   ptrInt(transport.DefaultMaxDatagramSize),
		CaptureRoot:       ptrString("captures"),
		JournalPath:       ptrString(filepath.Join("captures", "journal.db")),
		PersistPolicy:     ptrString(string(capture.PersistAlways)),
		TimeZone:          ptrString(timeutil.DefaultZone),
		GPSPort:           ptrString(""),
		GPSBaud:           ptrInt(sensors.DefaultGPSBaudRate),
	}
}

// LoadAgentConfig loads an AgentConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted
// from the file fall back to their defaults.
func LoadAgentConfig(path string) (*AgentConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &AgentConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks every field that is set.
func (c *AgentConfig) Validate() error {
	for name, v := range map[string]*string{
		"initial_backoff": c.InitialBackoff,
		"max_backoff":     c.MaxBackoff,
		"connect_timeout": c.ConnectTimeout,
		"write_timeout":   c.WriteTimeout,
		"reply_timeout":   c.ReplyTimeout,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, *v)
		}
	}

	if c.Destination != nil && *c.Destination != "" {
		if _, err := transport.ParseDestination(*c.Destination); err != nil {
			return err
		}
	}
	if err := c.GetRetryPolicy().Validate(); err != nil {
		return err
	}
	if c.QueueSize != nil && *c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", *c.QueueSize)
	}
	if c.MaxDatagramSize != nil && (*c.MaxDatagramSize < 1 || *c.MaxDatagramSize > transport.DefaultMaxDatagramSize) {
		return fmt.Errorf("max_datagram_size must be between 1 and %d, got %d",
			transport.DefaultMaxDatagramSize, *c.MaxDatagramSize)
	}
	if c.PersistPolicy != nil {
		if _, err := capture.ParsePersistPolicy(*c.PersistPolicy); err != nil {
			return err
		}
	}
	if c.TimeZone != nil {
		if _, err := timeutil.LoadZone(*c.TimeZone); err != nil {
			return err
		}
	}
	if c.GPSBaud != nil && *c.GPSBaud < 0 {
		return fmt.Errorf("gps_baud must be non-negative, got %d", *c.GPSBaud)
	}
	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func stringOr(v *string, def string) string {
	if v == nil || *v == "" {
		return def
	}
	return *v
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// GetDestination parses the destination. ok is false when none is set.
func (c *AgentConfig) GetDestination() (dest transport.Destination, ok bool, err error) {
	if c.Destination == nil || *c.Destination == "" {
		return transport.Destination{}, false, nil
	}
	dest, err = transport.ParseDestination(*c.Destination)
	return dest, err == nil, err
}

// GetRetryPolicy returns the retry settings, with defaults for unset fields.
func (c *AgentConfig) GetRetryPolicy() capture.RetryPolicy {
	p := capture.DefaultRetryPolicy()
	p.MaxAttempts = intOr(c.MaxAttempts, p.MaxAttempts)
	p.InitialBackoff = durationOr(c.InitialBackoff, p.InitialBackoff)
	p.MaxBackoff = durationOr(c.MaxBackoff, p.MaxBackoff)
	if c.BackoffMultiplier != nil {
		p.Multiplier = *c.BackoffMultiplier
	}
	return p
}

// GetQueueSize returns the per-destination queue size or the default.
func (c *AgentConfig) GetQueueSize() int { return intOr(c.QueueSize, capture.DefaultQueueSize) }

// GetTransportConfig returns the transport settings. Resolver, dialer and
// state observer are left for the caller.
func (c *AgentConfig) GetTransportConfig() transport.Config {
	return transport.Config{
		ConnectTimeout:  durationOr(c.ConnectTimeout, transport.DefaultConnectTimeout),
		WriteTimeout:    durationOr(c.WriteTimeout, transport.DefaultWriteTimeout),
		ReplyTimeout:    durationOr(c.ReplyTimeout, transport.DefaultReplyTimeout),
		AwaitReply:      c.GetAwaitReply(),
		MaxDatagramSize: intOr(c.MaxDatagramSize, transport.DefaultMaxDatagramSize),
	}
}

// GetAwaitReply reports whether datagram sends wait for an acknowledgment.
func (c *AgentConfig) GetAwaitReply() bool {
	if c.AwaitReply == nil {
		return true
	}
	return *c.AwaitReply
}

// GetCaptureRoot returns the directory captures are persisted under.
func (c *AgentConfig) GetCaptureRoot() string { return stringOr(c.CaptureRoot, "captures") }

// GetJournalPath returns the journal database path. It defaults to
// journal.db inside the capture root.
func (c *AgentConfig) GetJournalPath() string {
	return stringOr(c.JournalPath, filepath.Join(c.GetCaptureRoot(), "journal.db"))
}

// GetPersistPolicy returns the persist policy or PersistAlways.
func (c *AgentConfig) GetPersistPolicy() capture.PersistPolicy {
	p, err := capture.ParsePersistPolicy(stringOr(c.PersistPolicy, ""))
	if err != nil {
		return capture.PersistAlways
	}
	return p
}

// GetTimeZone returns the IANA zone name for wall-clock timestamps.
func (c *AgentConfig) GetTimeZone() string { return stringOr(c.TimeZone, timeutil.DefaultZone) }

// GetGPSPort returns the GPS serial device, or "" when no GPS is used.
func (c *AgentConfig) GetGPSPort() string { return stringOr(c.GPSPort, "") }

// GetGPSBaud returns the GPS baud rate or the NMEA default.
func (c *AgentConfig) GetGPSBaud() int {
	if b := intOr(c.GPSBaud, 0); b > 0 {
		return b
	}
	return sensors.DefaultGPSBaudRate
}
