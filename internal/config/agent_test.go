package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/banshee-data/depthlink/internal/capture"
	"github.com/banshee-data/depthlink/internal/transport"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestDefaultAgentConfig(t *testing.T) {
	cfg := DefaultAgentConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
	if got := cfg.GetRetryPolicy(); got != capture.DefaultRetryPolicy() {
		t.Errorf("GetRetryPolicy() = %+v, want %+v", got, capture.DefaultRetryPolicy())
	}
	if cfg.GetQueueSize() != 16 {
		t.Errorf("GetQueueSize() = %d, want 16", cfg.GetQueueSize())
	}
	if cfg.GetPersistPolicy() != capture.PersistAlways {
		t.Errorf("GetPersistPolicy() = %q, want always", cfg.GetPersistPolicy())
	}
	if cfg.GetJournalPath() != filepath.Join("captures", "journal.db") {
		t.Errorf("GetJournalPath() = %q", cfg.GetJournalPath())
	}
	if _, ok, err := cfg.GetDestination(); ok || err != nil {
		t.Errorf("GetDestination() = ok %v, err %v; want no destination", ok, err)
	}
}

func TestLoadDefaultConfigFile(t *testing.T) {
	cfg, err := LoadAgentConfig(filepath.Join("..", "..", DefaultConfigPath))
	if err != nil {
		t.Fatalf("Failed to load %s: %v", DefaultConfigPath, err)
	}
	want := DefaultAgentConfig()
	if !reflect.DeepEqual(cfg, want) {
		t.Errorf("%s disagrees with DefaultAgentConfig()", DefaultConfigPath)
	}
}

func TestLoadAgentConfig(t *testing.T) {
	path := writeConfig(t, "agent.json", `{
  "destination": "udp://receiver.local:9100",
  "max_attempts": 5,
  "initial_backoff": "100ms",
  "max_backoff": "5s",
  "backoff_multiplier": 3,
  "reply_timeout": "500ms",
  "await_reply": false,
  "persist_policy": "on_send_failure",
  "capture_root": "/var/lib/depthlink",
  "gps_port": "/dev/ttyUSB0"
}`)

	cfg, err := LoadAgentConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	dest, ok, err := cfg.GetDestination()
	if err != nil || !ok {
		t.Fatalf("GetDestination() = %v, %v", ok, err)
	}
	if want := (transport.Destination{Host: "receiver.local", Port: 9100, Protocol: transport.Datagram}); dest != want {
		t.Errorf("GetDestination() = %+v, want %+v", dest, want)
	}

	want := capture.RetryPolicy{MaxAttempts: 5, InitialBackoff: 100 * time.Millisecond, MaxBackoff: 5 * time.Second, Multiplier: 3}
	if got := cfg.GetRetryPolicy(); got != want {
		t.Errorf("GetRetryPolicy() = %+v, want %+v", got, want)
	}

	tc := cfg.GetTransportConfig()
	if tc.ReplyTimeout != 500*time.Millisecond {
		t.Errorf("ReplyTimeout = %s, want 500ms", tc.ReplyTimeout)
	}
	if tc.AwaitReply {
		t.Error("AwaitReply = true, want false")
	}
	if tc.ConnectTimeout != transport.DefaultConnectTimeout {
		t.Errorf("ConnectTimeout = %s, want default", tc.ConnectTimeout)
	}
	if cfg.GetPersistPolicy() != capture.PersistOnSendFailure {
		t.Errorf("GetPersistPolicy() = %q", cfg.GetPersistPolicy())
	}
	if cfg.GetJournalPath() != "/var/lib/depthlink/journal.db" {
		t.Errorf("GetJournalPath() = %q, want it under the capture root", cfg.GetJournalPath())
	}
	if cfg.GetGPSPort() != "/dev/ttyUSB0" || cfg.GetGPSBaud() != 9600 {
		t.Errorf("GPS = %q @ %d", cfg.GetGPSPort(), cfg.GetGPSBaud())
	}
	if cfg.GetTimeZone() != "America/New_York" {
		t.Errorf("GetTimeZone() = %q", cfg.GetTimeZone())
	}
}

func TestLoadAgentConfigMissing(t *testing.T) {
	if _, err := LoadAgentConfig("/nonexistent/path/to/config.json"); err == nil {
		t.Error("Expected error when loading missing file, got nil")
	}
}

func TestLoadAgentConfigInvalidJSON(t *testing.T) {
	path := writeConfig(t, "invalid.json", `{"max_attempts": "three"`)
	if _, err := LoadAgentConfig(path); err == nil {
		t.Error("Expected error when loading invalid JSON, got nil")
	}
}

func TestLoadAgentConfigRejectsNonJSON(t *testing.T) {
	if _, err := LoadAgentConfig("/some/path/config.yaml"); err == nil {
		t.Error("Expected error for non-.json extension, got nil")
	}
}

func TestLoadAgentConfigRejectsLargeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "large.json")
	if err := os.WriteFile(path, make([]byte, 2*1024*1024), 0644); err != nil {
		t.Fatalf("Failed to write large file: %v", err)
	}
	if _, err := LoadAgentConfig(path); err == nil {
		t.Error("Expected error for file size > 1MB, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     AgentConfig
		wantErr bool
	}{
		{name: "empty", cfg: AgentConfig{}},
		{name: "tcp destination", cfg: AgentConfig{Destination: ptrString("tcp://10.0.0.2:9000")}},
		{name: "bare destination", cfg: AgentConfig{Destination: ptrString("10.0.0.2:9000")}},
		{name: "unknown scheme", cfg: AgentConfig{Destination: ptrString("http://10.0.0.2:9000")}, wantErr: true},
		{name: "missing port", cfg: AgentConfig{Destination: ptrString("tcp://10.0.0.2")}, wantErr: true},
		{name: "bad duration", cfg: AgentConfig{InitialBackoff: ptrString("soon")}, wantErr: true},
		{name: "negative duration", cfg: AgentConfig{ReplyTimeout: ptrString("-1s")}, wantErr: true},
		{name: "zero attempts", cfg: AgentConfig{MaxAttempts: ptrInt(0)}, wantErr: true},
		{name: "backoff capped before last attempt", cfg: AgentConfig{MaxAttempts: ptrInt(8)}, wantErr: true},
		{name: "flat multiplier", cfg: AgentConfig{BackoffMultiplier: ptrFloat64(1)}, wantErr: true},
		{name: "max below initial", cfg: AgentConfig{InitialBackoff: ptrString("2s"), MaxBackoff: ptrString("1s")}, wantErr: true},
		{name: "zero queue", cfg: AgentConfig{QueueSize: ptrInt(0)}, wantErr: true},
		{name: "oversized datagram", cfg: AgentConfig{MaxDatagramSize: ptrInt(70000)}, wantErr: true},
		{name: "unknown persist policy", cfg: AgentConfig{PersistPolicy: ptrString("never")}, wantErr: true},
		{name: "unknown zone", cfg: AgentConfig{TimeZone: ptrString("Mars/Olympus")}, wantErr: true},
		{name: "negative baud", cfg: AgentConfig{GPSBaud: ptrInt(-1)}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetterDefaults(t *testing.T) {
	cfg := &AgentConfig{}
	if cfg.GetCaptureRoot() != "captures" {
		t.Errorf("GetCaptureRoot() = %q", cfg.GetCaptureRoot())
	}
	if !cfg.GetAwaitReply() {
		t.Error("GetAwaitReply() = false, want true")
	}
	if cfg.GetGPSBaud() != 9600 {
		t.Errorf("GetGPSBaud() = %d", cfg.GetGPSBaud())
	}
	tc := cfg.GetTransportConfig()
	if tc.MaxDatagramSize != transport.DefaultMaxDatagramSize || tc.WriteTimeout != transport.DefaultWriteTimeout {
		t.Errorf("GetTransportConfig() = %+v", tc)
	}

	// Unparseable values fall back rather than propagate.
	cfg.InitialBackoff = ptrString("soon")
	if cfg.GetRetryPolicy().InitialBackoff != capture.DefaultRetryPolicy().InitialBackoff {
		t.Errorf("GetRetryPolicy() did not fall back on a bad duration")
	}
}
