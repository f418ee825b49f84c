package capture

import (
	"fmt"
	"math"
	"time"
)

// RetryPolicy bounds network delivery attempts for one capture.
type RetryPolicy struct {
	// MaxAttempts is the total number of send attempts, including the
	// first.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     8 * time.Second,
		Multiplier:     2.0,
	}
}

// Validate checks that delays grow and attempts are bounded.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.InitialBackoff <= 0 {
		return fmt.Errorf("initial_backoff must be positive, got %s", p.InitialBackoff)
	}
	if p.MaxBackoff < p.InitialBackoff {
		return fmt.Errorf("max_backoff %s is below initial_backoff %s", p.MaxBackoff, p.InitialBackoff)
	}
	if p.Multiplier <= 1 {
		return fmt.Errorf("backoff_multiplier must be greater than 1, got %v", p.Multiplier)
	}
	// Delay caps at MaxBackoff; the last wait must still be below the cap
	// for the waits to keep growing.
	if p.MaxAttempts >= 2 {
		last := float64(p.InitialBackoff) * math.Pow(p.Multiplier, float64(p.MaxAttempts-2))
		if last > float64(p.MaxBackoff) {
			return fmt.Errorf("max_backoff %s is reached before attempt %d; raise it or lower max_attempts",
				p.MaxBackoff, p.MaxAttempts)
		}
	}
	return nil
}

// Delay returns the wait before the next attempt after the given number of
// failed attempts: InitialBackoff * Multiplier^(failures-1), capped at
// MaxBackoff.
func (p RetryPolicy) Delay(failures int) time.Duration {
	if failures < 1 {
		return 0
	}
	d := float64(p.InitialBackoff) * math.Pow(p.Multiplier, float64(failures-1))
	if d >= float64(p.MaxBackoff) {
		return p.MaxBackoff
	}
	return time.Duration(d)
}

// PersistPolicy decides when a capture is written to local storage.
type PersistPolicy string

const (
	// PersistAlways writes every assembled frame before it is sent.
	PersistAlways PersistPolicy = "always"
	// PersistOnSendFailure writes a frame only once network delivery has
	// failed terminally.
	PersistOnSendFailure PersistPolicy = "on_send_failure"
)

// ParsePersistPolicy accepts the config spelling of a policy. An empty
// string selects PersistAlways.
func ParsePersistPolicy(s string) (PersistPolicy, error) {
	switch PersistPolicy(s) {
	case "", PersistAlways:
		return PersistAlways, nil
	case PersistOnSendFailure:
		return PersistOnSendFailure, nil
	}
	return "", fmt.Errorf("unknown persist policy %q", s)
}
