package frame

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingRequiredSensor reports that the camera or depth sample was absent.
	ErrMissingRequiredSensor = errors.New("missing required sensor")
	// ErrMalformedDepthBuffer reports a depth buffer whose length does not
	// match its declared dimensions.
	ErrMalformedDepthBuffer = errors.New("malformed depth buffer")
	// ErrInvalidSample reports a sample with non-finite or out-of-range values.
	ErrInvalidSample = errors.New("invalid sensor sample")
)

// Sensor names used in AssemblyError.
const (
	SensorCamera   = "camera"
	SensorDepth    = "depth"
	SensorLocation = "location"
)

// AssemblyError is returned when a frame cannot be built from the current
// sensor readings. It is fatal for that capture and never retried.
type AssemblyError struct {
	Sensor string
	Err    error
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("assemble frame: %s: %v", e.Sensor, e.Err)
}

func (e *AssemblyError) Unwrap() error { return e.Err }
