package frame

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/depthlink/internal/timeutil"
)

// CameraSample is the latest reading of the camera collaborator.
type CameraSample struct {
	Image      []byte
	Intrinsics Intrinsics
	Pose       Transform
	// MonotonicNanos is the session monotonic time the image was exposed at.
	MonotonicNanos int64
}

// DepthSample is the latest reading of the depth sensor.
type DepthSample struct {
	Data          []byte
	Width         int
	Height        int
	BytesPerPixel int
}

// AssemblerConfig configures an Assembler.
type AssemblerConfig struct {
	// Clock converts sample monotonic times to wall-clock times. Required.
	Clock *timeutil.SessionClock
	// NewID generates capture ids. Defaults to random UUIDs.
	NewID func() string
}

// Assembler merges independently timestamped sensor readings into one
// CaptureFrame. It holds no mutable state and is safe for concurrent use.
type Assembler struct {
	clock *timeutil.SessionClock
	newID func() string
}

// NewAssembler creates an Assembler.
func NewAssembler(cfg AssemblerConfig) *Assembler {
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.NewSessionClock(timeutil.RealClock{}, nil)
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Assembler{clock: clock, newID: newID}
}

// Assemble builds a frame from the given readings. Camera and depth are
// mandatory; a nil location yields a frame without geolocation. Inputs are
// used as-is: the assembler never waits for fresher data.
func (a *Assembler) Assemble(cam *CameraSample, depth *DepthSample, loc *Geolocation) (*CaptureFrame, error) {
	if cam == nil || len(cam.Image) == 0 {
		return nil, &AssemblyError{Sensor: SensorCamera, Err: ErrMissingRequiredSensor}
	}
	if depth == nil || len(depth.Data) == 0 {
		return nil, &AssemblyError{Sensor: SensorDepth, Err: ErrMissingRequiredSensor}
	}

	db := DepthBuffer{
		Data:          depth.Data,
		Width:         depth.Width,
		Height:        depth.Height,
		BytesPerPixel: depth.BytesPerPixel,
	}
	if err := db.Validate(); err != nil {
		return nil, &AssemblyError{Sensor: SensorDepth, Err: err}
	}
	if !allFinite(cam.Intrinsics[:]) {
		return nil, &AssemblyError{Sensor: SensorCamera, Err: fmt.Errorf("%w: non-finite intrinsics", ErrInvalidSample)}
	}
	if !allFinite(cam.Pose[:]) {
		return nil, &AssemblyError{Sensor: SensorCamera, Err: fmt.Errorf("%w: non-finite pose", ErrInvalidSample)}
	}

	var location *Geolocation
	if loc != nil {
		if err := loc.validate(); err != nil {
			return nil, &AssemblyError{Sensor: SensorLocation, Err: fmt.Errorf("%w: %v", ErrInvalidSample, err)}
		}
		l := *loc
		location = &l
	}

	db.Data = append([]byte(nil), depth.Data...)

	return &CaptureFrame{
		ID: a.newID(),
		Timestamp: Timestamp{
			MonotonicNanos: cam.MonotonicNanos,
			Wall:           a.clock.WallAt(cam.MonotonicNanos),
		},
		Image:      append([]byte(nil), cam.Image...),
		Depth:      db,
		Intrinsics: cam.Intrinsics,
		Pose:       cam.Pose,
		Location:   location,
	}, nil
}
