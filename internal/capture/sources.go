package capture

import "github.com/banshee-data/depthlink/internal/frame"

// CameraSource returns the most recent camera reading without blocking.
// ok is false when no reading has arrived yet.
type CameraSource interface {
	LatestCamera() (sample *frame.CameraSample, ok bool)
}

// DepthSource returns the most recent depth reading without blocking.
type DepthSource interface {
	LatestDepth() (sample *frame.DepthSample, ok bool)
}

// LocationSource returns the most recent location fix without blocking.
type LocationSource interface {
	LatestLocation() (fix *frame.Geolocation, ok bool)
}

// Sources groups the sensor collaborators a coordinator samples from.
// Location may be nil when the device has no positioning.
type Sources struct {
	Camera   CameraSource
	Depth    DepthSource
	Location LocationSource
}

// sample reads the current value of every source. Missing readings are
// returned as nil so the assembler can report which sensor was absent.
func (s Sources) sample() (*frame.CameraSample, *frame.DepthSample, *frame.Geolocation) {
	var (
		cam   *frame.CameraSample
		depth *frame.DepthSample
		loc   *frame.Geolocation
	)
	if s.Camera != nil {
		if c, ok := s.Camera.LatestCamera(); ok {
			cam = c
		}
	}
	if s.Depth != nil {
		if d, ok := s.Depth.LatestDepth(); ok {
			depth = d
		}
	}
	if s.Location != nil {
		if l, ok := s.Location.LatestLocation(); ok {
			loc = l
		}
	}
	return cam, depth, loc
}
