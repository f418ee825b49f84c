package sensors

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"github.com/banshee-data/depthlink/internal/frame"
	"github.com/banshee-data/depthlink/internal/monitoring"
	"github.com/banshee-data/depthlink/internal/timeutil"
)

// DefaultReplayQuality is the JPEG quality used when re-encoding images.
const DefaultReplayQuality = 90

// ReplayConfig configures a ReplaySource.
type ReplayConfig struct {
	// Frames are replayed in order. Required.
	Frames []*frame.CaptureFrame
	// Session stamps replayed camera readings. Required.
	Session *timeutil.SessionClock
	// MaxDim downscales images whose longer side exceeds it. Zero keeps
	// the original image bytes.
	MaxDim int
	// Quality is the JPEG quality used when an image is downscaled.
	Quality int
	// Loop restarts from the first frame after the last one.
	Loop bool
}

// ReplaySource publishes archived captures into a Hub as if they were live
// sensor readings. It is used to run the agent without hardware.
type ReplaySource struct {
	cfg ReplayConfig
	hub *Hub

	mu   sync.Mutex
	next int
}

// NewReplaySource validates cfg and returns a source feeding hub.
func NewReplaySource(cfg ReplayConfig, hub *Hub) (*ReplaySource, error) {
	if len(cfg.Frames) == 0 {
		return nil, errors.New("replay: no frames")
	}
	if cfg.Session == nil {
		return nil, errors.New("replay: session clock is required")
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = DefaultReplayQuality
	}
	return &ReplaySource{cfg: cfg, hub: hub}, nil
}

// Step publishes the next frame. It returns io.EOF once every frame has
// been published and Loop is false.
func (r *ReplaySource) Step() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.next >= len(r.cfg.Frames) {
		if !r.cfg.Loop {
			return io.EOF
		}
		r.next = 0
	}
	f := r.cfg.Frames[r.next]
	r.next++

	cam, err := r.cameraSample(f)
	if err != nil {
		return fmt.Errorf("replay %s: %w", f.ID, err)
	}
	r.hub.SetCamera(cam)
	r.hub.SetDepth(&frame.DepthSample{
		Data:          f.Depth.Data,
		Width:         f.Depth.Width,
		Height:        f.Depth.Height,
		BytesPerPixel: f.Depth.BytesPerPixel,
	})
	if f.Location != nil {
		loc := *f.Location
		r.hub.SetLocation(&loc)
	} else {
		r.hub.ClearLocation()
	}
	return nil
}

// Run publishes one frame per interval until ctx is done or the frames are
// exhausted. The first frame is published immediately.
func (r *ReplaySource) Run(ctx context.Context, interval time.Duration, clock timeutil.Clock) error {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	for {
		if err := r.Step(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			monitoring.Logf("replay: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(interval):
		}
	}
}

// cameraSample rebuilds the camera reading for f, stamped with the current
// session time. Downscaled images get intrinsics scaled to match.
func (r *ReplaySource) cameraSample(f *frame.CaptureFrame) (*frame.CameraSample, error) {
	cam := &frame.CameraSample{
		Image:          f.Image,
		Intrinsics:     f.Intrinsics,
		Pose:           f.Pose,
		MonotonicNanos: r.cfg.Session.Monotonic(),
	}
	if r.cfg.MaxDim <= 0 {
		return cam, nil
	}

	img, err := imaging.Decode(bytes.NewReader(f.Image), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= r.cfg.MaxDim && h <= r.cfg.MaxDim {
		return cam, nil
	}
	if w >= h {
		img = imaging.Resize(img, r.cfg.MaxDim, 0, imaging.Lanczos)
	} else {
		img = imaging.Resize(img, 0, r.cfg.MaxDim, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(r.cfg.Quality)); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	cam.Image = buf.Bytes()
	cam.Intrinsics = ScaleIntrinsics(f.Intrinsics, float64(img.Bounds().Dx())/float64(w))
	return cam, nil
}

// ScaleIntrinsics returns k for an image resized by factor s: focal lengths
// and principal point scale, the homogeneous row does not.
func ScaleIntrinsics(k frame.Intrinsics, s float64) frame.Intrinsics {
	out := k
	for i := 0; i < 6; i++ {
		out[i] *= s
	}
	return out
}
