// Package frametest provides CaptureFrame fixtures for tests.
package frametest

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/banshee-data/depthlink/internal/frame"
)

// JPEGPrefix is the SOI marker every fixture image starts with.
var JPEGPrefix = []byte{0xFF, 0xD8, 0xFF, 0xE0}

// Image returns a small fake JPEG payload of n bytes (at least the SOI marker).
func Image(n int) []byte {
	if n < len(JPEGPrefix) {
		n = len(JPEGPrefix)
	}
	img := make([]byte, n)
	copy(img, JPEGPrefix)
	for i := len(JPEGPrefix); i < n; i++ {
		img[i] = byte(i)
	}
	return img
}

// Depth returns a float32 depth buffer of w*h pixels where pixel i holds
// base + i*step meters.
func Depth(w, h int, base, step float32) frame.DepthBuffer {
	data := make([]byte, w*h*frame.DepthFormatFloat32)
	for i := 0; i < w*h; i++ {
		v := base + float32(i)*step
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	return frame.DepthBuffer{Data: data, Width: w, Height: h, BytesPerPixel: frame.DepthFormatFloat32}
}

// CameraSample returns the camera reading used across tests.
func CameraSample() *frame.CameraSample {
	return &frame.CameraSample{
		Image:          Image(32),
		Intrinsics:     frame.IdentityIntrinsics(),
		Pose:           frame.IdentityTransform(),
		MonotonicNanos: int64(1500 * time.Millisecond),
	}
}

// DepthSample returns a 4x4 all-zero float32 depth reading (64 bytes).
func DepthSample() *frame.DepthSample {
	return &frame.DepthSample{
		Data:          make([]byte, 64),
		Width:         4,
		Height:        4,
		BytesPerPixel: frame.DepthFormatFloat32,
	}
}

// Frame returns a fully populated frame with the given id. The location is
// set when withLocation is true.
func Frame(id string, withLocation bool) *frame.CaptureFrame {
	f := &frame.CaptureFrame{
		ID: id,
		Timestamp: frame.Timestamp{
			MonotonicNanos: 1_234_567_891,
			Wall:           time.Date(2025, 4, 17, 14, 3, 7, 123456789, time.UTC),
		},
		Image: Image(48),
		Depth: Depth(4, 3, 0.5, 0.25),
		Intrinsics: frame.Intrinsics{
			1445.25, 0, 959.5,
			0, 1445.25, 719.5,
			0, 0, 1,
		},
		Pose: frame.TransformFromPose(
			frame.Position{X: 0.12, Y: -0.4, Z: 1.75},
			frame.Quaternion{X: 0, Y: 0.3826834323650898, Z: 0, W: 0.9238795325112867},
		),
	}
	if withLocation {
		f.Location = &frame.Geolocation{Latitude: 40.7295, Longitude: -73.9965}
	}
	return f
}
