package frame

import (
	"fmt"
	"math"
	"math/bits"
	"time"
)

// DepthFormatFloat32 is the bytes-per-pixel of the sensor's native depth
// format: little-endian float32 meters.
const DepthFormatFloat32 = 4

// Intrinsics is a 3x3 camera intrinsic matrix stored row-major.
type Intrinsics [9]float64

// IdentityIntrinsics returns the 3x3 identity matrix.
func IdentityIntrinsics() Intrinsics {
	return Intrinsics{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// Rows returns the matrix as three rows.
func (k Intrinsics) Rows() [3][3]float64 {
	return [3][3]float64{
		{k[0], k[1], k[2]},
		{k[3], k[4], k[5]},
		{k[6], k[7], k[8]},
	}
}

// IntrinsicsFromRows builds an Intrinsics value from three rows.
func IntrinsicsFromRows(rows [3][3]float64) Intrinsics {
	var k Intrinsics
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			k[r*3+c] = rows[r][c]
		}
	}
	return k
}

// FocalLength returns (fx, fy).
func (k Intrinsics) FocalLength() (fx, fy float64) { return k[0], k[4] }

// PrincipalPoint returns (cx, cy).
func (k Intrinsics) PrincipalPoint() (cx, cy float64) { return k[2], k[5] }

// Geolocation is a WGS84 latitude/longitude pair in degrees.
type Geolocation struct {
	Latitude  float64
	Longitude float64
}

func (g Geolocation) validate() error {
	if !finite(g.Latitude) || !finite(g.Longitude) {
		return fmt.Errorf("non-finite coordinate (%v, %v)", g.Latitude, g.Longitude)
	}
	if g.Latitude < -90 || g.Latitude > 90 {
		return fmt.Errorf("latitude %v out of range", g.Latitude)
	}
	if g.Longitude < -180 || g.Longitude > 180 {
		return fmt.Errorf("longitude %v out of range", g.Longitude)
	}
	return nil
}

// DepthBuffer is a raw depth map. The byte layout is not self-describing,
// so the dimensions and pixel size always travel with the data.
type DepthBuffer struct {
	Data          []byte
	Width         int
	Height        int
	BytesPerPixel int
}

// ExpectedLen returns Width*Height*BytesPerPixel, or -1 when a dimension
// is not positive or the product does not fit in an int.
func (d DepthBuffer) ExpectedLen() int {
	n, ok := DepthLen(d.Width, d.Height, d.BytesPerPixel)
	if !ok {
		return -1
	}
	return n
}

// DepthLen returns width*height*bytesPerPixel. ok is false when any factor
// is not positive or the product overflows an int.
func DepthLen(width, height, bytesPerPixel int) (n int, ok bool) {
	if width <= 0 || height <= 0 || bytesPerPixel <= 0 {
		return 0, false
	}
	hi, p := bits.Mul64(uint64(width), uint64(height))
	if hi != 0 {
		return 0, false
	}
	hi, p = bits.Mul64(p, uint64(bytesPerPixel))
	if hi != 0 || p > math.MaxInt {
		return 0, false
	}
	return int(p), true
}

// Validate checks the dimensions against the data length. The returned
// error wraps ErrMalformedDepthBuffer.
func (d DepthBuffer) Validate() error {
	if d.Width <= 0 || d.Height <= 0 || d.BytesPerPixel <= 0 {
		return fmt.Errorf("%w: invalid dimensions %dx%d with %d bytes per pixel",
			ErrMalformedDepthBuffer, d.Width, d.Height, d.BytesPerPixel)
	}
	want, ok := DepthLen(d.Width, d.Height, d.BytesPerPixel)
	if !ok {
		return fmt.Errorf("%w: dimensions %dx%d with %d bytes per pixel overflow",
			ErrMalformedDepthBuffer, d.Width, d.Height, d.BytesPerPixel)
	}
	if len(d.Data) != want {
		return fmt.Errorf("%w: %d bytes, want %dx%dx%d=%d",
			ErrMalformedDepthBuffer, len(d.Data), d.Width, d.Height, d.BytesPerPixel, want)
	}
	return nil
}

// Timestamp carries both clocks attached to a frame. MonotonicNanos orders
// frames within a session; Wall is advisory and derived from the session
// anchor.
type Timestamp struct {
	MonotonicNanos int64
	Wall           time.Time
}

// Seconds returns the wall-clock time as float seconds since the Unix epoch.
func (t Timestamp) Seconds() float64 {
	return float64(t.Wall.UnixNano()) / 1e9
}

// CaptureFrame is one synchronized bundle of sensor data.
type CaptureFrame struct {
	ID         string
	Timestamp  Timestamp
	Image      []byte
	Depth      DepthBuffer
	Intrinsics Intrinsics
	Pose       Transform
	// Location is nil when no fix was available.
	Location *Geolocation
}

// Validate reports whether f is fully populated. It is used by every
// consumer that accepts frames from outside the Assembler.
func (f *CaptureFrame) Validate() error {
	if f == nil {
		return fmt.Errorf("%w: nil frame", ErrInvalidSample)
	}
	if f.ID == "" {
		return fmt.Errorf("%w: empty capture id", ErrInvalidSample)
	}
	if len(f.Image) == 0 {
		return fmt.Errorf("%w: empty image", ErrMissingRequiredSensor)
	}
	if err := f.Depth.Validate(); err != nil {
		return err
	}
	if f.Timestamp.Wall.IsZero() {
		return fmt.Errorf("%w: missing wall-clock timestamp", ErrInvalidSample)
	}
	if !allFinite(f.Intrinsics[:]) {
		return fmt.Errorf("%w: non-finite intrinsics", ErrInvalidSample)
	}
	if !allFinite(f.Pose[:]) {
		return fmt.Errorf("%w: non-finite pose", ErrInvalidSample)
	}
	if f.Location != nil {
		if err := f.Location.validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSample, err)
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func allFinite(vs []float64) bool {
	for _, v := range vs {
		if !finite(v) {
			return false
		}
	}
	return true
}
