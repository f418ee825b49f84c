package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/banshee-data/depthlink/internal/frame"
)

// Version is the only metadata version this package reads and writes.
const Version = 1

// Location is the wire form of a geolocation. An absent fix is encoded as
// a JSON null, never as (0, 0).
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Metadata is the structured part of a capture message and the content of
// meta.json.
type Metadata struct {
	Version    int           `json:"version"`
	CaptureID  string        `json:"capture_id"`
	Intrinsics [3][3]float64 `json:"intrinsics"`
	Pose       [4][4]float64 `json:"pose"`
	// Timestamp is the wall-clock time in float seconds since the epoch.
	// It is advisory; MonotonicNanos and WallTime are authoritative.
	Timestamp          float64   `json:"timestamp"`
	MonotonicNanos     int64     `json:"monotonic_ns"`
	WallTime           string    `json:"wall_time"`
	TimeZone           string    `json:"time_zone"`
	Location           *Location `json:"location"`
	ImageLength        int       `json:"image_length"`
	DepthLength        int       `json:"depth_length"`
	DepthWidth         int       `json:"depth_width"`
	DepthHeight        int       `json:"depth_height"`
	DepthBytesPerPixel int       `json:"depth_bytes_per_pixel"`
}

// NewMetadata describes f. The frame is not validated here.
func NewMetadata(f *frame.CaptureFrame) Metadata {
	md := Metadata{
		Version:            Version,
		CaptureID:          f.ID,
		Intrinsics:         f.Intrinsics.Rows(),
		Pose:               f.Pose.Rows(),
		Timestamp:          f.Timestamp.Seconds(),
		MonotonicNanos:     f.Timestamp.MonotonicNanos,
		WallTime:           f.Timestamp.Wall.Format(time.RFC3339Nano),
		TimeZone:           f.Timestamp.Wall.Location().String(),
		ImageLength:        len(f.Image),
		DepthLength:        len(f.Depth.Data),
		DepthWidth:         f.Depth.Width,
		DepthHeight:        f.Depth.Height,
		DepthBytesPerPixel: f.Depth.BytesPerPixel,
	}
	if f.Location != nil {
		md.Location = &Location{Lat: f.Location.Latitude, Lon: f.Location.Longitude}
	}
	return md
}

// MarshalMetadata validates f and returns its metadata document. Pretty
// output is indented for humans and used for meta.json.
func MarshalMetadata(f *frame.CaptureFrame, pretty bool) ([]byte, error) {
	if err := f.Validate(); err != nil {
		id := ""
		if f != nil {
			id = f.ID
		}
		return nil, &EncodeError{CaptureID: id, Err: err}
	}
	md := NewMetadata(f)
	var (
		data []byte
		err  error
	)
	if pretty {
		data, err = json.MarshalIndent(md, "", "  ")
	} else {
		data, err = json.Marshal(md)
	}
	if err != nil {
		return nil, &EncodeError{CaptureID: f.ID, Err: err}
	}
	return data, nil
}

// UnmarshalMetadata parses and validates a metadata document.
func UnmarshalMetadata(data []byte) (*Metadata, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var md Metadata
	if err := dec.Decode(&md); err != nil {
		return nil, decodeErrorf(ErrInvalidMetadata, "%v", err)
	}
	if dec.More() {
		return nil, decodeErrorf(ErrInvalidMetadata, "trailing data after metadata document")
	}
	if err := md.validate(); err != nil {
		return nil, err
	}
	return &md, nil
}

func (md *Metadata) validate() error {
	switch {
	case md.Version != Version:
		return decodeErrorf(ErrInvalidMetadata, "unsupported version %d", md.Version)
	case md.CaptureID == "":
		return decodeErrorf(ErrInvalidMetadata, "missing capture_id")
	case md.ImageLength <= 0:
		return decodeErrorf(ErrInvalidMetadata, "image_length %d", md.ImageLength)
	case md.DepthWidth <= 0 || md.DepthHeight <= 0 || md.DepthBytesPerPixel <= 0:
		return decodeErrorf(ErrInvalidMetadata, "depth dimensions %dx%dx%d",
			md.DepthWidth, md.DepthHeight, md.DepthBytesPerPixel)
	case md.DepthLength <= 0:
		return decodeErrorf(ErrInvalidMetadata, "depth_length %d", md.DepthLength)
	}
	want, ok := frame.DepthLen(md.DepthWidth, md.DepthHeight, md.DepthBytesPerPixel)
	if !ok {
		return decodeErrorf(ErrInvalidMetadata, "%v: depth dimensions %dx%dx%d overflow",
			frame.ErrMalformedDepthBuffer, md.DepthWidth, md.DepthHeight, md.DepthBytesPerPixel)
	}
	if md.DepthLength != want {
		return decodeErrorf(ErrInvalidMetadata, "%v: depth_length %d does not match %dx%dx%d",
			frame.ErrMalformedDepthBuffer, md.DepthLength, md.DepthWidth, md.DepthHeight, md.DepthBytesPerPixel)
	}
	if _, err := md.wall(); err != nil {
		return err
	}
	return nil
}

func (md *Metadata) wall() (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, md.WallTime)
	if err != nil {
		return time.Time{}, decodeErrorf(ErrInvalidMetadata, "wall_time: %v", err)
	}
	if md.TimeZone != "" {
		if loc, err := time.LoadLocation(md.TimeZone); err == nil {
			t = t.In(loc)
		}
	}
	return t, nil
}

// Frame combines the metadata with its binary segments. The segment
// lengths must match the declared lengths.
func (md *Metadata) Frame(image, depth []byte) (*frame.CaptureFrame, error) {
	if len(image) != md.ImageLength {
		return nil, decodeErrorf(ErrTruncatedPayload, "image segment is %d bytes, declared %d", len(image), md.ImageLength)
	}
	if len(depth) != md.DepthLength {
		return nil, decodeErrorf(ErrTruncatedPayload, "depth segment is %d bytes, declared %d", len(depth), md.DepthLength)
	}
	wall, err := md.wall()
	if err != nil {
		return nil, err
	}
	f := &frame.CaptureFrame{
		ID: md.CaptureID,
		Timestamp: frame.Timestamp{
			MonotonicNanos: md.MonotonicNanos,
			Wall:           wall,
		},
		Image: image,
		Depth: frame.DepthBuffer{
			Data:          depth,
			Width:         md.DepthWidth,
			Height:        md.DepthHeight,
			BytesPerPixel: md.DepthBytesPerPixel,
		},
		Intrinsics: frame.IntrinsicsFromRows(md.Intrinsics),
		Pose:       frame.TransformFromRows(md.Pose),
	}
	if md.Location != nil {
		f.Location = &frame.Geolocation{Latitude: md.Location.Lat, Longitude: md.Location.Lon}
	}
	if err := f.Validate(); err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("%w: %v", ErrInvalidMetadata, err)}
	}
	return f, nil
}
