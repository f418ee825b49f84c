package frame_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/depthlink/internal/frame"
	"github.com/banshee-data/depthlink/internal/frame/frametest"
	"github.com/banshee-data/depthlink/internal/timeutil"
)

func newTestAssembler(t *testing.T) (*frame.Assembler, time.Time) {
	t.Helper()
	base := time.Date(2025, 4, 17, 16, 0, 0, 0, time.UTC)
	sc := timeutil.NewSessionClock(timeutil.NewMockClock(base), time.UTC)
	n := 0
	a := frame.NewAssembler(frame.AssemblerConfig{
		Clock: sc,
		NewID: func() string {
			n++
			return "cap-" + string(rune('0'+n))
		},
	})
	return a, base
}

func TestAssemble_ExampleScenario(t *testing.T) {
	a, base := newTestAssembler(t)

	cam := frametest.CameraSample()
	f, err := a.Assemble(cam, frametest.DepthSample(), nil)
	require.NoError(t, err)

	assert.Equal(t, "cap-1", f.ID)
	assert.Equal(t, 64, len(f.Depth.Data))
	assert.Equal(t, 4, f.Depth.Width)
	assert.Equal(t, 4, f.Depth.Height)
	assert.Equal(t, frame.IdentityIntrinsics(), f.Intrinsics)
	assert.Equal(t, frame.IdentityTransform(), f.Pose)
	assert.Nil(t, f.Location, "absent location must stay absent")
	assert.Equal(t, cam.MonotonicNanos, f.Timestamp.MonotonicNanos)
	assert.True(t, f.Timestamp.Wall.Equal(base.Add(1500*time.Millisecond)))
	assert.NoError(t, f.Validate())
}

func TestAssemble_CopiesInputs(t *testing.T) {
	a, _ := newTestAssembler(t)
	cam := frametest.CameraSample()
	depth := frametest.DepthSample()
	loc := &frame.Geolocation{Latitude: 1, Longitude: 2}

	f, err := a.Assemble(cam, depth, loc)
	require.NoError(t, err)

	cam.Image[0] = 0
	depth.Data[0] = 0xAA
	loc.Latitude = 50

	assert.Equal(t, byte(0xFF), f.Image[0])
	assert.Equal(t, byte(0), f.Depth.Data[0])
	assert.Equal(t, 1.0, f.Location.Latitude)
}

func TestAssemble_MissingCamera(t *testing.T) {
	a, _ := newTestAssembler(t)
	f, err := a.Assemble(nil, frametest.DepthSample(), nil)
	assert.Nil(t, f)
	require.Error(t, err)
	assert.ErrorIs(t, err, frame.ErrMissingRequiredSensor)

	var ae *frame.AssemblyError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, frame.SensorCamera, ae.Sensor)
}

func TestAssemble_MissingDepth(t *testing.T) {
	a, _ := newTestAssembler(t)
	f, err := a.Assemble(frametest.CameraSample(), nil, nil)
	assert.Nil(t, f)
	assert.ErrorIs(t, err, frame.ErrMissingRequiredSensor)

	var ae *frame.AssemblyError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, frame.SensorDepth, ae.Sensor)
}

func TestAssemble_EmptyImageIsMissing(t *testing.T) {
	a, _ := newTestAssembler(t)
	cam := frametest.CameraSample()
	cam.Image = nil
	_, err := a.Assemble(cam, frametest.DepthSample(), nil)
	assert.ErrorIs(t, err, frame.ErrMissingRequiredSensor)
}

func TestAssemble_MalformedDepth(t *testing.T) {
	a, _ := newTestAssembler(t)
	depth := frametest.DepthSample()
	depth.Data = depth.Data[:63]

	f, err := a.Assemble(frametest.CameraSample(), depth, nil)
	assert.Nil(t, f)
	assert.ErrorIs(t, err, frame.ErrMalformedDepthBuffer)
}

func TestAssemble_ZeroDimensions(t *testing.T) {
	a, _ := newTestAssembler(t)
	depth := frametest.DepthSample()
	depth.Width = 0
	_, err := a.Assemble(frametest.CameraSample(), depth, nil)
	assert.ErrorIs(t, err, frame.ErrMalformedDepthBuffer)
}

func TestAssemble_InvalidLocation(t *testing.T) {
	a, _ := newTestAssembler(t)
	for _, loc := range []frame.Geolocation{
		{Latitude: 91, Longitude: 0},
		{Latitude: 0, Longitude: -181},
		{Latitude: math.NaN(), Longitude: 0},
	} {
		loc := loc
		_, err := a.Assemble(frametest.CameraSample(), frametest.DepthSample(), &loc)
		assert.ErrorIs(t, err, frame.ErrInvalidSample, "location %+v", loc)
	}
}

func TestAssemble_NonFinitePose(t *testing.T) {
	a, _ := newTestAssembler(t)
	cam := frametest.CameraSample()
	cam.Pose[3] = math.Inf(1)
	_, err := a.Assemble(cam, frametest.DepthSample(), nil)
	assert.ErrorIs(t, err, frame.ErrInvalidSample)
}

func TestAssemble_DefaultIDsAreUnique(t *testing.T) {
	a := frame.NewAssembler(frame.AssemblerConfig{})
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		f, err := a.Assemble(frametest.CameraSample(), frametest.DepthSample(), nil)
		require.NoError(t, err)
		require.False(t, seen[f.ID], "duplicate id %s", f.ID)
		seen[f.ID] = true
	}
}
