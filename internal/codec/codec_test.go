package codec

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/depthlink/internal/frame"
	"github.com/banshee-data/depthlink/internal/frame/frametest"
	"github.com/banshee-data/depthlink/internal/timeutil"
)

var timeEqual = cmp.Comparer(func(a, b time.Time) bool {
	return a.Equal(b) && a.Location().String() == b.Location().String()
})

func TestEncodeDecode_RoundTrip(t *testing.T) {
	for _, withLoc := range []bool{false, true} {
		f := frametest.Frame("round-trip", withLoc)

		data, err := Encode(f)
		require.NoError(t, err)

		got, err := Decode(data)
		require.NoError(t, err)

		if diff := cmp.Diff(f, got, timeEqual); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestEncodeDecode_RoundTripInZone(t *testing.T) {
	loc, err := timeutil.LoadZone("America/New_York")
	if err != nil {
		t.Skipf("zone database unavailable: %v", err)
	}
	f := frametest.Frame("zoned", true)
	f.Timestamp.Wall = f.Timestamp.Wall.In(loc)

	data, err := Encode(f)
	require.NoError(t, err)
	got, err := Decode(data)
	require.NoError(t, err)
	if diff := cmp.Diff(f, got, timeEqual); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestEncode_Deterministic(t *testing.T) {
	f := frametest.Frame("det", true)
	a, err := Encode(f)
	require.NoError(t, err)
	b, err := Encode(f)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEncode_ExampleScenario(t *testing.T) {
	a := frame.NewAssembler(frame.AssemblerConfig{
		Clock: timeutil.NewSessionClock(timeutil.NewMockClock(time.Unix(1745000000, 0)), time.UTC),
		NewID: func() string { return "example" },
	})
	f, err := a.Assemble(frametest.CameraSample(), frametest.DepthSample(), nil)
	require.NoError(t, err)

	data, err := Encode(f)
	require.NoError(t, err)

	assert.Equal(t, Delimiter, data[len(data)-1])

	metaLen := binary.BigEndian.Uint32(data)
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data[HeaderLen:HeaderLen+int(metaLen)], &raw))
	assert.JSONEq(t, "64", string(raw["depth_length"]))
	assert.JSONEq(t, "null", string(raw["location"]), "absent location must be null, not (0,0)")

	body := data[HeaderLen+int(metaLen):]
	assert.Equal(t, frametest.JPEGPrefix[:2], body[:2])
	assert.Len(t, body, len(f.Image)+64+1)
}

func TestEncode_MalformedDepth(t *testing.T) {
	f := frametest.Frame("bad-depth", false)
	f.Depth.Data = f.Depth.Data[:len(f.Depth.Data)-1]

	_, err := Encode(f)
	require.Error(t, err)
	assert.ErrorIs(t, err, frame.ErrMalformedDepthBuffer)
	var ee *EncodeError
	assert.True(t, errors.As(err, &ee))
}

func TestEncode_RejectsIncompleteFrame(t *testing.T) {
	f := frametest.Frame("", false)
	_, err := Encode(f)
	assert.ErrorIs(t, err, frame.ErrInvalidSample)

	_, err = Encode(nil)
	assert.Error(t, err)
}

func TestDecode_Truncated(t *testing.T) {
	data, err := Encode(frametest.Frame("trunc", false))
	require.NoError(t, err)

	cases := map[string][]byte{
		"header only":     data[:2],
		"no delimiter":    data[:len(data)-1],
		"short depth":     append(append([]byte(nil), data[:len(data)-2]...), Delimiter),
		"trailing bytes":  append(append([]byte(nil), data...), 0x00),
		"wrong delimiter": append(append([]byte(nil), data[:len(data)-1]...), 0x00),
	}
	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			f, err := Decode(msg)
			assert.Nil(t, f)
			assert.ErrorIs(t, err, ErrTruncatedPayload)
		})
	}
}

func encodeWithMetadata(t *testing.T, mutate func(map[string]interface{})) []byte {
	t.Helper()
	f := frametest.Frame("meta", false)
	meta, err := MarshalMetadata(f, false)
	require.NoError(t, err)
	var m map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(meta))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&m))
	mutate(m)
	meta, err = json.Marshal(m)
	require.NoError(t, err)

	var buf bytes.Buffer
	var hdr [HeaderLen]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(meta)))
	buf.Write(hdr[:])
	buf.Write(meta)
	buf.Write(f.Image)
	buf.Write(f.Depth.Data)
	buf.WriteByte(Delimiter)
	return buf.Bytes()
}

func TestDecode_InvalidMetadata(t *testing.T) {
	cases := map[string]func(map[string]interface{}){
		"bad version":       func(m map[string]interface{}) { m["version"] = 2 },
		"missing id":        func(m map[string]interface{}) { delete(m, "capture_id") },
		"depth mismatch":    func(m map[string]interface{}) { m["depth_width"] = 5 },
		"bad wall time":     func(m map[string]interface{}) { m["wall_time"] = "yesterday" },
		"unknown field":     func(m map[string]interface{}) { m["image"] = "base64" },
		"wrong type":        func(m map[string]interface{}) { m["intrinsics"] = "identity" },
		"latitude overflow": func(m map[string]interface{}) { m["location"] = map[string]float64{"lat": 95, "lon": 0} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f, err := Decode(encodeWithMetadata(t, mutate))
			assert.Nil(t, f)
			assert.ErrorIs(t, err, ErrInvalidMetadata)
		})
	}
}

func TestDecode_HostileDepthDimensions(t *testing.T) {
	cases := map[string]func(map[string]interface{}){
		"product wraps to zero": func(m map[string]interface{}) {
			m["depth_width"] = int64(1) << 62
			m["depth_height"] = 4
			m["depth_bytes_per_pixel"] = 1
			m["depth_length"] = 0
		},
		"product wraps negative": func(m map[string]interface{}) {
			m["depth_width"] = int64(1)<<62 - 1
			m["depth_height"] = 4
			m["depth_bytes_per_pixel"] = 1
			m["depth_length"] = -4
		},
		"negative image length": func(m map[string]interface{}) { m["image_length"] = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			data := encodeWithMetadata(t, mutate)

			var (
				f   *frame.CaptureFrame
				err error
			)
			require.NotPanics(t, func() { f, err = Decode(data) })
			assert.Nil(t, f)
			assert.ErrorIs(t, err, ErrInvalidMetadata)

			require.NotPanics(t, func() { f, err = NewDecoder(bytes.NewReader(data)).Decode() })
			assert.Nil(t, f)
			assert.ErrorIs(t, err, ErrInvalidMetadata)
		})
	}
}

func TestDecode_GarbageMetadata(t *testing.T) {
	msg := []byte{0, 0, 0, 3, '{', 'x', '}', Delimiter}
	_, err := Decode(msg)
	assert.ErrorIs(t, err, ErrInvalidMetadata)

	_, err = Decode([]byte{0, 0, 0, 0, Delimiter})
	assert.ErrorIs(t, err, ErrInvalidMetadata)
}

func TestDecoder_Stream(t *testing.T) {
	var stream bytes.Buffer
	frames := []*frame.CaptureFrame{
		frametest.Frame("first", false),
		frametest.Frame("second", true),
	}
	for _, f := range frames {
		data, err := Encode(f)
		require.NoError(t, err)
		stream.Write(data)
	}

	dec := NewDecoder(&stream)
	for _, want := range frames {
		got, err := dec.Decode()
		require.NoError(t, err)
		if diff := cmp.Diff(want, got, timeEqual); diff != "" {
			t.Errorf("stream frame mismatch (-want +got):\n%s", diff)
		}
	}
	_, err := dec.Decode()
	assert.Equal(t, io.EOF, err)
}

func TestDecoder_TruncatedStream(t *testing.T) {
	data, err := Encode(frametest.Frame("cut", false))
	require.NoError(t, err)

	_, err = NewDecoder(bytes.NewReader(data[:len(data)-10])).Decode()
	assert.ErrorIs(t, err, ErrTruncatedPayload)
}

func TestDecoder_PayloadLimit(t *testing.T) {
	data, err := Encode(frametest.Frame("big", false))
	require.NoError(t, err)

	dec := NewDecoder(bytes.NewReader(data))
	dec.SetMaxPayload(8)
	_, err = dec.Decode()
	assert.ErrorIs(t, err, ErrInvalidMetadata)
}

func TestMarshalMetadata_Pretty(t *testing.T) {
	f := frametest.Frame("pretty", true)
	data, err := MarshalMetadata(f, true)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"capture_id\": \"pretty\"")

	md, err := UnmarshalMetadata(data)
	require.NoError(t, err)
	assert.Equal(t, 48, md.ImageLength)
	require.NotNil(t, md.Location)
	assert.Equal(t, 40.7295, md.Location.Lat)
}
