// Package depthviz renders depth buffers as heatmaps and histograms and
// computes summary statistics over valid pixels.
package depthviz

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/depthlink/internal/frame"
)

var (
	// ErrUnsupportedFormat is returned for depth buffers that are not
	// float32 meters.
	ErrUnsupportedFormat = errors.New("depth format is not float32")
	// ErrNoValidDepth is returned when no pixel holds a usable distance.
	ErrNoValidDepth = errors.New("depth buffer has no valid pixels")
)

// Grid is a decoded depth map in meters. Pixels that are non-finite or not
// positive hold NaN. Row 0 is the top of the image.
type Grid struct {
	width, height int
	values        []float64
}

// NewGrid decodes d, which must be little-endian float32 (4 bytes per
// pixel).
func NewGrid(d frame.DepthBuffer) (*Grid, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if d.BytesPerPixel != frame.DepthFormatFloat32 {
		return nil, fmt.Errorf("%w: %d bytes per pixel", ErrUnsupportedFormat, d.BytesPerPixel)
	}
	g := &Grid{width: d.Width, height: d.Height, values: make([]float64, d.Width*d.Height)}
	for i := range g.values {
		v := float64(math.Float32frombits(binary.LittleEndian.Uint32(d.Data[i*4:])))
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			v = math.NaN()
		}
		g.values[i] = v
	}
	return g, nil
}

// At returns the depth at column c, row r counted from the top.
func (g *Grid) At(c, r int) float64 { return g.values[r*g.width+c] }

// Dims, Z, X and Y implement plotter.GridXYZ. The plot's y axis grows
// upwards, so Z flips rows to keep the image upright.
func (g *Grid) Dims() (c, r int)   { return g.width, g.height }
func (g *Grid) Z(c, r int) float64 { return g.At(c, g.height-1-r) }
func (g *Grid) X(c int) float64    { return float64(c) }
func (g *Grid) Y(r int) float64    { return float64(r) }

// Valid returns the valid depths in ascending order.
func (g *Grid) Valid() []float64 {
	out := make([]float64, 0, len(g.values))
	for _, v := range g.values {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	sort.Float64s(out)
	return out
}

// Stats summarises the valid pixels of a depth map.
type Stats struct {
	Width   int     `json:"width"`
	Height  int     `json:"height"`
	Valid   int     `json:"valid"`
	Invalid int     `json:"invalid"`
	Min     float64 `json:"min_m"`
	Max     float64 `json:"max_m"`
	Mean    float64 `json:"mean_m"`
	// Median is the lower middle value when the valid count is even.
	Median float64 `json:"median_m"`
}

// Summarize computes Stats over g. It returns ErrNoValidDepth when every
// pixel is invalid.
func Summarize(g *Grid) (Stats, error) {
	valid := g.Valid()
	s := Stats{
		Width:   g.width,
		Height:  g.height,
		Valid:   len(valid),
		Invalid: len(g.values) - len(valid),
	}
	if len(valid) == 0 {
		return s, ErrNoValidDepth
	}
	s.Min = valid[0]
	s.Max = valid[len(valid)-1]
	s.Mean = stat.Mean(valid, nil)
	s.Median = stat.Quantile(0.5, stat.Empirical, valid, nil)
	return s, nil
}

// Bin is one histogram bucket covering [Lo, Hi).
type Bin struct {
	Lo    float64 `json:"lo_m"`
	Hi    float64 `json:"hi_m"`
	Count int     `json:"count"`
}

// Histogram splits the valid depth range into n equal-width bins.
func Histogram(g *Grid, n int) ([]Bin, error) {
	if n <= 0 {
		return nil, fmt.Errorf("histogram needs at least one bin, got %d", n)
	}
	valid := g.Valid()
	if len(valid) == 0 {
		return nil, ErrNoValidDepth
	}
	lo, hi := valid[0], valid[len(valid)-1]
	width := (hi - lo) / float64(n)
	dividers := make([]float64, n+1)
	for i := range dividers {
		dividers[i] = lo + float64(i)*width
	}
	// The top divider is exclusive; nudge it past the maximum.
	dividers[n] = math.Nextafter(math.Max(hi, dividers[n]), math.Inf(1))
	counts := stat.Histogram(nil, dividers, valid, nil)
	bins := make([]Bin, n)
	for i := range bins {
		bins[i] = Bin{Lo: dividers[i], Hi: dividers[i+1], Count: int(counts[i])}
	}
	return bins, nil
}
