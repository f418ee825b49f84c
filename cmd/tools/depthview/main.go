// Command depthview renders the depth buffer of a saved capture as a
// heatmap PNG, a histogram page, or summary statistics.
//
// The input is either a capture directory (meta.json supplies the
// dimensions) or a raw depth.bin with -width and -height.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/depthlink/internal/archive"
	"github.com/banshee-data/depthlink/internal/depthviz"
	"github.com/banshee-data/depthlink/internal/frame"
	"github.com/banshee-data/depthlink/internal/fsutil"
)

var (
	captureDir = flag.String("capture", "", "Capture directory containing meta.json and depth.bin")
	rawFile    = flag.String("raw", "", "Raw float32 little-endian depth file")
	width      = flag.Int("width", 0, "Depth width in pixels (with -raw)")
	height     = flag.Int("height", 0, "Depth height in pixels (with -raw)")
	pngOut     = flag.String("png", "", "Write a heatmap PNG to this path")
	htmlOut    = flag.String("html", "", "Write a histogram HTML page to this path")
	bins       = flag.Int("bins", 32, "Histogram bins")
	sizeCm     = flag.Float64("size", 16, "Heatmap width in centimetres")
)

func loadDepth() (frame.DepthBuffer, string, error) {
	switch {
	case *captureDir != "":
		f, err := archive.LoadDir(fsutil.OSFileSystem{}, *captureDir)
		if err != nil {
			return frame.DepthBuffer{}, "", err
		}
		return f.Depth, f.ID, nil
	case *rawFile != "":
		data, err := os.ReadFile(*rawFile)
		if err != nil {
			return frame.DepthBuffer{}, "", err
		}
		d := frame.DepthBuffer{Data: data, Width: *width, Height: *height, BytesPerPixel: frame.DepthFormatFloat32}
		if err := d.Validate(); err != nil {
			return frame.DepthBuffer{}, "", err
		}
		return d, filepath.Base(*rawFile), nil
	default:
		return frame.DepthBuffer{}, "", fmt.Errorf("one of -capture or -raw is required")
	}
}

func main() {
	flag.Parse()

	depth, title, err := loadDepth()
	if err != nil {
		log.Fatalf("failed to load depth: %v", err)
	}
	g, err := depthviz.NewGrid(depth)
	if err != nil {
		log.Fatalf("failed to read depth: %v", err)
	}

	stats, err := depthviz.Summarize(g)
	if err != nil {
		log.Fatalf("failed to summarise depth: %v", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(stats); err != nil {
		log.Fatalf("failed to write statistics: %v", err)
	}

	if *pngOut != "" {
		f, err := os.Create(*pngOut)
		if err != nil {
			log.Fatalf("failed to create %s: %v", *pngOut, err)
		}
		w := vg.Length(*sizeCm) * vg.Centimeter
		h := w * vg.Length(depth.Height) / vg.Length(depth.Width)
		err = depthviz.RenderHeatmap(f, g, depthviz.HeatmapOptions{Title: title, Width: w, Height: h})
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			log.Fatalf("failed to write heatmap: %v", err)
		}
		log.Printf("wrote %s", *pngOut)
	}

	if *htmlOut != "" {
		f, err := os.Create(*htmlOut)
		if err != nil {
			log.Fatalf("failed to create %s: %v", *htmlOut, err)
		}
		err = depthviz.RenderHistogramPage(f, g, *bins, title)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			log.Fatalf("failed to write histogram: %v", err)
		}
		log.Printf("wrote %s", *htmlOut)
	}
}
