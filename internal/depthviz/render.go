package depthviz

import (
	"bytes"
	"fmt"
	"image/color"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	_ "gonum.org/v1/plot/vg/vgimg"
)

// AssetsHost serves the echarts JavaScript for rendered pages.
const AssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// HeatmapOptions controls RenderHeatmap output.
type HeatmapOptions struct {
	Title  string
	Width  vg.Length
	Height vg.Length
	// Colors is the number of palette steps.
	Colors int
}

func (o HeatmapOptions) withDefaults(g *Grid) HeatmapOptions {
	if o.Title == "" {
		o.Title = "Depth (m)"
	}
	if o.Colors <= 0 {
		o.Colors = 64
	}
	if o.Width <= 0 {
		o.Width = 6 * vg.Inch
	}
	if o.Height <= 0 {
		c, r := g.Dims()
		o.Height = o.Width * vg.Length(r) / vg.Length(c)
	}
	return o
}

// RenderHeatmap writes g as a PNG heatmap. Invalid pixels are drawn
// transparent.
func RenderHeatmap(w io.Writer, g *Grid, o HeatmapOptions) error {
	s, err := Summarize(g)
	if err != nil {
		return err
	}
	o = o.withDefaults(g)

	h := plotter.NewHeatMap(g, palette.Heat(o.Colors, 1))
	h.Min, h.Max = s.Min, s.Max
	if h.Min == h.Max {
		h.Max = h.Min + 1e-6
	}
	h.NaN = color.Transparent
	h.Rasterized = true

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s  median %.3f m", o.Title, s.Median)
	p.X.Label.Text = "column"
	p.Y.Label.Text = "row"
	p.Add(h)

	wt, err := p.WriterTo(o.Width, o.Height, "png")
	if err != nil {
		return fmt.Errorf("render heatmap: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write heatmap: %w", err)
	}
	return nil
}

// HistogramChart builds an echarts bar chart of bins.
func HistogramChart(bins []Bin, title, subtitle string) *charts.Bar {
	labels := make([]string, len(bins))
	data := make([]opts.BarData, len(bins))
	for i, b := range bins {
		labels[i] = fmt.Sprintf("%.2f", b.Lo)
		data[i] = opts.BarData{Value: b.Count}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "600px", AssetsHost: AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "depth (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "pixels"}),
	)
	bar.SetXAxis(labels).AddSeries("pixels", data)
	return bar
}

// RenderHistogramPage writes an HTML page with the histogram of g.
func RenderHistogramPage(w io.Writer, g *Grid, bins int, title string) error {
	s, err := Summarize(g)
	if err != nil {
		return err
	}
	hist, err := Histogram(g, bins)
	if err != nil {
		return err
	}
	subtitle := fmt.Sprintf("%dx%d valid=%d median=%.3f m", s.Width, s.Height, s.Valid, s.Median)

	page := components.NewPage()
	page.SetAssetsHost(AssetsHost)
	page.AddCharts(HistogramChart(hist, title, subtitle))

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return fmt.Errorf("render histogram: %w", err)
	}
	_, err = w.Write(buf.Bytes())
	return err
}
