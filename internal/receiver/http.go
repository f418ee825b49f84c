package receiver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"tailscale.com/tsweb"

	"github.com/banshee-data/depthlink/internal/depthviz"
)

// DefaultHistogramBins is used when the request does not set ?bins=.
const DefaultHistogramBins = 32

// AttachDebugRoutes adds the receiver pages to the debug index.
func (r *Receiver) AttachDebugRoutes(debug *tsweb.DebugHandler) {
	debug.Handle("stats", "Receiver counters (JSON)", http.HandlerFunc(r.handleStats))
	debug.Handle("depth.png", "Depth heatmap of the latest capture", http.HandlerFunc(r.handleDepthPNG))
	debug.Handle("depth-histogram", "Depth histogram of the latest capture", http.HandlerFunc(r.handleDepthHistogram))
}

func (r *Receiver) handleStats(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(r.Stats()); err != nil {
		opsf("encode stats: %v", err)
	}
}

func (r *Receiver) latestGrid(w http.ResponseWriter) (*depthviz.Grid, string, bool) {
	f := r.Latest()
	if f == nil {
		http.Error(w, "no capture received yet", http.StatusNotFound)
		return nil, "", false
	}
	g, err := depthviz.NewGrid(f.Depth)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return nil, "", false
	}
	return g, f.ID, true
}

func (r *Receiver) handleDepthPNG(w http.ResponseWriter, req *http.Request) {
	g, id, ok := r.latestGrid(w)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "image/png")
	err := depthviz.RenderHeatmap(w, g, depthviz.HeatmapOptions{Title: id})
	if errors.Is(err, depthviz.ErrNoValidDepth) {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if err != nil {
		opsf("render heatmap for %s: %v", id, err)
	}
}

func (r *Receiver) handleDepthHistogram(w http.ResponseWriter, req *http.Request) {
	bins := DefaultHistogramBins
	if v := req.URL.Query().Get("bins"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			http.Error(w, fmt.Sprintf("invalid bins %q", v), http.StatusBadRequest)
			return
		}
		bins = n
	}
	g, id, ok := r.latestGrid(w)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := depthviz.RenderHistogramPage(w, g, bins, "Depth "+id)
	if errors.Is(err, depthviz.ErrNoValidDepth) {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if err != nil {
		opsf("render histogram for %s: %v", id, err)
	}
}
