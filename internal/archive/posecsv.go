package archive

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"

	"github.com/banshee-data/depthlink/internal/frame"
)

// PoseCSVHeader is the header row written by WritePoseCSV.
var PoseCSVHeader = []string{"timestamp", "x", "y", "z", "qx", "qy", "qz", "qw"}

// WritePoseCSV writes one row per frame with the camera position and
// orientation, ordered by monotonic timestamp. The timestamp column is
// wall-clock seconds since the epoch.
func WritePoseCSV(w io.Writer, frames []*frame.CaptureFrame) error {
	sorted := append([]*frame.CaptureFrame(nil), frames...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.MonotonicNanos < sorted[j].Timestamp.MonotonicNanos
	})

	cw := csv.NewWriter(w)
	if err := cw.Write(PoseCSVHeader); err != nil {
		return err
	}
	for _, f := range sorted {
		p := f.Pose.Position()
		q := f.Pose.Quaternion()
		row := []string{
			strconv.FormatFloat(f.Timestamp.Seconds(), 'f', 6, 64),
			formatFloat(p.X), formatFloat(p.Y), formatFloat(p.Z),
			formatFloat(q.X), formatFloat(q.Y), formatFloat(q.Z), formatFloat(q.W),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
