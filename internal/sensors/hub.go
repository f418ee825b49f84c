package sensors

import "github.com/banshee-data/depthlink/internal/frame"

// Hub collects the latest reading of each sensor. It satisfies the camera,
// depth and location source interfaces of the capture coordinator.
type Hub struct {
	camera   Latest[*frame.CameraSample]
	depth    Latest[*frame.DepthSample]
	location Latest[*frame.Geolocation]
}

// NewHub returns an empty Hub.
func NewHub() *Hub { return &Hub{} }

// SetCamera publishes a camera reading. The hub keeps the pointer; callers
// must not modify the sample afterwards.
func (h *Hub) SetCamera(s *frame.CameraSample) { h.camera.Set(s) }

// SetDepth publishes a depth reading.
func (h *Hub) SetDepth(s *frame.DepthSample) { h.depth.Set(s) }

// SetLocation publishes a location fix.
func (h *Hub) SetLocation(g *frame.Geolocation) { h.location.Set(g) }

// ClearLocation withdraws the current fix so later captures carry no
// location instead of a stale one.
func (h *Hub) ClearLocation() { h.location.Clear() }

func (h *Hub) LatestCamera() (*frame.CameraSample, bool) { return h.camera.Get() }

func (h *Hub) LatestDepth() (*frame.DepthSample, bool) { return h.depth.Get() }

func (h *Hub) LatestLocation() (*frame.Geolocation, bool) { return h.location.Get() }

// HubStats counts published and overwritten readings per sensor.
type HubStats struct {
	CameraUpdates       uint64 `json:"camera_updates"`
	CameraOverwritten   uint64 `json:"camera_overwritten"`
	DepthUpdates        uint64 `json:"depth_updates"`
	DepthOverwritten    uint64 `json:"depth_overwritten"`
	LocationUpdates     uint64 `json:"location_updates"`
	LocationOverwritten uint64 `json:"location_overwritten"`
}

// Stats returns a snapshot of the hub counters.
func (h *Hub) Stats() HubStats {
	return HubStats{
		CameraUpdates:       h.camera.Updates(),
		CameraOverwritten:   h.camera.Overwritten(),
		DepthUpdates:        h.depth.Updates(),
		DepthOverwritten:    h.depth.Overwritten(),
		LocationUpdates:     h.location.Updates(),
		LocationOverwritten: h.location.Overwritten(),
	}
}
