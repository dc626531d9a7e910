package download

import (
	"fmt"
	"sync"

	"geotrek-offline/internal/geo"
)

// Selection is the rectangle and zoom range a user is about to download. The
// UI updates it directly while dragging and renders Snapshot results.
type Selection struct {
	mu      sync.Mutex
	bounds  geo.GeoBounds
	minZoom uint32
	maxZoom uint32
}

// Estimate is the planning-time size of a selection.
type Estimate struct {
	Bounds    geo.GeoBounds
	MinZoom   uint32
	MaxZoom   uint32
	TileCount int
	SizeBytes int64
}

// NewSelection returns a selection over bounds and [minZoom, maxZoom].
func NewSelection(bounds geo.GeoBounds, minZoom, maxZoom uint32) *Selection {
	return &Selection{bounds: bounds, minZoom: minZoom, maxZoom: maxZoom}
}

// SetBounds replaces the rectangle.
func (s *Selection) SetBounds(bounds geo.GeoBounds) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bounds = bounds
}

// SetZoomRange replaces the zoom range.
func (s *Selection) SetZoomRange(minZoom, maxZoom uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.minZoom, s.maxZoom = minZoom, maxZoom
}

// Snapshot returns the current selection and its tile count and size.
func (s *Selection) Snapshot() Estimate {
	s.mu.Lock()
	b, lo, hi := s.bounds, s.minZoom, s.maxZoom
	s.mu.Unlock()

	count := geo.CountTiles(b, lo, hi)
	return Estimate{
		Bounds:    b,
		MinZoom:   lo,
		MaxZoom:   hi,
		TileCount: count,
		SizeBytes: EstimatedSizeBytes(count),
	}
}

// Request turns the current selection into a download request.
func (s *Selection) Request(name string, onProgress ProgressFunc) Request {
	est := s.Snapshot()
	return Request{
		Name:       name,
		Bounds:     est.Bounds,
		MinZoom:    est.MinZoom,
		MaxZoom:    est.MaxZoom,
		OnProgress: onProgress,
	}
}

// HumanSize formats the estimate as "%.1f KB" below one MiB and "%.1f MB"
// above.
func (e Estimate) HumanSize() string {
	return FormatSize(e.SizeBytes)
}

// FormatSize renders a byte count the way the region list shows it.
func FormatSize(bytes int64) string {
	const mib = 1024 * 1024
	if bytes < mib {
		return fmt.Sprintf("%.1f KB", float64(bytes)/1024)
	}
	return fmt.Sprintf("%.1f MB", float64(bytes)/mib)
}
