// Package tracker records a trek from a stream of GPS position fixes.
package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"geotrek-offline/internal/geo"
	"geotrek-offline/internal/storage"
)

var (
	// ErrAlreadyRecording is returned by Start while a recording is active.
	ErrAlreadyRecording = errors.New("tracker: already recording")
	// ErrNotRecording is returned by Stop while idle.
	ErrNotRecording = errors.New("tracker: not recording")
)

// State is the recording state of a Telemetry.
type State int

const (
	Idle State = iota
	Recording
)

func (s State) String() string {
	if s == Recording {
		return "recording"
	}
	return "idle"
}

// PositionFix is one location update from the device.
type PositionFix struct {
	Lat            float64
	Lng            float64
	AccuracyMeters float64
	TimestampMs    int64
}

// Time returns the fix timestamp.
func (f PositionFix) Time() time.Time {
	return time.UnixMilli(f.TimestampMs)
}

// Vertex returns the path vertex for the fix.
func (f PositionFix) Vertex() storage.TrekVertex {
	return storage.TrekVertex{Lat: f.Lat, Lng: f.Lng}
}

// Summary is the outcome of a finished recording.
type Summary struct {
	StartTime time.Time
	EndTime   time.Time
	Distance  float64
	Path      []storage.TrekVertex
}

// Stats is the live view of a recording.
type Stats struct {
	Distance float64
	Duration time.Duration
}

// Telemetry accumulates distance over the fixes observed while recording.
// Distance only ever grows by the leg from the previous vertex to the new one;
// fixes are never smoothed or corrected.
type Telemetry struct {
	now func() time.Time

	mu         sync.Mutex
	state      State
	startedAt  time.Time
	distance   float64
	path       []storage.TrekVertex
	current    PositionFix
	hasCurrent bool
}

// NewTelemetry returns an idle Telemetry. A nil clock uses time.Now.
func NewTelemetry(now func() time.Time) *Telemetry {
	if now == nil {
		now = time.Now
	}
	return &Telemetry{now: now}
}

// Start begins a recording with zero distance and an empty path.
func (t *Telemetry) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Recording {
		return ErrAlreadyRecording
	}
	t.state = Recording
	t.startedAt = t.now()
	t.distance = 0
	t.path = nil
	return nil
}

// Observe takes the next fix. It always becomes the current position; while
// recording it is also appended to the path. Observe reports whether the fix
// was recorded.
func (t *Telemetry) Observe(fix PositionFix) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current, t.hasCurrent = fix, true
	if t.state != Recording {
		return false
	}
	v := fix.Vertex()
	if n := len(t.path); n > 0 {
		prev := t.path[n-1]
		t.distance += geo.DistanceMeters(prev.Lat, prev.Lng, v.Lat, v.Lng)
	}
	t.path = append(t.path, v)
	return true
}

// Stop ends the recording and returns its distance and path.
func (t *Telemetry) Stop() (Summary, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Recording {
		return Summary{}, ErrNotRecording
	}
	s := Summary{
		StartTime: t.startedAt,
		EndTime:   t.now(),
		Distance:  t.distance,
		Path:      t.path,
	}
	t.state = Idle
	t.path = nil
	return s, nil
}

// Stats returns the accumulated distance and the wall-clock duration since
// Start. Both are zero while idle.
func (t *Telemetry) Stats(now time.Time) Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Recording {
		return Stats{}
	}
	return Stats{Distance: t.distance, Duration: now.Sub(t.startedAt)}
}

// State returns the recording state.
func (t *Telemetry) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Current returns the latest observed fix, if any.
func (t *Telemetry) Current() (PositionFix, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current, t.hasCurrent
}

// Run observes fixes in arrival order until the channel closes or ctx ends.
func (t *Telemetry) Run(ctx context.Context, fixes <-chan PositionFix) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fix, ok := <-fixes:
			if !ok {
				return nil
			}
			t.Observe(fix)
		}
	}
}

func (t *Telemetry) startTime() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startedAt
}
