package tracker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"geotrek-offline/internal/storage"
)

// DefaultTrekName names an unnamed trek after its start date.
func DefaultTrekName(start time.Time) string {
	return "Trek " + start.Format("2006-01-02")
}

// Session persists a Telemetry recording as a trek. The trek row is created
// on Start and every recorded vertex is appended as it arrives, so an
// interrupted recording keeps its path.
type Session struct {
	telemetry *Telemetry
	treks     storage.TrekStore

	trekID int64
}

// NewSession returns a Session writing to treks.
func NewSession(t *Telemetry, treks storage.TrekStore) *Session {
	return &Session{telemetry: t, treks: treks}
}

// Telemetry returns the underlying telemetry.
func (s *Session) Telemetry() *Telemetry { return s.telemetry }

// Start begins recording and creates the trek row.
func (s *Session) Start(ctx context.Context) (int64, error) {
	if err := s.telemetry.Start(); err != nil {
		return 0, err
	}
	start := s.telemetry.startTime()
	id, err := s.treks.CreateTrek(ctx, start)
	if err != nil {
		_, _ = s.telemetry.Stop()
		return 0, fmt.Errorf("create trek: %w", err)
	}
	s.trekID = id
	klog.Infof("Recording trek %d", id)
	return id, nil
}

// Observe feeds fix to the telemetry and persists it when recorded.
func (s *Session) Observe(ctx context.Context, fix PositionFix) error {
	if !s.telemetry.Observe(fix) {
		return nil
	}
	if err := s.treks.AppendTrekVertex(ctx, s.trekID, fix.Vertex()); err != nil {
		return fmt.Errorf("append vertex to trek %d: %w", s.trekID, err)
	}
	return nil
}

// Run observes fixes in arrival order until the channel closes or ctx ends.
func (s *Session) Run(ctx context.Context, fixes <-chan PositionFix) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fix, ok := <-fixes:
			if !ok {
				return nil
			}
			if err := s.Observe(ctx, fix); err != nil {
				return err
			}
		}
	}
}

// Stop ends the recording and writes the final trek.
func (s *Session) Stop(ctx context.Context, name string) (storage.Trek, error) {
	summary, err := s.telemetry.Stop()
	if err != nil {
		return storage.Trek{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultTrekName(summary.StartTime)
	}
	trek := storage.Trek{
		ID:        s.trekID,
		Name:      name,
		StartTime: summary.StartTime,
		EndTime:   summary.EndTime,
		Path:      summary.Path,
		Distance:  summary.Distance,
	}
	if err := s.treks.FinishTrek(ctx, trek); err != nil {
		return trek, fmt.Errorf("finish trek %d: %w", s.trekID, err)
	}
	klog.Infof("Finished trek %d %q: %.0f m over %d points", trek.ID, trek.Name, trek.Distance, len(trek.Path))
	return trek, nil
}
