package tracker

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"geotrek-offline/internal/storage"
	"geotrek-offline/internal/storage/sqlite"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "treks.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSessionPersistsTrek(t *testing.T) {
	store := openStore(t)
	clock := newClock()
	s := NewSession(NewTelemetry(clock.now), store)
	ctx := context.Background()

	id, err := s.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	for _, lng := range []float64{0, 0.001, 0.002} {
		if err := s.Observe(ctx, PositionFix{Lat: 0, Lng: lng}); err != nil {
			t.Fatalf("Observe: %v", err)
		}
	}

	partial, err := store.GetTrek(ctx, id)
	if err != nil {
		t.Fatalf("GetTrek: %v", err)
	}
	if len(partial.Path) != 3 {
		t.Fatalf("in-progress path length = %d, want 3", len(partial.Path))
	}

	clock.advance(time.Hour)
	trek, err := s.Stop(ctx, "")
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if trek.Name != "Trek 2026-06-21" {
		t.Errorf("default name = %q", trek.Name)
	}
	got, err := store.GetTrek(ctx, id)
	if err != nil {
		t.Fatalf("GetTrek: %v", err)
	}
	if diff := cmp.Diff(trek, got, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("stored trek mismatch (-want +got):\n%s", diff)
	}
}

func TestSessionIgnoresIdleFixes(t *testing.T) {
	store := openStore(t)
	s := NewSession(NewTelemetry(nil), store)
	if err := s.Observe(context.Background(), PositionFix{Lat: 1, Lng: 1}); err != nil {
		t.Fatalf("Observe while idle: %v", err)
	}
	if treks, _ := store.ListTreks(context.Background()); len(treks) != 0 {
		t.Errorf("idle fix created %d treks", len(treks))
	}
}

func TestGPXRoundTrip(t *testing.T) {
	start := time.Date(2026, time.June, 21, 6, 0, 0, 0, time.UTC)
	trek := storage.Trek{
		Name:      "Ridge",
		StartTime: start,
		EndTime:   start.Add(2 * time.Hour),
		Path:      []storage.TrekVertex{{Lat: 40.1, Lng: -3.2}, {Lat: 40.2, Lng: -3.3}, {Lat: 40.3, Lng: -3.4}},
	}
	data, err := ExportGPX(trek)
	if err != nil {
		t.Fatalf("ExportGPX: %v", err)
	}
	fixes, err := ReadGPX(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ReadGPX: %v", err)
	}
	want := []PositionFix{
		{Lat: 40.1, Lng: -3.2, TimestampMs: start.UnixMilli()},
		{Lat: 40.2, Lng: -3.3},
		{Lat: 40.3, Lng: -3.4, TimestampMs: start.Add(2 * time.Hour).UnixMilli()},
	}
	if diff := cmp.Diff(want, fixes, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("fixes mismatch (-want +got):\n%s", diff)
	}
}

func TestReadGPXRejectsGarbage(t *testing.T) {
	if _, err := ReadGPX(bytes.NewReader([]byte("not xml"))); err == nil {
		t.Fatal("expected parse error")
	}
}
