package storage

import (
	"errors"
	"io"
	"testing"

	"geotrek-offline/internal/geo"
)

func TestWrap(t *testing.T) {
	if Wrap("op", nil) != nil {
		t.Error("Wrap(nil) != nil")
	}
	if err := Wrap("op", ErrNotFound); err != ErrNotFound {
		t.Errorf("Wrap(ErrNotFound) = %v, want ErrNotFound unchanged", err)
	}
	err := Wrap("put tile", io.ErrUnexpectedEOF)
	if !errors.Is(err, ErrStorage) {
		t.Errorf("errors.Is(%v, ErrStorage) = false", err)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("wrapped cause lost: %v", err)
	}
	if again := Wrap("outer", err); again != err {
		t.Errorf("double wrap = %v, want original", again)
	}
}

func TestRegionCovers(t *testing.T) {
	r := Region{
		Bounds:  geo.GeoBounds{North: 51.7, South: 51.3, West: -0.2, East: 0.1},
		MinZoom: 10,
		MaxZoom: 12,
	}
	for _, tc := range []struct {
		key  geo.TileKey
		want bool
	}{
		{key: geo.TileKey{Zoom: 10, X: 511, Y: 340}, want: true},
		{key: geo.TileKey{Zoom: 9, X: 255, Y: 170}, want: false},
		{key: geo.TileKey{Zoom: 10, X: 0, Y: 0}, want: false},
	} {
		if got := r.Covers(tc.key); got != tc.want {
			t.Errorf("Covers(%v) = %v, want %v", tc.key, got, tc.want)
		}
	}
	if !r.Contains(51.5, -0.1) {
		t.Error("Contains(51.5,-0.1) = false, want true")
	}
}
