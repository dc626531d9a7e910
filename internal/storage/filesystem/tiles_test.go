package filesystem

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"geotrek-offline/internal/geo"
	"geotrek-offline/internal/storage"
)

func TestTileStoreLayout(t *testing.T) {
	root := t.TempDir()
	s, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	key := geo.TileKey{Zoom: 12, X: 2045, Y: 1360}

	if err := s.PutTile(ctx, key, []byte("png-bytes")); err != nil {
		t.Fatalf("PutTile: %v", err)
	}
	want := filepath.Join(root, "12", "2045", "1360.png")
	if s.Path(key) != want {
		t.Errorf("Path() = %q, want %q", s.Path(key), want)
	}
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read tile file: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Errorf("file content = %q", data)
	}

	entries, err := os.ReadDir(filepath.Dir(want))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("tile directory holds %d entries, want 1 (temp file leaked?)", len(entries))
	}

	got, err := s.GetTile(ctx, key)
	if err != nil {
		t.Fatalf("GetTile: %v", err)
	}
	if string(got.Data) != "png-bytes" || got.StoredAt.IsZero() {
		t.Errorf("GetTile() = %+v", got)
	}
}

func TestTileStoreMissingAndDelete(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	key := geo.TileKey{Zoom: 1, X: 0, Y: 1}

	if has, err := s.HasTile(ctx, key); err != nil || has {
		t.Fatalf("HasTile() = %v, %v; want false, nil", has, err)
	}
	if _, err := s.GetTile(ctx, key); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetTile() error = %v, want ErrNotFound", err)
	}
	if err := s.DeleteTile(ctx, key); err != nil {
		t.Fatalf("DeleteTile on missing tile: %v", err)
	}
	if err := s.PutTile(ctx, key, []byte("a")); err != nil {
		t.Fatalf("PutTile: %v", err)
	}
	if err := s.DeleteTile(ctx, key); err != nil {
		t.Fatalf("DeleteTile: %v", err)
	}
	if has, _ := s.HasTile(ctx, key); has {
		t.Error("tile present after delete")
	}
}

func TestNewRequiresRoot(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty root")
	}
}
