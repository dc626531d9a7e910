package main

import (
	"bytes"
	"context"
	"flag"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"geotrek-offline/internal/config"
	"geotrek-offline/internal/geo"
	"geotrek-offline/internal/metrics"
)

func TestParseLatLng(t *testing.T) {
	lat, lng, err := parseLatLng("40.41, -3.70")
	if err != nil || lat != 40.41 || lng != -3.70 {
		t.Fatalf("parseLatLng() = %v, %v, %v", lat, lng, err)
	}
	for _, bad := range []string{"", "40.41", "a,b", "1,2,3"} {
		if _, _, err := parseLatLng(bad); err == nil {
			t.Errorf("parseLatLng(%q) expected error", bad)
		}
	}
}

func TestParseTileKey(t *testing.T) {
	key, err := parseTileKey("10/511/340")
	if err != nil {
		t.Fatalf("parseTileKey: %v", err)
	}
	if key != (geo.TileKey{Zoom: 10, X: 511, Y: 340}) {
		t.Errorf("parseTileKey() = %v", key)
	}
	for _, bad := range []string{"", "10/511", "1/2/0", "x/1/1"} {
		if _, err := parseTileKey(bad); err == nil {
			t.Errorf("parseTileKey(%q) expected error", bad)
		}
	}
}

func TestOpenStoresBackends(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	for _, cfg := range []config.StoreConfig{
		{Backend: config.BackendSQLite, Path: filepath.Join(dir, "tiles.db")},
		{Backend: config.BackendFilesystem, Path: filepath.Join(dir, "tiles")},
		{Backend: config.BackendMemory},
	} {
		s, err := openStores(ctx, cfg)
		if err != nil {
			t.Fatalf("openStores(%s): %v", cfg.Backend, err)
		}
		key := geo.TileKey{Zoom: 2, X: 1, Y: 1}
		if err := s.tiles.PutTile(ctx, key, []byte("png")); err != nil {
			t.Errorf("%s: PutTile: %v", cfg.Backend, err)
		}
		if _, err := s.regions.ListRegions(ctx); err != nil {
			t.Errorf("%s: ListRegions: %v", cfg.Backend, err)
		}
		_, err = s.catalog()
		if (cfg.Backend == config.BackendMemory) != (err != nil) {
			t.Errorf("%s: catalog() error = %v", cfg.Backend, err)
		}
		if err := s.Close(); err != nil {
			t.Errorf("%s: Close: %v", cfg.Backend, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "tiles", catalogFile)); err != nil {
		t.Errorf("filesystem backend has no catalog: %v", err)
	}
	if _, err := openStores(ctx, config.StoreConfig{Backend: "s3"}); err == nil {
		t.Error("expected unknown backend error")
	}
}

func pngTile(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newTestEnv(t *testing.T, url string) *env {
	t.Helper()
	for _, name := range []string{"GEOTREK_STORE_BACKEND", "GEOTREK_STORE_PATH", "DOWNLOAD_DIRECTORY", "GEOTREK_FETCH_TIMEOUT", "API_KEY"} {
		t.Setenv(name, "")
	}
	t.Setenv("GEOTREK_TILE_URL", url+"/{{ZOOM}}/{{X}}/{{Y}}.png")
	cfg, err := config.Parse(strings.NewReader(`
zones:
  london:
    regions: ["51.3,-0.2,51.7,0.1"]
    zoom: {in: 11, out: 10}
map:
  provider: osm
store:
  backend: memory
`))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	s, err := openStores(context.Background(), cfg.Store)
	if err != nil {
		t.Fatalf("openStores: %v", err)
	}
	c, err := metrics.NewCollector(nil)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	return &env{cfg: cfg, stores: s, metrics: c}
}

func TestRunDownloadConfiguredZones(t *testing.T) {
	tile := pngTile(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(tile)
	}))
	defer srv.Close()
	e := newTestEnv(t, srv.URL)
	ctx := context.Background()

	if err := runDownload(ctx, e, nil); err != nil {
		t.Fatalf("runDownload: %v", err)
	}
	// Six tiles at zoom 10 and twelve at zoom 11.
	if got := hits.Load(); got != 18 {
		t.Errorf("server hits = %d, want 18", got)
	}
	regions, err := e.stores.regions.ListRegions(ctx)
	if err != nil || len(regions) != 1 || regions[0].Name != "london" {
		t.Fatalf("ListRegions() = %+v, %v", regions, err)
	}

	out := filepath.Join(t.TempDir(), "tile.png")
	if err := runResolve(ctx, e, []string{"-tile", "10/511/340", "-out", out, "-offline"}); err != nil {
		t.Fatalf("runResolve: %v", err)
	}
	if got, _ := os.ReadFile(out); !bytes.Equal(got, tile) {
		t.Error("resolved tile differs from the downloaded one")
	}

	if err := runDeleteRegion(ctx, e, []string{"-id", "1"}); err != nil {
		t.Fatalf("runDeleteRegion: %v", err)
	}
	if err := runDeleteRegion(ctx, e, []string{"-id", "1"}); err == nil {
		t.Error("expected error deleting a missing region")
	}
}

func TestRunDownloadUnknownZone(t *testing.T) {
	e := newTestEnv(t, "http://127.0.0.1:1")
	if err := runDownload(context.Background(), e, []string{"-zone", "mars"}); err == nil {
		t.Fatal("expected unknown zone error")
	}
}

func TestZoomRange(t *testing.T) {
	lo, hi, err := zoomRange(3, geo.MaxZoom)
	if err != nil || lo != 3 || hi != geo.MaxZoom {
		t.Fatalf("zoomRange(3, MaxZoom) = %d, %d, %v", lo, hi, err)
	}
	for _, tc := range [][2]uint{{1, geo.MaxZoom + 1}, {0, 4294967295}, {9, 3}} {
		if _, _, err := zoomRange(tc[0], tc[1]); err == nil {
			t.Errorf("zoomRange(%d, %d) expected error", tc[0], tc[1])
		}
	}
}

func TestRunEstimateRejectsDeepZoom(t *testing.T) {
	args := []string{"-bounds", "51.3,-0.2,51.7,0.1", "-min", "0", "-max", "4294967295"}
	if err := runEstimate(context.Background(), nil, args); err == nil {
		t.Fatal("expected error for a zoom beyond the cap")
	}
	if err := runEstimate(context.Background(), nil, []string{"-bounds", "51.3,-0.2,51.7,0.1", "-min", "10", "-max", "11"}); err != nil {
		t.Fatalf("runEstimate: %v", err)
	}
}

func TestRunClosesStoresOnCommandError(t *testing.T) {
	for _, name := range []string{"GEOTREK_FETCH_TIMEOUT", "API_KEY", "DOWNLOAD_DIRECTORY"} {
		t.Setenv(name, "")
	}
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "geotrek.db")
	t.Setenv("GEOTREK_STORE_BACKEND", config.BackendSQLite)
	t.Setenv("GEOTREK_STORE_PATH", dbPath)
	t.Setenv("GEOTREK_TILE_URL", "http://127.0.0.1:1/{{ZOOM}}/{{X}}/{{Y}}.png")

	oldConfig := *configFile
	*configFile = filepath.Join(dir, "missing.yaml")
	t.Cleanup(func() { *configFile = oldConfig })

	if err := flag.CommandLine.Parse([]string{"delete-region", "-id", "42"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if code := run(context.Background()); code != 1 {
		t.Fatalf("run() = %d, want 1 for a missing region", code)
	}
	// The last connection closing checkpoints and removes the WAL file.
	if _, err := os.Stat(dbPath + "-wal"); !os.IsNotExist(err) {
		t.Errorf("store left open after a failed command: stat wal = %v", err)
	}

	if err := flag.CommandLine.Parse(nil); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if code := run(context.Background()); code != 2 {
		t.Errorf("run() without a command = %d, want 2", code)
	}
}
