package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"geotrek-offline/internal/geo"
)

// clearEnv blanks every variable the overlay reads.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"GEOTREK_STORE_BACKEND", "GEOTREK_STORE_PATH", "DOWNLOAD_DIRECTORY",
		"GEOTREK_TILE_URL", "GEOTREK_FETCH_TIMEOUT", "API_KEY",
		"THUNDERFOREST_API_KEY", "GEOAPIFY_API_KEY",
	} {
		t.Setenv(name, "")
	}
}

const sample = `
zones:
  iberia:
    regions:
      - "36.0,-9.5,43.8,3.3"
    zoom:
      in: 10
      out: 6
  canarias:
    regions:
      - "27.6,-18.2,29.5,-13.4"
map:
  provider: cnig.es
download:
  batch_size: 4
  fetch_timeout: 20s
`

func TestParseAppliesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := cfg.Zones["canarias"].Zoom; got.In != 8 || got.Out != 1 {
		t.Errorf("canarias zoom = %+v, want default in 8 out 1", got)
	}
	if got := cfg.Zones["iberia"].Zoom; got.In != 10 || got.Out != 6 {
		t.Errorf("iberia zoom = %+v, want in 10 out 6", got)
	}
	want := MapConfig{Provider: "cnig.es", Style: "atlas", Reduce: 12}
	if diff := cmp.Diff(want, cfg.Map); diff != "" {
		t.Errorf("map mismatch (-want +got):\n%s", diff)
	}
	if cfg.Store != (StoreConfig{Backend: BackendSQLite, Path: "geotrek.db"}) {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Download != (DownloadConfig{BatchSize: 4, FetchTimeout: 20 * time.Second}) {
		t.Errorf("download = %+v", cfg.Download)
	}
	if diff := cmp.Diff([]string{"canarias", "iberia"}, cfg.ZoneNames()); diff != "" {
		t.Errorf("ZoneNames mismatch (-want +got):\n%s", diff)
	}
}

func TestParseReduceOutOfRange(t *testing.T) {
	clearEnv(t)

	cfg, err := Parse(strings.NewReader("map:\n  provider: osm\n  reduce: 30\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Map.Reduce != 100 {
		t.Errorf("Reduce = %d, want 100", cfg.Map.Reduce)
	}
}

func TestParseRequiresAPIKey(t *testing.T) {
	clearEnv(t)

	_, err := Parse(strings.NewReader("map:\n  provider: thunderforest\n"))
	if err == nil || !strings.Contains(err.Error(), "THUNDERFOREST_API_KEY") {
		t.Fatalf("Parse() error = %v, want missing key error", err)
	}

	t.Setenv("API_KEY", "generic")
	cfg, err := Parse(strings.NewReader("map:\n  provider: thunderforest\n"))
	if err != nil {
		t.Fatalf("Parse with API_KEY: %v", err)
	}
	if cfg.APIKey != "generic" {
		t.Errorf("APIKey = %q, want generic", cfg.APIKey)
	}

	t.Setenv("THUNDERFOREST_API_KEY", "specific")
	cfg, err = Parse(strings.NewReader("map:\n  provider: thunderforest\n"))
	if err != nil {
		t.Fatalf("Parse with provider key: %v", err)
	}
	if cfg.APIKey != "specific" {
		t.Errorf("APIKey = %q, want the provider-specific key", cfg.APIKey)
	}
}

func TestParseUnknownProvider(t *testing.T) {
	clearEnv(t)

	if _, err := Parse(strings.NewReader("map:\n  provider: nowhere\n")); err == nil {
		t.Fatal("expected unknown provider error")
	}
	t.Setenv("GEOTREK_TILE_URL", "http://localhost/{{ZOOM}}/{{X}}/{{Y}}.png")
	cfg, err := Parse(strings.NewReader("map:\n  provider: nowhere\n"))
	if err != nil {
		t.Fatalf("Parse with URL override: %v", err)
	}
	if got := cfg.SourceOptions().Template; got != "http://localhost/{{ZOOM}}/{{X}}/{{Y}}.png" {
		t.Errorf("Template = %q", got)
	}
}

func TestParseEnvOverlay(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEOTREK_STORE_BACKEND", "filesystem")
	t.Setenv("DOWNLOAD_DIRECTORY", "/srv/maps")
	t.Setenv("GEOTREK_FETCH_TIMEOUT", "3s")

	cfg, err := Parse(strings.NewReader("map:\n  provider: osm\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Store != (StoreConfig{Backend: BackendFilesystem, Path: "/srv/maps"}) {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.SourceOptions().Timeout != 3*time.Second {
		t.Errorf("Timeout = %v, want 3s", cfg.SourceOptions().Timeout)
	}

	t.Setenv("GEOTREK_STORE_PATH", "/data/tiles")
	cfg, err = Parse(strings.NewReader("map:\n  provider: osm\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Store.Path != "/data/tiles" {
		t.Errorf("Path = %q, want GEOTREK_STORE_PATH to win", cfg.Store.Path)
	}
}

func TestParseEnvError(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEOTREK_FETCH_TIMEOUT", "soon")

	_, err := Parse(strings.NewReader("map:\n  provider: osm\n"))
	if err == nil || !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("Parse() error = %v, want parse env error", err)
	}
}

func TestParseRejects(t *testing.T) {
	clearEnv(t)

	for name, doc := range map[string]string{
		"unknown field":   "map:\n  provider: osm\n  colour: red\n",
		"unknown backend": "map:\n  provider: osm\nstore:\n  backend: s3\n",
		"bad region":      "map:\n  provider: osm\nzones:\n  x:\n    regions: [\"1,2,3\"]\n",
		"inverted zoom":   "map:\n  provider: osm\nzones:\n  x:\n    zoom: {in: 3, out: 9}\n",
		"zoom too deep":   "map:\n  provider: osm\nzones:\n  x:\n    zoom: {in: 4294967295, out: 1}\n",
	} {
		if _, err := Parse(strings.NewReader(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoad(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Zones) != 2 {
		t.Errorf("zones = %d, want 2", len(cfg.Zones))
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected missing file error")
	}
}

func TestParseBounds(t *testing.T) {
	got, err := ParseBounds("51.3, -0.2, 51.7, 0.1")
	if err != nil {
		t.Fatalf("ParseBounds: %v", err)
	}
	want := geo.GeoBounds{North: 51.7, South: 51.3, East: 0.1, West: -0.2}
	if got != want {
		t.Errorf("ParseBounds() = %+v, want %+v", got, want)
	}
	for _, bad := range []string{"", "1,2,3", "a,b,c,d", "51.7,0,51.3,1"} {
		if _, err := ParseBounds(bad); err == nil {
			t.Errorf("ParseBounds(%q) expected error", bad)
		}
	}
}

func TestProviderKeyVar(t *testing.T) {
	if got := ProviderKeyVar("cnig.es"); got != "CNIG_ES_API_KEY" {
		t.Errorf("ProviderKeyVar(cnig.es) = %q", got)
	}
}
