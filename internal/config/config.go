// Package config loads the YAML configuration of the tile cache and overlays
// environment variables on it.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"

	"geotrek-offline/internal/geo"
	"geotrek-offline/internal/tilesource"
)

// Store backends.
const (
	BackendSQLite     = "sqlite"
	BackendFilesystem = "filesystem"
	BackendMemory     = "memory"
)

const (
	defaultZoomIn   = 8
	defaultZoomOut  = 1
	defaultProvider = "thunderforest"
	defaultStyle    = "atlas"
	defaultReduce   = 12
	// noReduce is past any real zoom, so nothing is re-encoded.
	noReduce = 100
)

// Config represents the YAML configuration structure.
type Config struct {
	Zones    map[string]Zone `yaml:"zones"`
	Map      MapConfig       `yaml:"map"`
	Store    StoreConfig     `yaml:"store"`
	Download DownloadConfig  `yaml:"download"`

	// APIKey comes from the environment only.
	APIKey string `yaml:"-"`
}

// Zone is a named set of regions downloaded over one zoom range. In is the
// deepest zoom and Out the shallowest, both inclusive.
type Zone struct {
	Regions []string `yaml:"regions"`
	Zoom    struct {
		In  uint32 `yaml:"in"`
		Out uint32 `yaml:"out"`
	} `yaml:"zoom"`
}

// MapConfig selects the tile provider.
type MapConfig struct {
	Provider string `yaml:"provider"`
	Style    string `yaml:"style"`
	Reduce   int    `yaml:"reduce"`
	// URL overrides the provider template.
	URL string `yaml:"url"`
}

// StoreConfig selects where tiles and regions are kept.
type StoreConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// DownloadConfig tunes the download engine.
type DownloadConfig struct {
	BatchSize    int           `yaml:"batch_size"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

type envOverlay struct {
	StoreBackend      string        `env:"GEOTREK_STORE_BACKEND"`
	StorePath         string        `env:"GEOTREK_STORE_PATH"`
	DownloadDirectory string        `env:"DOWNLOAD_DIRECTORY"`
	TileURL           string        `env:"GEOTREK_TILE_URL"`
	FetchTimeout      time.Duration `env:"GEOTREK_FETCH_TIMEOUT"`
	APIKey            string        `env:"API_KEY"`
}

// Load reads path, applies defaults and the environment, and validates the
// result.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a YAML document, applies defaults and the environment, and
// validates the result. An empty document is a valid configuration.
func Parse(r io.Reader) (Config, error) {
	var cfg Config
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}
	cfg.applyDefaults()
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	klog.V(1).Infof("Found %d zones", len(c.Zones))
	for name, zone := range c.Zones {
		klog.V(1).Infof("[%s] contains %d regions", name, len(zone.Regions))
		if zone.Zoom.In == 0 {
			zone.Zoom.In = defaultZoomIn
			klog.V(1).Infof("Setting default zoom in level for [%s] to %d", name, defaultZoomIn)
		}
		if zone.Zoom.Out == 0 {
			zone.Zoom.Out = defaultZoomOut
			klog.V(1).Infof("Setting default zoom out level for [%s] to %d", name, defaultZoomOut)
		}
		c.Zones[name] = zone
	}

	if c.Map.Provider == "" {
		c.Map.Provider = defaultProvider
	}
	if c.Map.Style == "" {
		c.Map.Style = defaultStyle
	}
	if c.Map.Reduce == 0 {
		c.Map.Reduce = defaultReduce
	} else if c.Map.Reduce < 1 || c.Map.Reduce > 16 {
		klog.Infof("Setting reduce level to %d due to out-of-range value %d", noReduce, c.Map.Reduce)
		c.Map.Reduce = noReduce
	}

	if c.Store.Backend == "" {
		c.Store.Backend = BackendSQLite
	}
}

func (c *Config) applyEnv() error {
	var overlay envOverlay
	if err := env.Parse(&overlay); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if overlay.StoreBackend != "" {
		c.Store.Backend = overlay.StoreBackend
	}
	switch {
	case overlay.StorePath != "":
		c.Store.Path = overlay.StorePath
	case c.Store.Path == "" && overlay.DownloadDirectory != "":
		c.Store.Path = overlay.DownloadDirectory
	}
	if overlay.TileURL != "" {
		c.Map.URL = overlay.TileURL
	}
	if overlay.FetchTimeout > 0 {
		c.Download.FetchTimeout = overlay.FetchTimeout
	}

	c.APIKey = os.Getenv(ProviderKeyVar(c.Map.Provider))
	if c.APIKey == "" {
		c.APIKey = overlay.APIKey
	}
	if c.Store.Path == "" {
		c.Store.Path = defaultStorePath(c.Store.Backend)
	}
	return nil
}

func defaultStorePath(backend string) string {
	if backend == BackendFilesystem {
		return "tiles"
	}
	return "geotrek.db"
}

// ProviderKeyVar is the provider-specific API key variable, e.g.
// THUNDERFOREST_API_KEY.
func ProviderKeyVar(provider string) string {
	return strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(provider)) + "_API_KEY"
}

// Validate checks a defaulted configuration.
func (c *Config) Validate() error {
	if c.Map.URL == "" {
		if _, ok := tilesource.ProviderTemplates()[c.Map.Provider]; !ok {
			return fmt.Errorf("provider '%s' is unknown. Known: '%s'", c.Map.Provider, strings.Join(tilesource.KnownProviders(), ", "))
		}
		if c.APIKey == "" && tilesource.RequiresAPIKey(c.Map.Provider) {
			return fmt.Errorf("neither API_KEY nor %s found; if your provider doesn't need an API key, set the env var with any content", ProviderKeyVar(c.Map.Provider))
		}
	}
	switch c.Store.Backend {
	case BackendSQLite, BackendFilesystem, BackendMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Download.BatchSize < 0 {
		return fmt.Errorf("download.batch_size must not be negative")
	}
	if c.Download.FetchTimeout < 0 {
		return fmt.Errorf("download.fetch_timeout must not be negative")
	}
	for name, zone := range c.Zones {
		if zone.Zoom.In > geo.MaxZoom {
			return fmt.Errorf("zone [%s]: zoom in %d exceeds %d", name, zone.Zoom.In, geo.MaxZoom)
		}
		if zone.Zoom.Out > zone.Zoom.In {
			return fmt.Errorf("zone [%s]: zoom out %d is deeper than zoom in %d", name, zone.Zoom.Out, zone.Zoom.In)
		}
		if _, err := zone.Bounds(); err != nil {
			return fmt.Errorf("zone [%s]: %w", name, err)
		}
	}
	return nil
}

// ZoneNames returns the zone names, sorted.
func (c *Config) ZoneNames() []string {
	names := make([]string, 0, len(c.Zones))
	for name := range c.Zones {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SourceOptions returns the tile source settings. The template is the URL
// override when set, otherwise the provider's.
func (c *Config) SourceOptions() tilesource.Options {
	template := c.Map.URL
	if template == "" {
		template = tilesource.ProviderTemplates()[c.Map.Provider]
	}
	return tilesource.Options{
		Template:       template,
		Style:          c.Map.Style,
		APIKey:         c.APIKey,
		Timeout:        c.Download.FetchTimeout,
		ReduceFromZoom: uint32(c.Map.Reduce),
	}
}

// Bounds parses every region of the zone.
func (z Zone) Bounds() ([]geo.GeoBounds, error) {
	out := make([]geo.GeoBounds, 0, len(z.Regions))
	for _, region := range z.Regions {
		b, err := ParseBounds(region)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// ParseBounds parses "minLat,minLon,maxLat,maxLon".
func ParseBounds(s string) (geo.GeoBounds, error) {
	coords := strings.Split(s, ",")
	if len(coords) != 4 {
		return geo.GeoBounds{}, fmt.Errorf("invalid region format: %s", s)
	}
	var v [4]float64
	for i, c := range coords {
		f, err := strconv.ParseFloat(strings.TrimSpace(c), 64)
		if err != nil {
			return geo.GeoBounds{}, fmt.Errorf("invalid coordinate %q in region %s: %w", c, s, err)
		}
		v[i] = f
	}
	b := geo.GeoBounds{South: v[0], West: v[1], North: v[2], East: v[3]}
	if !b.Valid() {
		return geo.GeoBounds{}, fmt.Errorf("invalid region bounds: %s", s)
	}
	return b, nil
}
