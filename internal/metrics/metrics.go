// Package metrics bundles the Prometheus metrics of the tile cache.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Tile outcomes of a region download.
const (
	OutcomeFetched = "fetched"
	OutcomeCached  = "cached"
	OutcomeFailed  = "failed"
)

// Resolver sources.
const (
	SourceCache       = "cache"
	SourceNetwork     = "network"
	SourceUnavailable = "unavailable"
)

// Collector holds the download and resolver metrics. A nil *Collector is
// valid and records nothing.
type Collector struct {
	gatherer prometheus.Gatherer

	Tiles            *prometheus.CounterVec
	FetchDurations   prometheus.Histogram
	RegionDownloads  *prometheus.CounterVec
	ResolverRequests *prometheus.CounterVec
}

// NewCollector registers the metrics against reg, defaulting to the global
// Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	tiles, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geotrek_tiles_total",
		Help: "Tiles processed by region downloads, labeled by outcome.",
	}, []string{"outcome"}))
	if err != nil {
		return nil, err
	}
	durations, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "geotrek_tile_fetch_seconds",
		Help:    "Latency of tile network fetches in seconds.",
		Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
	}))
	if err != nil {
		return nil, err
	}
	downloads, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geotrek_region_downloads_total",
		Help: "Region downloads, labeled by result (completed, cancelled, failed).",
	}, []string{"result"}))
	if err != nil {
		return nil, err
	}
	resolver, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geotrek_resolver_requests_total",
		Help: "Tile resolver requests, labeled by the source that answered.",
	}, []string{"source"}))
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:         gatherer,
		Tiles:            tiles,
		FetchDurations:   durations,
		RegionDownloads:  downloads,
		ResolverRequests: resolver,
	}, nil
}

// register returns the already-registered collector when c was registered
// before, so several engines can share one registry.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, fmt.Errorf("register metric: %w", err)
	}
	return c, nil
}

// TileOutcome counts one processed tile.
func (c *Collector) TileOutcome(outcome string) {
	if c == nil {
		return
	}
	c.Tiles.WithLabelValues(outcome).Inc()
}

// ObserveFetch records the latency of one network fetch.
func (c *Collector) ObserveFetch(d time.Duration) {
	if c == nil {
		return
	}
	c.FetchDurations.Observe(d.Seconds())
}

// RegionDownload counts one finished download.
func (c *Collector) RegionDownload(result string) {
	if c == nil {
		return
	}
	c.RegionDownloads.WithLabelValues(result).Inc()
}

// Resolve counts one resolver request.
func (c *Collector) Resolve(source string) {
	if c == nil {
		return
	}
	c.ResolverRequests.WithLabelValues(source).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil || c.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
