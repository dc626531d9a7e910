// Package resolver answers map renderer tile requests from the offline cache,
// falling back to the network when a tile is missing.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"
	"k8s.io/klog/v2"

	"geotrek-offline/internal/geo"
	"geotrek-offline/internal/metrics"
	"geotrek-offline/internal/storage"
	"geotrek-offline/internal/tilesource"
)

// ErrTileUnavailable is returned when a tile is neither cached nor fetchable.
var ErrTileUnavailable = errors.New("tile unavailable")

// Resolver serves tile bytes cache-first. Network results are not written
// back to the cache; only region downloads populate it.
type Resolver struct {
	tiles        storage.TileStore
	fetcher      tilesource.Fetcher
	metrics      *metrics.Collector
	fetchTimeout time.Duration

	group singleflight.Group
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithMetrics records resolve sources on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(r *Resolver) { r.metrics = c }
}

// WithFetchTimeout bounds each network fetch. The default is
// tilesource.DefaultTimeout.
func WithFetchTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.fetchTimeout = d
		}
	}
}

// New returns a Resolver over tiles. A nil fetcher makes the resolver
// cache-only.
func New(tiles storage.TileStore, fetcher tilesource.Fetcher, opts ...Option) *Resolver {
	r := &Resolver{tiles: tiles, fetcher: fetcher, fetchTimeout: tilesource.DefaultTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the bytes for key. A cache hit never touches the network.
// On a miss exactly one network fetch is issued; concurrent misses for the
// same key share it. The shared fetch is detached from any one caller, so a
// caller giving up returns early without failing the others.
func (r *Resolver) Resolve(ctx context.Context, key geo.TileKey) ([]byte, error) {
	if !key.Valid() {
		return nil, fmt.Errorf("%w: invalid tile %s", ErrTileUnavailable, key)
	}
	cached, err := r.tiles.GetTile(ctx, key)
	switch {
	case err == nil:
		r.metrics.Resolve(metrics.SourceCache)
		return cached.Data, nil
	case errors.Is(err, storage.ErrNotFound):
	default:
		// A broken cache read still falls through to the network.
		klog.Warningf("Cache read for tile %s failed: %v", key, err)
	}

	if r.fetcher == nil {
		r.metrics.Resolve(metrics.SourceUnavailable)
		return nil, fmt.Errorf("%w: %s not cached", ErrTileUnavailable, key)
	}
	ch := r.group.DoChan(key.String(), func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.fetchTimeout)
		defer cancel()
		return r.fetcher.Fetch(fetchCtx, key)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		res.Err = ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		r.metrics.Resolve(metrics.SourceUnavailable)
		klog.V(1).Infof("Tile %s unavailable: %v", key, res.Err)
		return nil, fmt.Errorf("%w: %w", ErrTileUnavailable, res.Err)
	}
	r.metrics.Resolve(metrics.SourceNetwork)
	return res.Val.([]byte), nil
}
