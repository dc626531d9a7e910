// Package download fetches every tile of a user-selected region into the
// offline cache.
//
// Tiles are processed in fixed-size batches: all fetches of a batch run
// concurrently and the engine waits for the whole batch before starting the
// next one. Cancellation is cooperative and only checked between batches, so
// at most one batch of work happens after a cancel request. Per-tile network
// failures are counted and skipped; storage failures abort the job.
package download

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"k8s.io/klog/v2"

	"geotrek-offline/internal/geo"
	"geotrek-offline/internal/metrics"
	"geotrek-offline/internal/storage"
	"geotrek-offline/internal/tilesource"
)

const (
	// AvgTileBytes is the planning estimate of one stored tile.
	AvgTileBytes = 20 * 1024
	// DefaultBatchSize bounds the number of concurrent fetches.
	DefaultBatchSize = 10
	// ProgressEvery is the number of completed tiles between progress reports.
	ProgressEvery = 5
	// DefaultFetchTimeout bounds one tile fetch.
	DefaultFetchTimeout = 15 * time.Second
	// MaxZoom is the deepest zoom level a region may request.
	MaxZoom = geo.MaxZoom
)

const tracerName = "geotrek-offline/internal/download"

// ErrEmptySelection is returned when the bounds and zoom range cover no tiles.
var ErrEmptySelection = errors.New("selection contains no tiles")

// CancelToken requests that a running download stop at the next batch
// boundary. A nil token is never cancelled.
type CancelToken struct {
	cancelled atomic.Bool
}

// NewCancelToken returns an untriggered token.
func NewCancelToken() *CancelToken {
	return &CancelToken{}
}

// Cancel requests cancellation. It is safe to call more than once.
func (t *CancelToken) Cancel() {
	if t != nil {
		t.cancelled.Store(true)
	}
}

// Cancelled reports whether Cancel was called.
func (t *CancelToken) Cancelled() bool {
	return t != nil && t.cancelled.Load()
}

// ProgressFunc receives the completed percentage, 0 to 100, after every
// ProgressEvery completed tiles. Calls are serialised.
type ProgressFunc func(percent int)

// Request describes one region download.
type Request struct {
	Name       string
	Bounds     geo.GeoBounds
	MinZoom    uint32
	MaxZoom    uint32
	OnProgress ProgressFunc
}

// Result summarises a finished, cancelled or aborted download.
type Result struct {
	RegionID int64
	Total    int
	// Succeeded counts tiles that are in the cache after the job, including
	// Cached ones that needed no fetch.
	Succeeded int
	Failed    int
	Cached    int
	Cancelled bool
}

// Options tunes an Engine. Zero values select the defaults.
type Options struct {
	BatchSize    int
	FetchTimeout time.Duration
	Metrics      *metrics.Collector
	Now          func() time.Time
}

// Engine runs region downloads against a tile store and region catalog.
type Engine struct {
	tiles   storage.TileStore
	regions storage.RegionStore
	fetcher tilesource.Fetcher
	opts    Options

	// inflight collapses concurrent work on the same tile key, so two
	// overlapping downloads never fetch or write one tile twice at once.
	inflight singleflight.Group
}

// New returns an Engine.
func New(tiles storage.TileStore, regions storage.RegionStore, fetcher tilesource.Fetcher, opts Options) *Engine {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{tiles: tiles, regions: regions, fetcher: fetcher, opts: opts}
}

// EstimatedSizeBytes is the planning-time size of tileCount tiles.
func EstimatedSizeBytes(tileCount int) int64 {
	return int64(tileCount) * AvgTileBytes
}

// DefaultRegionName names an unnamed region after the local time.
func DefaultRegionName(now time.Time) string {
	return "Region " + now.Format("15:04:05")
}

type tileOutcome int

const (
	outcomeFetched tileOutcome = iota
	outcomeCached
	outcomeFailed
)

// Download enumerates the selection, records a Region entry and fetches every
// missing tile. The Region entry is written before any fetch and is kept on
// cancellation or partial failure. A cancelled job returns a Result with
// Cancelled set and a nil error. Storage failures abort with an error wrapping
// storage.ErrStorage.
func (e *Engine) Download(ctx context.Context, req Request, cancel *CancelToken) (Result, error) {
	if req.MaxZoom > MaxZoom {
		return Result{}, fmt.Errorf("max zoom %d exceeds %d", req.MaxZoom, MaxZoom)
	}
	tiles := geo.EnumerateTiles(req.Bounds, req.MinZoom, req.MaxZoom)
	if len(tiles) == 0 {
		return Result{}, ErrEmptySelection
	}

	jobID := uuid.NewString()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "download.Region", trace.WithAttributes(
		attribute.String("job_id", jobID),
		attribute.Int("tiles", len(tiles)),
		attribute.Int("min_zoom", int(req.MinZoom)),
		attribute.Int("max_zoom", int(req.MaxZoom)),
	))
	defer span.End()

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = DefaultRegionName(e.opts.Now())
	}
	result := Result{Total: len(tiles)}
	regionID, err := e.regions.AddRegion(ctx, storage.Region{
		Name:      name,
		Bounds:    req.Bounds,
		MinZoom:   req.MinZoom,
		MaxZoom:   req.MaxZoom,
		TileCount: len(tiles),
		SizeBytes: EstimatedSizeBytes(len(tiles)),
		CreatedAt: e.opts.Now(),
	})
	if err != nil {
		err = storageFailure(ctx, "add region", err)
		e.finish(span, "failed", err)
		return result, err
	}
	result.RegionID = regionID
	span.SetAttributes(attribute.Int64("region_id", regionID))
	klog.Infof("[%s] Obtaining region %q (id %d) [zoom: %d → %d] %d tiles", jobID, name, regionID, req.MinZoom, req.MaxZoom, len(tiles))

	var (
		mu        sync.Mutex
		completed int
	)
	record := func(o tileOutcome) {
		mu.Lock()
		defer mu.Unlock()
		switch o {
		case outcomeFetched:
			result.Succeeded++
		case outcomeCached:
			result.Succeeded++
			result.Cached++
		case outcomeFailed:
			result.Failed++
		}
		completed++
		if req.OnProgress != nil && completed%ProgressEvery == 0 {
			req.OnProgress(int(math.Round(float64(completed) / float64(len(tiles)) * 100)))
		}
	}

	for start := 0; start < len(tiles); start += e.opts.BatchSize {
		if cancel.Cancelled() {
			result.Cancelled = true
			break
		}
		if err := ctx.Err(); err != nil {
			e.finish(span, "failed", err)
			return e.snapshot(&mu, &result), err
		}
		end := min(start+e.opts.BatchSize, len(tiles))

		g, gctx := errgroup.WithContext(ctx)
		for _, key := range tiles[start:end] {
			g.Go(func() error {
				o, err := e.processTile(gctx, jobID, key)
				if err != nil {
					return err
				}
				record(o)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			klog.Errorf("[%s] Aborting region %q: %v", jobID, name, err)
			e.finish(span, "failed", err)
			return e.snapshot(&mu, &result), err
		}
	}

	res := e.snapshot(&mu, &result)
	switch {
	case res.Cancelled:
		klog.Infof("[%s] Download stopped. %d of %d tiles processed", jobID, res.Succeeded+res.Failed, res.Total)
		e.finish(span, "cancelled", nil)
	default:
		klog.Infof("[%s] Finished with region %q. %d tiles saved, %d failed", jobID, name, res.Succeeded, res.Failed)
		e.finish(span, "completed", nil)
	}
	span.SetAttributes(
		attribute.Int("succeeded", res.Succeeded),
		attribute.Int("failed", res.Failed),
		attribute.Int("cached", res.Cached),
	)
	return res, nil
}

func (e *Engine) snapshot(mu *sync.Mutex, r *Result) Result {
	mu.Lock()
	defer mu.Unlock()
	return *r
}

func (e *Engine) finish(span trace.Span, result string, err error) {
	e.opts.Metrics.RegionDownload(result)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// processTile skips cached tiles, otherwise fetches and stores one tile.
// Fetch failures are soft; only storage failures are returned.
//
// The work is shared with overlapping downloads of the same key, so it runs
// detached from ctx: cancelling one job never fails the tile for another. The
// fetch is still bounded by FetchTimeout.
func (e *Engine) processTile(ctx context.Context, jobID string, key geo.TileKey) (tileOutcome, error) {
	detached := context.WithoutCancel(ctx)
	v, err, shared := e.inflight.Do(key.String(), func() (any, error) {
		return e.fetchAndStore(detached, jobID, key)
	})
	if err != nil {
		return outcomeFailed, err
	}
	o := v.(tileOutcome)
	if shared {
		klog.V(2).Infof("[%s] tile %s handled by an overlapping download", jobID, key)
	}
	e.opts.Metrics.TileOutcome(outcomeLabel(o))
	return o, nil
}

func (e *Engine) fetchAndStore(ctx context.Context, jobID string, key geo.TileKey) (tileOutcome, error) {
	has, err := e.tiles.HasTile(ctx, key)
	if err != nil {
		return outcomeFailed, storage.Wrap("has tile", err)
	}
	if has {
		klog.V(2).Infof("[%s] tile %s already cached. Skipping...", jobID, key)
		return outcomeCached, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, e.opts.FetchTimeout)
	start := time.Now()
	data, err := e.fetcher.Fetch(fetchCtx, key)
	cancel()
	e.opts.Metrics.ObserveFetch(time.Since(start))
	if err != nil {
		klog.Warningf("[%s] Error downloading tile %s: %v", jobID, key, err)
		return outcomeFailed, nil
	}

	if err := e.tiles.PutTile(ctx, key, data); err != nil {
		return outcomeFailed, storage.Wrap("put tile", err)
	}
	return outcomeFetched, nil
}

// storageFailure reports a cancelled context as itself rather than as a
// storage outage.
func storageFailure(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return storage.Wrap(op, err)
}

func outcomeLabel(o tileOutcome) string {
	switch o {
	case outcomeFetched:
		return metrics.OutcomeFetched
	case outcomeCached:
		return metrics.OutcomeCached
	default:
		return metrics.OutcomeFailed
	}
}
