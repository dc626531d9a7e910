package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"geotrek-offline/internal/config"
	"geotrek-offline/internal/download"
	"geotrek-offline/internal/geo"
	"geotrek-offline/internal/resolver"
	"geotrek-offline/internal/seeker"
	"geotrek-offline/internal/storage"
	"geotrek-offline/internal/tilesource"
	"geotrek-offline/internal/tracker"
)

func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ContinueOnError)
}

func (e *env) source() (*tilesource.Source, error) {
	return tilesource.New(e.cfg.SourceOptions())
}

func (e *env) engine() (*download.Engine, error) {
	src, err := e.source()
	if err != nil {
		return nil, err
	}
	return download.New(e.stores.tiles, e.stores.regions, src, download.Options{
		BatchSize:    e.cfg.Download.BatchSize,
		FetchTimeout: e.cfg.Download.FetchTimeout,
		Metrics:      e.metrics,
	}), nil
}

func runDownload(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("download")
	bounds := fs.String("bounds", "", "Region as minLat,minLon,maxLat,maxLon. Overrides the configured zones.")
	minZoom := fs.Uint("min", 1, "Shallowest zoom level, with -bounds.")
	maxZoom := fs.Uint("max", 8, "Deepest zoom level, with -bounds.")
	name := fs.String("name", "", "Region name, with -bounds.")
	zone := fs.String("zone", "", "Only download this configured zone.")
	if err := fs.Parse(args); err != nil {
		return err
	}

	eng, err := e.engine()
	if err != nil {
		return err
	}
	cancel := download.NewCancelToken()
	stop := cancelOnInterrupt(cancel)
	defer stop()

	if *bounds != "" {
		b, err := config.ParseBounds(*bounds)
		if err != nil {
			return err
		}
		lo, hi, err := zoomRange(*minZoom, *maxZoom)
		if err != nil {
			return err
		}
		req := download.Request{Name: *name, Bounds: b, MinZoom: lo, MaxZoom: hi}
		return downloadOne(ctx, eng, req, cancel)
	}

	names := e.cfg.ZoneNames()
	if *zone != "" {
		if _, ok := e.cfg.Zones[*zone]; !ok {
			return fmt.Errorf("zone %q is not configured", *zone)
		}
		names = []string{*zone}
	}
	if len(names) == 0 {
		return fmt.Errorf("no zones configured and no -bounds given")
	}
	for _, zoneName := range names {
		z := e.cfg.Zones[zoneName]
		regions, err := z.Bounds()
		if err != nil {
			return fmt.Errorf("zone %s: %w", zoneName, err)
		}
		klog.Infof("Obtaining zone [%s] [zoom: %d → %d] regions: %v", zoneName, z.Zoom.Out, z.Zoom.In, z.Regions)
		for i, b := range regions {
			regionName := zoneName
			if len(regions) > 1 {
				regionName = fmt.Sprintf("%s #%d", zoneName, i+1)
			}
			req := download.Request{Name: regionName, Bounds: b, MinZoom: z.Zoom.Out, MaxZoom: z.Zoom.In}
			if err := downloadOne(ctx, eng, req, cancel); err != nil {
				return fmt.Errorf("error obtaining tiles for zone %s: %w", zoneName, err)
			}
			if cancel.Cancelled() {
				return nil
			}
		}
		klog.Infof("Finished with zone %s", zoneName)
	}
	klog.Infof("Finished processing zones: %s", strings.Join(names, ", "))
	return nil
}

func downloadOne(ctx context.Context, eng *download.Engine, req download.Request, cancel *download.CancelToken) error {
	bar := progressbar.Default(100, "Downloading "+displayName(req.Name))
	req.OnProgress = func(percent int) { _ = bar.Set(percent) }
	res, err := eng.Download(ctx, req, cancel)
	_ = bar.Finish()
	if err != nil {
		return err
	}
	status := "done"
	if res.Cancelled {
		status = "cancelled"
	}
	fmt.Printf("Region %d %s: %d/%d tiles saved (%d already cached), %d failed\n",
		res.RegionID, status, res.Succeeded, res.Total, res.Cached, res.Failed)
	return nil
}

func displayName(name string) string {
	if name == "" {
		return "region"
	}
	return name
}

// cancelOnInterrupt cancels the token on the first interrupt. The download
// then stops at the next batch boundary and keeps what it saved.
func cancelOnInterrupt(token *download.CancelToken) (stop func()) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	done := make(chan struct{})
	go func() {
		select {
		case <-sig:
			klog.Info("Interrupted, stopping after the current batch")
			token.Cancel()
		case <-done:
		}
	}()
	return func() {
		signal.Stop(sig)
		close(done)
	}
}

func runEstimate(_ context.Context, _ *env, args []string) error {
	fs := newFlagSet("estimate")
	bounds := fs.String("bounds", "", "Region as minLat,minLon,maxLat,maxLon.")
	minZoom := fs.Uint("min", 1, "Shallowest zoom level.")
	maxZoom := fs.Uint("max", 8, "Deepest zoom level.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	b, err := config.ParseBounds(*bounds)
	if err != nil {
		return err
	}
	lo, hi, err := zoomRange(*minZoom, *maxZoom)
	if err != nil {
		return err
	}
	est := download.NewSelection(b, lo, hi).Snapshot()
	fmt.Printf("%d tiles, about %s\n", est.TileCount, est.HumanSize())
	return nil
}

func runRegions(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("regions")
	at := fs.String("at", "", "Only list regions containing lat,lng.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	regions, err := e.stores.regions.ListRegions(ctx)
	if err != nil {
		return err
	}
	var filter func(storage.Region) bool
	if *at != "" {
		lat, lng, err := parseLatLng(*at)
		if err != nil {
			return err
		}
		filter = func(r storage.Region) bool { return r.Contains(lat, lng) }
	}
	for _, r := range regions {
		if filter != nil && !filter(r) {
			continue
		}
		fmt.Printf("%d\t%s\tzoom %d-%d\t%d tiles\t%s\t%s\n",
			r.ID, r.Name, r.MinZoom, r.MaxZoom, r.TileCount, download.FormatSize(r.SizeBytes), r.CreatedAt.Format(time.DateTime))
	}
	return nil
}

func runDeleteRegion(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("delete-region")
	id := fs.Int64("id", 0, "Region id.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := e.stores.regions.DeleteRegion(ctx, *id); err != nil {
		return fmt.Errorf("delete region %d: %w", *id, err)
	}
	klog.Infof("Deleted region %d. Its tiles stay cached", *id)
	return nil
}

func runResolve(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("resolve")
	tile := fs.String("tile", "", "Tile as z/x/y.")
	out := fs.String("out", "", "Output file.")
	offline := fs.Bool("offline", false, "Never use the network.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := parseTileKey(*tile)
	if err != nil {
		return err
	}
	if *out == "" {
		return fmt.Errorf("-out is required")
	}
	var fetcher tilesource.Fetcher
	if !*offline {
		src, err := e.source()
		if err != nil {
			return err
		}
		fetcher = src
	}
	data, err := resolver.New(e.stores.tiles, fetcher, resolver.WithMetrics(e.metrics)).Resolve(ctx, key)
	if err != nil {
		return err
	}
	return os.WriteFile(*out, data, 0644)
}

func runReplay(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("replay")
	gpxFile := fs.String("gpx", "", "GPX track to replay.")
	name := fs.String("name", "", "Trek name.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	db, err := e.stores.catalog()
	if err != nil {
		return err
	}
	f, err := os.Open(*gpxFile)
	if err != nil {
		return err
	}
	defer f.Close()
	fixes, err := tracker.ReadGPX(f)
	if err != nil {
		return err
	}
	if len(fixes) == 0 {
		return fmt.Errorf("%s has no track points", *gpxFile)
	}

	// Replay on the track's own clock when it carries timestamps.
	idx := 0
	clock := func() time.Time {
		if ms := fixes[min(idx, len(fixes)-1)].TimestampMs; ms != 0 {
			return time.UnixMilli(ms)
		}
		return time.Now()
	}
	session := tracker.NewSession(tracker.NewTelemetry(clock), db)
	if _, err := session.Start(ctx); err != nil {
		return err
	}
	for i, fix := range fixes {
		idx = i
		if err := session.Observe(ctx, fix); err != nil {
			return err
		}
	}
	trek, err := session.Stop(ctx, *name)
	if err != nil {
		return err
	}
	fmt.Printf("Trek %d %q: %.0f m, %d points, %s\n",
		trek.ID, trek.Name, trek.Distance, len(trek.Path), trek.EndTime.Sub(trek.StartTime).Round(time.Second))
	return nil
}

func runExportTrek(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("export-trek")
	id := fs.Int64("id", 0, "Trek id.")
	out := fs.String("out", "", "Output GPX file.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	db, err := e.stores.catalog()
	if err != nil {
		return err
	}
	trek, err := db.GetTrek(ctx, *id)
	if err != nil {
		return fmt.Errorf("trek %d: %w", *id, err)
	}
	data, err := tracker.ExportGPX(trek)
	if err != nil {
		return err
	}
	return os.WriteFile(*out, data, 0644)
}

func runSavePoint(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("save-point")
	at := fs.String("at", "", "Position as lat,lng.")
	notes := fs.String("notes", "", "Free text.")
	tags := fs.String("tags", "", "Comma separated tags.")
	trekID := fs.Int64("trek", 0, "Trek the point belongs to.")
	accuracy := fs.Float64("accuracy", 0, "Fix accuracy in meters.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	db, err := e.stores.catalog()
	if err != nil {
		return err
	}
	lat, lng, err := parseLatLng(*at)
	if err != nil {
		return err
	}
	p := storage.Point{TrekID: *trekID, Lat: lat, Lng: lng, Accuracy: *accuracy, Notes: *notes}
	for _, t := range strings.Split(*tags, ",") {
		if t = strings.TrimSpace(t); t != "" {
			p.Tags = append(p.Tags, t)
		}
	}
	id, err := db.AddPoint(ctx, p)
	if err != nil {
		return err
	}
	fmt.Printf("Point %d saved\n", id)
	return nil
}

func runSeek(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("seek")
	id := fs.Int64("id", 0, "Point id.")
	from := fs.String("from", "", "Current position as lat,lng.")
	heading := fs.Float64("heading", 0, "Device heading in degrees.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	db, err := e.stores.catalog()
	if err != nil {
		return err
	}
	p, err := db.GetPoint(ctx, *id)
	if err != nil {
		return fmt.Errorf("point %d: %w", *id, err)
	}
	lat, lng, err := parseLatLng(*from)
	if err != nil {
		return err
	}
	g := seeker.New(p.Lat, p.Lng).From(lat, lng, *heading)
	fmt.Printf("%.0f m, bearing %.0f°, turn %.0f°, %s\n", g.DistanceMeters, g.Bearing, g.Relative, g.Proximity)
	return nil
}

// zoomRange validates -min and -max flag values.
func zoomRange(minZoom, maxZoom uint) (uint32, uint32, error) {
	if maxZoom > geo.MaxZoom {
		return 0, 0, fmt.Errorf("max zoom %d exceeds %d", maxZoom, geo.MaxZoom)
	}
	if minZoom > maxZoom {
		return 0, 0, fmt.Errorf("min zoom %d is deeper than max zoom %d", minZoom, maxZoom)
	}
	return uint32(minZoom), uint32(maxZoom), nil
}

func parseLatLng(s string) (lat, lng float64, err error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid position %q, want lat,lng", s)
	}
	if lat, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64); err != nil {
		return 0, 0, fmt.Errorf("invalid latitude: %w", err)
	}
	if lng, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64); err != nil {
		return 0, 0, fmt.Errorf("invalid longitude: %w", err)
	}
	return lat, lng, nil
}

func parseTileKey(s string) (geo.TileKey, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return geo.TileKey{}, fmt.Errorf("invalid tile %q, want z/x/y", s)
	}
	var v [3]uint32
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return geo.TileKey{}, fmt.Errorf("invalid tile %q: %w", s, err)
		}
		v[i] = uint32(n)
	}
	key := geo.TileKey{Zoom: v[0], X: v[1], Y: v[2]}
	if !key.Valid() {
		return geo.TileKey{}, fmt.Errorf("tile %s is outside the zoom %d grid", key, key.Zoom)
	}
	return key, nil
}
