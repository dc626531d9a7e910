// Command geotrek-tiles downloads map regions into the offline tile cache and
// manages the regions, treks and points kept next to it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"

	"k8s.io/klog/v2"

	"geotrek-offline/internal/config"
	"geotrek-offline/internal/metrics"
)

var (
	configFile  = flag.String("config", "config.yaml", "Path to the YAML configuration.")
	metricsAddr = flag.String("metrics_addr", "", "If set, serve Prometheus metrics on this address.")
)

// env carries what every subcommand needs.
type env struct {
	cfg     config.Config
	stores  *stores
	metrics *metrics.Collector
}

type command struct {
	usage string
	run   func(ctx context.Context, e *env, args []string) error
}

var commands = map[string]command{
	"download":      {"[-bounds minLat,minLon,maxLat,maxLon -min z -max z -name n] [-zone z]", runDownload},
	"estimate":      {"-bounds minLat,minLon,maxLat,maxLon -min z -max z", runEstimate},
	"regions":       {"[-at lat,lng]", runRegions},
	"delete-region": {"-id n", runDeleteRegion},
	"resolve":       {"-tile z/x/y -out file", runResolve},
	"replay":        {"-gpx file [-name n]", runReplay},
	"export-trek":   {"-id n -out file", runExportTrek},
	"save-point":    {"-at lat,lng [-notes s] [-tags a,b] [-trek n]", runSavePoint},
	"seek":          {"-id n -from lat,lng [-heading deg]", runSeek},
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <command> [command flags]\n\nCommands:\n", os.Args[0])
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(flag.CommandLine.Output(), "  %-14s %s\n", name, commands[name].usage)
	}
	fmt.Fprintln(flag.CommandLine.Output(), "\nFlags:")
	flag.PrintDefaults()
}

func main() {
	klog.InitFlags(nil)
	flag.Usage = usage
	flag.Parse()
	code := run(context.Background())
	klog.Flush()
	os.Exit(code)
}

// run executes the selected command and returns the process exit code. Stores
// are closed before it returns.
func run(ctx context.Context) int {
	if flag.NArg() == 0 {
		usage()
		return 2
	}
	name := flag.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		klog.Errorf("Unknown command %q", name)
		usage()
		return 2
	}

	e, err := setup(ctx)
	if err != nil {
		klog.Errorf("Configuration is not valid: %v", err)
		return 1
	}
	defer func() {
		if err := e.stores.Close(); err != nil {
			klog.Errorf("Closing store: %v", err)
		}
	}()

	if *metricsAddr != "" {
		go func() {
			klog.Infof("Serving metrics on %s", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, e.metrics.Handler()); err != nil && !errors.Is(err, http.ErrServerClosed) {
				klog.Errorf("Metrics server stopped: %v", err)
			}
		}()
	}

	if err := cmd.run(ctx, e, flag.Args()[1:]); err != nil {
		klog.Errorf("%s: %v", name, err)
		return 1
	}
	klog.Info("Program finished successfully")
	return 0
}

func setup(ctx context.Context) (*env, error) {
	cfg, err := loadConfig(*configFile)
	if err != nil {
		return nil, err
	}
	klog.Infof("Store destination set at: %s (%s)", cfg.Store.Path, cfg.Store.Backend)

	c, err := metrics.NewCollector(nil)
	if err != nil {
		return nil, err
	}
	s, err := openStores(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("destination '%s' can't be opened: %w", cfg.Store.Path, err)
	}
	return &env{cfg: cfg, stores: s, metrics: c}, nil
}

// loadConfig reads path, or runs on defaults and the environment alone when
// the file does not exist.
func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		klog.V(1).Infof("No configuration at %s, using defaults", path)
		return config.Parse(strings.NewReader(""))
	}
	return cfg, err
}
