package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meigma/sarfs"
	"github.com/meigma/sarfs/sar"
)

func runFetch(args []string, stdout io.Writer) error {
	flags := newFlagSet("fetch", "[path...]")
	configPath := flags.String("config", "", "YAML settings file")
	url := flags.String("url", "", "archive URL (overrides initial_url)")
	out := flags.StringP("out", "o", "", "local archive path (overrides package_path)")
	populate := flags.StringSlice("populate", nil, "local archives to copy matching files from")
	priority := flags.String("priority", "default", "fetch priority: low, default, medium or high")
	initTimeout := flags.Duration("init-timeout", 0, "give up if initialization takes longer (0 waits forever)")
	metricsAddr := flags.String("metrics-addr", "", "serve Prometheus metrics on this address")
	cpuProfile := flags.String("cpu-profile", "", "write a CPU profile to this file")
	verbose := flags.BoolP("verbose", "v", false, "log debug detail")
	if err := flags.Parse(args); err != nil {
		return err
	}

	settings, err := fetchSettings(*configPath, *url, *out, *populate)
	if err != nil {
		return err
	}
	prio, err := parsePriority(*priority)
	if err != nil {
		return err
	}
	paths := make([]sar.FilePath, 0, flags.NArg())
	for _, arg := range flags.Args() {
		p, err := sar.ParseFilePath(arg)
		if err != nil {
			return err
		}
		paths = append(paths, p)
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			return err
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return err
		}
		defer func() {
			pprof.StopCPUProfile()
			_ = f.Close()
		}()
	}

	logger := newLogger(*verbose)
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, reg, logger)
	}

	fsys, err := sarfs.New(settings,
		sarfs.WithLogger(logger),
		sarfs.WithRegisterer(reg),
		sarfs.WithYielder(sarfs.YieldFunc(func() { time.Sleep(10 * time.Millisecond) })),
	)
	if err != nil {
		return err
	}
	defer fsys.Close() //nolint:errcheck // best-effort on exit

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		fsys.OnNetworkShutdown()
	}()

	began := time.Now()
	fsys.OnNetworkInitialize()
	if !fsys.WaitForInit(*initTimeout) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.New("initialization did not complete")
	}
	h, _ := fsys.Header()
	logger.Info("archive ready",
		slog.Int("files", int(h.TotalEntries)),
		slog.Uint64("bytes", h.TotalSize),
		slog.Bool("new_package", fsys.IsNewPackage()))

	lastPct := -1
	err = fsys.FetchFiles(paths, prio, func(total, soFar uint64) {
		pct := 100
		if total > 0 {
			pct = int(soFar * 100 / total)
		}
		if pct != lastPct {
			fmt.Fprintf(stdout, "\r%3d%% %d/%d bytes", pct, soFar, total)
			lastPct = pct
		}
	})
	fmt.Fprintln(stdout)
	if errors.Is(err, sarfs.ErrNoFiles) {
		return fmt.Errorf("none of the requested paths are in the archive: %w", err)
	}
	if err != nil {
		return err
	}

	stats := fsys.Stats()
	fmt.Fprintf(stdout, "verified %d/%d files in %s: %d requests, %d bytes downloaded\n",
		stats.VerifiedFiles, stats.TotalFiles, time.Since(began).Round(time.Millisecond),
		stats.Network.RequestsCompleted, stats.Network.Bytes)
	return nil
}

func fetchSettings(configPath, url, out string, populate []string) (sarfs.Settings, error) {
	settings := sarfs.DefaultSettings()
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return settings, err
		}
		if settings, err = sarfs.DecodeSettings(data); err != nil {
			return settings, err
		}
	}
	if url != "" {
		settings.InitialURL = url
	}
	if out != "" {
		abs, err := filepath.Abs(out)
		if err != nil {
			return settings, err
		}
		settings.PackagePath = abs
	}
	settings.PopulatePackages = append(settings.PopulatePackages, populate...)
	return settings, settings.Validate()
}

func parsePriority(s string) (sarfs.Priority, error) {
	for _, p := range []sarfs.Priority{sarfs.PriorityLow, sarfs.PriorityDefault, sarfs.PriorityMedium, sarfs.PriorityHigh} {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	logger.Info("serving metrics", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server", slog.Any("error", err))
	}
}
